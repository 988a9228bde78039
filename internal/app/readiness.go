package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal interface a pool exposes for a readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns the db and kv readiness checks (§4.1):
// each backend pool answers for itself via a lightweight Ping, run with
// the caller's deadline.
func BuildReadinessChecks(rdb, kv Pinger) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("rdb pool not configured")
		}
		return rdb.Ping(ctx)
	}
	kvCheck := func(ctx context.Context) error {
		if kv == nil {
			return fmt.Errorf("kv pool not configured")
		}
		return kv.Ping(ctx)
	}
	return dbCheck, kvCheck
}
