package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/runtime-core/internal/domain"
)

// RDBPool is the elastic pool of raw pgx connections fronting Postgres.
// Unlike pgxpool, sizing and health-probing here are governed entirely by
// Pool's own acquire/autoscale logic (§4.1), not pgx's internal pooling.
type RDBPool struct {
	engine *Pool[*pgx.Conn]
	dsn    string
}

// NewRDBPool builds an RDBPool from a DSN and sizing parameters.
func NewRDBPool(dsn string, min, max int, idleBuffer, margin float64, acquireTimeout time.Duration) *RDBPool {
	p := &RDBPool{dsn: dsn}
	p.engine = New(Config[*pgx.Conn]{
		Name:           "rdb",
		Min:            min,
		Max:            max,
		IdleBuffer:     idleBuffer,
		Margin:         margin,
		AcquireTimeout: acquireTimeout,
		Create:         p.connect,
		Close: func(c *pgx.Conn) error {
			return c.Close(context.Background())
		},
		HealthCheck: func(ctx context.Context, c *pgx.Conn) error {
			var one int
			row := c.QueryRow(ctx, "SELECT 1")
			if err := row.Scan(&one); err != nil {
				return fmt.Errorf("op=rdb.healthcheck: %w", domain.ErrBackendUnreachable)
			}
			return nil
		},
	})
	return p
}

func (p *RDBPool) connect(ctx context.Context) (*pgx.Conn, error) {
	cfg, err := pgx.ParseConfig(p.dsn)
	if err != nil {
		return nil, fmt.Errorf("op=rdb.connect.parse: %w", err)
	}
	cfg.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("op=rdb.connect: %w: %v", domain.ErrBackendUnreachable, err)
	}
	return conn, nil
}

// Prewarm creates exactly min handles in parallel (§4.1).
func (p *RDBPool) Prewarm(ctx context.Context) error { return p.engine.Prewarm(ctx) }

// Autoscale runs one pass of the sizing formula (§4.1).
func (p *RDBPool) Autoscale(ctx context.Context) { p.engine.Autoscale(ctx) }

// Stats returns the current pool accounting (§3).
func (p *RDBPool) Stats() Stats { return p.engine.Stats() }

// Close drains and closes every idle connection.
func (p *RDBPool) Close() { p.engine.Close() }

// WithConnection runs fn with a leased connection, releasing it on every exit path.
func (p *RDBPool) WithConnection(ctx context.Context, fn func(c *pgx.Conn) error) error {
	return p.engine.WithConnection(ctx, fn)
}

// WithConnectionAndRetry is the retrying scoped-access variant (§4.1).
func (p *RDBPool) WithConnectionAndRetry(ctx context.Context, fn func(c *pgx.Conn) error) error {
	return p.engine.WithConnectionAndRetry(ctx, fn)
}

// Ping leases a connection and runs SELECT 1, for readiness probes.
func (p *RDBPool) Ping(ctx context.Context) error {
	return p.WithConnection(ctx, func(c *pgx.Conn) error {
		var one int
		return c.QueryRow(ctx, "SELECT 1").Scan(&one)
	})
}
