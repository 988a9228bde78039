package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/runtime-core/internal/domain"
)

// KVPool is the elastic pool of Redis handles fronting the key-value store.
// Each handle is a dedicated single-connection client (PoolSize: 1) so that
// Pool's own acquire/autoscale logic governs sizing rather than go-redis's
// built-in pool.
type KVPool struct {
	engine *Pool[*redis.Client]
	opts   *redis.Options
}

// NewKVPool builds a KVPool from a connection URL and sizing parameters.
func NewKVPool(url string, min, max int, idleBuffer, margin float64, acquireTimeout time.Duration) (*KVPool, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("op=kv.parse_url: %w", err)
	}
	opts.PoolSize = 1
	opts.MinIdleConns = 0

	p := &KVPool{opts: opts}
	p.engine = New(Config[*redis.Client]{
		Name:           "kv",
		Min:            min,
		Max:            max,
		IdleBuffer:     idleBuffer,
		Margin:         margin,
		AcquireTimeout: acquireTimeout,
		Create:         p.connect,
		Close: func(c *redis.Client) error {
			return c.Close()
		},
		HealthCheck: func(ctx context.Context, c *redis.Client) error {
			if err := c.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("op=kv.healthcheck: %w", domain.ErrBackendUnreachable)
			}
			return nil
		},
	})
	return p, nil
}

func (p *KVPool) connect(ctx context.Context) (*redis.Client, error) {
	c := redis.NewClient(p.opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("op=kv.connect: %w: %v", domain.ErrBackendUnreachable, err)
	}
	return c, nil
}

// Prewarm creates exactly min handles in parallel (§4.1).
func (p *KVPool) Prewarm(ctx context.Context) error { return p.engine.Prewarm(ctx) }

// Autoscale runs one pass of the sizing formula (§4.1).
func (p *KVPool) Autoscale(ctx context.Context) { p.engine.Autoscale(ctx) }

// Stats returns the current pool accounting (§3).
func (p *KVPool) Stats() Stats { return p.engine.Stats() }

// Close drains and closes every idle connection.
func (p *KVPool) Close() { p.engine.Close() }

// WithConnection runs fn with a leased client, releasing it on every exit path.
func (p *KVPool) WithConnection(ctx context.Context, fn func(c *redis.Client) error) error {
	return p.engine.WithConnection(ctx, fn)
}

// WithConnectionAndRetry is the retrying scoped-access variant (§4.1).
func (p *KVPool) WithConnectionAndRetry(ctx context.Context, fn func(c *redis.Client) error) error {
	return p.engine.WithConnectionAndRetry(ctx, fn)
}

// Ping leases a client and pings it, for readiness probes.
func (p *KVPool) Ping(ctx context.Context) error {
	return p.WithConnection(ctx, func(c *redis.Client) error {
		return c.Ping(ctx).Err()
	})
}
