// Package pool implements the elastic connection pool described in the
// runtime core: pre-warming, bounded idle queues, health-probed acquire,
// retrying scoped access, and usage-driven autoscale (§4.1).
//
// Pool is backend-agnostic: RDBPool and KVPool wrap it with the concrete
// handle type and health-probe semantics for Postgres and Redis.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/runtime-core/internal/adapter/observability"
	"github.com/fairyhunter13/runtime-core/internal/domain"
)

// circuitFailureThreshold and circuitOpenTimeout bound how many consecutive
// handle-creation failures trip a pool's breaker, and how long it stays
// open before allowing a half-open probe. Tripping short-circuits further
// dial attempts against a backend that is already known to be down,
// instead of paying a fresh connect timeout on every acquire.
const (
	circuitFailureThreshold = 5
	circuitOpenTimeout      = 5 * time.Second
)

// Stats is the externally observable accounting for a pool (§3).
type Stats struct {
	Capacity  int
	Available int
	Created   int
	InUse     int
}

// Factory creates one live handle.
type Factory[H any] func(ctx context.Context) (H, error)

// Closer releases a handle's underlying transport.
type Closer[H any] func(h H) error

// HealthCheck probes a handle for liveness (`SELECT 1` / `PING`).
type HealthCheck[H any] func(ctx context.Context, h H) error

// Pool is a generic elastic pool of handles of type H.
type Pool[H any] struct {
	name string

	min, max           int
	idleBuffer, margin float64
	acquireTimeout     time.Duration

	create      Factory[H]
	closeHandle Closer[H]
	healthCheck HealthCheck[H]
	breaker     *observability.CircuitBreaker

	mu      sync.Mutex
	idle    chan H
	created int
	ready   bool
}

// Config bundles the construction parameters for New.
type Config[H any] struct {
	Name           string
	Min, Max       int
	IdleBuffer     float64 // fraction of Max, default 0.05
	Margin         float64 // ± band, default 0.05
	AcquireTimeout time.Duration
	Create         Factory[H]
	Close          Closer[H]
	HealthCheck    HealthCheck[H]
}

// New builds a Pool from Config. It does not pre-warm; call Prewarm first.
func New[H any](cfg Config[H]) *Pool[H] {
	if cfg.IdleBuffer <= 0 {
		cfg.IdleBuffer = 0.05
	}
	if cfg.Margin <= 0 {
		cfg.Margin = 0.05
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 1 * time.Second
	}
	return &Pool[H]{
		name:           cfg.Name,
		min:            cfg.Min,
		max:            cfg.Max,
		idleBuffer:     cfg.IdleBuffer,
		margin:         cfg.Margin,
		acquireTimeout: cfg.AcquireTimeout,
		create:         cfg.Create,
		closeHandle:    cfg.Close,
		healthCheck:    cfg.HealthCheck,
		breaker:        observability.GetCircuitBreaker("pool."+cfg.Name, circuitFailureThreshold, circuitOpenTimeout),
		idle:           make(chan H, cfg.Max),
	}
}

// createGuarded runs the pool's Create factory through its circuit
// breaker: once enough consecutive dial failures accumulate, further
// calls fail fast with ErrBackendUnreachable instead of retrying a
// backend that is already known to be down.
func (p *Pool[H]) createGuarded(ctx context.Context) (H, error) {
	var h H
	err := p.breaker.Call(func() error {
		created, cerr := p.create(ctx)
		if cerr != nil {
			return cerr
		}
		h = created
		return nil
	})
	if err != nil {
		if p.breaker.IsOpen() {
			return h, fmt.Errorf("op=pool.%s.create: %w: circuit open", p.name, domain.ErrBackendUnreachable)
		}
		return h, err
	}
	return h, nil
}

// Prewarm creates exactly min handles in parallel and marks the pool ready.
// On failure it returns the error and the pool stays not ready, so every
// Acquire fails with ErrPoolNotReady.
func (p *Pool[H]) Prewarm(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, p.min)
	for i := 0; i < p.min; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := p.create(ctx)
			if err != nil {
				errs <- fmt.Errorf("op=pool.%s.prewarm: %w", p.name, err)
				return
			}
			p.mu.Lock()
			p.created++
			p.mu.Unlock()
			p.idle <- h
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		return err
	}
	p.mu.Lock()
	p.ready = true
	p.mu.Unlock()
	slog.Info("pool prewarmed", slog.String("pool", p.name), slog.Int("min", p.min))
	return nil
}

// Acquire lends a handle, creating one on demand (never more than one per
// call) and blocking up to timeout if none is available. Every returned
// handle has just passed a liveness probe; an unhealthy handle is replaced
// in place at most once per acquire.
func (p *Pool[H]) Acquire(ctx context.Context) (H, error) {
	var zero H

	p.mu.Lock()
	ready := p.ready
	p.mu.Unlock()
	if !ready {
		return zero, fmt.Errorf("op=pool.%s.acquire: %w", p.name, domain.ErrPoolNotReady)
	}

	h, err := p.take(ctx)
	if err != nil {
		return zero, err
	}

	if err := p.healthCheck(ctx, h); err != nil {
		slog.Warn("pool handle failed health probe, replacing", slog.String("pool", p.name), slog.Any("error", err))
		_ = p.closeHandle(h)
		p.mu.Lock()
		p.created--
		p.mu.Unlock()
		fresh, cerr := p.createGuarded(ctx)
		if cerr != nil {
			return zero, fmt.Errorf("op=pool.%s.acquire.replace: %w", p.name, cerr)
		}
		p.mu.Lock()
		p.created++
		p.mu.Unlock()
		return fresh, nil
	}
	return h, nil
}

// take pops an idle handle, creating one synchronously if capacity allows,
// else blocking up to the configured acquire timeout.
func (p *Pool[H]) take(ctx context.Context) (H, error) {
	var zero H
	select {
	case h := <-p.idle:
		return h, nil
	default:
	}

	p.mu.Lock()
	if p.created < p.max {
		p.created++
		p.mu.Unlock()
		h, err := p.createGuarded(ctx)
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return zero, fmt.Errorf("op=pool.%s.acquire.create: %w", p.name, err)
		}
		return h, nil
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()
	select {
	case h := <-p.idle:
		return h, nil
	case <-timer.C:
		return zero, fmt.Errorf("op=pool.%s.acquire: %w", p.name, domain.ErrPoolExhausted)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release returns a handle to the idle queue, or closes it if the queue is full.
func (p *Pool[H]) Release(h H) {
	select {
	case p.idle <- h:
	default:
		_ = p.closeHandle(h)
		p.mu.Lock()
		p.created--
		p.mu.Unlock()
	}
}

// Discard closes a handle outright instead of returning it to the pool,
// used when a scoped operation discovers the handle is broken.
func (p *Pool[H]) Discard(h H) {
	_ = p.closeHandle(h)
	p.mu.Lock()
	p.created--
	p.mu.Unlock()
}

// WithConnection acquires a handle, runs fn, and guarantees release on every
// exit path including panics.
func (p *Pool[H]) WithConnection(ctx context.Context, fn func(h H) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(h)
	return fn(h)
}

// WithConnectionAndRetry is the retrying variant (§4.1): retryable transport
// failures close the handle, reacquire, and retry up to 3 attempts with
// 100·2^n ms backoff; non-retryable failures surface immediately.
func (p *Pool[H]) WithConnectionAndRetry(ctx context.Context, fn func(h H) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	bo := backoff.WithMaxRetries(eb, 3)

	return backoff.Retry(func() error {
		h, err := p.Acquire(ctx)
		if err != nil {
			if domain.Retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		opErr := fn(h)
		if opErr == nil {
			p.Release(h)
			return nil
		}
		if domain.Retryable(opErr) {
			p.Discard(h)
			return opErr
		}
		p.Release(h)
		return backoff.Permanent(opErr)
	}, bo)
}

// Autoscale runs one pass of the sizing formula in §4.1. It is invoked by
// the per-worker ticker.
func (p *Pool[H]) Autoscale(ctx context.Context) {
	p.mu.Lock()
	available := len(p.idle)
	created := p.created
	max := p.max
	min := p.min
	idleTarget := int(math.Round(float64(max) * p.idleBuffer))
	margin := p.margin
	p.mu.Unlock()

	lower := float64(idleTarget) * (1 - margin)
	upper := float64(idleTarget) * (1 + margin)

	switch {
	case float64(available) < lower && created < max:
		n := min2(max-created, idleTarget-available)
		for i := 0; i < n; i++ {
			h, err := p.createGuarded(ctx)
			if err != nil {
				slog.Warn("autoscale create failed", slog.String("pool", p.name), slog.Any("error", err))
				return
			}
			p.mu.Lock()
			p.created++
			p.mu.Unlock()
			select {
			case p.idle <- h:
			default:
				p.Discard(h)
			}
		}
	case float64(available) > upper && created > min:
		n := min2(created-min, available-idleTarget)
		for i := 0; i < n; i++ {
			select {
			case h := <-p.idle:
				_ = p.closeHandle(h)
				p.mu.Lock()
				p.created--
				p.mu.Unlock()
			default:
				return
			}
		}
	}
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Stats returns the current pool accounting.
func (p *Pool[H]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	available := len(p.idle)
	return Stats{
		Capacity:  p.max,
		Available: available,
		Created:   p.created,
		InUse:     p.created - available,
	}
}

// Close drains and closes every idle handle. Used on worker shutdown.
func (p *Pool[H]) Close() {
	for {
		select {
		case h := <-p.idle:
			_ = p.closeHandle(h)
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
		default:
			return
		}
	}
}
