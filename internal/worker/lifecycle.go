package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/runtime-core/internal/adapter/observability"
	"github.com/fairyhunter13/runtime-core/internal/domain"
	"github.com/fairyhunter13/runtime-core/internal/pool"
	"github.com/fairyhunter13/runtime-core/internal/sharedtable"
)

// Autoscaler is satisfied by RDBPool and KVPool.
type Autoscaler interface {
	Autoscale(ctx context.Context)
	Stats() pool.Stats
}

// Lifecycle owns one worker's readiness flag, heartbeat ticker, and
// cleanup on stop (§4.5).
type Lifecycle struct {
	id       string
	pid      int
	registry *Registry
	pools    map[string]Autoscaler
	cache    *sharedtable.Table

	ready   atomic.Bool
	tickers chan struct{}
}

// New builds a Lifecycle for one worker, wired to the shared heartbeat
// registry, the named pools it owns, and its shared cache table.
func New(id string, pid int, registry *Registry, pools map[string]Autoscaler, cache *sharedtable.Table) *Lifecycle {
	return &Lifecycle{
		id:       id,
		pid:      pid,
		registry: registry,
		pools:    pools,
		cache:    cache,
		tickers:  make(chan struct{}),
	}
}

// Start writes the initial heartbeat row, marks the worker ready, and
// starts the heartbeat ticker at interval. It aborts and returns an error if the
// initial write fails — there is none in this in-memory registry, but the
// contract is kept for symmetry with a durable-row implementation.
func (l *Lifecycle) Start(ctx context.Context, interval time.Duration) error {
	now := time.Now()
	l.registry.Put(Row{ID: l.id, PID: l.pid, FirstHeartbeat: now, LastHeartbeat: now})
	l.ready.Store(true)

	go l.tick(ctx, interval)
	slog.Info("worker started", slog.String("worker", l.id), slog.Int("pid", l.pid))
	return nil
}

func (l *Lifecycle) tick(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.beat()
		case <-l.tickers:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *Lifecycle) beat() {
	stats := make(map[string]any, len(l.pools))
	for name, p := range l.pools {
		p.Autoscale(context.Background())
		s := p.Stats()
		stats[name] = s
		observability.RecordPoolStats(name, s.Capacity, s.Created, s.Available, s.InUse)
	}
	l.registry.Heartbeat(l.id, time.Now(), stats)
	if l.cache != nil {
		removed := l.cache.GC()
		if removed > 0 {
			observability.CacheGCRemoved.Add(float64(removed))
			slog.Debug("cache gc", slog.String("worker", l.id), slog.Int("removed", removed))
		}
		observability.CacheSize.Set(float64(l.cache.Len()))
	}
}

// Stop clears the readiness flag, cancels the ticker, and deletes the
// worker's heartbeat row.
func (l *Lifecycle) Stop() {
	l.ready.Store(false)
	close(l.tickers)
	l.registry.Remove(l.id)
	slog.Info("worker stopped", slog.String("worker", l.id))
}

// Ready reports the process-local readiness flag.
func (l *Lifecycle) Ready() bool { return l.ready.Load() }

// ReadyChecker blocks up to timeout, polling every poll interval, for the
// worker to become ready; it fails with ErrWorkerNotReady otherwise. Every
// request passes through this gate before entering the pipeline (§4.5).
func ReadyChecker(ctx context.Context, l *Lifecycle, timeout, poll time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if l.Ready() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("op=worker.ready_checker: %w", domain.ErrWorkerNotReady)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
