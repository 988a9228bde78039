package pool_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/runtime-core/internal/domain"
	"github.com/fairyhunter13/runtime-core/internal/pool"
)

type fakeHandle struct {
	id      int
	healthy bool
}

func newFakePool(t *testing.T, min, max int, idleBuffer, margin float64) (*pool.Pool[*fakeHandle], *int32) {
	var counter int32
	var closed int32
	p := pool.New(pool.Config[*fakeHandle]{
		Name:           "fake",
		Min:            min,
		Max:            max,
		IdleBuffer:     idleBuffer,
		Margin:         margin,
		AcquireTimeout: 100 * time.Millisecond,
		Create: func(ctx context.Context) (*fakeHandle, error) {
			n := atomic.AddInt32(&counter, 1)
			return &fakeHandle{id: int(n), healthy: true}, nil
		},
		Close: func(h *fakeHandle) error {
			atomic.AddInt32(&closed, 1)
			return nil
		},
		HealthCheck: func(ctx context.Context, h *fakeHandle) error {
			if !h.healthy {
				return errors.New("unhealthy")
			}
			return nil
		},
	})
	require.NoError(t, p.Prewarm(context.Background()))
	return p, &closed
}

func TestPool_PoolAccounting(t *testing.T) {
	p, _ := newFakePool(t, 2, 5, 0.2, 0.1)
	stats := p.Stats()
	assert.Equal(t, 5, stats.Capacity)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 0, stats.InUse)

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	stats = p.Stats()
	assert.Equal(t, 1, stats.InUse)
	assert.Equal(t, stats.Created-stats.Available, stats.InUse)

	p.Release(h)
	stats = p.Stats()
	assert.Equal(t, 0, stats.InUse)
}

func TestPool_ScopedReleaseOnError(t *testing.T) {
	p, _ := newFakePool(t, 1, 2, 0.2, 0.1)
	before := p.Stats()

	err := p.WithConnection(context.Background(), func(h *fakeHandle) error {
		return errors.New("boom")
	})
	require.Error(t, err)

	after := p.Stats()
	assert.Equal(t, before.Created, after.Created)
	assert.Equal(t, before.Available, after.Available)
}

func TestPool_Exhaustion(t *testing.T) {
	p, _ := newFakePool(t, 1, 2, 0.2, 0.1)

	h1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	h2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	_ = h1
	_ = h2

	start := time.Now()
	_, err = p.Acquire(context.Background())
	elapsed := time.Since(start)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPoolExhausted))
	assert.Less(t, elapsed, 150*time.Millisecond)
}

func TestPool_NotReadyBeforePrewarm(t *testing.T) {
	p := pool.New(pool.Config[*fakeHandle]{
		Name: "cold", Min: 1, Max: 2,
		Create:      func(ctx context.Context) (*fakeHandle, error) { return &fakeHandle{healthy: true}, nil },
		Close:       func(h *fakeHandle) error { return nil },
		HealthCheck: func(ctx context.Context, h *fakeHandle) error { return nil },
	})
	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPoolNotReady))
}

func TestPool_AutoscaleUp(t *testing.T) {
	p, _ := newFakePool(t, 2, 20, 0.2, 0.1)

	var handles []*fakeHandle
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := p.Acquire(context.Background())
			if err == nil {
				mu.Lock()
				handles = append(handles, h)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	p.Autoscale(context.Background())
	stats := p.Stats()
	assert.GreaterOrEqual(t, stats.Created, 6)

	for _, h := range handles {
		p.Release(h)
	}
}

func TestPool_AutoscaleDown(t *testing.T) {
	p, _ := newFakePool(t, 2, 20, 0.2, 0.1)

	var handles []*fakeHandle
	for i := 0; i < 10; i++ {
		h, err := p.Acquire(context.Background())
		require.NoError(t, err)
		handles = append(handles, h)
	}
	p.Autoscale(context.Background())

	for _, h := range handles {
		p.Release(h)
	}
	p.Autoscale(context.Background())
	stats := p.Stats()
	assert.GreaterOrEqual(t, stats.Created, 2)
	assert.LessOrEqual(t, stats.Created, 20)
}

func TestPool_UnhealthyHandleReplaced(t *testing.T) {
	p, closed := newFakePool(t, 1, 2, 0.2, 0.1)

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	h.healthy = false
	p.Release(h)

	before := p.Stats()
	h2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, h2.healthy)
	after := p.Stats()
	assert.Equal(t, before.Created, after.Created) // replaced in place: created count unchanged
	assert.GreaterOrEqual(t, *closed, int32(1))
}

func TestPool_WithConnectionAndRetry_NonRetryableSurfacesImmediately(t *testing.T) {
	p, _ := newFakePool(t, 1, 2, 0.2, 0.1)
	attempts := 0
	err := p.WithConnectionAndRetry(context.Background(), func(h *fakeHandle) error {
		attempts++
		return domain.ErrConflict
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.Equal(t, 1, attempts)
}

func TestPool_WithConnectionAndRetry_RetriesRetryable(t *testing.T) {
	p, _ := newFakePool(t, 1, 2, 0.2, 0.1)
	attempts := 0
	err := p.WithConnectionAndRetry(context.Background(), func(h *fakeHandle) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("op=test: %w", domain.ErrBackendUnreachable)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}
