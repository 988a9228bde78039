package crossworker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/runtime-core/internal/pipeline/container"
	"github.com/fairyhunter13/runtime-core/internal/task/crossworker"
	"github.com/fairyhunter13/runtime-core/internal/task/envelope"
)

type sumTask struct{}

func (sumTask) Handle(ctx context.Context, id string, args ...any) (any, error) {
	return id + "-done", nil
}

func newTestContainer() *container.Container {
	c := container.New()
	c.Bind("task.sum", func(c *container.Container) (any, error) { return sumTask{}, nil })
	return c
}

func TestPool_DispatchRunsAcrossWorkers(t *testing.T) {
	var mu sync.Mutex
	var outcomes []envelope.Outcome

	p := crossworker.New(3, 16, newTestContainer, func(o envelope.Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx, 3)
	defer p.Stop()

	for i := 0; i < 5; i++ {
		require.True(t, p.Dispatch(envelope.New("task.sum", "job")))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(outcomes) == 5
	}, time.Second, 10*time.Millisecond)
}

func TestPool_DispatchFailsWhenQueueFull(t *testing.T) {
	p := crossworker.New(0, 1, newTestContainer, nil)
	require.True(t, p.Dispatch(envelope.New("task.sum", "1")))
	assert.False(t, p.Dispatch(envelope.New("task.sum", "2")))
}
