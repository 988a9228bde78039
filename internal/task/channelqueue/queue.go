// Package channelqueue implements the in-process, same-worker bounded
// queue for fire-and-forget work (§4.7): cache warming, near-real-time
// side effects that do not need to cross worker boundaries.
package channelqueue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fairyhunter13/runtime-core/internal/pipeline/container"
	"github.com/fairyhunter13/runtime-core/internal/task/dispatch"
	"github.com/fairyhunter13/runtime-core/internal/task/envelope"
)

// Queue is a bounded, non-blocking-push channel queue with a single
// consumer goroutine.
type Queue struct {
	ch        chan envelope.Envelope
	container *container.Container
	onOutcome func(envelope.Outcome)

	stopOnce sync.Once
	done     chan struct{}
}

// New builds a Queue with the given capacity. onOutcome, if non-nil, is
// invoked with every dispatch outcome (the finish callback, §4.6).
func New(capacity int, c *container.Container, onOutcome func(envelope.Outcome)) *Queue {
	return &Queue{
		ch:        make(chan envelope.Envelope, capacity),
		container: c,
		onOutcome: onOutcome,
		done:      make(chan struct{}),
	}
}

// Push enqueues env without blocking; it returns false if the queue is at
// capacity, which the caller must translate into a 500 response.
func (q *Queue) Push(env envelope.Envelope) bool {
	select {
	case q.ch <- env:
		return true
	default:
		return false
	}
}

// Run starts the consumer loop: pop, dispatch, loop. It blocks until Stop
// is called or ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case env, ok := <-q.ch:
			if !ok {
				close(q.done)
				return
			}
			out := dispatch.Handle(ctx, q.container, env)
			if out.Error != "" {
				slog.Error("channelqueue task failed", slog.String("class", out.Class), slog.String("id", out.ID), slog.String("error", out.Error))
			}
			if q.onOutcome != nil {
				q.onOutcome(out)
			}
		case <-ctx.Done():
			close(q.done)
			return
		}
	}
}

// Stop closes the underlying channel, draining in-flight pushes and
// letting Run exit after the last queued envelope is processed.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.ch)
	})
}

// Wait blocks until Run has exited.
func (q *Queue) Wait() {
	<-q.done
}

// Len reports the number of envelopes currently waiting in the channel,
// for the health endpoint; an envelope already popped and being
// dispatched is not counted.
func (q *Queue) Len() int { return len(q.ch) }
