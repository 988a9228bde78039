// Package crossworker implements the cross-worker task subsystem (§4.6):
// long-running work executed off the request path across a parallel pool
// of worker goroutines, each with its own container, mirroring the
// process/thread-pool model described for other language runtimes. Tasks
// are best-effort and in-memory — per the Non-goals, no durable broker
// backs this queue.
package crossworker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fairyhunter13/runtime-core/internal/pipeline/container"
	"github.com/fairyhunter13/runtime-core/internal/task/dispatch"
	"github.com/fairyhunter13/runtime-core/internal/task/envelope"
)

// ContainerFactory builds a fresh, worker-owned container; each task
// worker gets its own, since the container is not safe for concurrent use
// across workers (§4.4).
type ContainerFactory func() *container.Container

// Pool is the cross-worker task subsystem.
type Pool struct {
	queue     chan envelope.Envelope
	newContainer ContainerFactory
	onFinish  func(envelope.Outcome)

	wg   sync.WaitGroup
	stop chan struct{}
}

// New builds a Pool around a queue of the given capacity; no worker runs
// until Start, which takes the worker count (the workerCount argument here
// is not used). onFinish is the finish(data) callback on the originating
// worker (§4.6).
func New(workerCount, queueCapacity int, newContainer ContainerFactory, onFinish func(envelope.Outcome)) *Pool {
	return &Pool{
		queue:        make(chan envelope.Envelope, queueCapacity),
		newContainer: newContainer,
		onFinish:     onFinish,
		stop:         make(chan struct{}),
	}
}

// Start launches workerCount worker goroutines.
func (p *Pool) Start(ctx context.Context, workerCount int) {
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}
}

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()
	c := p.newContainer()
	for {
		select {
		case env, ok := <-p.queue:
			if !ok {
				return
			}
			out := dispatch.Handle(ctx, c, env)
			p.finish(out)
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) finish(out envelope.Outcome) {
	if out.Error != "" {
		slog.Error("task finished with error",
			slog.String("class", out.Class), slog.String("id", out.ID), slog.String("error", out.Error))
	} else {
		slog.Info("task finished",
			slog.String("class", out.Class), slog.String("id", out.ID))
	}
	if p.onFinish != nil {
		p.onFinish(out)
	}
}

// Dispatch enqueues env onto the cross-worker queue. It returns false if
// the queue is full — the caller (a request handler) must translate that
// into a 500 response.
func (p *Pool) Dispatch(env envelope.Envelope) bool {
	select {
	case p.queue <- env:
		return true
	default:
		return false
	}
}

// Stop signals every worker to exit and waits for them to return.
// Envelopes still in the queue are not processed.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// Len reports the number of envelopes currently queued.
func (p *Pool) Len() int { return len(p.queue) }
