package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	ErrStopped   = errors.New("worker pool stopped")
	ErrQueueFull = errors.New("worker pool queue full")
)

type ProcessFunc[T any] func(ctx context.Context, job T) error

// Pool runs jobs of type T on a fixed set of goroutines fed by a buffered queue.
type Pool[T any] struct {
	name       string
	numWorkers int
	jobs       chan T
	quit       chan struct{}
	processor  ProcessFunc[T]
	wg         sync.WaitGroup

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once

	processed atomic.Uint64
	failed    atomic.Uint64
}

func NewPool[T any](name string, numWorkers, bufferSize int, processor ProcessFunc[T]) *Pool[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool[T]{
		name:       name,
		numWorkers: numWorkers,
		jobs:       make(chan T, bufferSize),
		quit:       make(chan struct{}),
		processor:  processor,
	}
}

// Start launches the workers. They run until Stop has drained the queue. Jobs
// see ctx's values but not its cancellation, so queued work survives shutdown.
func (p *Pool[T]) Start(ctx context.Context) {
	jobCtx := context.WithoutCancel(ctx)
	for i := 1; i <= p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(jobCtx, i)
	}
}

func (p *Pool[T]) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		if err := p.processor(ctx, job); err != nil {
			p.failed.Add(1)
			slog.Warn("job failed", "pool", p.name, "worker", id, "error", err)
		}
		p.processed.Add(1)
	}
}

// Submit blocks until the job is queued, ctx is done or the pool stops.
func (p *Pool[T]) Submit(ctx context.Context, job T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrStopped
	}
}

// TrySubmit queues the job without blocking.
func (p *Pool[T]) TrySubmit(job T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects new jobs, lets workers finish every queued job and waits for them.
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)

		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()

		p.wg.Wait()
	})
}

func (p *Pool[T]) Processed() uint64 { return p.processed.Load() }

func (p *Pool[T]) Failed() uint64 { return p.failed.Load() }

func (p *Pool[T]) Pending() int { return len(p.jobs) }
