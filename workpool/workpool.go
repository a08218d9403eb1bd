// Package workpool runs tasks on a fixed set of worker goroutines, with
// bounded, non-blocking admission.
//
// It is the thread pool a reactor hands completed requests to, so that
// handlers may block without stalling the readiness loop.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueFull is returned by [Pool.Submit] if every worker is busy, and
	// the queue is at capacity.
	ErrQueueFull = errors.New(`workpool: queue full`)

	// ErrShuttingDown is returned by [Pool.Submit] once [Pool.Shutdown] or
	// [Pool.Close] has been called.
	ErrShuttingDown = errors.New(`workpool: shutting down`)
)

type (
	// Task is a unit of work. The context is canceled if the pool is
	// forcibly closed.
	Task func(ctx context.Context) error

	// Pool is a fixed size worker pool. Instances must be initialized using
	// the New factory.
	Pool struct {
		// betteralign:ignore

		logger  *logiface.Logger[logiface.Event]
		limiter *catrate.Limiter
		sem     *semaphore.Weighted
		ctx     context.Context
		cancel  context.CancelFunc
		tasks   chan *Handle
		done    chan struct{}
		wg      sync.WaitGroup
		// guards tasks against a send after close
		mu       sync.RWMutex
		stopping bool
		workers  int
		capacity int
	}

	// Handle models a submitted task, providing a Wait method.
	Handle struct {
		task Task
		err  error
		done chan struct{}
	}
)

// New starts a pool of workers goroutines, admitting at most queue tasks
// beyond those being run. The [Pool.Shutdown] and/or [Pool.Close] methods
// should be called when the pool is no longer needed.
func New(workers, queue int, opts ...Option) (*Pool, error) {
	if workers <= 0 {
		return nil, fmt.Errorf(`workpool: workers must be positive, got %d`, workers)
	}
	if queue < 0 {
		return nil, fmt.Errorf(`workpool: queue must not be negative, got %d`, queue)
	}

	cfg, err := resolvePoolOptions(opts)
	if err != nil {
		return nil, err
	}

	limiter, err := newLimiter(cfg.rejectionRates)
	if err != nil {
		return nil, err
	}

	capacity := workers + queue
	x := &Pool{
		logger:   cfg.logger,
		limiter:  limiter,
		sem:      semaphore.NewWeighted(int64(capacity)),
		tasks:    make(chan *Handle, capacity),
		done:     make(chan struct{}),
		workers:  workers,
		capacity: capacity,
	}
	x.ctx, x.cancel = context.WithCancel(context.Background())

	x.wg.Add(workers)
	for range workers {
		go x.worker()
	}
	go func() {
		x.wg.Wait()
		x.cancel()
		close(x.done)
	}()

	x.logger.Debug().
		Int(`workers`, workers).
		Int(`queue`, queue).
		Log(`workpool: started`)

	return x, nil
}

// Submit schedules task, without blocking. [ErrQueueFull] is returned if
// the pool is at capacity, and [ErrShuttingDown] if it is stopping.
func (x *Pool) Submit(task Task) (*Handle, error) {
	if task == nil {
		return nil, errors.New(`workpool: nil task`)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.stopping {
		return nil, ErrShuttingDown
	}

	if !x.sem.TryAcquire(1) {
		if _, ok := x.limiter.Allow(ErrQueueFull); ok {
			x.logger.Warning().
				Int(`capacity`, x.capacity).
				Log(`workpool: rejected task, queue full`)
		}
		return nil, ErrQueueFull
	}

	h := &Handle{task: task, done: make(chan struct{})}
	// never blocks, the semaphore bounds the channel
	x.tasks <- h
	return h, nil
}

// Shutdown immediately prevents further tasks via Submit, then waits for all
// already running or queued tasks to complete. An error will be returned if
// ctx is canceled prior to this, causing a forced Close.
//
// This method is unsafe to call from within a task.
func (x *Pool) Shutdown(ctx context.Context) (err error) {
	x.stop()

	select {
	case <-ctx.Done():
		if x.ctx.Err() == nil {
			err = ctx.Err()
		}
		x.cancel()
		<-x.done
	case <-x.done:
	}

	return err
}

// Close cancels the context of all tasks, prevents further tasks, and
// blocks until every worker has exited. Queued tasks are still run, with a
// canceled context.
func (x *Pool) Close() error {
	x.cancel()
	x.stop()
	<-x.done
	return nil
}

// newLimiter converts the panic catrate raises for invalid rates.
func newLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	if len(rates) == 0 {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf(`workpool: %v`, r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// Workers returns the number of worker goroutines.
func (x *Pool) Workers() int { return x.workers }

func (x *Pool) stop() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.stopping {
		x.stopping = true
		close(x.tasks)
	}
}

func (x *Pool) worker() {
	defer x.wg.Done()
	for h := range x.tasks {
		h.run(x.ctx, x.logger)
		x.sem.Release(1)
	}
}

func (x *Handle) run(ctx context.Context, logger *logiface.Logger[logiface.Event]) {
	x.err = errors.New(`workpool: panic in task`)
	defer close(x.done)
	defer func() {
		if r := recover(); r != nil {
			logger.Err().
				Any(`panic`, r).
				Log(`workpool: task panicked`)
		}
	}()
	x.err = x.task(ctx)
}

// Wait for the task to complete, returning its error, or ctx.Err() if ctx
// is canceled first.
func (x *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-x.done:
		return x.err
	}
}

// Done returns a channel that is closed once the task has completed.
func (x *Handle) Done() <-chan struct{} { return x.done }
