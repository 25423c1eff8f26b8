package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pdf_gateway/internal/utils"
)

// Executor admits at most a fixed number of concurrently running jobs.
// Submissions past the ceiling wait in arrival order: admission is FIFO,
// completion order is whatever the jobs make of it. One job's failure
// never affects another's; a submission is never dropped.
//
// The running count and the waiter queue are the only shared state, and
// both are owned by this struct behind its mutex.
type Executor struct {
	limit      int
	logTimings bool
	logger     *utils.Logger
	mu         sync.Mutex
	running    int
	waiters    []chan struct{}
}

// New creates an executor with the given concurrency ceiling. A
// non-positive limit is a configuration error and fails fast.
func New(limit int, logTimings bool) (*Executor, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("executor: concurrency limit must be positive, got %d", limit)
	}
	return &Executor{
		limit:      limit,
		logTimings: logTimings,
		logger:     utils.NewLogger("executor"),
	}, nil
}

// Acquire blocks until a slot is free, honoring arrival order. It returns
// the context's error if the caller gives up while still waiting.
func (e *Executor) Acquire(ctx context.Context) error {
	e.mu.Lock()
	if e.running < e.limit && len(e.waiters) == 0 {
		e.running++
		e.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	e.waiters = append(e.waiters, ready)
	e.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		e.mu.Lock()
		for i, w := range e.waiters {
			if w == ready {
				e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
				e.mu.Unlock()
				return ctx.Err()
			}
		}
		e.mu.Unlock()
		// The slot was granted between ctx firing and us removing the
		// waiter; hand it to the next in line.
		e.Release()
		return ctx.Err()
	}
}

// Release frees a slot, handing it directly to the oldest waiter if one
// exists. Must be called exactly once per successful Acquire.
func (e *Executor) Release() {
	e.mu.Lock()
	if len(e.waiters) > 0 {
		ready := e.waiters[0]
		e.waiters = e.waiters[1:]
		e.mu.Unlock()
		close(ready)
		return
	}
	e.running--
	e.mu.Unlock()
}

// Running returns the number of jobs currently holding a slot.
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Waiting returns the number of submissions queued for a slot.
func (e *Executor) Waiting() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.waiters)
}

// Limit returns the concurrency ceiling.
func (e *Executor) Limit() int {
	return e.limit
}

// Run executes fn under the executor's concurrency ceiling and returns its
// outcome to this caller only. When timing logs are enabled it reports how
// long the job waited for a slot and how long it ran.
func Run[T any](ctx context.Context, e *Executor, task string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	enqueuedAt := time.Now()
	if err := e.Acquire(ctx); err != nil {
		return zero, err
	}
	startedAt := time.Now()

	result, err := fn(ctx)

	runMS := time.Since(startedAt).Milliseconds()
	e.Release()

	if e.logTimings {
		e.logger.Info("queue timing",
			"task", task,
			"wait_ms", startedAt.Sub(enqueuedAt).Milliseconds(),
			"run_ms", runMS,
			"running", e.Running(),
		)
	}

	return result, err
}
