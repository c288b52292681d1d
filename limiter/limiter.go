// Package limiter bounds how many asynchronous tasks run at once.
//
// Tasks are admitted in FIFO order; completion order is whatever the tasks
// make it. Once admitted, a task runs to completion: the context only
// aborts the wait in the queue.
package limiter

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Limiter admits at most n concurrent tasks.
type Limiter struct {
	sem     *semaphore.Weighted
	size    int
	active  atomic.Int64
	pending atomic.Int64
}

// New creates a limiter with concurrency n. n < 1 is treated as 1.
func New(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Size returns the configured concurrency.
func (l *Limiter) Size() int { return l.size }

// Active returns the number of running tasks.
func (l *Limiter) Active() int { return int(l.active.Load()) }

// Pending returns the number of tasks waiting for admission.
func (l *Limiter) Pending() int { return int(l.pending.Load()) }

// Run waits for a slot, then runs task and returns its error. The slot is
// released when task returns, whether it failed or not. If ctx ends while
// the task is still queued, Run returns ctx.Err() and task never runs.
func (l *Limiter) Run(ctx context.Context, task func(ctx context.Context) error) error {
	l.pending.Add(1)
	if err := l.admit(ctx); err != nil {
		return err
	}
	defer l.done()
	return task(ctx)
}

// admit takes one queued task off the pending count and waits for its slot.
func (l *Limiter) admit(ctx context.Context) error {
	err := l.sem.Acquire(ctx, 1)
	l.pending.Add(-1)
	if err != nil {
		return fmt.Errorf("limiter: waiting for admission: %w", err)
	}
	l.active.Add(1)
	return nil
}

func (l *Limiter) done() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// Do is Run for tasks that produce a value.
func Do[T any](ctx context.Context, l *Limiter, task func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := l.Run(ctx, func(ctx context.Context) error {
		v, err := task(ctx)
		out = v
		return err
	})
	return out, err
}

// Map runs fn once per item with at most n in flight and returns the
// results in input order. Every admitted task runs even if another fails;
// the first error (in completion order) is returned with the results.
func Map[T, R any](ctx context.Context, items []T, n int, fn func(ctx context.Context, i int, item T) (R, error)) ([]R, error) {
	return MapWith(ctx, New(n), items, fn)
}

// MapWith is Map on an existing limiter, so several callers can share one
// concurrency budget. Items are admitted in input order.
func MapWith[T, R any](ctx context.Context, l *Limiter, items []T, fn func(ctx context.Context, i int, item T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	var g errgroup.Group

	l.pending.Add(int64(len(items)))
	for i, item := range items {
		if err := l.admit(ctx); err != nil {
			l.pending.Add(-int64(len(items) - i - 1))
			g.Go(func() error { return err })
			break
		}
		g.Go(func() error {
			defer l.done()
			r, err := fn(ctx, i, item)
			results[i] = r
			return err
		})
	}
	err := g.Wait()
	return results, err
}
