// Package worker bounds the number of CPU-heavy biometric jobs running at
// once, so one connection's expensive frame cannot starve every other
// connection's frame cadence.
package worker

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool admits at most a fixed number of jobs concurrently. Callers block
// on their own goroutine until a slot frees up or their context ends.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool admitting up to size concurrent jobs.
func NewPool(size int64) *Pool {
	return &Pool{sem: semaphore.NewWeighted(size)}
}

// Do runs fn once a slot is available. Returns the context's error if it
// ends before a slot frees up; fn is then never run.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	fn()
	return nil
}
