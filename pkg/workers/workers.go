// Package workers runs blocking jobs on a bounded set of goroutines.
//
// A job's inputs move in through its closure and its results move back out
// through the return value, so the caller never shares a value with a job
// that is still running.
package workers

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is used when New is given a non-positive size.
const DefaultSize = 8

// Pool bounds how many jobs run at once.
type Pool struct {
	size     int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	waiting  atomic.Int64
}

// New creates a Pool that runs at most size jobs concurrently.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

type result[T any] struct {
	val T
	err error
}

// Do waits for a free slot, runs fn on its own goroutine, and returns what fn
// returns. If ctx ends before a slot frees up, fn never runs and ctx's error
// is returned.
//
// Once fn has started Do waits for it to finish even if ctx ends, so that
// whatever fn owns is handed back to the caller rather than abandoned. fn is
// expected to observe ctx itself.
func Do[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	p.waiting.Add(1)
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Add(-1)
	if err != nil {
		var zero T
		return zero, err
	}

	done := make(chan result[T], 1)
	p.inFlight.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result[T]{val: zero, err: fmt.Errorf("worker panic: %v", r)}
			}
			p.inFlight.Add(-1)
			p.sem.Release(1)
		}()
		val, err := fn()
		done <- result[T]{val: val, err: err}
	}()

	r := <-done
	return r.val, r.err
}

// Stats is a snapshot of pool usage.
type Stats struct {
	Size     int64
	InFlight int64
	Waiting  int64
}

// Stats returns current pool usage.
func (p *Pool) Stats() Stats {
	return Stats{
		Size:     p.size,
		InFlight: p.inFlight.Load(),
		Waiting:  p.waiting.Load(),
	}
}
