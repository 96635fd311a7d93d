// Package pool provides a small typed wrapper over sync.Pool for the
// hot-path objects the engine allocates on every tick (signals, indicator
// snapshots). Pooling here is an optimization, not a correctness
// requirement: callers that forget to Put simply fall back to normal GC.
package pool

import "sync"

// Pool is a typed object pool. New must return a ready-to-use zero value;
// Reset (if set) is called before an object is handed back out by Get so
// callers never observe stale data from a previous user.
type Pool[T any] struct {
	sp    sync.Pool
	Reset func(*T)
}

// New creates a Pool whose Get calls newFn when the underlying sync.Pool is
// empty.
func New[T any](newFn func() *T) *Pool[T] {
	return &Pool[T]{
		sp: sync.Pool{
			New: func() any { return newFn() },
		},
	}
}

// Get returns a pooled object, resetting it first if Reset is configured.
func (p *Pool[T]) Get() *T {
	v := p.sp.Get().(*T)
	if p.Reset != nil {
		p.Reset(v)
	}
	return v
}

// Put releases an object back to the pool. Callers must not use v after
// calling Put — this is the "finally"-equivalent release point spec §3
// requires for every acquired Signal/Snapshot.
func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	p.sp.Put(v)
}
