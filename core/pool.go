package core

import (
	"sync"
	"sync/atomic"
)

// GenericPool is a generic wrapper around sync.Pool
type GenericPool[T any] struct {
	pool sync.Pool
}

// NewGenericPool creates a new GenericPool with a function to create new items.
func NewGenericPool[T any](newItem func() T) *GenericPool[T] {
	return &GenericPool[T]{
		pool: sync.Pool{
			New: func() interface{} {
				return newItem()
			},
		},
	}
}

// Get retrieves an item from the pool.
func (p *GenericPool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put returns an item to the pool.
func (p *GenericPool[T]) Put(item T) {
	p.pool.Put(item)
}

// ValuePool recycles the float32 backing arrays of Blocks. Extraction at a
// fixed display capacity requests slices of nearly the same size every time,
// so reuse avoids a large allocation per refetch.
type ValuePool struct {
	pool GenericPool[*[]float32]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewValuePool creates an empty ValuePool.
func NewValuePool() *ValuePool {
	return &ValuePool{
		pool: GenericPool[*[]float32]{pool: sync.Pool{
			New: func() interface{} {
				s := make([]float32, 0)
				return &s
			},
		}},
	}
}

// Get returns a slice of length n. Its contents are unspecified.
func (p *ValuePool) Get(n int) []float32 {
	sp := p.pool.Get()
	s := *sp
	if cap(s) < n {
		p.misses.Add(1)
		return make([]float32, n)
	}
	p.hits.Add(1)
	return s[:n]
}

// Put hands a slice back to the pool.
func (p *ValuePool) Put(s []float32) {
	if s == nil {
		return
	}
	s = s[:0]
	p.pool.Put(&s)
}

// GetMetrics returns the number of pooled and freshly allocated Gets.
func (p *ValuePool) GetMetrics() (hits, misses uint64) {
	return p.hits.Load(), p.misses.Load()
}
