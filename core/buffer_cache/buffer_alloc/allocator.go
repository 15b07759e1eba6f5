// Package bufferalloc hands out the fixed-size block buffers the cache
// keeps resident. Freed buffers are recycled through a sync.Pool, and a
// hard budget turns allocator exhaustion into a backpressure error
// instead of unbounded growth.
package bufferalloc

import (
	"errors"
	"sync"
)

// ErrBudgetExceeded is returned by Malloc when the number of live
// buffers would exceed the configured budget.
var ErrBudgetExceeded = errors.New("buffer allocator budget exceeded")

// Allocator produces zeroed, block-sized []byte buffers. Live accounting
// is unsynchronized: like the rest of the cache, Malloc and Free must be
// called from the owning event loop only.
type Allocator struct {
	blockSize int
	budget    int
	live      int
	pool      sync.Pool
}

// New creates an Allocator for blockSize-byte buffers. budget caps the
// number of live (allocated, not yet freed) buffers.
func New(blockSize, budget int) *Allocator {
	a := &Allocator{
		blockSize: blockSize,
		budget:    budget,
	}
	a.pool.New = func() any {
		return make([]byte, blockSize)
	}
	return a
}

// Malloc returns a zeroed buffer of exactly the block size.
func (a *Allocator) Malloc() ([]byte, error) {
	if a.live >= a.budget {
		return nil, ErrBudgetExceeded
	}
	a.live++
	buf := a.pool.Get().([]byte)
	clear(buf)
	return buf, nil
}

// Free returns buf to the recycle pool. Freeing a buffer of the wrong
// size is a programming error.
func (a *Allocator) Free(buf []byte) {
	if len(buf) != a.blockSize {
		panic("bufferalloc: freed buffer has wrong size")
	}
	a.live--
	a.pool.Put(buf)
}

// Live returns the number of buffers currently handed out.
func (a *Allocator) Live() int {
	return a.live
}

// BlockSize returns the size of every buffer this allocator produces.
func (a *Allocator) BlockSize() int {
	return a.blockSize
}
