package fat32

import (
	"sync"

	"github.com/dargueta/fat32engine/errs"
)

// Pool is a bounded, non-blocking free list of pre-allocated values of type
// T. The engine uses it for both command contexts and node handles: mount
// time fixes the capacity once, and every subsequent Acquire either hands
// back a previously-released value or fails fast with ErrAllocFailed instead
// of blocking a caller indefinitely (spec §5's "ALLOC_FAILED on exhaustion"
// rule). Grounded on the teacher's bitmap-backed allocator
// (drivers/common/allocatormap.go), adapted from a block-bitmap to a
// fixed-capacity object free list.
type Pool[T any] struct {
	mu    sync.Mutex
	items []T
	free  []int // indices into items currently available
	inUse []bool
}

// NewPool creates a pool of the given capacity, populating every slot with
// the value returned by factory.
func NewPool[T any](capacity int, factory func() T) *Pool[T] {
	p := &Pool[T]{
		items: make([]T, capacity),
		free:  make([]int, capacity),
		inUse: make([]bool, capacity),
	}
	for i := 0; i < capacity; i++ {
		p.items[i] = factory()
		p.free[i] = capacity - 1 - i
	}
	return p
}

// Acquire hands back one pooled value and its slot index, or
// ErrAllocFailed if the pool is exhausted.
func (p *Pool[T]) Acquire() (T, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	if len(p.free) == 0 {
		return zero, -1, errs.ErrAllocFailed
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[idx] = true
	return p.items[idx], idx, nil
}

// Release returns a previously acquired slot to the pool. Releasing a slot
// that isn't currently acquired is a no-op.
func (p *Pool[T]) Release(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx < 0 || idx >= len(p.items) || !p.inUse[idx] {
		return
	}
	p.inUse[idx] = false
	p.free = append(p.free, idx)
}

// At returns the pooled value at idx without affecting its acquired state,
// for callers that already hold the slot.
func (p *Pool[T]) At(idx int) T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.items[idx]
}

// Len reports the pool's fixed capacity.
func (p *Pool[T]) Len() int {
	return len(p.items)
}

// InUse reports how many slots are currently acquired, for diagnostics and
// tests.
func (p *Pool[T]) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items) - len(p.free)
}
