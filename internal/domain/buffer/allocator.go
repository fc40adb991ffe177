// Package buffer manages message storage for the bus: a bounded block
// allocator, the reference-counted Buffer built on it, and the Pool that
// tracks buffers and bytes in use.
package buffer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrPoolExhausted means the memory budget cannot cover the request.
	ErrPoolExhausted = errors.New("buffer pool exhausted")
	// ErrBlockTooLarge means no block size class fits the request.
	ErrBlockTooLarge = errors.New("requested size exceeds largest block")
	// ErrForeignBlock means a released block does not belong to the allocator.
	ErrForeignBlock = errors.New("block not owned by allocator")
)

// Allocator hands out raw blocks. Acquire must not block waiting for memory:
// when the budget is spent it fails with ErrPoolExhausted.
type Allocator interface {
	Acquire(size int) ([]byte, error)
	Release(block []byte) error
}

// DefaultBlockSizes are the size classes used when none are configured.
var DefaultBlockSizes = []int{
	8, 16, 20, 36, 64, 96, 128, 160, 256, 512,
	1024, 2048, 4096, 8192, 16384, 32768,
}

// BlockAllocator is a bucketed allocator with a hard byte budget. Each size
// class recycles its blocks through a sync.Pool; the budget counts the class
// size of every outstanding block.
type BlockAllocator struct {
	mu      sync.Mutex
	sizes   []int
	classes []sync.Pool
	limit   int
	inUse   int
}

// NewBlockAllocator creates an allocator with the given size classes and a
// budget of limit bytes.
func NewBlockAllocator(sizes []int, limit int) (*BlockAllocator, error) {
	if len(sizes) == 0 {
		sizes = DefaultBlockSizes
	}
	sorted := append([]int(nil), sizes...)
	sort.Ints(sorted)
	if sorted[0] <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", sorted[0])
	}
	if limit <= 0 {
		return nil, fmt.Errorf("memory limit must be positive, got %d", limit)
	}

	a := &BlockAllocator{
		sizes: dedupe(sorted),
		limit: limit,
	}
	a.classes = make([]sync.Pool, len(a.sizes))
	for i, sz := range a.sizes {
		a.classes[i].New = func() any {
			b := make([]byte, sz)
			return &b
		}
	}
	return a, nil
}

// Acquire returns a zeroed block whose length is the smallest class that
// holds size bytes.
func (a *BlockAllocator) Acquire(size int) ([]byte, error) {
	idx := a.classFor(size)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %d > %d", ErrBlockTooLarge, size, a.sizes[len(a.sizes)-1])
	}
	classSize := a.sizes[idx]

	a.mu.Lock()
	if a.inUse+classSize > a.limit {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %d of %d bytes in use", ErrPoolExhausted, a.inUse, a.limit)
	}
	a.inUse += classSize
	a.mu.Unlock()

	bp := a.classes[idx].Get().(*[]byte)
	block := (*bp)[:classSize]
	clear(block)
	return block, nil
}

// Release returns a block to its class.
func (a *BlockAllocator) Release(block []byte) error {
	idx := a.exactClass(cap(block))
	if idx < 0 {
		return fmt.Errorf("%w: cap %d", ErrForeignBlock, cap(block))
	}
	classSize := a.sizes[idx]

	a.mu.Lock()
	if a.inUse < classSize {
		a.mu.Unlock()
		return fmt.Errorf("%w: release of %d bytes with %d in use", ErrForeignBlock, classSize, a.inUse)
	}
	a.inUse -= classSize
	a.mu.Unlock()

	block = block[:classSize]
	a.classes[idx].Put(&block)
	return nil
}

// InUse returns the bytes currently charged against the budget.
func (a *BlockAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Limit returns the byte budget.
func (a *BlockAllocator) Limit() int { return a.limit }

// MaxBlock returns the largest size class.
func (a *BlockAllocator) MaxBlock() int { return a.sizes[len(a.sizes)-1] }

func (a *BlockAllocator) classFor(size int) int {
	i := sort.SearchInts(a.sizes, size)
	if i == len(a.sizes) {
		return -1
	}
	return i
}

func (a *BlockAllocator) exactClass(size int) int {
	i := sort.SearchInts(a.sizes, size)
	if i == len(a.sizes) || a.sizes[i] != size {
		return -1
	}
	return i
}

func dedupe(sorted []int) []int {
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
