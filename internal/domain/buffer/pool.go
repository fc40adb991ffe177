package buffer

import (
	"fmt"
	"sync"
)

// Stats is the pool's view of buffers and bytes in use.
type Stats struct {
	BuffersInUse     int `json:"buffers_in_use"`
	PeakBuffersInUse int `json:"peak_buffers_in_use"`
	MemInUse         int `json:"mem_in_use"`
	PeakMemInUse     int `json:"peak_mem_in_use"`
	MaxMem           int `json:"max_mem"`
}

// Pool allocates Buffers from an Allocator and accounts for them. Its lock is
// a leaf: nothing called while holding it takes another lock.
type Pool struct {
	mu     sync.Mutex
	alloc  Allocator
	maxMem int
	stats  Stats
}

// NewPool wraps alloc. maxMem is reported in Stats as the configured budget.
func NewPool(alloc Allocator, maxMem int) *Pool {
	return &Pool{alloc: alloc, maxMem: maxMem}
}

// Get returns a zero-filled buffer with one reference and Size() == size.
func (p *Pool) Get(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", size)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	block, err := p.alloc.Acquire(size)
	if err != nil {
		return nil, err
	}

	b := &Buffer{pool: p, block: block, size: size}
	b.refs.Store(1)

	p.stats.BuffersInUse++
	p.stats.MemInUse += len(block)
	if p.stats.BuffersInUse > p.stats.PeakBuffersInUse {
		p.stats.PeakBuffersInUse = p.stats.BuffersInUse
	}
	if p.stats.MemInUse > p.stats.PeakMemInUse {
		p.stats.PeakMemInUse = p.stats.MemInUse
	}
	return b, nil
}

func (p *Pool) put(b *Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	block := b.block
	b.block = nil
	b.size = 0

	p.stats.BuffersInUse--
	p.stats.MemInUse -= len(block)
	return p.alloc.Release(block)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.MaxMem = p.maxMem
	return s
}

// ResetPeaks sets the peak counters to the current values.
func (p *Pool) ResetPeaks() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.PeakBuffersInUse = p.stats.BuffersInUse
	p.stats.PeakMemInUse = p.stats.MemInUse
}
