// Package arena implements a fixed-capacity slot table addressed by
// generation-checked ResourceIDs.
//
// Slots are stored in a flat slice with a LIFO free list. Freeing a slot bumps
// its generation, so handles minted before the free stop resolving even after
// the slot is reused.
//
// An Arena is not safe for concurrent use. Owners guard it with their own lock.
package arena

import (
	"github.com/flightcore/softbus/internal/shared/id"
)

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// Arena is a fixed-capacity table of T.
type Arena[T any] struct {
	kind  id.Kind
	slots []slot[T]
	free  []int
	used  int
}

// New creates an arena with room for capacity values. Capacity is clamped to
// id.MaxSlots.
func New[T any](kind id.Kind, capacity int) *Arena[T] {
	if capacity > id.MaxSlots {
		capacity = id.MaxSlots
	}
	if capacity < 0 {
		capacity = 0
	}
	a := &Arena[T]{
		kind:  kind,
		slots: make([]slot[T], capacity),
		free:  make([]int, capacity),
	}
	// Lowest slot first out of the free list.
	for i := range a.free {
		a.free[i] = capacity - 1 - i
	}
	return a
}

// Alloc stores v in a free slot and returns its handle. ok is false when the
// arena is full.
func (a *Arena[T]) Alloc(v T) (rid id.ResourceID, ptr *T, ok bool) {
	n := len(a.free)
	if n == 0 {
		return id.Undefined, nil, false
	}
	idx := a.free[n-1]
	a.free = a.free[:n-1]

	s := &a.slots[idx]
	s.gen = id.NextGeneration(s.gen)
	s.live = true
	s.val = v
	a.used++
	return id.Mint(a.kind, s.gen, idx), &s.val, true
}

// Get resolves rid to its live value.
func (a *Arena[T]) Get(rid id.ResourceID) (*T, bool) {
	idx, ok := id.Validate(rid, a.kind)
	if !ok || idx >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[idx]
	if !s.live || s.gen != rid.Generation() {
		return nil, false
	}
	return &s.val, true
}

// Free releases the slot behind rid. Stale or unknown handles return false.
func (a *Arena[T]) Free(rid id.ResourceID) bool {
	if _, ok := a.Get(rid); !ok {
		return false
	}
	idx := rid.Slot()
	s := &a.slots[idx]
	var zero T
	s.val = zero
	s.live = false
	a.free = append(a.free, idx)
	a.used--
	return true
}

// Each calls fn for every live slot in slot order until fn returns false.
func (a *Arena[T]) Each(fn func(rid id.ResourceID, v *T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.live {
			continue
		}
		if !fn(id.Mint(a.kind, s.gen, i), &s.val) {
			return
		}
	}
}

// Len returns the number of live slots.
func (a *Arena[T]) Len() int { return a.used }

// Cap returns the arena capacity.
func (a *Arena[T]) Cap() int { return len(a.slots) }

// Full reports whether no slot is free.
func (a *Arena[T]) Full() bool { return len(a.free) == 0 }
