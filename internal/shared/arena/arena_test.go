package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightcore/softbus/internal/shared/id"
)

func TestAllocGetFree(t *testing.T) {
	a := New[string](id.KindPipe, 2)

	rid, ptr, ok := a.Alloc("first")
	require.True(t, ok)
	assert.Equal(t, "first", *ptr)
	assert.Equal(t, 1, a.Len())

	got, ok := a.Get(rid)
	require.True(t, ok)
	assert.Equal(t, "first", *got)

	assert.True(t, a.Free(rid))
	assert.Equal(t, 0, a.Len())

	_, ok = a.Get(rid)
	assert.False(t, ok)
	assert.False(t, a.Free(rid), "double free must fail")
}

func TestStaleHandleAfterReuse(t *testing.T) {
	a := New[int](id.KindPipe, 1)

	old, _, ok := a.Alloc(1)
	require.True(t, ok)
	require.True(t, a.Free(old))

	fresh, _, ok := a.Alloc(2)
	require.True(t, ok)
	assert.Equal(t, old.Slot(), fresh.Slot(), "slot is reused")
	assert.NotEqual(t, old, fresh)

	_, ok = a.Get(old)
	assert.False(t, ok, "stale handle must not resolve to the new occupant")

	v, ok := a.Get(fresh)
	require.True(t, ok)
	assert.Equal(t, 2, *v)
}

func TestCapacity(t *testing.T) {
	a := New[int](id.KindRoute, 3)

	for i := 0; i < 3; i++ {
		_, _, ok := a.Alloc(i)
		require.True(t, ok)
	}
	assert.True(t, a.Full())

	_, _, ok := a.Alloc(99)
	assert.False(t, ok)
	assert.Equal(t, 3, a.Cap())
}

func TestWrongKindRejected(t *testing.T) {
	a := New[int](id.KindPipe, 1)
	rid, _, _ := a.Alloc(1)

	foreign := id.Mint(id.KindRoute, rid.Generation(), rid.Slot())
	_, ok := a.Get(foreign)
	assert.False(t, ok)
}

func TestEachSlotOrder(t *testing.T) {
	a := New[int](id.KindPipe, 4)
	var ids []id.ResourceID
	for i := 0; i < 4; i++ {
		rid, _, _ := a.Alloc(i * 10)
		ids = append(ids, rid)
	}
	a.Free(ids[1])

	var seen []int
	a.Each(func(_ id.ResourceID, v *int) bool {
		seen = append(seen, *v)
		return true
	})
	assert.Equal(t, []int{0, 20, 30}, seen)

	count := 0
	a.Each(func(_ id.ResourceID, _ *int) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}
