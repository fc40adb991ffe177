package buffer

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, limit int) (*Pool, *BlockAllocator) {
	t.Helper()
	alloc, err := NewBlockAllocator(nil, limit)
	require.NoError(t, err)
	return NewPool(alloc, limit), alloc
}

func TestAllocatorPicksSmallestClass(t *testing.T) {
	alloc, err := NewBlockAllocator([]int{16, 64, 8, 64}, 1024)
	require.NoError(t, err)

	b, err := alloc.Acquire(10)
	require.NoError(t, err)
	assert.Len(t, b, 16)
	assert.Equal(t, 16, alloc.InUse())

	c, err := alloc.Acquire(64)
	require.NoError(t, err)
	assert.Len(t, c, 64)

	require.NoError(t, alloc.Release(b))
	require.NoError(t, alloc.Release(c))
	assert.Zero(t, alloc.InUse())
	assert.Equal(t, 64, alloc.MaxBlock())
}

func TestAllocatorLimits(t *testing.T) {
	alloc, err := NewBlockAllocator([]int{32}, 64)
	require.NoError(t, err)

	_, err = alloc.Acquire(33)
	assert.ErrorIs(t, err, ErrBlockTooLarge)

	_, err = alloc.Acquire(32)
	require.NoError(t, err)
	_, err = alloc.Acquire(32)
	require.NoError(t, err)

	_, err = alloc.Acquire(1)
	assert.ErrorIs(t, err, ErrPoolExhausted)

	assert.ErrorIs(t, alloc.Release(make([]byte, 7)), ErrForeignBlock)
}

func TestAllocatorRejectsBadConfig(t *testing.T) {
	_, err := NewBlockAllocator([]int{0, 8}, 100)
	assert.Error(t, err)
	_, err = NewBlockAllocator(nil, 0)
	assert.Error(t, err)
}

func TestRecycledBlocksAreZeroed(t *testing.T) {
	alloc, err := NewBlockAllocator([]int{8}, 64)
	require.NoError(t, err)

	b, _ := alloc.Acquire(8)
	for i := range b {
		b[i] = 0xAA
	}
	require.NoError(t, alloc.Release(b))

	again, _ := alloc.Acquire(8)
	assert.Equal(t, make([]byte, 8), again)
}

func TestBufferRefCountReturnsBlock(t *testing.T) {
	pool, alloc := newTestPool(t, 4096)

	b, err := pool.Get(100)
	require.NoError(t, err)
	assert.Equal(t, int32(1), b.RefCount())
	assert.Equal(t, 100, b.Size())
	assert.Equal(t, 128, b.AllocSize())

	require.NoError(t, b.Retain())
	require.NoError(t, b.Retain())
	assert.Equal(t, int32(3), b.RefCount())

	before := pool.Stats()
	assert.Equal(t, 1, before.BuffersInUse)
	assert.Equal(t, 128, before.MemInUse)

	require.NoError(t, b.Release())
	require.NoError(t, b.Release())
	assert.Equal(t, 128, pool.Stats().MemInUse, "still referenced")

	size := b.AllocSize()
	require.NoError(t, b.Release())
	after := pool.Stats()
	assert.Equal(t, before.MemInUse-size, after.MemInUse)
	assert.Zero(t, after.MemInUse)
	assert.Zero(t, after.BuffersInUse)
	assert.Equal(t, 1, after.PeakBuffersInUse)
	assert.Zero(t, alloc.InUse())
}

func TestBufferOverRelease(t *testing.T) {
	pool, _ := newTestPool(t, 4096)
	b, err := pool.Get(8)
	require.NoError(t, err)

	require.NoError(t, b.Release())
	assert.ErrorIs(t, b.Release(), ErrRefCount)
	assert.ErrorIs(t, b.Retain(), ErrRefCount)
	assert.Empty(t, b.Bytes())
}

func TestBufferSetSize(t *testing.T) {
	pool, _ := newTestPool(t, 4096)
	b, err := pool.Get(10)
	require.NoError(t, err)

	require.NoError(t, b.SetSize(16))
	assert.Len(t, b.Bytes(), 16)
	assert.Error(t, b.SetSize(17))
	assert.Error(t, b.SetSize(-1))
}

func TestPoolConcurrentRetainRelease(t *testing.T) {
	pool, _ := newTestPool(t, 1<<16)
	b, err := pool.Get(64)
	require.NoError(t, err)

	const holders = 64
	for i := 0; i < holders; i++ {
		require.NoError(t, b.Retain())
	}

	var wg sync.WaitGroup
	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Release())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), b.RefCount())
	require.NoError(t, b.Release())
	assert.Zero(t, pool.Stats().MemInUse)
}

type mockAllocator struct {
	mock.Mock
}

func (m *mockAllocator) Acquire(size int) ([]byte, error) {
	args := m.Called(size)
	block, _ := args.Get(0).([]byte)
	return block, args.Error(1)
}

func (m *mockAllocator) Release(block []byte) error {
	return m.Called(block).Error(0)
}

func TestPoolPropagatesAllocatorErrors(t *testing.T) {
	alloc := new(mockAllocator)
	alloc.On("Acquire", 40).Return(nil, ErrPoolExhausted)

	pool := NewPool(alloc, 100)
	_, err := pool.Get(40)
	assert.True(t, errors.Is(err, ErrPoolExhausted))
	assert.Zero(t, pool.Stats().BuffersInUse)
	alloc.AssertExpectations(t)

	_, err = pool.Get(0)
	assert.Error(t, err)
}

func TestPoolResetPeaks(t *testing.T) {
	pool, _ := newTestPool(t, 4096)
	a, _ := pool.Get(8)
	b, _ := pool.Get(8)
	require.NoError(t, a.Release())

	pool.ResetPeaks()
	s := pool.Stats()
	assert.Equal(t, 1, s.PeakBuffersInUse)
	assert.Equal(t, 4096, s.MaxMem)
	require.NoError(t, b.Release())
}
