package pipe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightcore/softbus/internal/domain/buffer"
	"github.com/flightcore/softbus/internal/shared/id"
)

func newBuffer(t *testing.T, pool *buffer.Pool, tag byte) *buffer.Buffer {
	t.Helper()
	b, err := pool.Get(8)
	require.NoError(t, err)
	b.Bytes()[0] = tag
	return b
}

func testPool(t *testing.T) *buffer.Pool {
	t.Helper()
	alloc, err := buffer.NewBlockAllocator(nil, 1<<16)
	require.NoError(t, err)
	return buffer.NewPool(alloc, 1<<16)
}

func TestQueueFIFOAndFull(t *testing.T) {
	pool := testPool(t)
	q := NewQueue(2)

	require.NoError(t, q.TryPut(newBuffer(t, pool, 1)))
	require.NoError(t, q.TryPut(newBuffer(t, pool, 2)))
	assert.ErrorIs(t, q.TryPut(newBuffer(t, pool, 3)), ErrQueueFull)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Depth())

	ctx := context.Background()
	b, err := q.Get(ctx, Poll)
	require.NoError(t, err)
	assert.Equal(t, byte(1), b.Bytes()[0])

	b, err = q.Get(ctx, Poll)
	require.NoError(t, err)
	assert.Equal(t, byte(2), b.Bytes()[0])

	_, err = q.Get(ctx, Poll)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestQueueTimeout(t *testing.T) {
	q := NewQueue(1)

	start := time.Now()
	_, err := q.Get(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueueCloseWakesWaiter(t *testing.T) {
	q := NewQueue(1)

	errc := make(chan error, 1)
	go func() {
		_, err := q.Get(context.Background(), Forever)
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Close")
	}

	assert.True(t, q.Closed())
	assert.ErrorIs(t, q.TryPut(nil), ErrQueueClosed)
	q.Close()
}

func TestQueueContextCancel(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Get(ctx, Forever)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueueDrain(t *testing.T) {
	pool := testPool(t)
	q := NewQueue(3)
	for i := byte(0); i < 3; i++ {
		require.NoError(t, q.TryPut(newBuffer(t, pool, i)))
	}
	q.Close()

	drained := q.Drain()
	assert.Len(t, drained, 3)
	assert.Zero(t, q.Len())
}

func TestPipeOccupancy(t *testing.T) {
	pool := testPool(t)
	p := New("TEST_PIPE", id.NamedTaskID("test"), 2)

	require.NoError(t, p.Enqueue(newBuffer(t, pool, 1)))
	require.NoError(t, p.Enqueue(newBuffer(t, pool, 2)))
	assert.ErrorIs(t, p.Enqueue(newBuffer(t, pool, 3)), ErrQueueFull)
	assert.Equal(t, 2, p.CurrentDepth)
	assert.Equal(t, 2, p.PeakDepth)

	p.Dequeued()
	p.SendErrors = 5
	p.ResetStats()

	info := p.Info()
	assert.Equal(t, 1, info.CurrentDepth)
	assert.Equal(t, 1, info.PeakDepth)
	assert.Zero(t, info.SendErrors)
	assert.Equal(t, 2, info.Depth)
	assert.Equal(t, "TEST_PIPE", info.Name)
}

func TestOpts(t *testing.T) {
	assert.True(t, OptIgnoreMine.Valid())
	assert.False(t, Opts(0x80).Valid())
	assert.True(t, OptIgnoreMine.Has(OptIgnoreMine))
	assert.False(t, Opts(0).Has(OptIgnoreMine))
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"ok", "SB_CMD_PIPE", false},
		{"empty", "", true},
		{"too long", "ABCDEFGHIJKLMNOPQRSTUVWXYZ", true},
		{"space", "MY PIPE", true},
		{"control", "P\x01", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input, 20)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
