package buffer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/flightcore/softbus/internal/domain/msg"
)

// ErrRefCount reports a Retain on a freed buffer or a Release past zero.
var ErrRefCount = errors.New("buffer reference count violation")

// Buffer is a pool-backed message with a hidden reference count. A new
// buffer holds one reference. Retain adds one, Release drops one, and the
// block goes back to the pool when the last reference is dropped.
//
// The content must not be modified once the buffer has been shared.
type Buffer struct {
	pool  *Pool
	block []byte
	size  int
	refs  atomic.Int32
	msgID msg.MsgID
}

// Bytes returns the message content: the first Size bytes of the block.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.block[:b.size]
}

// Size is the message length in bytes.
func (b *Buffer) Size() int { return b.size }

// AllocSize is the block length charged against the pool.
func (b *Buffer) AllocSize() int { return len(b.block) }

// SetSize changes the content length within the allocated block.
func (b *Buffer) SetSize(n int) error {
	if n < 0 || n > len(b.block) {
		return fmt.Errorf("size %d outside block of %d bytes", n, len(b.block))
	}
	b.size = n
	return nil
}

// MsgID is the routing key recorded when the buffer was published.
func (b *Buffer) MsgID() msg.MsgID { return b.msgID }

// SetMsgID records the routing key. Only the publisher calls this.
func (b *Buffer) SetMsgID(id msg.MsgID) { b.msgID = id }

// RefCount returns the live reference count.
func (b *Buffer) RefCount() int32 { return b.refs.Load() }

// Retain adds a reference. It fails on a buffer that was already freed.
func (b *Buffer) Retain() error {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return fmt.Errorf("%w: retain with %d references", ErrRefCount, n)
		}
		if b.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference and returns the block to the pool at zero.
func (b *Buffer) Release() error {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return fmt.Errorf("%w: release with %d references", ErrRefCount, n)
		}
		if !b.refs.CompareAndSwap(n, n-1) {
			continue
		}
		if n == 1 {
			return b.pool.put(b)
		}
		return nil
	}
}
