package bus

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/flightcore/softbus/internal/domain/buffer"
	"github.com/flightcore/softbus/internal/shared/id"
)

// ZeroCopyHandle pairs a zero-copy buffer with the call that allocated it.
type ZeroCopyHandle uint64

type zeroCopyEntry struct {
	handle ZeroCopyHandle
	owner  id.TaskID
}

// ZeroCopyGetPtr allocates a buffer of size bytes that the caller fills in
// place and then publishes with TransmitBuffer or returns with
// ZeroCopyReleasePtr. Buffers still outstanding when the owner is cleaned up
// are released.
func (b *Bus) ZeroCopyGetPtr(owner id.TaskID, size int) (*buffer.Buffer, ZeroCopyHandle, error) {
	buf, h, err := b.zeroCopyGet(owner, size)
	if err != nil {
		b.events.emit(EventInternal, zap.ErrorLevel, "Zero-copy allocation failed",
			zap.String("task", owner.String()),
			zap.Int("size", size),
			zap.Error(err),
		)
		return nil, 0, err
	}
	return buf, h, nil
}

func (b *Bus) zeroCopyGet(owner id.TaskID, size int) (*buffer.Buffer, ZeroCopyHandle, error) {
	if size <= 0 {
		return nil, 0, fmt.Errorf("%w: size %d", ErrBadArgument, size)
	}
	if size > b.cfg.MaxMsgSize {
		return nil, 0, fmt.Errorf("%w: %d > %d bytes", ErrMsgTooBig, size, b.cfg.MaxMsgSize)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, 0, ErrClosed
	}
	buf, err := b.pool.Get(size)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrBufferAlloc, err)
	}
	b.nextHandle++
	b.zeroCopy[buf] = zeroCopyEntry{handle: b.nextHandle, owner: owner}
	return buf, b.nextHandle, nil
}

// ZeroCopyReleasePtr returns an unsent zero-copy buffer to the pool.
func (b *Bus) ZeroCopyReleasePtr(buf *buffer.Buffer, h ZeroCopyHandle) error {
	if buf == nil {
		return fmt.Errorf("%w: nil buffer", ErrBadArgument)
	}

	b.mu.Lock()
	e, ok := b.zeroCopy[buf]
	if !ok || e.handle != h {
		b.mu.Unlock()
		return fmt.Errorf("%w: buffer not outstanding under handle %d", ErrBufferInvalid, h)
	}
	delete(b.zeroCopy, buf)
	b.mu.Unlock()

	b.release(buf)
	return nil
}

// takeZeroCopyLocked unregisters and returns every outstanding buffer whose
// entry matches pred.
func (b *Bus) takeZeroCopyLocked(pred func(zeroCopyEntry) bool) []*buffer.Buffer {
	var out []*buffer.Buffer
	for buf, e := range b.zeroCopy {
		if pred(e) {
			out = append(out, buf)
			delete(b.zeroCopy, buf)
		}
	}
	return out
}
