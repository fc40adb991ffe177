package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flightcore/softbus/internal/domain/buffer"
	"github.com/flightcore/softbus/internal/domain/pipe"
	"github.com/flightcore/softbus/internal/shared/id"
)

const (
	// Poll returns immediately when the pipe is empty.
	Poll = pipe.Poll
	// PendForever blocks until a message arrives or the pipe is deleted.
	PendForever = pipe.Forever
)

// ReceiveBuffer takes the oldest message from pid. The returned buffer stays
// valid until the next ReceiveBuffer on the same pipe or until the pipe is
// deleted; the caller must not release it.
//
// timeout is Poll, PendForever or a positive duration. ctx cancellation
// behaves like a pipe read error.
func (b *Bus) ReceiveBuffer(ctx context.Context, pid id.ResourceID, timeout time.Duration) (*buffer.Buffer, error) {
	buf, err := b.receive(ctx, pid, timeout)
	if b.metrics != nil {
		b.metrics.RecordReceive(StatusOf(err).String())
	}
	if err != nil && !errors.Is(err, ErrNoMessage) && !errors.Is(err, ErrTimeOut) {
		b.counters.msgReceiveError.Add(1)
		b.events.emit(EventReceiveErr, zap.ErrorLevel, "Receive failed",
			zap.Stringer("pipe", pid),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
	}
	return buf, err
}

func (b *Bus) receive(ctx context.Context, pid id.ResourceID, timeout time.Duration) (*buffer.Buffer, error) {
	if timeout < 0 && timeout != PendForever {
		return nil, fmt.Errorf("%w: timeout %s", ErrBadArgument, timeout)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.Lock()
	pp, ok := b.pipes.Get(pid)
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: unknown pipe %s", ErrBadArgument, pid)
	}
	p := *pp
	q := p.Queue
	last := p.LastBuffer
	p.LastBuffer = nil
	b.mu.Unlock()

	if last != nil {
		b.release(last)
	}

	buf, err := q.Get(ctx, timeout)
	switch {
	case err == nil:
	case errors.Is(err, pipe.ErrQueueEmpty):
		return nil, ErrNoMessage
	case errors.Is(err, pipe.ErrQueueTimeout):
		return nil, ErrTimeOut
	case errors.Is(err, pipe.ErrQueueClosed):
		return nil, fmt.Errorf("%w: pipe %s deleted", ErrPipeRead, pid)
	default:
		return nil, fmt.Errorf("%w: %w", ErrPipeRead, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// The pipe may have been deleted, and its slot reused, while we waited.
	pp, ok = b.pipes.Get(pid)
	if !ok || (*pp).Queue != q {
		b.releaseLocked(buf)
		return nil, fmt.Errorf("%w: pipe %s deleted", ErrPipeRead, pid)
	}
	p = *pp
	p.Dequeued()
	if r, ok := b.routes.Lookup(buf.MsgID()); ok {
		if d, ok := b.routes.Find(r.MsgID, pid); ok && d.BuffCount > 0 {
			d.BuffCount--
		}
	}
	p.LastBuffer = buf
	return buf, nil
}

// releaseLocked is release for callers holding b.mu. The pool lock is a leaf,
// so dropping a reference under b.mu is allowed.
func (b *Bus) releaseLocked(buf *buffer.Buffer) {
	if err := buf.Release(); err != nil {
		b.counters.internalError.Add(1)
	}
}
