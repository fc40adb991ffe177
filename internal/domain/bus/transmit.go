package bus

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/flightcore/softbus/internal/domain/buffer"
	"github.com/flightcore/softbus/internal/domain/msg"
	"github.com/flightcore/softbus/internal/domain/pipe"
	"github.com/flightcore/softbus/internal/domain/routing"
	"github.com/flightcore/softbus/internal/shared/id"
)

// DropReason says why a destination did not get a message.
type DropReason uint8

const (
	DropMsgLimit DropReason = iota + 1
	DropPipeOverflow
)

func (r DropReason) String() string {
	switch r {
	case DropMsgLimit:
		return "msg_limit"
	case DropPipeOverflow:
		return "pipe_overflow"
	default:
		return "unknown"
	}
}

// Drop is one destination that missed a message.
type Drop struct {
	Pipe     id.ResourceID
	PipeName string
	Reason   DropReason
}

// TransmitResult is the outcome of a successful transmit. Per-destination
// drops are reported here and in the counters; they never fail the call.
type TransmitResult struct {
	MsgID         msg.MsgID
	Delivered     int
	MsgLimitDrops int
	OverflowDrops int
	NoSubscribers bool
	Drops         []Drop
}

// TransmitMsg copies data into one pool buffer and fans it out to every
// subscriber of its MsgID. The sequence count of telemetry messages is
// advanced when incSeq is set.
func (b *Bus) TransmitMsg(sender id.TaskID, data []byte, incSeq bool) (TransmitResult, error) {
	res := TransmitResult{MsgID: msg.InvalidMsgID}

	m, size, err := b.validate(data, len(data))
	if err != nil {
		return res, b.transmitFailed(sender, m, err)
	}
	res.MsgID = m

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return res, b.transmitFailed(sender, m, ErrClosed)
	}
	if _, ok := b.routes.Lookup(m); !ok {
		b.mu.Unlock()
		b.noSubscribers(sender, &res)
		return res, nil
	}
	buf, err := b.pool.Get(size)
	b.mu.Unlock()
	if err != nil {
		return res, b.transmitFailed(sender, m, fmt.Errorf("%w: %w", ErrBufferAlloc, err))
	}

	copy(buf.Bytes(), data[:size])
	buf.SetMsgID(m)
	err = b.publish(sender, buf, incSeq, false, &res)
	return res, err
}

// TransmitBuffer publishes a buffer obtained from ZeroCopyGetPtr. On success
// the bus owns the buffer and the caller must not touch it again. On a
// validation failure the buffer stays with the caller.
func (b *Bus) TransmitBuffer(sender id.TaskID, buf *buffer.Buffer, incSeq bool) (TransmitResult, error) {
	res := TransmitResult{MsgID: msg.InvalidMsgID}
	if buf == nil {
		return res, b.transmitFailed(sender, msg.InvalidMsgID, fmt.Errorf("%w: nil buffer", ErrBadArgument))
	}

	b.mu.Lock()
	_, tracked := b.zeroCopy[buf]
	b.mu.Unlock()
	if !tracked {
		return res, b.transmitFailed(sender, msg.InvalidMsgID, fmt.Errorf("%w: not a zero-copy buffer", ErrBufferInvalid))
	}

	m, size, err := b.validate(buf.Bytes(), buf.Size())
	if err != nil {
		return res, b.transmitFailed(sender, m, err)
	}
	res.MsgID = m
	if err := buf.SetSize(size); err != nil {
		return res, b.transmitFailed(sender, m, fmt.Errorf("%w: %w", ErrBadArgument, err))
	}
	buf.SetMsgID(m)
	err = b.publish(sender, buf, incSeq, true, &res)
	return res, err
}

// publish broadcasts buf and accounts for the outcome. The route is looked up
// again under the lock, so it may have lost its last subscriber since any
// earlier check.
func (b *Bus) publish(sender id.TaskID, buf *buffer.Buffer, incSeq, zeroCopy bool, res *TransmitResult) error {
	if err := b.broadcast(sender, buf, incSeq, zeroCopy, res); err != nil {
		return b.transmitFailed(sender, res.MsgID, err)
	}
	if res.NoSubscribers {
		b.noSubscribers(sender, res)
		return nil
	}
	b.transmitDone(sender, res)
	return nil
}

// validate checks the header of data, of which avail bytes are usable.
func (b *Bus) validate(data []byte, avail int) (msg.MsgID, int, error) {
	if len(data) < b.codec.HeaderSize() {
		return msg.InvalidMsgID, 0, fmt.Errorf("%w: %d bytes is shorter than a header", ErrBadArgument, len(data))
	}
	m, err := b.codec.MsgID(data)
	if err != nil {
		return msg.InvalidMsgID, 0, fmt.Errorf("%w: %w", ErrBadArgument, err)
	}
	if !b.rng.Contains(m) {
		return m, 0, fmt.Errorf("%w: msg id %s out of range", ErrBadArgument, m)
	}
	size, err := b.codec.Size(data)
	if err != nil {
		return m, 0, fmt.Errorf("%w: %w", ErrBadArgument, err)
	}
	if size > b.cfg.MaxMsgSize {
		return m, size, fmt.Errorf("%w: %d > %d bytes", ErrMsgTooBig, size, b.cfg.MaxMsgSize)
	}
	if size < b.codec.HeaderSize() || size > avail {
		return m, size, fmt.Errorf("%w: header size %d, %d bytes available", ErrBadArgument, size, avail)
	}
	return m, size, nil
}

// broadcast delivers buf to the route of its MsgID and drops the publisher's
// reference. zeroCopy buffers must still be registered; they are unregistered
// here.
func (b *Bus) broadcast(sender id.TaskID, buf *buffer.Buffer, incSeq, zeroCopy bool, res *TransmitResult) error {
	m := buf.MsgID()

	b.mu.Lock()
	if zeroCopy {
		if _, ok := b.zeroCopy[buf]; !ok {
			b.mu.Unlock()
			return fmt.Errorf("%w: buffer already released or sent", ErrBufferInvalid)
		}
		delete(b.zeroCopy, buf)
	}

	r, ok := b.routes.Lookup(m)
	if !ok {
		res.NoSubscribers = true
	} else {
		if incSeq {
			b.stampSequence(r, buf)
		}
		b.routes.EachDest(r, func(d *routing.Destination) bool {
			return b.deliverLocked(sender, buf, d, res)
		})
	}

	// The publisher's reference. Enqueued copies keep the buffer alive.
	releaseErr := buf.Release()
	b.mu.Unlock()

	if releaseErr != nil {
		b.counters.internalError.Add(1)
		return fmt.Errorf("%w: %w", ErrInternal, releaseErr)
	}
	return nil
}

func (b *Bus) stampSequence(r *routing.Route, buf *buffer.Buffer) {
	typ, err := b.codec.Type(buf.Bytes())
	if err != nil || typ != msg.TypeTlm {
		return
	}
	seq := b.routes.NextSequence(r)
	if err := b.codec.SetSequenceCount(buf.Bytes(), seq); err != nil {
		b.counters.internalError.Add(1)
	}
}

// deliverLocked hands one reference of buf to d. It returns false to stop the
// fan-out after an unrecoverable buffer error.
func (b *Bus) deliverLocked(sender id.TaskID, buf *buffer.Buffer, d *routing.Destination, res *TransmitResult) bool {
	if !d.Active {
		return true
	}
	pp, ok := b.pipes.Get(d.Pipe)
	if !ok {
		return true
	}
	p := *pp
	if p.Opts.Has(pipe.OptIgnoreMine) && p.Owner == sender {
		return true
	}

	if d.BuffCount >= d.MsgLimit {
		p.SendErrors++
		res.MsgLimitDrops++
		res.Drops = append(res.Drops, Drop{Pipe: p.ID, PipeName: p.Name, Reason: DropMsgLimit})
		return true
	}

	if err := buf.Retain(); err != nil {
		b.counters.internalError.Add(1)
		return false
	}
	if err := p.Enqueue(buf); err != nil {
		// Cannot reach zero: the publisher still holds its reference.
		_ = buf.Release()
		p.SendErrors++
		if errors.Is(err, pipe.ErrQueueFull) {
			res.OverflowDrops++
			res.Drops = append(res.Drops, Drop{Pipe: p.ID, PipeName: p.Name, Reason: DropPipeOverflow})
		} else {
			b.counters.internalError.Add(1)
		}
		return true
	}

	d.BuffCount++
	d.DeliveryCount++
	res.Delivered++
	return true
}

func (b *Bus) noSubscribers(sender id.TaskID, res *TransmitResult) {
	res.NoSubscribers = true
	b.counters.noSubscribers.Add(1)
	if b.metrics != nil {
		b.metrics.RecordTransmit(StatusNoSubscribers.String(), 0, 0, 0)
	}
	b.events.emit(EventNoSubscribers, zap.InfoLevel, "No subscribers for message",
		zap.Stringer("msg_id", res.MsgID),
		zap.String("task", sender.String()),
	)
}

func (b *Bus) transmitDone(sender id.TaskID, res *TransmitResult) {
	if res.MsgLimitDrops > 0 {
		b.counters.msgLimitError.Add(uint32(res.MsgLimitDrops))
	}
	if res.OverflowDrops > 0 {
		b.counters.pipeOverflowError.Add(uint32(res.OverflowDrops))
	}
	if b.metrics != nil {
		b.metrics.RecordTransmit(StatusSuccess.String(), res.Delivered, res.MsgLimitDrops, res.OverflowDrops)
	}

	for _, d := range res.Drops {
		ev, text := EventPipeOverflow, "Pipe overflow, message dropped"
		if d.Reason == DropMsgLimit {
			ev, text = EventMsgLimit, "Msg limit reached, message dropped"
		}
		b.events.emit(ev, zap.WarnLevel, text,
			zap.Stringer("msg_id", res.MsgID),
			zap.String("pipe_name", d.PipeName),
			zap.String("task", sender.String()),
		)
	}
}

func (b *Bus) transmitFailed(sender id.TaskID, m msg.MsgID, err error) error {
	b.counters.msgSendError.Add(1)
	if b.metrics != nil {
		b.metrics.RecordTransmit(StatusOf(err).String(), 0, 0, 0)
	}
	b.events.emit(EventTransmitErr, zap.ErrorLevel, "Transmit failed",
		zap.Stringer("msg_id", m),
		zap.String("task", sender.String()),
		zap.Error(err),
	)
	return err
}
