package bus

import (
	"sync/atomic"

	"github.com/flightcore/softbus/internal/domain/pipe"
	"github.com/flightcore/softbus/internal/infrastructure/monitoring"
	"github.com/flightcore/softbus/internal/shared/id"
)

type counters struct {
	noSubscribers          atomic.Uint32
	duplicateSubscriptions atomic.Uint32
	msgSendError           atomic.Uint32
	msgReceiveError        atomic.Uint32
	internalError          atomic.Uint32
	createPipeError        atomic.Uint32
	subscribeError         atomic.Uint32
	pipeOverflowError      atomic.Uint32
	msgLimitError          atomic.Uint32
	pipeOptsError          atomic.Uint32
}

// Counters are the housekeeping error counters. They are read without the
// routing lock, so a snapshot may mix values from concurrent updates.
type Counters struct {
	NoSubscribers          uint32 `json:"no_subscribers"`
	DuplicateSubscriptions uint32 `json:"duplicate_subscriptions"`
	MsgSendError           uint32 `json:"msg_send_errors"`
	MsgReceiveError        uint32 `json:"msg_receive_errors"`
	InternalError          uint32 `json:"internal_errors"`
	CreatePipeError        uint32 `json:"create_pipe_errors"`
	SubscribeError         uint32 `json:"subscribe_errors"`
	PipeOverflowError      uint32 `json:"pipe_overflow_errors"`
	MsgLimitError          uint32 `json:"msg_limit_errors"`
	PipeOptsError          uint32 `json:"pipe_opts_errors"`
}

func (c *counters) snapshot() Counters {
	return Counters{
		NoSubscribers:          c.noSubscribers.Load(),
		DuplicateSubscriptions: c.duplicateSubscriptions.Load(),
		MsgSendError:           c.msgSendError.Load(),
		MsgReceiveError:        c.msgReceiveError.Load(),
		InternalError:          c.internalError.Load(),
		CreatePipeError:        c.createPipeError.Load(),
		SubscribeError:         c.subscribeError.Load(),
		PipeOverflowError:      c.pipeOverflowError.Load(),
		MsgLimitError:          c.msgLimitError.Load(),
		PipeOptsError:          c.pipeOptsError.Load(),
	}
}

func (c *counters) reset() {
	c.noSubscribers.Store(0)
	c.duplicateSubscriptions.Store(0)
	c.msgSendError.Store(0)
	c.msgReceiveError.Store(0)
	c.internalError.Store(0)
	c.createPipeError.Store(0)
	c.subscribeError.Store(0)
	c.pipeOverflowError.Store(0)
	c.msgLimitError.Store(0)
	c.pipeOptsError.Store(0)
}

// Stats is the resource picture of the bus: current and peak usage against
// the configured maxima.
type Stats struct {
	MsgIDsInUse     int `json:"msg_ids_in_use"`
	PeakMsgIDsInUse int `json:"peak_msg_ids_in_use"`
	MaxMsgIDs       int `json:"max_msg_ids"`

	PipesInUse     int `json:"pipes_in_use"`
	PeakPipesInUse int `json:"peak_pipes_in_use"`
	MaxPipes       int `json:"max_pipes"`

	SubscriptionsInUse     int `json:"subscriptions_in_use"`
	PeakSubscriptionsInUse int `json:"peak_subscriptions_in_use"`
	MaxSubscriptions       int `json:"max_subscriptions"`

	BuffersInUse     int `json:"buffers_in_use"`
	PeakBuffersInUse int `json:"peak_buffers_in_use"`

	MemInUse     int `json:"mem_in_use"`
	PeakMemInUse int `json:"peak_mem_in_use"`
	MaxMem       int `json:"max_mem"`

	ZeroCopyInUse int `json:"zero_copy_in_use"`
}

// Stats returns a snapshot of resource usage.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	s := Stats{
		MsgIDsInUse:            b.routes.RouteCount(),
		PeakMsgIDsInUse:        b.peakMsgIDs,
		MaxMsgIDs:              b.routes.MaxRoutes(),
		PipesInUse:             b.pipes.Len(),
		PeakPipesInUse:         b.peakPipes,
		MaxPipes:               b.pipes.Cap(),
		SubscriptionsInUse:     b.routes.DestCount(),
		PeakSubscriptionsInUse: b.peakDests,
		MaxSubscriptions:       b.routes.MaxSubscriptions(),
		ZeroCopyInUse:          len(b.zeroCopy),
	}
	b.mu.Unlock()

	ps := b.pool.Stats()
	s.BuffersInUse = ps.BuffersInUse
	s.PeakBuffersInUse = ps.PeakBuffersInUse
	s.MemInUse = ps.MemInUse
	s.PeakMemInUse = ps.PeakMemInUse
	s.MaxMem = ps.MaxMem
	return s
}

// Counters returns the housekeeping counters.
func (b *Bus) Counters() Counters { return b.counters.snapshot() }

// ResetCounters zeroes the housekeeping counters and re-arms the event
// filters.
func (b *Bus) ResetCounters() {
	b.counters.reset()
	b.events.reset()
	b.log.Debug("Counters reset")
}

// ResetPeaks sets every peak statistic, including per-pipe peaks and send
// error counts, to its current value.
func (b *Bus) ResetPeaks() {
	b.mu.Lock()
	b.peakMsgIDs = b.routes.RouteCount()
	b.peakDests = b.routes.DestCount()
	b.peakPipes = b.pipes.Len()
	b.pipes.Each(func(_ id.ResourceID, pp **pipe.Pipe) bool {
		(*pp).ResetStats()
		return true
	})
	b.mu.Unlock()
	b.pool.ResetPeaks()
}

func (b *Bus) usage() monitoring.Usage {
	s := b.Stats()
	return monitoring.Usage{
		MsgIDs:            s.MsgIDsInUse,
		PeakMsgIDs:        s.PeakMsgIDsInUse,
		Pipes:             s.PipesInUse,
		PeakPipes:         s.PeakPipesInUse,
		Subscriptions:     s.SubscriptionsInUse,
		PeakSubscriptions: s.PeakSubscriptionsInUse,
		Buffers:           s.BuffersInUse,
		PeakBuffers:       s.PeakBuffersInUse,
		MemBytes:          s.MemInUse,
		PeakMemBytes:      s.PeakMemInUse,
	}
}
