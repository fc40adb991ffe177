// Package bus implements the software bus: pipes, subscriptions, and the
// transmit and receive pipelines over reference-counted buffers.
//
// A Bus is an explicit context object. Create one with New, hand it (or
// per-task Clients from it) to the tasks that need it, and Close it at
// shutdown. Nothing in this package is global.
//
// Locking: Bus.mu guards the routing table, the pipe table and the zero-copy
// registry. The buffer pool has its own leaf lock; Bus.mu may be held while
// buffers are retained or released, never the other way round. Pipe queues
// are the only place a caller blocks, and no lock is held while blocking.
package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flightcore/softbus/internal/domain/buffer"
	"github.com/flightcore/softbus/internal/domain/msg"
	"github.com/flightcore/softbus/internal/domain/pipe"
	"github.com/flightcore/softbus/internal/domain/routing"
	"github.com/flightcore/softbus/internal/infrastructure/logging"
	"github.com/flightcore/softbus/internal/infrastructure/monitoring"
	"github.com/flightcore/softbus/internal/shared/arena"
	"github.com/flightcore/softbus/internal/shared/id"
)

// SelfTask is the task id the bus uses for messages it publishes itself.
var SelfTask = id.NamedTaskID("sb")

// Bus is the software bus context.
type Bus struct {
	cfg      Config
	rng      msg.Range
	codec    msg.Codec
	log      *logging.Logger
	events   *eventLog
	metrics  *monitoring.Metrics
	reporter Reporter
	instance uuid.UUID

	pool *buffer.Pool

	mu         sync.Mutex
	routes     *routing.Table
	pipes      *arena.Arena[*pipe.Pipe]
	names      map[string]id.ResourceID
	zeroCopy   map[*buffer.Buffer]zeroCopyEntry
	nextHandle ZeroCopyHandle
	peakMsgIDs int
	peakPipes  int
	peakDests  int
	closed     bool

	reporting atomic.Bool
	counters  counters
}

// Option customises a Bus at construction.
type Option func(*options)

type options struct {
	codec    msg.Codec
	alloc    buffer.Allocator
	reporter Reporter
	metrics  *monitoring.Metrics
}

// WithCodec replaces the default primary-header codec.
func WithCodec(c msg.Codec) Option { return func(o *options) { o.codec = c } }

// WithAllocator replaces the block allocator built from Config.
func WithAllocator(a buffer.Allocator) Option { return func(o *options) { o.alloc = a } }

// WithReporter replaces the built-in subscription reporter.
func WithReporter(r Reporter) Option { return func(o *options) { o.reporter = r } }

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *monitoring.Metrics) Option { return func(o *options) { o.metrics = m } }

// New builds a bus sized by cfg.
func New(cfg Config, logger *logging.Logger, opts ...Option) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bus config: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	o := options{codec: msg.Primary{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.alloc == nil {
		alloc, err := buffer.NewBlockAllocator(cfg.blockSizes(), cfg.BufMemoryBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to create block allocator: %w", err)
		}
		o.alloc = alloc
	}

	log := logger.Named("bus")
	b := &Bus{
		cfg:      cfg,
		rng:      msg.Range{Highest: cfg.HighestValidMsgID},
		codec:    o.codec,
		log:      log,
		events:   newEventLog(log),
		metrics:  o.metrics,
		instance: uuid.New(),
		pool:     buffer.NewPool(o.alloc, cfg.BufMemoryBytes),
		routes:   routing.NewTable(cfg.MaxMsgIDs, cfg.MaxDestPerMsg),
		pipes:    arena.New[*pipe.Pipe](id.KindPipe, cfg.MaxPipes),
		names:    make(map[string]id.ResourceID, cfg.MaxPipes),
		zeroCopy: make(map[*buffer.Buffer]zeroCopyEntry),
	}

	b.reporter = o.reporter
	if b.reporter == nil && b.rng.Contains(cfg.SubReportMsgID) {
		b.reporter = &busReporter{bus: b, msgID: cfg.SubReportMsgID}
	}
	if b.metrics != nil {
		b.metrics.TrackUsage(b.usage)
	}

	b.events.emit(EventInit, zap.InfoLevel, "Software bus initialized",
		zap.String("instance", b.instance.String()),
		zap.Int("max_msg_ids", cfg.MaxMsgIDs),
		zap.Int("max_pipes", cfg.MaxPipes),
		zap.Int("max_dest_per_msg", cfg.MaxDestPerMsg),
		zap.Int("buf_memory_bytes", cfg.BufMemoryBytes),
	)
	return b, nil
}

// Instance identifies this bus in telemetry and dumps.
func (b *Bus) Instance() uuid.UUID { return b.instance }

// Config returns the limits the bus was built with.
func (b *Bus) Config() Config { return b.cfg }

// Codec returns the header codec.
func (b *Bus) Codec() msg.Codec { return b.codec }

// Close deletes every pipe, waking blocked receivers, and releases all
// outstanding zero-copy buffers. Later calls fail with ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	var detached []detachedPipe
	b.pipes.Each(func(_ id.ResourceID, pp **pipe.Pipe) bool {
		detached = append(detached, b.detachLocked(*pp))
		return true
	})
	orphans := b.takeZeroCopyLocked(func(zeroCopyEntry) bool { return true })
	b.mu.Unlock()

	for _, d := range detached {
		b.drain(d)
	}
	for _, buf := range orphans {
		b.release(buf)
	}

	b.log.Info("Software bus closed",
		zap.Int("pipes_deleted", len(detached)),
		zap.Int("zero_copy_released", len(orphans)),
	)
	return nil
}

// release drops one reference and counts failures as internal errors.
func (b *Bus) release(buf *buffer.Buffer) {
	if err := buf.Release(); err != nil {
		b.counters.internalError.Add(1)
		b.events.emit(EventInternal, zap.ErrorLevel, "Buffer release failed", zap.Error(err))
	}
}

func (b *Bus) trackPeaksLocked() {
	b.peakMsgIDs = max(b.peakMsgIDs, b.routes.RouteCount())
	b.peakDests = max(b.peakDests, b.routes.DestCount())
	b.peakPipes = max(b.peakPipes, b.pipes.Len())
}
