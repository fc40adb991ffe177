// Package task is the bus's own housekeeping task. It owns the command pipe,
// executes ground commands, publishes housekeeping and statistics telemetry,
// and writes diagnostic dumps.
package task

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flightcore/softbus/internal/domain/bus"
	"github.com/flightcore/softbus/internal/domain/msg"
	"github.com/flightcore/softbus/internal/infrastructure/dump"
	"github.com/flightcore/softbus/internal/infrastructure/logging"
	"github.com/flightcore/softbus/internal/infrastructure/monitoring"
	"github.com/flightcore/softbus/internal/shared/id"
)

// CmdPipeName is the name of the command pipe.
const CmdPipeName = "SB_CMD_PIPE"

// SchedulerTask is the sender of periodic send-HK requests.
var SchedulerTask = id.NamedTaskID("sch")

var (
	ErrBadLength    = errors.New("command length mismatch")
	ErrUnknownCode  = errors.New("unknown function code")
	ErrUnknownMsgID = errors.New("unexpected msg id on command pipe")
)

// Config sizes the task.
type Config struct {
	CmdPipeDepth int
	// HKInterval is the send-HK period. Zero disables the scheduler.
	HKInterval time.Duration
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{CmdPipeDepth: 32, HKInterval: 4 * time.Second}
}

// Task is the bus housekeeping task.
type Task struct {
	cfg     Config
	bus     *bus.Bus
	client  *bus.Client
	dumps   *dump.Writer
	log     *logging.Logger
	metrics *monitoring.Metrics
	pipe    id.ResourceID

	cmdCount    atomic.Uint32
	cmdErrCount atomic.Uint32
	closed      atomic.Bool
}

// New creates the command pipe and subscribes it to the command and send-HK
// MsgIDs.
func New(b *bus.Bus, dumps *dump.Writer, cfg Config, logger *logging.Logger) (*Task, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	t := &Task{
		cfg:    cfg,
		bus:    b,
		client: b.Client(bus.SelfTask),
		dumps:  dumps,
		log:    logger.Named("sb_task"),
	}

	pid, err := t.client.CreatePipe(cfg.CmdPipeDepth, CmdPipeName)
	if err != nil {
		return nil, fmt.Errorf("failed to create command pipe: %w", err)
	}
	t.pipe = pid
	for _, m := range []msg.MsgID{CmdMsgID, SendHKMsgID} {
		if err := t.client.SubscribeLocal(m, pid, cfg.CmdPipeDepth); err != nil {
			_ = t.client.DeletePipe(pid)
			return nil, fmt.Errorf("failed to subscribe to %s: %w", m, err)
		}
	}

	t.log.Info("Bus task initialized",
		zap.Stringer("pipe", pid),
		zap.Duration("hk_interval", cfg.HKInterval),
	)
	return t, nil
}

// WithMetrics adds command metrics.
func (t *Task) WithMetrics(metrics *monitoring.Metrics) *Task {
	t.metrics = metrics
	return t
}

// Pipe is the command pipe.
func (t *Task) Pipe() id.ResourceID { return t.pipe }

// Counters returns the command and command-error counters.
func (t *Task) Counters() (cmd, cmdErr uint32) {
	return t.cmdCount.Load(), t.cmdErrCount.Load()
}

// Run processes the command pipe, and sends periodic send-HK requests, until
// ctx is done or the pipe is deleted.
func (t *Task) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.serve(ctx) })
	if t.cfg.HKInterval > 0 {
		g.Go(func() error { return t.schedule(ctx) })
	}
	err := g.Wait()
	t.log.Info("Bus task stopped", zap.Error(err))
	return err
}

func (t *Task) serve(ctx context.Context) error {
	for {
		buf, err := t.client.ReceiveBuffer(ctx, t.pipe, bus.PendForever)
		if err != nil {
			if ctx.Err() != nil || t.closed.Load() {
				return nil
			}
			return fmt.Errorf("command pipe read: %w", err)
		}
		_ = t.Process(buf.Bytes())
	}
}

func (t *Task) schedule(ctx context.Context) error {
	req, err := msg.Build(t.bus.Codec(), SendHKMsgID, nil)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(t.cfg.HKInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := t.bus.TransmitMsg(SchedulerTask, req, false); err != nil {
				t.log.Warn("Send-HK request failed", zap.Error(err))
			}
		}
	}
}

// Process handles one message from the command pipe.
func (t *Task) Process(data []byte) error {
	m, err := t.bus.Codec().MsgID(data)
	if err != nil {
		t.cmdErrCount.Add(1)
		return err
	}
	switch m {
	case SendHKMsgID:
		return t.SendHK()
	case CmdMsgID:
		return t.command(data)
	default:
		t.cmdErrCount.Add(1)
		t.log.Warn("Invalid msg id on command pipe", zap.Stringer("msg_id", m))
		return fmt.Errorf("%w: %s", ErrUnknownMsgID, m)
	}
}

func (t *Task) command(data []byte) error {
	payload, err := msg.Payload(t.bus.Codec(), data)
	if err != nil || len(payload) < cmdHeaderLen {
		t.cmdErrCount.Add(1)
		return fmt.Errorf("%w: no function code", ErrBadLength)
	}
	fc := FunctionCode(payload[0])
	args := payload[cmdHeaderLen:]
	timer := monitoring.NewTimer(t.metrics, fc.String())

	err = t.dispatch(fc, args)
	switch {
	case err != nil:
		t.cmdErrCount.Add(1)
		timer.Stop("error")
		t.log.Error("Command failed",
			zap.Stringer("command", fc),
			zap.Int("arg_len", len(args)),
			zap.Error(err),
		)
	case fc == FcResetCounters:
		// Reset clears the counter it would otherwise bump.
		timer.Stop("ok")
	default:
		t.cmdCount.Add(1)
		timer.Stop("ok")
		t.log.Debug("Command executed", zap.Stringer("command", fc))
	}
	return err
}

func (t *Task) dispatch(fc FunctionCode, args []byte) error {
	want, ok := argLen(fc)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCode, uint8(fc))
	}
	if len(args) != want {
		return fmt.Errorf("%w: %s takes %d argument bytes, got %d", ErrBadLength, fc, want, len(args))
	}

	switch fc {
	case FcNoop:
		t.log.Info("No-op command")
		return nil
	case FcResetCounters:
		t.cmdCount.Store(0)
		t.cmdErrCount.Store(0)
		t.bus.ResetCounters()
		return nil
	case FcSendStats:
		return t.SendStats()
	case FcWriteRoutingInfo:
		_, err := t.WriteDump(dump.KindRoutes, parseFileName(args))
		return err
	case FcWritePipeInfo:
		_, err := t.WriteDump(dump.KindPipes, parseFileName(args))
		return err
	case FcWriteMapInfo:
		_, err := t.WriteDump(dump.KindMap, parseFileName(args))
		return err
	case FcEnableRoute, FcDisableRoute:
		m := msg.FromValue(binary.BigEndian.Uint32(args[0:4]))
		pid := id.ResourceID(binary.BigEndian.Uint32(args[4:8]))
		if fc == FcEnableRoute {
			return t.bus.EnableRoute(m, pid)
		}
		return t.bus.DisableRoute(m, pid)
	case FcEnableSubReporting:
		t.bus.SetSubscriptionReporting(true)
		return nil
	case FcDisableSubReporting:
		t.bus.SetSubscriptionReporting(false)
		return nil
	case FcSendPrevSubs:
		n, err := t.bus.SendPrevSubs()
		t.log.Info("Previous subscriptions sent", zap.Int("count", n))
		return err
	}
	return fmt.Errorf("%w: %d", ErrUnknownCode, uint8(fc))
}

// HK assembles the housekeeping packet.
func (t *Task) HK() HK {
	c := t.bus.Counters()
	s := t.bus.Stats()
	cmd, cmdErr := t.Counters()
	return HK{
		CommandCounter:         uint8(cmd),
		CommandErrorCounter:    uint8(cmdErr),
		NoSubscribers:          c.NoSubscribers,
		DuplicateSubscriptions: c.DuplicateSubscriptions,
		MsgSendError:           c.MsgSendError,
		MsgReceiveError:        c.MsgReceiveError,
		InternalError:          c.InternalError,
		CreatePipeError:        c.CreatePipeError,
		SubscribeError:         c.SubscribeError,
		PipeOptsError:          c.PipeOptsError,
		PipeOverflowError:      c.PipeOverflowError,
		MsgLimitError:          c.MsgLimitError,
		MemInUse:               uint32(s.MemInUse),
		UnmarkedMem:            uint32(max(s.MaxMem-s.MemInUse, 0)),
	}
}

// SendHK publishes the housekeeping packet.
func (t *Task) SendHK() error {
	return t.publish(HKMsgID, "hk", Encode(t.HK()))
}

// SendStats publishes the statistics packet.
func (t *Task) SendStats() error {
	return t.publish(StatsMsgID, "stats", Encode(newStatsPacket(t.bus.Stats())))
}

func (t *Task) publish(m msg.MsgID, packet string, payload []byte) error {
	data, err := msg.Build(t.bus.Codec(), m, payload)
	if err != nil {
		return err
	}
	if _, err := t.client.TransmitMsg(data, true); err != nil {
		return fmt.Errorf("failed to publish %s packet: %w", packet, err)
	}
	if t.metrics != nil {
		t.metrics.RecordTelemetry(packet)
	}
	return nil
}

// WriteDump writes the routing, pipe or map snapshot to name, or to the
// kind's default file when name is empty.
func (t *Task) WriteDump(kind dump.Kind, name string) (dump.Result, error) {
	if t.dumps == nil {
		return dump.Result{}, errors.New("dumps are not configured")
	}
	switch kind {
	case dump.KindRoutes:
		return dump.Write(t.dumps, kind, name, t.bus.Routes())
	case dump.KindPipes:
		return dump.Write(t.dumps, kind, name, t.bus.Pipes())
	case dump.KindMap:
		return dump.Write(t.dumps, kind, name, t.bus.MsgMap())
	}
	return dump.Result{}, fmt.Errorf("%w: %q", dump.ErrUnknownKind, kind)
}

// Close deletes the command pipe, which also ends Run.
func (t *Task) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.client.DeletePipe(t.pipe)
}
