package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/flightcore/softbus/internal/api/http"
	"github.com/flightcore/softbus/internal/api/ws"
	"github.com/flightcore/softbus/internal/domain/bus"
	"github.com/flightcore/softbus/internal/domain/task"
	"github.com/flightcore/softbus/internal/infrastructure/config"
	"github.com/flightcore/softbus/internal/infrastructure/dump"
	"github.com/flightcore/softbus/internal/infrastructure/logging"
	"github.com/flightcore/softbus/internal/infrastructure/monitoring"
	httpserver "github.com/flightcore/softbus/internal/infrastructure/server"
)

// StreamInterval is the default push period of /ws/stats.
const StreamInterval = time.Second

// Module provides the bus, its task and the diagnostic API, and ties their
// start and stop to the fx lifecycle.
var Module = fx.Module("softbus",
	fx.Provide(
		NewLogger,
		monitoring.NewMetrics,
		NewBus,
		NewDumpWriter,
		NewTask,
		NewHandlers,
		apihttp.NewMetricsAggregator,
		NewStream,
		httpserver.NewRouter,
		httpserver.New,
		NewRunner,
	),
	fx.Invoke(registerLifecycle),
)

// New assembles the application for cfg. Extra options are applied last.
func New(cfg *config.Config, opts ...fx.Option) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		Module,
		fx.WithLogger(func(l *logging.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Logger.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
		fx.Options(opts...),
	)
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg *config.Config) *logging.Logger {
	return logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
}

// NewBus creates the software bus.
func NewBus(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) (*bus.Bus, error) {
	b, err := bus.New(cfg.BusConfig(), logger, bus.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}
	b.SetSubscriptionReporting(cfg.Bus.SubReporting)
	return b, nil
}

// NewDumpWriter writes dumps for b into the configured directory.
func NewDumpWriter(cfg *config.Config, b *bus.Bus, logger *logging.Logger) *dump.Writer {
	return dump.NewWriter(cfg.Dump.Dir, b.Instance().String(), logger)
}

// NewTask creates the bus task.
func NewTask(cfg *config.Config, b *bus.Bus, dumps *dump.Writer, logger *logging.Logger, metrics *monitoring.Metrics) (*task.Task, error) {
	t, err := task.New(b, dumps, cfg.TaskConfig(), logger)
	if err != nil {
		return nil, err
	}
	return t.WithMetrics(metrics), nil
}

// NewHandlers creates the REST handlers.
func NewHandlers(b *bus.Bus, t *task.Task, logger *logging.Logger) *apihttp.Handlers {
	return apihttp.NewHandlers(b, t, logger)
}

// NewStream creates the stats stream handler.
func NewStream(b *bus.Bus, metrics *monitoring.Metrics, logger *logging.Logger) *ws.Handler {
	return ws.NewHandler(b, metrics, logger, StreamInterval)
}

// Runner starts and stops the task and the HTTP server around the bus.
type Runner struct {
	bus      *bus.Bus
	task     *task.Task
	http     *httpserver.Server
	log      *logging.Logger
	shutdown fx.Shutdowner

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewRunner wires a Runner.
func NewRunner(b *bus.Bus, t *task.Task, srv *httpserver.Server, logger *logging.Logger, shutdown fx.Shutdowner) *Runner {
	return &Runner{bus: b, task: t, http: srv, log: logger, shutdown: shutdown}
}

// Start runs the task in the background, then opens the HTTP listener.
func (r *Runner) Start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	r.cancel, r.group = cancel, g

	g.Go(func() error {
		err := r.task.Run(ctx)
		if err != nil {
			r.log.Error("Bus task failed", zap.Error(err))
			_ = r.shutdown.Shutdown(fx.ExitCode(1))
		}
		return err
	})

	if err := r.http.Start(); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	r.log.Info("Software bus service started",
		zap.String("instance", r.bus.Instance().String()),
		zap.String("addr", r.http.Addr()),
	)
	return nil
}

// Stop shuts down the HTTP server, then the task, then the bus.
func (r *Runner) Stop(ctx context.Context) error {
	var errs []error
	if err := r.http.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.task.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close task: %w", err))
	}
	if r.cancel != nil {
		r.cancel()
		if err := r.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	r.log.Info("Software bus service stopped")
	_ = r.log.Sync()
	return errors.Join(errs...)
}

func registerLifecycle(lc fx.Lifecycle, r *Runner) {
	lc.Append(fx.Hook{OnStart: r.Start, OnStop: r.Stop})
}
