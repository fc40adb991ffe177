package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/flightcore/softbus/internal/api/http"
	"github.com/flightcore/softbus/internal/api/middleware"
	"github.com/flightcore/softbus/internal/api/ws"
	"github.com/flightcore/softbus/internal/infrastructure/config"
	"github.com/flightcore/softbus/internal/infrastructure/logging"
	"github.com/flightcore/softbus/internal/infrastructure/monitoring"
)

// Server is the diagnostic HTTP server.
type Server struct {
	router *gin.Engine
	http   *http.Server
	logger *logging.Logger
	addr   string
	ln     net.Listener
	done   chan error
}

// NewRouter builds the gin engine with the middleware stack and every route.
func NewRouter(
	cfg *config.Config,
	logger *logging.Logger,
	metrics *monitoring.Metrics,
	handlers *apihttp.Handlers,
	aggregator *apihttp.MetricsAggregator,
	stream *ws.Handler,
) *gin.Engine {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers.Register(router)
	aggregator.Register(router)
	router.GET("/ws/stats", stream.HandleConnection)
	return router
}

// New creates a server for router listening on the configured address.
func New(cfg *config.Config, router *gin.Engine, logger *logging.Logger) *Server {
	return &Server{
		router: router,
		logger: logger.Named("http"),
		addr:   cfg.Addr(),
		http: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// Router exposes the engine, mostly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Start binds the listener and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.done = make(chan error, 1)
	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))

	go func() {
		err := s.http.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
		s.done <- err
	}()
	return nil
}

// Addr is the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	s.logger.Info("Shutting down HTTP server")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-s.done
}
