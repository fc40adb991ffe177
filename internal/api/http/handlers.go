package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flightcore/softbus/internal/domain/bus"
	"github.com/flightcore/softbus/internal/domain/msg"
	"github.com/flightcore/softbus/internal/domain/task"
	"github.com/flightcore/softbus/internal/infrastructure/dump"
	"github.com/flightcore/softbus/internal/infrastructure/logging"
	"github.com/flightcore/softbus/internal/shared/id"
)

// Version is reported by the root and health endpoints.
var Version = "0.1.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	bus     *bus.Bus
	task    *task.Task
	log     *logging.Logger
	started time.Time
}

// NewHandlers creates a new handler set. t may be nil, which disables the
// task-backed endpoints.
func NewHandlers(b *bus.Bus, t *task.Task, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		bus:     b,
		task:    t,
		log:     logger.Named("api"),
		started: time.Now(),
	}
}

// Register mounts the diagnostic routes.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)
	r.GET("/counters", h.Counters)
	r.GET("/hk", h.HK)
	r.GET("/pipes", h.Pipes)
	r.GET("/routes", h.Routes)
	r.GET("/map", h.MsgMap)

	r.POST("/routes/enable", h.EnableRoute)
	r.POST("/routes/disable", h.DisableRoute)
	r.POST("/counters/reset", h.ResetCounters)
	r.POST("/peaks/reset", h.ResetPeaks)
	r.POST("/dump/:kind", h.WriteDump)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "online",
		"service":  "softbus",
		"version":  Version,
		"instance": h.bus.Instance().String(),
	})
}

// Health reports bus usage and uptime
func (h *Handlers) Health(c *gin.Context) {
	stats := h.bus.Stats()
	resp := gin.H{
		"status":         "healthy",
		"instance":       h.bus.Instance().String(),
		"version":        Version,
		"uptime_seconds": time.Since(h.started).Seconds(),
		"pipes":          stats.PipesInUse,
		"msg_ids":        stats.MsgIDsInUse,
		"buffers":        stats.BuffersInUse,
		"mem_in_use":     stats.MemInUse,
	}
	if h.task != nil {
		resp["task"] = gin.H{"pipe": h.task.Pipe()}
	}
	c.JSON(http.StatusOK, resp)
}

// Stats returns the usage snapshot
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.bus.Stats())
}

// Counters returns the error and event counters
func (h *Handlers) Counters(c *gin.Context) {
	resp := gin.H{"bus": h.bus.Counters()}
	if h.task != nil {
		cmd, cmdErr := h.task.Counters()
		resp["task"] = gin.H{"commands": cmd, "command_errors": cmdErr}
	}
	c.JSON(http.StatusOK, resp)
}

// HK returns the housekeeping packet the task would publish
func (h *Handlers) HK(c *gin.Context) {
	if h.task == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bus task not running"})
		return
	}
	c.JSON(http.StatusOK, h.task.HK())
}

// Pipes lists every pipe
func (h *Handlers) Pipes(c *gin.Context) {
	pipes := h.bus.Pipes()
	c.JSON(http.StatusOK, gin.H{"pipes": pipes, "count": len(pipes)})
}

// Routes lists every route and its destinations
func (h *Handlers) Routes(c *gin.Context) {
	routes := h.bus.Routes()
	c.JSON(http.StatusOK, gin.H{"routes": routes, "count": len(routes)})
}

// MsgMap lists the MsgID to route map
func (h *Handlers) MsgMap(c *gin.Context) {
	entries := h.bus.MsgMap()
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// RouteRequest names one destination. Pipe wins over PipeName.
type RouteRequest struct {
	MsgID    *uint32 `json:"msg_id" binding:"required"`
	Pipe     uint32  `json:"pipe"`
	PipeName string  `json:"pipe_name"`
}

// EnableRoute re-activates a destination
func (h *Handlers) EnableRoute(c *gin.Context) {
	h.toggleRoute(c, true)
}

// DisableRoute deactivates a destination without unsubscribing it
func (h *Handlers) DisableRoute(c *gin.Context) {
	h.toggleRoute(c, false)
}

func (h *Handlers) toggleRoute(c *gin.Context, enable bool) {
	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid route request: " + err.Error()})
		return
	}

	pid := id.ResourceID(req.Pipe)
	if !pid.Defined() {
		if req.PipeName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pipe or pipe_name is required"})
			return
		}
		var err error
		if pid, err = h.bus.GetPipeIDByName(req.PipeName); err != nil {
			h.fail(c, err)
			return
		}
	}

	m := msg.FromValue(*req.MsgID)
	var err error
	if enable {
		err = h.bus.EnableRoute(m, pid)
	} else {
		err = h.bus.DisableRoute(m, pid)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"msg_id":  m,
		"pipe":    pid,
		"active":  enable,
	})
}

// ResetCounters zeroes the bus counters
func (h *Handlers) ResetCounters(c *gin.Context) {
	h.bus.ResetCounters()
	h.log.Info("Counters reset via API", zap.String("client", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ResetPeaks sets the high-water marks to current usage
func (h *Handlers) ResetPeaks(c *gin.Context) {
	h.bus.ResetPeaks()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// WriteDump writes a diagnostic dump. The optional name query parameter picks
// the file; a ".zst" suffix compresses it.
func (h *Handlers) WriteDump(c *gin.Context) {
	if h.task == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bus task not running"})
		return
	}
	kind := dump.Kind(c.Param("kind"))
	res, err := h.task.WriteDump(kind, c.Query("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) fail(c *gin.Context, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(code, gin.H{
		"error":  err.Error(),
		"status": bus.StatusOf(err).String(),
	})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, bus.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, bus.ErrBadArgument),
		errors.Is(err, dump.ErrUnknownKind),
		errors.Is(err, dump.ErrBadName):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
