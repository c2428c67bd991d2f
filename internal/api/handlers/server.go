package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/bedrock-server-manager/internal/api/middleware"
	"github.com/yourusername/bedrock-server-manager/internal/logging"
	"github.com/yourusername/bedrock-server-manager/internal/metrics"
	"github.com/yourusername/bedrock-server-manager/internal/server"
)

// ServerHandler handles lifecycle and command requests
type ServerHandler struct {
	server    ServerControl
	activity  *logging.ActivityLogger
	collector *metrics.Collector

	// stopTimeout bounds a background stop; it covers the countdown, the
	// backup wait and the kill escalation
	stopTimeout time.Duration

	pendingOps sync.WaitGroup
}

// NewServerHandler creates a new server handler. activity and collector may be nil.
func NewServerHandler(srv ServerControl, activity *logging.ActivityLogger, collector *metrics.Collector, stopTimeout time.Duration) *ServerHandler {
	return &ServerHandler{
		server:      srv,
		activity:    activity,
		collector:   collector,
		stopTimeout: stopTimeout,
	}
}

// WaitForCompletion blocks until background stops and restarts finish
func (h *ServerHandler) WaitForCompletion() {
	h.pendingOps.Wait()
}

// GetStatus returns the supervisor state
// GET /api/v1/server/status
func (h *ServerHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.server.Status())
}

// StartServer launches the server
// POST /api/v1/server/start
func (h *ServerHandler) StartServer(c *gin.Context) {
	if err := h.server.Start(c.Request.Context()); err != nil {
		log.Printf("[API] Failed to start server: %v", err)
		respondError(c, err)
		return
	}

	log.Printf("[API] Server started by %s", middleware.Operator(c))
	c.JSON(http.StatusOK, h.server.Status())
}

// StopServer stops the server in the background. A gentle stop runs the
// in-game countdown first.
// POST /api/v1/server/stop?gentle=true
func (h *ServerHandler) StopServer(c *gin.Context) {
	gentle := gentleParam(c)
	if !h.server.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": server.ErrNotStarted.Error(), "result": server.StopNotStarted})
		return
	}

	operator := middleware.Operator(c)
	log.Printf("[API] Stop requested by %s (gentle: %v)", operator, gentle)

	h.pendingOps.Add(1)
	go func() {
		defer h.pendingOps.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.backgroundTimeout(gentle))
		defer cancel()

		result, err := h.server.Stop(ctx, gentle)
		if err != nil {
			log.Printf("[API] Failed to stop server: %v", err)
			return
		}
		log.Printf("[API] Server stop finished: %s", result)
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "Server stop initiated", "status": server.StateStopping, "gentle": gentle})
}

// RestartServer restarts the server in the background
// POST /api/v1/server/restart?gentle=true
func (h *ServerHandler) RestartServer(c *gin.Context) {
	gentle := gentleParam(c)
	log.Printf("[API] Restart requested by %s (gentle: %v)", middleware.Operator(c), gentle)

	h.pendingOps.Add(1)
	go func() {
		defer h.pendingOps.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.backgroundTimeout(gentle))
		defer cancel()

		if err := h.server.Restart(ctx, gentle); err != nil {
			log.Printf("[API] Failed to restart server: %v", err)
			return
		}
		log.Printf("[API] Server restarted")
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "Server restart initiated", "gentle": gentle})
}

// KillServer kills the server immediately
// POST /api/v1/server/kill
func (h *ServerHandler) KillServer(c *gin.Context) {
	if err := h.server.Kill(); err != nil {
		respondError(c, err)
		return
	}

	log.Printf("[API] Server killed by %s", middleware.Operator(c))
	c.JSON(http.StatusOK, h.server.Status())
}

// ExecuteCommand writes a console command
// POST /api/v1/server/command
func (h *ServerHandler) ExecuteCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	command := strings.TrimSpace(req.Command)
	if command == "" || strings.ContainsAny(command, "\r\n") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command must be a single non-empty line"})
		return
	}
	if !h.server.Running() {
		respondError(c, server.ErrNotRunning)
		return
	}

	if err := h.server.Send(command); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Command sent", "command": command})
}

// ReloadServer sends reload
// POST /api/v1/server/reload
func (h *ServerHandler) ReloadServer(c *gin.Context) {
	if !h.server.Running() {
		respondError(c, server.ErrNotRunning)
		return
	}
	if err := h.server.Reload(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Reload sent"})
}

// GetStats returns live resource figures
// GET /api/v1/server/stats
func (h *ServerHandler) GetStats(c *gin.Context) {
	stats, err := h.server.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetStatsHistory returns stored resource samples
// GET /api/v1/server/stats/history?minutes=60
func (h *ServerHandler) GetStatsHistory(c *gin.Context) {
	if h.collector == nil {
		c.JSON(http.StatusOK, gin.H{"samples": []metrics.Sample{}})
		return
	}

	minutes, err := strconv.Atoi(c.DefaultQuery("minutes", "60"))
	if err != nil || minutes <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be a positive integer"})
		return
	}

	samples, err := h.collector.RecentSamples(time.Now().Add(-time.Duration(minutes)*time.Minute), 0)
	if err != nil {
		respondError(c, err)
		return
	}
	if samples == nil {
		samples = []metrics.Sample{}
	}
	c.JSON(http.StatusOK, gin.H{"samples": samples})
}

// GetActivity returns recent supervisor and backup activity
// GET /api/v1/activity?type=backup.&since=1h&limit=50
// since is an RFC 3339 time or a duration back from now.
func (h *ServerHandler) GetActivity(c *gin.Context) {
	if h.activity == nil {
		c.JSON(http.StatusOK, gin.H{"activities": []*logging.Activity{}})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			since = time.Now().Add(-d)
		} else if since, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a duration or RFC 3339 time"})
			return
		}
	}

	activities, err := h.activity.Query(logging.ActivityFilter{Type: c.Query("type"), Since: since, Limit: limit})
	if err != nil {
		respondError(c, err)
		return
	}
	if activities == nil {
		activities = []*logging.Activity{}
	}
	c.JSON(http.StatusOK, gin.H{"activities": activities})
}

func (h *ServerHandler) backgroundTimeout(gentle bool) time.Duration {
	timeout := 2*h.stopTimeout + time.Minute
	if gentle {
		timeout += 30 * time.Second
	}
	return timeout
}
