package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/bedrock-server-manager/internal/api/middleware"
	"github.com/yourusername/bedrock-server-manager/internal/backup"
)

// BackupHandler handles backup requests
type BackupHandler struct {
	runner    BackupRunner
	store     *backup.Store
	retention *backup.RetentionManager
	scheduler *backup.Scheduler
	keep      int
	maxWait   time.Duration
}

// NewBackupHandler creates a new backup handler. store and scheduler may be nil.
// Requested timeouts above maxTimeout are clamped to it.
func NewBackupHandler(runner BackupRunner, store *backup.Store, scheduler *backup.Scheduler, retentionCount int, maxTimeout time.Duration) *BackupHandler {
	h := &BackupHandler{
		runner:    runner,
		store:     store,
		scheduler: scheduler,
		keep:      retentionCount,
		maxWait:   maxTimeout,
	}
	if store != nil {
		h.retention = backup.NewRetentionManager(store)
	}
	return h
}

// CreateBackup runs a backup and waits for it to finish. The job keeps
// running if the client disconnects so the save hold is always released.
// POST /api/v1/backups?timeout=30s
func (h *BackupHandler) CreateBackup(c *gin.Context) {
	var timeout time.Duration
	if raw := c.Query("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timeout must be a positive duration such as 45s"})
			return
		}
		timeout = parsed
		if h.maxWait > 0 && timeout > h.maxWait {
			log.Printf("[API] Warning: Backup timeout %v clamped to %v", timeout, h.maxWait)
			timeout = h.maxWait
		}
	}

	log.Printf("[API] Backup requested by %s", middleware.Operator(c))
	result, err := h.runner.PerformBackup(context.WithoutCancel(c.Request.Context()), timeout)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetActiveJob returns the running job, if any
// GET /api/v1/backups/active
func (h *BackupHandler) GetActiveJob(c *gin.Context) {
	job := h.runner.Job()
	if job == nil {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "job": job})
}

// ListBackups lists recorded backups, newest first
// GET /api/v1/backups?status=completed&limit=50
func (h *BackupHandler) ListBackups(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"backups": []*backup.Record{}})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	records, err := h.store.List(c.Query("status"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if records == nil {
		records = []*backup.Record{}
	}

	response := gin.H{"backups": records}
	if h.scheduler != nil {
		response["next_scheduled"] = h.scheduler.NextRun()
	}
	c.JSON(http.StatusOK, response)
}

// GetBackup returns one backup record
// GET /api/v1/backups/:id
func (h *BackupHandler) GetBackup(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Backup history is disabled"})
		return
	}

	record, err := h.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

// EnforceRetention prunes old snapshots now
// POST /api/v1/backups/retention/enforce
func (h *BackupHandler) EnforceRetention(c *gin.Context) {
	if h.retention == nil {
		c.JSON(http.StatusOK, gin.H{"pruned": 0})
		return
	}

	pruned, err := h.retention.EnforceRetention(h.keep)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pruned": pruned, "keep": h.keep})
}
