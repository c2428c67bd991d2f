package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/bedrock-server-manager/internal/backup"
	"github.com/yourusername/bedrock-server-manager/internal/server"
)

// ServerControl is the supervisor surface the API drives
type ServerControl interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context, gentle bool) (server.StopResult, error)
	Kill() error
	Restart(ctx context.Context, gentle bool) error
	Send(command string) error
	Reload() error
	Running() bool
	Status() server.Status
	Stats(ctx context.Context) (*server.Stats, error)
}

// BackupRunner is the coordinator surface the API drives
type BackupRunner interface {
	PerformBackup(ctx context.Context, timeout time.Duration) (*backup.Result, error)
	Job() *backup.Job
}

// statusForError maps sentinel errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, server.ErrAlreadyRunning),
		errors.Is(err, server.ErrNotRunning),
		errors.Is(err, server.ErrNotStarted),
		errors.Is(err, backup.ErrNotRunning),
		errors.Is(err, backup.ErrBackupInProgress),
		errors.Is(err, backup.ErrServerStopped),
		errors.Is(err, backup.ErrAborted):
		return http.StatusConflict
	case errors.Is(err, backup.ErrBackupTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, server.ErrSpawnFailure),
		errors.Is(err, backup.ErrManifestParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.Error(err)
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

// gentleParam reads ?gentle=, defaulting to true
func gentleParam(c *gin.Context) bool {
	return c.DefaultQuery("gentle", "true") != "false"
}
