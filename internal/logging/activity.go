package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/bedrock-server-manager/internal/events"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Activity type constants
const (
	ActivityServerLifecycle = "server.lifecycle"
	ActivityServerStopped   = "server.stopped"
	ActivityServerKilled    = "server.killed"
	ActivityServerCommand   = "server.command"
	ActivityBackupPhase     = "backup.phase"
	ActivityBackupFailed    = "backup.failed"
	ActivityAPIRequest      = "api.request"
)

// Activity is one entry of the operator-facing history
type Activity struct {
	Timestamp    time.Time              `json:"timestamp"`
	ActivityType string                 `json:"activity_type"`
	Description  string                 `json:"description"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// ActivityFilter narrows Query. Zero values match everything.
type ActivityFilter struct {
	Type  string // exact type, or a prefix ending in "." such as "backup."
	Since time.Time
	Limit int
}

// ActivityLogger keeps the supervisor's history in the activity_log table
// and mirrors it to a size-rotated JSON-lines journal.
type ActivityLogger struct {
	db      *sql.DB
	mu      sync.Mutex
	journal *lumberjack.Logger
	now     func() time.Time
}

// NewActivityLogger creates the logger. db may be nil, in which case only the
// journal in logDir is written.
func NewActivityLogger(db *sql.DB, logDir string) (*ActivityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create activity log directory: %w", err)
	}

	return &ActivityLogger{
		db: db,
		journal: &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "activity.jsonl"),
			MaxSize:    10,
			MaxBackups: 10,
			Compress:   true,
		},
		now: time.Now,
	}, nil
}

// Attach records lifecycle transitions, exits, backup phases and console
// commands published on bus.
func (al *ActivityLogger) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.LifecycleEvent) {
			al.record(&Activity{
				Timestamp:    e.At,
				ActivityType: ActivityServerLifecycle,
				Description:  e.From + " -> " + e.To,
				Metadata:     map[string]interface{}{"from": e.From, "to": e.To, "pid": e.PID},
				Success:      true,
			})
		}),
		bus.Subscribe(func(e events.StoppedEvent) {
			kind := ActivityServerStopped
			if e.Killed {
				kind = ActivityServerKilled
			}
			al.record(&Activity{
				Timestamp:    e.At,
				ActivityType: kind,
				Description:  fmt.Sprintf("Process %d exited with code %d", e.PID, e.ExitCode),
				Metadata:     map[string]interface{}{"pid": e.PID, "exit_code": e.ExitCode, "killed": e.Killed},
				Success:      !e.Killed,
			})
		}),
		bus.Subscribe(func(e events.BackupEvent) {
			activity := &Activity{
				Timestamp:    e.At,
				ActivityType: ActivityBackupPhase,
				Description:  fmt.Sprintf("Backup %d: %s", e.JobID, e.Phase),
				Metadata:     map[string]interface{}{"job_id": e.JobID, "phase": e.Phase, "path": e.Path},
				Success:      e.Error == "",
				ErrorMessage: e.Error,
			}
			if e.Error != "" {
				activity.ActivityType = ActivityBackupFailed
			}
			al.record(activity)
		}),
		bus.Subscribe(func(e events.LogEvent) {
			if e.Source != "command" {
				return
			}
			// the periodic backup poll would drown everything else
			if strings.HasSuffix(e.Message, "save query") {
				return
			}
			al.record(&Activity{
				Timestamp:    e.At,
				ActivityType: ActivityServerCommand,
				Description:  e.Message,
				Success:      true,
			})
		}),
	}

	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (al *ActivityLogger) record(activity *Activity) {
	if err := al.LogActivity(activity); err != nil {
		log.Printf("[Activity] Warning: Failed to record %s: %v", activity.ActivityType, err)
	}
}

// LogActivity stores an activity. A database failure does not stop the
// journal write; the first error is returned.
func (al *ActivityLogger) LogActivity(activity *Activity) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if activity.Timestamp.IsZero() {
		activity.Timestamp = al.now()
	}

	dbErr := al.insert(activity)

	line, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to encode activity: %w", err)
	}
	if _, err := al.journal.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write activity journal: %w", err)
	}
	return dbErr
}

func (al *ActivityLogger) insert(activity *Activity) error {
	if al.db == nil {
		return nil
	}

	var metadata sql.NullString
	if len(activity.Metadata) > 0 {
		encoded, err := json.Marshal(activity.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(encoded), Valid: true}
	}

	_, err := al.db.Exec(`INSERT INTO activity_log
		(timestamp, activity_type, description, metadata, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		activity.Timestamp, activity.ActivityType, activity.Description,
		metadata, activity.Success, activity.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

// Query returns matching activities, newest first.
func (al *ActivityLogger) Query(filter ActivityFilter) ([]*Activity, error) {
	if al.db == nil {
		return nil, fmt.Errorf("activity database not available")
	}

	var (
		where []string
		args  []interface{}
	)
	switch {
	case strings.HasSuffix(filter.Type, "."):
		where = append(where, "activity_type LIKE ?")
		args = append(args, filter.Type+"%")
	case filter.Type != "":
		where = append(where, "activity_type = ?")
		args = append(args, filter.Type)
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since)
	}

	query := "SELECT timestamp, activity_type, description, metadata, success, error_message FROM activity_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := al.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	activities := make([]*Activity, 0)
	for rows.Next() {
		var (
			a                               Activity
			description, metadata, errorMsg sql.NullString
		)
		if err := rows.Scan(&a.Timestamp, &a.ActivityType, &description, &metadata, &a.Success, &errorMsg); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Description = description.String
		a.ErrorMessage = errorMsg.String
		if metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
				log.Printf("[Activity] Warning: Bad metadata on %s: %v", a.ActivityType, err)
			}
		}
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}

// GetActivities is Query with positional arguments
func (al *ActivityLogger) GetActivities(activityType string, since time.Time, limit int) ([]*Activity, error) {
	return al.Query(ActivityFilter{Type: activityType, Since: since, Limit: limit})
}

// GetRecentActivities returns the newest limit activities
func (al *ActivityLogger) GetRecentActivities(limit int) ([]*Activity, error) {
	return al.Query(ActivityFilter{Limit: limit})
}

// CleanupOldActivities deletes database rows older than olderThan. The
// journal is bounded by its own rotation.
func (al *ActivityLogger) CleanupOldActivities(olderThan time.Duration) error {
	if al.db == nil {
		return fmt.Errorf("activity database not available")
	}

	result, err := al.db.Exec(`DELETE FROM activity_log WHERE timestamp < ?`, al.now().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("failed to clean up activities: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		log.Printf("[Activity] Removed %d activities older than %v", n, olderThan)
	}
	return nil
}

// Close closes the journal
func (al *ActivityLogger) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.journal.Close()
}
