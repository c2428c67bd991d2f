package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/yourusername/bedrock-server-manager/internal/config"
)

// Scheduler runs backups on a cron schedule
type Scheduler struct {
	cron        *cron.Cron
	coordinator *Coordinator
	timeout     time.Duration
	schedule    cron.Schedule
}

// NewScheduler registers a backup job for expr. Runs that find the server
// stopped or a backup already in progress are skipped.
func NewScheduler(coordinator *Coordinator, expr string, timeout time.Duration) (*Scheduler, error) {
	schedule, err := config.ScheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid backup schedule %q: %w", expr, err)
	}

	s := &Scheduler{
		cron:        cron.New(),
		coordinator: coordinator,
		timeout:     timeout,
		schedule:    schedule,
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.run))
	return s, nil
}

// Start begins running scheduled backups
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("[BackupSchedule] Next backup at %s", s.NextRun().Format(time.RFC3339))
}

// Stop halts the schedule and waits for a running job to return
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRun returns the time of the next scheduled backup
func (s *Scheduler) NextRun() time.Time {
	return s.schedule.Next(time.Now())
}

func (s *Scheduler) run() {
	result, err := s.coordinator.PerformBackup(context.Background(), s.timeout)
	switch {
	case errors.Is(err, ErrNotRunning), errors.Is(err, ErrBackupInProgress):
		log.Printf("[BackupSchedule] Skipping scheduled backup: %v", err)
	case err != nil:
		log.Printf("[BackupSchedule] Scheduled backup failed: %v", err)
	default:
		log.Printf("[BackupSchedule] Scheduled backup written to %s", result.Path)
	}
}
