package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/bedrock-server-manager/internal/events"
)

// Phase is the position of a job in the save protocol
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseHoldRequested Phase = "hold_requested"
	PhaseSaving        Phase = "saving"
	PhaseFilesCopied   Phase = "files_copied"
	PhaseTruncated     Phase = "truncated"
	PhaseResumed       Phase = "resumed"
	PhaseFailed        Phase = "failed"
)

// Console is the part of the supervisor the coordinator drives. Accepting
// is false once a stop has begun, even while the process is still alive.
type Console interface {
	Send(command string) error
	Accepting() bool
}

// Job is the active backup
type Job struct {
	ID        int64           `json:"id"`
	Dir       string          `json:"dir"`
	Phase     Phase           `json:"phase"`
	Manifest  []ManifestEntry `json:"manifest,omitempty"`
	StartedAt time.Time       `json:"started_at"`
}

// Result describes a completed snapshot
type Result struct {
	ID       int64           `json:"id"`
	RecordID string          `json:"record_id,omitempty"`
	Path     string          `json:"path"`
	Level    string          `json:"level"`
	Manifest []ManifestEntry `json:"manifest"`
	Bytes    int64           `json:"bytes"`
	Duration time.Duration   `json:"duration"`
}

// CoordinatorOptions configures a Coordinator
type CoordinatorOptions struct {
	ServerDir      string
	PollInterval   time.Duration
	DefaultTimeout time.Duration
	Store          *Store // optional

	// OnComplete runs on its own goroutine after a successful job
	OnComplete func(*Result)
}

// Coordinator runs the save hold / query / resume exchange and takes
// crash-consistent snapshots of the world while the server keeps running.
type Coordinator struct {
	opts    CoordinatorOptions
	console Console
	bus     *events.Bus
	now     func() time.Time

	mu      sync.Mutex
	job     *Job
	cancel  context.CancelFunc
	aborted bool
	idle    chan struct{}
}

// NewCoordinator creates a coordinator for the server in opts.ServerDir
func NewCoordinator(console Console, bus *events.Bus, opts CoordinatorOptions) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}

	idle := make(chan struct{})
	close(idle)

	return &Coordinator{
		opts:    opts,
		console: console,
		bus:     bus,
		now:     time.Now,
		idle:    idle,
	}
}

// BackupsDir is where snapshots are written
func (c *Coordinator) BackupsDir() string {
	return filepath.Join(c.opts.ServerDir, "backups")
}

func (c *Coordinator) worldsDir() string {
	return filepath.Join(c.opts.ServerDir, "worlds")
}

// Active reports whether a job is in progress
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job != nil
}

// Job returns a copy of the active job, or nil
func (c *Coordinator) Job() *Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return nil
	}
	job := *c.job
	job.Manifest = append([]ManifestEntry(nil), c.job.Manifest...)
	return &job
}

// WaitIdle blocks until no job is active. Jobs are bounded by their own
// timeout, so this returns in bounded time even with a background ctx.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort cancels the active job. The job still sends save resume on its way out.
func (c *Coordinator) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.aborted = true
		c.cancel()
	}
}

// PerformBackup snapshots the world. timeout bounds the wait for the save
// manifest; zero uses the configured default.
func (c *Coordinator) PerformBackup(ctx context.Context, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.job != nil {
		c.mu.Unlock()
		return nil, ErrBackupInProgress
	}
	job := &Job{Phase: PhaseIdle, StartedAt: c.now()}
	c.job = job
	c.cancel = cancel
	c.aborted = false
	c.idle = make(chan struct{})
	c.mu.Unlock()
	defer c.finish()

	// Checked after the job is registered: a stop that starts now either
	// sees the job and waits for it, or this check sees the stop.
	if !c.console.Accepting() {
		return nil, ErrNotRunning
	}

	if err := c.createJobDir(job); err != nil {
		c.publish(job, PhaseFailed, err)
		return nil, err
	}

	var record *Record
	if c.opts.Store != nil {
		var err error
		record, err = c.opts.Store.Create(job.ID, job.Dir, job.StartedAt)
		if err != nil {
			log.Printf("[Backup] Warning: Failed to record backup %d: %v", job.ID, err)
		}
	}

	result, err := c.run(jobCtx, job, timeout)
	if err != nil {
		if removeErr := os.RemoveAll(job.Dir); removeErr != nil {
			log.Printf("[Backup] Warning: Failed to remove partial backup %s: %v", job.Dir, removeErr)
		}
		c.publish(job, PhaseFailed, err)
		c.saveRecord(record, job, StatusFailed, err)
		log.Printf("[Backup] Backup %d failed: %v", job.ID, err)
		return nil, err
	}

	c.saveRecord(record, job, StatusCompleted, nil)
	if record != nil {
		result.RecordID = record.ID
	}
	log.Printf("[Backup] Backup %d complete: %s (%d files, %d bytes)", job.ID, result.Path, len(result.Manifest), result.Bytes)

	if c.opts.OnComplete != nil {
		go c.opts.OnComplete(result)
	}
	return result, nil
}

// createJobDir creates backups/backup-<epoch millis>, stepping the id forward
// if a directory for that millisecond already exists.
func (c *Coordinator) createJobDir(job *Job) error {
	if err := os.MkdirAll(c.BackupsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create backups directory: %w", err)
	}

	id := job.StartedAt.UnixMilli()
	for {
		dir := filepath.Join(c.BackupsDir(), fmt.Sprintf("backup-%d", id))
		err := os.Mkdir(dir, 0755)
		if err == nil {
			c.mu.Lock()
			job.ID = id
			job.Dir = dir
			c.mu.Unlock()
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create backup directory: %w", err)
		}
		id++
	}
}

// run drives one job. Once save hold has been sent, save resume is sent on
// every return path.
func (c *Coordinator) run(ctx context.Context, job *Job, timeout time.Duration) (result *Result, err error) {
	queue := newLineQueue()
	unsubLines := c.bus.Subscribe(func(e events.ConsoleLine) {
		if e.Stream == events.StreamStdout {
			queue.push(e.Text)
		}
	})
	defer unsubLines()
	unsubStopped := c.bus.Subscribe(func(e events.StoppedEvent) {
		queue.close()
	})
	defer unsubStopped()

	c.setPhase(job, PhaseHoldRequested)
	if err := c.console.Send("save hold"); err != nil {
		return nil, fmt.Errorf("failed to send save hold: %w", err)
	}
	defer func() {
		if resumeErr := c.console.Send("save resume"); resumeErr != nil {
			log.Printf("[Backup] Warning: Failed to send save resume: %v", resumeErr)
			if err == nil {
				err = fmt.Errorf("failed to send save resume: %w", resumeErr)
				result = nil
			}
			return
		}
		if err == nil {
			c.setPhase(job, PhaseResumed)
		}
	}()

	waitCtx, cancelWait := context.WithTimeout(ctx, timeout)
	defer cancelWait()

	manifest, err := c.awaitManifest(waitCtx, job, queue)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %v", ErrBackupTimedOut, timeout)
		}
		return nil, c.contextError(ctx, err)
	}

	c.mu.Lock()
	job.Manifest = manifest
	c.mu.Unlock()

	level := LevelName(manifest)
	if err := prepareLevelDirs(job.Dir, level); err != nil {
		return nil, err
	}
	if err := copyFiles(ctx, c.worldsDir(), job.Dir, manifest); err != nil {
		return nil, c.contextError(ctx, err)
	}
	c.setPhase(job, PhaseFilesCopied)

	if err := truncateFiles(ctx, job.Dir, manifest); err != nil {
		return nil, c.contextError(ctx, err)
	}
	c.setPhase(job, PhaseTruncated)

	return &Result{
		ID:       job.ID,
		Path:     job.Dir,
		Level:    level,
		Manifest: manifest,
		Bytes:    TotalBytes(manifest),
		Duration: c.now().Sub(job.StartedAt),
	}, nil
}

// awaitManifest polls with save query until the acknowledgement line arrives,
// then parses the line that follows it.
func (c *Coordinator) awaitManifest(ctx context.Context, job *Job, queue *lineQueue) ([]ManifestEntry, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	acknowledged := false
	for {
		for _, line := range queue.drain() {
			if acknowledged {
				return ParseManifest(line)
			}
			if strings.Contains(line, AckPhrase) {
				acknowledged = true
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-queue.closed:
			return nil, ErrServerStopped
		case <-queue.ready:
		case <-ticker.C:
			if acknowledged {
				continue
			}
			if err := c.console.Send("save query"); err != nil {
				log.Printf("[Backup] Warning: Failed to send save query: %v", err)
			}
			if job.Phase == PhaseHoldRequested {
				c.setPhase(job, PhaseSaving)
			}
		}
	}
}

func (c *Coordinator) contextError(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	c.mu.Lock()
	aborted := c.aborted
	c.mu.Unlock()
	if aborted {
		return ErrAborted
	}
	return err
}

func (c *Coordinator) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.job = nil
	c.cancel = nil
	close(c.idle)
}

func (c *Coordinator) setPhase(job *Job, phase Phase) {
	c.mu.Lock()
	job.Phase = phase
	c.mu.Unlock()
	c.publish(job, phase, nil)
}

func (c *Coordinator) publish(job *Job, phase Phase, err error) {
	ev := events.BackupEvent{JobID: job.ID, Phase: string(phase), Path: job.Dir, At: c.now()}
	if err != nil {
		ev.Error = err.Error()
	}
	c.bus.Publish(ev)
	if err != nil {
		c.bus.Publish(events.LogEvent{Source: "backup", Message: fmt.Sprintf("Backup failed: %v", err), At: ev.At})
	}
}

func (c *Coordinator) saveRecord(record *Record, job *Job, status string, jobErr error) {
	if record == nil || c.opts.Store == nil {
		return
	}

	completedAt := c.now()
	record.Status = status
	record.CompletedAt = &completedAt
	record.LevelName = LevelName(job.Manifest)
	record.FileCount = len(job.Manifest)
	record.TotalBytes = TotalBytes(job.Manifest)
	if jobErr != nil {
		record.ErrorMessage = jobErr.Error()
	}

	if err := c.opts.Store.Save(record); err != nil {
		log.Printf("[Backup] Warning: Failed to update backup record %s: %v", record.ID, err)
	}
}

// lineQueue buffers console lines from the bus handler so the handler never
// blocks on the coordinator.
type lineQueue struct {
	mu     sync.Mutex
	lines  []string
	ready  chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newLineQueue() *lineQueue {
	return &lineQueue{
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (q *lineQueue) push(line string) {
	q.mu.Lock()
	q.lines = append(q.lines, line)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *lineQueue) drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	lines := q.lines
	q.lines = nil
	return lines
}

func (q *lineQueue) close() {
	q.once.Do(func() { close(q.closed) })
}
