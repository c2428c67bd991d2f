package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/yourusername/bedrock-server-manager/internal/console"
	"github.com/yourusername/bedrock-server-manager/internal/events"
)

// BackupGate lets the supervisor serialize shutdown with a running backup.
type BackupGate interface {
	Active() bool
	WaitIdle(ctx context.Context) error
	Abort()
}

// abortGrace bounds the wait for an aborted backup to send save resume
const abortGrace = 5 * time.Second

// Options configures a Supervisor
type Options struct {
	Executable  string
	Dir         string // defaults to the executable's directory
	Args        []string
	StopTimeout time.Duration
	KillTimeout time.Duration
	Launcher    Launcher

	// Sleep paces the gentle stop countdown
	Sleep func(time.Duration)
}

// Supervisor owns one server process and its lifecycle state machine.
type Supervisor struct {
	opts Options
	bus  *events.Bus

	// opMu serializes start, stop and restart sequences
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	proc      Process
	channel   *console.Channel
	pid       int
	startedAt time.Time
	forced    bool
	exited    chan struct{}
	lastStop  StopResult
	gate      BackupGate
}

// NewSupervisor creates a supervisor in the Stopped state
func NewSupervisor(bus *events.Bus, opts Options) *Supervisor {
	if opts.Dir == "" {
		opts.Dir = filepath.Dir(opts.Executable)
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = 5 * time.Second
	}
	if opts.Launcher == nil {
		opts.Launcher = NewExecLauncher()
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}

	return &Supervisor{
		opts:  opts,
		bus:   bus,
		state: StateStopped,
	}
}

// Dir returns the server directory
func (s *Supervisor) Dir() string {
	return s.opts.Dir
}

// SetBackupGate registers the coordinator that stop and kill synchronize with.
func (s *Supervisor) SetBackupGate(gate BackupGate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = gate
}

// Start launches the server process.
func (s *Supervisor) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Active() {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	from := s.state
	s.state = StateStarting
	s.mu.Unlock()
	s.publishTransition(from, StateStarting, 0)

	log.Printf("[Supervisor] Starting %s in %s", s.opts.Executable, s.opts.Dir)
	proc, err := s.opts.Launcher.Launch(ctx, LaunchSpec{
		Executable: s.opts.Executable,
		Args:       s.opts.Args,
		Dir:        s.opts.Dir,
		Env:        []string{"LD_LIBRARY_PATH=."},
	})
	if err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		s.publishTransition(StateStarting, StateStopped, 0)
		s.logEvent("supervisor", fmt.Sprintf("Failed to start server: %v", err))
		return fmt.Errorf("%w: %v", ErrSpawnFailure, err)
	}

	channel := console.NewChannel(proc.Stdin())
	exited := make(chan struct{})
	pid := proc.PID()

	s.mu.Lock()
	s.proc = proc
	s.channel = channel
	s.pid = pid
	s.startedAt = time.Now()
	s.forced = false
	s.exited = exited
	s.state = StateRunning
	s.mu.Unlock()

	s.publishTransition(StateStarting, StateRunning, pid)
	s.bus.Publish(events.LogEvent{
		Source:     "supervisor",
		Message:    fmt.Sprintf("Server started with pid %d", pid),
		At:         time.Now(),
		NewSession: true,
	})

	go s.observe(proc, channel, exited)
	return nil
}

// observe relays output until EOF, then reaps the process. Output is drained
// before Wait so no buffered line is lost.
func (s *Supervisor) observe(proc Process, channel *console.Channel, exited chan struct{}) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.relay(proc.Stdout(), events.StreamStdout)
	}()
	go func() {
		defer wg.Done()
		s.relay(proc.Stderr(), events.StreamStderr)
	}()
	wg.Wait()

	exitCode, err := proc.Wait()
	if err != nil {
		log.Printf("[Supervisor] Wait failed: %v", err)
	}
	channel.Close()

	s.mu.Lock()
	from := s.state
	to := StateStopped
	if s.forced {
		to = StateKilled
	}
	killed := s.forced
	pid := s.pid
	s.state = to
	s.proc = nil
	s.channel = nil
	s.pid = 0
	s.mu.Unlock()

	s.publishTransition(from, to, pid)
	s.bus.Publish(events.StoppedEvent{PID: pid, Killed: killed, ExitCode: exitCode, At: time.Now()})
	s.logEvent("supervisor", fmt.Sprintf("Server exited with code %d", exitCode))
	close(exited)
}

func (s *Supervisor) relay(r io.Reader, stream string) {
	err := console.Relay(context.Background(), r, stream, func(line events.ConsoleLine) {
		s.bus.Publish(line)
		s.bus.Publish(events.LogEvent{Source: stream, Message: line.Text, At: line.ReceivedAt})
	})
	if err != nil {
		log.Printf("[Supervisor] Relay of %s stopped: %v", stream, err)
		// Keep the pipe drained so the server never blocks on a full buffer
		io.Copy(io.Discard, r)
	}
}

// Stop shuts the server down, escalating to a kill when it does not exit
// within the stop timeout. A gentle stop first runs the in-game countdown,
// which cannot be cancelled once begun.
func (s *Supervisor) Stop(ctx context.Context, gentle bool) (StopResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopLocked(ctx, gentle)
}

func (s *Supervisor) stopLocked(ctx context.Context, gentle bool) (StopResult, error) {
	if !s.Running() {
		return StopNotStarted, ErrNotStarted
	}

	s.mu.Lock()
	if s.proc == nil {
		s.mu.Unlock()
		return StopNotStarted, ErrNotStarted
	}
	from := s.state
	s.state = StateStopping
	exited := s.exited
	pid := s.pid
	s.mu.Unlock()
	s.publishTransition(from, StateStopping, pid)

	// Stopping refuses new backups, so only one already running can hold saves
	s.settleBackup(ctx)

	if gentle {
		for _, warning := range stopWarnings {
			if err := s.Send("say " + warning.Message); err != nil {
				log.Printf("[Supervisor] Warning: Failed to send warning: %v", err)
			}
			if warning.Delay > 0 {
				s.opts.Sleep(warning.Delay)
			}
		}
	}

	if gentle {
		// the countdown is long; a backup admitted just before Stopping may still be running
		s.settleBackup(ctx)
	}

	if err := s.Send("stop"); err != nil {
		log.Printf("[Supervisor] Warning: Failed to send stop command: %v", err)
	}

	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()

	var result StopResult
	select {
	case <-exited:
		result = StopStopped
		if s.State() == StateKilled {
			// a concurrent Kill got there first
			result = StopKilled
		}
	case <-timer.C:
		log.Printf("[Supervisor] Server did not exit within %v, killing", s.opts.StopTimeout)
		if err := s.killProcess(exited); err != nil {
			return StopKilled, err
		}
		result = StopKilled
	}

	s.mu.Lock()
	s.lastStop = result
	s.mu.Unlock()
	s.logEvent("supervisor", fmt.Sprintf("Server stop result: %s", result))

	return result, nil
}

// Kill terminates the server immediately. An in-flight backup is aborted
// first so it can still release the save hold.
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	exited := s.exited
	running := s.proc != nil
	gate := s.gate
	s.mu.Unlock()

	if !running {
		return ErrNotRunning
	}

	if gate != nil && gate.Active() {
		s.abortBackup(gate)
	}

	if err := s.killProcess(exited); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastStop = StopKilled
	s.mu.Unlock()
	return nil
}

// settleBackup waits for an in-flight backup to release the save hold. One
// that outlives ctx is aborted.
func (s *Supervisor) settleBackup(ctx context.Context) {
	gate := s.backupGate()
	if gate == nil || !gate.Active() {
		return
	}

	log.Printf("[Supervisor] Waiting for backup to finish before stopping")
	if err := gate.WaitIdle(ctx); err != nil {
		log.Printf("[Supervisor] Backup did not finish (%v), aborting it", err)
		s.abortBackup(gate)
	}
}

// abortBackup cancels the backup and gives it abortGrace to send save resume.
func (s *Supervisor) abortBackup(gate BackupGate) {
	gate.Abort()

	ctx, cancel := context.WithTimeout(context.Background(), abortGrace)
	defer cancel()
	if err := gate.WaitIdle(ctx); err != nil {
		log.Printf("[Supervisor] Warning: Aborted backup still active after %v", abortGrace)
	}
}

// killProcess kills the current process and waits for the exit observer.
func (s *Supervisor) killProcess(exited chan struct{}) error {
	s.mu.Lock()
	proc := s.proc
	if proc != nil {
		s.forced = true
	}
	s.mu.Unlock()

	if proc != nil {
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("failed to kill server: %w", err)
		}
	}

	select {
	case <-exited:
		return nil
	case <-time.After(s.opts.KillTimeout):
		return fmt.Errorf("server did not exit within %v of being killed", s.opts.KillTimeout)
	}
}

// Restart stops the server if it is running and starts it again.
func (s *Supervisor) Restart(ctx context.Context, gentle bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.Running() {
		if _, err := s.stopLocked(ctx, gentle); err != nil {
			return err
		}
	}
	return s.startLocked(ctx)
}

// Send writes a console command. It does nothing when no process is running.
func (s *Supervisor) Send(command string) error {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()

	if channel == nil {
		return nil
	}

	s.logEvent("command", "[command] "+command)
	return channel.Send(command)
}

// Reload asks the server to reload its configuration
func (s *Supervisor) Reload() error {
	return s.Send("reload")
}

// Accepting reports whether the server is running and no stop has begun.
// Backups are only admitted while this holds.
func (s *Supervisor) Accepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning && s.proc != nil
}

// Running reports whether a process is alive
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// State returns the lifecycle state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the supervisor
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	status := Status{
		State:    s.state,
		PID:      s.pid,
		LastStop: s.lastStop,
	}
	if s.proc != nil {
		startedAt := s.startedAt
		status.StartedAt = &startedAt
	}
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		status.BackupActive = gate.Active()
	}
	return status
}

// Stats returns OS resource figures for the running process
func (s *Supervisor) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	pid := s.pid
	startedAt := s.startedAt
	running := s.proc != nil
	s.mu.Unlock()

	if !running {
		return nil, ErrNotRunning
	}
	return collectStats(ctx, pid, startedAt)
}

func (s *Supervisor) backupGate() BackupGate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate
}

func (s *Supervisor) publishTransition(from, to State, pid int) {
	s.bus.Publish(events.LifecycleEvent{From: string(from), To: string(to), PID: pid, At: time.Now()})
}

func (s *Supervisor) logEvent(source, message string) {
	s.bus.Publish(events.LogEvent{Source: source, Message: message, At: time.Now()})
}
