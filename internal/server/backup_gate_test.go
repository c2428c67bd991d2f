package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/bedrock-server-manager/internal/backup"
)

func newGatedSupervisor(t *testing.T, launcher *fakeLauncher, opts Options) (*Supervisor, *backup.Coordinator) {
	t.Helper()
	sup, bus := newTestSupervisor(t, launcher, opts)
	coord := backup.NewCoordinator(sup, bus, backup.CoordinatorOptions{
		ServerDir:      t.TempDir(),
		PollInterval:   10 * time.Millisecond,
		DefaultTimeout: 10 * time.Second,
	})
	sup.SetBackupGate(coord)
	return sup, coord
}

func indexOf(commands []string, want string) int {
	for i, cmd := range commands {
		if cmd == want {
			return i
		}
	}
	return -1
}

func waitForCommand(t *testing.T, proc *fakeProcess, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for indexOf(proc.Commands(), want) < 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%q never sent, got %v", want, proc.Commands())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// startBackup runs a backup against a server that never acknowledges the
// save, and returns once save hold has reached the process.
func startBackup(t *testing.T, coord *backup.Coordinator, proc *fakeProcess) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		_, err := coord.PerformBackup(context.Background(), 0)
		done <- err
	}()
	waitForCommand(t, proc, "save hold")
	return done
}

func TestBackupRefusedDuringStopCountdown(t *testing.T) {
	launcher := &fakeLauncher{}
	backupErr := make(chan error, 1)
	var once sync.Once
	var coord *backup.Coordinator

	sup, coord := newGatedSupervisor(t, launcher, Options{
		Sleep: func(time.Duration) {
			once.Do(func() {
				_, err := coord.PerformBackup(context.Background(), time.Second)
				backupErr <- err
			})
		},
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !sup.Accepting() {
		t.Fatalf("a running server should accept backups")
	}

	result, err := sup.Stop(context.Background(), true)
	if err != nil || result != StopStopped {
		t.Fatalf("expected stopped, got %s %v", result, err)
	}

	select {
	case err := <-backupErr:
		if !errors.Is(err, backup.ErrNotRunning) {
			t.Fatalf("expected ErrNotRunning during the countdown, got %v", err)
		}
	default:
		t.Fatalf("countdown never slept")
	}

	commands := launcher.last().Commands()
	if i := indexOf(commands, "save hold"); i >= 0 {
		t.Fatalf("save hold sent while stopping: %v", commands)
	}
	if commands[len(commands)-1] != "stop" {
		t.Fatalf("expected stop last, got %v", commands)
	}
	if coord.Active() {
		t.Fatalf("refused backup left a job behind")
	}
}

func TestStopAbortsBackupAndResumesFirst(t *testing.T) {
	launcher := &fakeLauncher{}
	sup, coord := newGatedSupervisor(t, launcher, Options{})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	proc := launcher.last()
	done := startBackup(t, coord, proc)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	result, err := sup.Stop(ctx, false)
	if err != nil || result != StopStopped {
		t.Fatalf("expected stopped, got %s %v", result, err)
	}

	if err := <-done; !errors.Is(err, backup.ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}

	commands := proc.Commands()
	resume, stop := indexOf(commands, "save resume"), indexOf(commands, "stop")
	if resume < 0 || stop < 0 || resume > stop {
		t.Fatalf("save resume must precede stop, got %v", commands)
	}
}

func TestKillAbortsBackupAndWaitsForResume(t *testing.T) {
	launcher := &fakeLauncher{}
	sup, coord := newGatedSupervisor(t, launcher, Options{})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	proc := launcher.last()
	done := startBackup(t, coord, proc)

	if err := sup.Kill(); err != nil {
		t.Fatalf("kill failed: %v", err)
	}
	// the job only goes idle after its deferred save resume was written
	if coord.Active() {
		t.Fatalf("kill returned before the aborted backup finished")
	}
	if err := <-done; !errors.Is(err, backup.ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	waitForCommand(t, proc, "save resume")
}
