package backup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/bedrock-server-manager/internal/database"
	"github.com/yourusername/bedrock-server-manager/internal/events"
)

// fakeConsole answers save commands the way bedrock_server does
type fakeConsole struct {
	bus *events.Bus

	mu       sync.Mutex
	running  bool
	commands []string
	manifest string // second line of the save query response; empty means never ready
}

func (f *fakeConsole) Send(command string) error {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	manifest := f.manifest
	f.mu.Unlock()

	if command == "save query" && manifest != "" {
		now := time.Now()
		f.bus.Publish(events.ConsoleLine{Text: AckPhrase, Stream: events.StreamStdout, ReceivedAt: now})
		f.bus.Publish(events.ConsoleLine{Text: manifest, Stream: events.StreamStdout, ReceivedAt: now})
	}
	return nil
}

func (f *fakeConsole) Accepting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeConsole) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

type coordinatorFixture struct {
	serverDir string
	bus       *events.Bus
	console   *fakeConsole
	store     *Store
	coord     *Coordinator
}

func newCoordinatorFixture(t *testing.T, manifest string) *coordinatorFixture {
	t.Helper()
	serverDir := t.TempDir()

	bus := events.New()
	t.Cleanup(func() { bus.Close() })

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	console := &fakeConsole{bus: bus, running: true, manifest: manifest}
	store := NewStore(db.DB)
	coord := NewCoordinator(console, bus, CoordinatorOptions{
		ServerDir:      serverDir,
		PollInterval:   10 * time.Millisecond,
		DefaultTimeout: 2 * time.Second,
		Store:          store,
	})

	return &coordinatorFixture{serverDir: serverDir, bus: bus, console: console, store: store, coord: coord}
}

func (f *coordinatorFixture) writeWorldFile(t *testing.T, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(f.serverDir, "worlds", filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create world dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write world file: %v", err)
	}
}

func assertResumedLast(t *testing.T, commands []string) {
	t.Helper()
	if len(commands) == 0 || commands[0] != "save hold" {
		t.Fatalf("expected save hold first, got %v", commands)
	}
	if commands[len(commands)-1] != "save resume" {
		t.Fatalf("expected save resume last, got %v", commands)
	}
}

func TestPerformBackupCopiesThenTruncates(t *testing.T) {
	f := newCoordinatorFixture(t, "Bedrock level/db/000001.ldb:1024, Bedrock level/level.dat:512")

	ldb := bytes.Repeat([]byte("L"), 1500)
	dat := bytes.Repeat([]byte("D"), 600)
	f.writeWorldFile(t, "Bedrock level/db/000001.ldb", ldb)
	f.writeWorldFile(t, "Bedrock level/level.dat", dat)

	phases := make(chan string, 16)
	unsub := f.bus.Subscribe(func(e events.BackupEvent) { phases <- e.Phase })
	defer unsub()

	result, err := f.coord.PerformBackup(context.Background(), 0)
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	if result.Level != "Bedrock level" || len(result.Manifest) != 2 || result.Bytes != 1536 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.HasPrefix(filepath.Base(result.Path), "backup-") || filepath.Dir(result.Path) != f.coord.BackupsDir() {
		t.Fatalf("unexpected backup path %s", result.Path)
	}

	if info, err := os.Stat(filepath.Join(result.Path, "Bedrock level", "db")); err != nil || !info.IsDir() {
		t.Fatalf("expected db directory in snapshot: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(result.Path, "Bedrock level", "db", "000001.ldb"))
	if err != nil || !bytes.Equal(got, ldb[:1024]) {
		t.Fatalf("ldb not truncated to 1024 bytes (len %d, err %v)", len(got), err)
	}
	got, err = os.ReadFile(filepath.Join(result.Path, "Bedrock level", "level.dat"))
	if err != nil || !bytes.Equal(got, dat[:512]) {
		t.Fatalf("level.dat not truncated to 512 bytes (len %d, err %v)", len(got), err)
	}

	commands := f.console.Commands()
	assertResumedLast(t, commands)
	queried := false
	for _, cmd := range commands {
		if cmd == "save query" {
			queried = true
		}
	}
	if !queried {
		t.Fatalf("expected at least one save query, got %v", commands)
	}

	records, err := f.store.List("", 0)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one record, got %d (%v)", len(records), err)
	}
	if records[0].Status != StatusCompleted || records[0].FileCount != 2 || records[0].ID != result.RecordID {
		t.Fatalf("unexpected record: %+v", records[0])
	}

	want := []Phase{PhaseHoldRequested, PhaseSaving, PhaseFilesCopied, PhaseTruncated, PhaseResumed}
	for _, phase := range want {
		select {
		case got := <-phases:
			if got != string(phase) {
				t.Fatalf("expected phase %s, got %s", phase, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing phase %s", phase)
		}
	}

	if f.coord.Active() {
		t.Fatalf("coordinator should be idle after the job")
	}
}

func TestPerformBackupNotRunning(t *testing.T) {
	f := newCoordinatorFixture(t, "world/level.dat:1")
	f.console.running = false

	if _, err := f.coord.PerformBackup(context.Background(), 0); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if len(f.console.Commands()) != 0 {
		t.Fatalf("no command may be sent when the server is stopped")
	}
	if _, err := os.Stat(f.coord.BackupsDir()); !os.IsNotExist(err) {
		t.Fatalf("backups directory must not be created, stat err %v", err)
	}
}

func TestPerformBackupMalformedManifestStillResumes(t *testing.T) {
	f := newCoordinatorFixture(t, "nothing useful here")

	_, err := f.coord.PerformBackup(context.Background(), 0)
	if !errors.Is(err, ErrManifestParse) {
		t.Fatalf("expected ErrManifestParse, got %v", err)
	}
	assertResumedLast(t, f.console.Commands())

	entries, _ := os.ReadDir(f.coord.BackupsDir())
	if len(entries) != 0 {
		t.Fatalf("failed backup left %d entries behind", len(entries))
	}

	records, err := f.store.List(StatusFailed, 0)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one failed record, got %d (%v)", len(records), err)
	}
}

func TestPerformBackupTimesOut(t *testing.T) {
	f := newCoordinatorFixture(t, "")

	start := time.Now()
	_, err := f.coord.PerformBackup(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, ErrBackupTimedOut) {
		t.Fatalf("expected ErrBackupTimedOut, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout was not honoured")
	}
	assertResumedLast(t, f.console.Commands())
}

func TestPerformBackupShortCopyFails(t *testing.T) {
	f := newCoordinatorFixture(t, "world/level.dat:512")
	f.writeWorldFile(t, "world/level.dat", []byte("too short"))

	if _, err := f.coord.PerformBackup(context.Background(), 0); !errors.Is(err, ErrTruncate) {
		t.Fatalf("expected ErrTruncate, got %v", err)
	}
	assertResumedLast(t, f.console.Commands())
}

func TestPerformBackupMissingFileFails(t *testing.T) {
	f := newCoordinatorFixture(t, "world/db/000001.ldb:10, world/level.dat:5")
	f.writeWorldFile(t, "world/level.dat", []byte("12345"))

	if _, err := f.coord.PerformBackup(context.Background(), 0); !errors.Is(err, ErrFileCopy) {
		t.Fatalf("expected ErrFileCopy, got %v", err)
	}
	assertResumedLast(t, f.console.Commands())

	entries, _ := os.ReadDir(f.coord.BackupsDir())
	if len(entries) != 0 {
		t.Fatalf("partial backup left behind")
	}
}

func TestPerformBackupRejectsConcurrentJob(t *testing.T) {
	f := newCoordinatorFixture(t, "")

	errCh := make(chan error, 1)
	go func() {
		_, err := f.coord.PerformBackup(context.Background(), 10*time.Second)
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !f.coord.Active() {
		if time.Now().After(deadline) {
			t.Fatalf("first job never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := f.coord.PerformBackup(context.Background(), 0); !errors.Is(err, ErrBackupInProgress) {
		t.Fatalf("expected ErrBackupInProgress, got %v", err)
	}

	f.coord.Abort()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("expected ErrAborted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("aborted job did not return")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.coord.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle after abort: %v", err)
	}
	assertResumedLast(t, f.console.Commands())
}

func TestPerformBackupFailsWhenServerStops(t *testing.T) {
	f := newCoordinatorFixture(t, "")

	go func() {
		for !f.coord.Active() {
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		f.bus.Publish(events.StoppedEvent{PID: 1, At: time.Now()})
	}()

	if _, err := f.coord.PerformBackup(context.Background(), 5*time.Second); !errors.Is(err, ErrServerStopped) {
		t.Fatalf("expected ErrServerStopped, got %v", err)
	}
}

func TestWaitIdleWithoutJob(t *testing.T) {
	f := newCoordinatorFixture(t, "")
	if err := f.coord.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle on an idle coordinator: %v", err)
	}
}
