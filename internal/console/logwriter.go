package console

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yourusername/bedrock-server-manager/internal/events"
)

// LogWriter persists supervisor log events to <serverDir>/logs/log-<epoch millis>.txt.
// Files are opened lazily on the first write, and each server run gets its own.
type LogWriter struct {
	logDir  string
	logPath string
	file    *os.File
	mu      sync.Mutex
	now     func() time.Time
}

// NewLogWriter creates a log writer. No file exists until something is written.
func NewLogWriter(logDir string) (*LogWriter, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &LogWriter{
		logDir: logDir,
		now:    time.Now,
	}, nil
}

// Path returns the file currently being written, or "" when none is open.
func (lw *LogWriter) Path() string {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.logPath
}

// WriteLine writes a line to the log file, opening one if needed
func (lw *LogWriter) WriteLine(line string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.file == nil {
		if err := lw.openLocked(); err != nil {
			return err
		}
	}

	timestamp := lw.now().Format("2006-01-02 15:04:05")
	if _, err := fmt.Fprintf(lw.file, "[%s] %s\n", timestamp, line); err != nil {
		return fmt.Errorf("failed to write log: %w", err)
	}

	return nil
}

// Rotate closes the current file. The next write opens a fresh
// log-<epoch millis>.txt.
func (lw *LogWriter) Rotate() error {
	return lw.Close()
}

// Close closes the log file
func (lw *LogWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.file == nil {
		return nil
	}
	err := lw.file.Close()
	lw.file = nil
	lw.logPath = ""
	return err
}

// Attach writes every LogEvent on bus, starting a new file at each server run.
func (lw *LogWriter) Attach(bus *events.Bus) func() {
	return bus.Subscribe(func(e events.LogEvent) {
		if e.NewSession {
			if err := lw.Rotate(); err != nil {
				log.Printf("[LogWriter] Failed to rotate log: %v", err)
			}
		}
		if err := lw.WriteLine(e.Message); err != nil {
			log.Printf("[LogWriter] %v", err)
		}
	})
}

func (lw *LogWriter) openLocked() error {
	path := filepath.Join(lw.logDir, fmt.Sprintf("log-%d.txt", lw.now().UnixMilli()))
	// Two runs inside the same millisecond would share a name; append keeps both.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	lw.file = file
	lw.logPath = path
	return nil
}
