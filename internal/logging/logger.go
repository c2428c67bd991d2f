package logging

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/yourusername/bedrock-server-manager/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu        sync.RWMutex
	logger    *slog.Logger
	logCloser io.Closer
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Init builds the process logger and routes the standard log package through
// it. Calling Init again replaces the logger and closes the previous file.
func Init(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := parseLevel(cfg.Level)
	output, closer := buildOutput(cfg)

	options := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, options)
	} else {
		handler = slog.NewJSONHandler(output, options)
	}
	next := slog.New(handler)

	mu.Lock()
	previous := logCloser
	logger = next
	logCloser = closer
	mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	slog.SetDefault(next)
	log.SetFlags(0)
	log.SetOutput(bridge{})
	return next, nil
}

// L returns the configured logger, or one that discards everything before Init.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return discard
	}
	return logger
}

// Component returns a child logger tagged with the subsystem name.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

// Close closes the log file, if any.
func Close() error {
	mu.Lock()
	closer := logCloser
	logCloser = nil
	mu.Unlock()

	if closer != nil {
		return closer.Close()
	}
	return nil
}

// bridge turns `log.Printf("[Supervisor] Warning: ...")` lines into records
// with a component attribute and a level taken from the message prefix.
type bridge struct{}

func (bridge) Write(p []byte) (int, error) {
	component, level, msg := splitStdlibLine(string(p))
	if msg == "" {
		return len(p), nil
	}

	l := L()
	if component != "" {
		l = l.With("component", component)
	}
	l.Log(context.Background(), level, msg)
	return len(p), nil
}

func splitStdlibLine(line string) (component string, level slog.Level, msg string) {
	msg = strings.TrimSpace(line)
	level = slog.LevelInfo

	if strings.HasPrefix(msg, "[") {
		if end := strings.Index(msg, "]"); end > 0 {
			component = strings.ToLower(msg[1:end])
			msg = strings.TrimSpace(msg[end+1:])
		}
	}

	switch {
	case strings.HasPrefix(msg, "Warning:"):
		level = slog.LevelWarn
		msg = strings.TrimSpace(strings.TrimPrefix(msg, "Warning:"))
	case strings.HasPrefix(msg, "Error:"):
		level = slog.LevelError
		msg = strings.TrimSpace(strings.TrimPrefix(msg, "Error:"))
	}
	return component, level, msg
}

func buildOutput(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	if strings.TrimSpace(cfg.File) == "" {
		return os.Stdout, nil
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}
	return io.MultiWriter(os.Stdout, rotating), rotating
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
