package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeConsoleLine uint32 = iota + 1
	TypeLog
	TypeLifecycle
	TypeStopped
	TypeBackup
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Output streams of the supervised process.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// ConsoleLine is one line of server output, in the order the process emitted it.
type ConsoleLine struct {
	Text       string    `json:"text"`
	Stream     string    `json:"stream"`
	ReceivedAt time.Time `json:"received_at"`
}

// Type returns the event type identifier for ConsoleLine.
func (e ConsoleLine) Type() uint32 { return TypeConsoleLine }

// LogEvent is anything the supervisor wants shown to log subscribers:
// relayed console output, sent commands and its own status messages.
type LogEvent struct {
	Source  string    `json:"source"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`

	// NewSession marks the first event of a server run; every later line of
	// that run follows it on the same stream.
	NewSession bool `json:"new_session,omitempty"`
}

// Type returns the event type identifier for LogEvent.
func (e LogEvent) Type() uint32 { return TypeLog }

// LifecycleEvent records a supervisor state transition.
type LifecycleEvent struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	PID  int       `json:"pid,omitempty"`
	At   time.Time `json:"at"`
}

// Type returns the event type identifier for LifecycleEvent.
func (e LifecycleEvent) Type() uint32 { return TypeLifecycle }

// StoppedEvent is published once per process exit, voluntary or forced.
type StoppedEvent struct {
	PID      int       `json:"pid"`
	Killed   bool      `json:"killed"`
	ExitCode int       `json:"exit_code"`
	At       time.Time `json:"at"`
}

// Type returns the event type identifier for StoppedEvent.
func (e StoppedEvent) Type() uint32 { return TypeStopped }

// BackupEvent reports backup job progress.
type BackupEvent struct {
	JobID int64     `json:"job_id"`
	Phase string    `json:"phase"`
	Path  string    `json:"path,omitempty"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// Type returns the event type identifier for BackupEvent.
func (e BackupEvent) Type() uint32 { return TypeBackup }
