package server

import (
	"errors"
	"time"
)

// State is the supervisor lifecycle state
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateKilled   State = "killed"
)

// Active reports whether a process exists in this state.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// StopResult is the outcome of a stop request
type StopResult string

const (
	StopNotStarted StopResult = "not_started"
	StopStopped    StopResult = "stopped"
	StopKilled     StopResult = "killed"
)

var (
	ErrAlreadyRunning = errors.New("server is already running")
	ErrNotRunning     = errors.New("server is not running")
	ErrNotStarted     = errors.New("server was not started")
	ErrSpawnFailure   = errors.New("failed to spawn server process")
)

// Status is a point-in-time view of the supervisor
type Status struct {
	State        State      `json:"state"`
	PID          int        `json:"pid,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	LastStop     StopResult `json:"last_stop,omitempty"`
	BackupActive bool       `json:"backup_active"`
}

// Stats are resource figures for the running process
type Stats struct {
	PID              int           `json:"pid"`
	CPUPercent       float64       `json:"cpu_percent"`
	MemoryBytes      uint64        `json:"memory_bytes"`
	HostLogicalCores int           `json:"host_logical_cores"`
	Uptime           time.Duration `json:"-"`
	UptimeSeconds    float64       `json:"uptime_seconds"`
}

// StopWarning is one countdown message sent before a gentle stop
type StopWarning struct {
	Message string
	Delay   time.Duration // wait after sending the message
}

// stopWarnings is fixed; the delays add up to 30 seconds.
var stopWarnings = []StopWarning{
	{Message: "Shutting down in 30 Seconds..", Delay: 20 * time.Second},
	{Message: "Shutting down in 10 Seconds..", Delay: 5 * time.Second},
	{Message: "Shutting down in 5 Seconds..", Delay: time.Second},
	{Message: "Shutting down in 4 Seconds..", Delay: time.Second},
	{Message: "Shutting down in 3 Seconds..", Delay: time.Second},
	{Message: "Shutting down in 2 Seconds..", Delay: time.Second},
	{Message: "Shutting down in 1 Seconds..", Delay: time.Second},
	{Message: "Shutting down!"},
}
