package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bedrock",
			Subsystem: "server",
			Name:      "state_transitions_total",
			Help:      "Number of supervisor state transitions.",
		}, []string{"from", "to"},
	)
	serverUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bedrock",
			Subsystem: "server",
			Name:      "up",
			Help:      "1 while the server process is running.",
		},
	)
	serverExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bedrock",
			Subsystem: "server",
			Name:      "exits_total",
			Help:      "Number of process exits, split by whether the exit was forced.",
		}, []string{"killed"},
	)
	consoleLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bedrock",
			Subsystem: "console",
			Name:      "lines_total",
			Help:      "Console lines relayed from the server.",
		}, []string{"stream"},
	)
	processCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bedrock",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage of the server process, percent of one core.",
		},
	)
	processMemory = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bedrock",
			Subsystem: "process",
			Name:      "memory_bytes",
			Help:      "Resident memory of the server process.",
		},
	)
	processUptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bedrock",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Seconds since the server process was started.",
		},
	)
	backupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bedrock",
			Subsystem: "backup",
			Name:      "jobs_total",
			Help:      "Backup jobs by outcome.",
		}, []string{"result"},
	)
	backupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "bedrock",
			Subsystem: "backup",
			Name:      "duration_seconds",
			Help:      "Time from save hold to save resume.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)
	backupActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bedrock",
			Subsystem: "backup",
			Name:      "active",
			Help:      "1 while a backup job holds saves.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// Calls after a successful registration are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		stateTransitions, serverUp, serverExits, consoleLines,
		processCPU, processMemory, processUptime,
		backupsTotal, backupDuration, backupActive,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

func SetServerUp(up bool) {
	if regOK.Load() {
		serverUp.Set(boolToFloat(up))
	}
}

func IncExit(killed bool) {
	if regOK.Load() {
		label := "false"
		if killed {
			label = "true"
		}
		serverExits.WithLabelValues(label).Inc()
	}
}

func IncConsoleLine(stream string) {
	if regOK.Load() {
		consoleLines.WithLabelValues(stream).Inc()
	}
}

func SetProcessStats(cpuPercent float64, memoryBytes uint64, uptimeSeconds float64) {
	if regOK.Load() {
		processCPU.Set(cpuPercent)
		processMemory.Set(float64(memoryBytes))
		processUptime.Set(uptimeSeconds)
	}
}

// ResetProcessStats zeroes the process gauges after an exit.
func ResetProcessStats() {
	SetProcessStats(0, 0, 0)
}

func SetBackupActive(active bool) {
	if regOK.Load() {
		backupActive.Set(boolToFloat(active))
	}
}

func ObserveBackup(result string, seconds float64) {
	if regOK.Load() {
		backupsTotal.WithLabelValues(result).Inc()
		if seconds > 0 {
			backupDuration.Observe(seconds)
		}
	}
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
