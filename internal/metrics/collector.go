package metrics

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/yourusername/bedrock-server-manager/internal/events"
	"github.com/yourusername/bedrock-server-manager/internal/server"
)

// StatsSource is the part of the supervisor the collector samples
type StatsSource interface {
	Stats(ctx context.Context) (*server.Stats, error)
}

// Collector samples process stats on an interval and turns bus events into
// counters. Samples are also kept in the server_metrics table when a
// database is given.
type Collector struct {
	source        StatsSource
	db            *sql.DB
	interval      time.Duration
	retentionDays int

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu           sync.Mutex
	backupStarts map[int64]time.Time
	lastCleanup  time.Time
	now          func() time.Time
}

// NewCollector creates a collector. db may be nil.
func NewCollector(source StatsSource, db *sql.DB, interval time.Duration, retentionDays int) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:        source,
		db:            db,
		interval:      interval,
		retentionDays: retentionDays,
		stopCh:        make(chan struct{}),
		backupStarts:  make(map[int64]time.Time),
		now:           time.Now,
	}
}

// Attach subscribes the collector to bus events. The returned function
// unsubscribes.
func (c *Collector) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.LifecycleEvent) {
			RecordStateTransition(e.From, e.To)
			SetServerUp(e.To == string(server.StateRunning) || e.To == string(server.StateStopping))
		}),
		bus.Subscribe(func(e events.StoppedEvent) {
			IncExit(e.Killed)
			ResetProcessStats()
		}),
		bus.Subscribe(func(e events.ConsoleLine) {
			IncConsoleLine(e.Stream)
		}),
		bus.Subscribe(c.onBackup),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (c *Collector) onBackup(e events.BackupEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Phase {
	case "hold_requested":
		c.backupStarts[e.JobID] = e.At
		SetBackupActive(true)
	case "resumed", "failed":
		var seconds float64
		if started, ok := c.backupStarts[e.JobID]; ok {
			seconds = e.At.Sub(started).Seconds()
			delete(c.backupStarts, e.JobID)
		}
		result := "success"
		if e.Phase == "failed" {
			result = "failure"
		}
		ObserveBackup(result, seconds)
		SetBackupActive(len(c.backupStarts) > 0)
	}
}

// Start begins sampling
func (c *Collector) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts sampling and waits for the sampler to exit
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	now := c.now()
	stats, err := c.source.Stats(ctx)
	if err != nil {
		if !errors.Is(err, server.ErrNotRunning) {
			log.Printf("[Metrics] Failed to sample server stats: %v", err)
		}
		ResetProcessStats()
		c.cleanupOldSamples(now)
		return
	}

	SetProcessStats(stats.CPUPercent, stats.MemoryBytes, stats.UptimeSeconds)
	c.recordSample(now, stats)
	c.cleanupOldSamples(now)
}

func (c *Collector) recordSample(now time.Time, stats *server.Stats) {
	if c.db == nil {
		return
	}
	_, err := c.db.Exec(`
		INSERT INTO server_metrics (timestamp, pid, cpu_percent, memory_bytes, uptime_seconds)
		VALUES (?, ?, ?, ?, ?)
	`, now, stats.PID, stats.CPUPercent, int64(stats.MemoryBytes), int64(stats.UptimeSeconds))
	if err != nil {
		log.Printf("[Metrics] Failed to record sample: %v", err)
	}
}

func (c *Collector) cleanupOldSamples(now time.Time) {
	if c.db == nil || c.retentionDays <= 0 {
		return
	}
	if !c.lastCleanup.IsZero() && now.Sub(c.lastCleanup) < 6*time.Hour {
		return
	}

	cutoff := now.Add(-time.Duration(c.retentionDays) * 24 * time.Hour)
	if _, err := c.db.Exec("DELETE FROM server_metrics WHERE timestamp < ?", cutoff); err != nil {
		log.Printf("[Metrics] Failed to prune samples: %v", err)
	}
	c.lastCleanup = now
}

// Sample is one stored resource reading
type Sample struct {
	Timestamp     time.Time `json:"timestamp"`
	PID           int       `json:"pid"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryBytes   int64     `json:"memory_bytes"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}

// RecentSamples returns stored samples newer than since, oldest first
func (c *Collector) RecentSamples(since time.Time, limit int) ([]Sample, error) {
	if c.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 500
	}

	rows, err := c.db.Query(`
		SELECT timestamp, pid, cpu_percent, memory_bytes, uptime_seconds
		FROM server_metrics
		WHERE timestamp >= ?
		ORDER BY timestamp ASC
		LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.Timestamp, &s.PID, &s.CPUPercent, &s.MemoryBytes, &s.UptimeSeconds); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
