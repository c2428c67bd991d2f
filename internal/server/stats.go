package server

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

// collectStats samples OS metrics for pid. CPU percent is averaged over the
// life of the process.
func collectStats(ctx context.Context, pid int, startedAt time.Time) (*Stats, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect process %d: %w", pid, err)
	}

	cpuPercent, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		cpuPercent = 0
	}

	var memoryBytes uint64
	if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil {
		memoryBytes = memInfo.RSS
	}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cores <= 0 {
		cores = 1
	}

	uptime := time.Since(startedAt)
	return &Stats{
		PID:              pid,
		CPUPercent:       cpuPercent,
		MemoryBytes:      memoryBytes,
		HostLogicalCores: cores,
		Uptime:           uptime,
		UptimeSeconds:    uptime.Seconds(),
	}, nil
}
