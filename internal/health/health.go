// Package health reports brokerd's liveness/readiness and a process
// resource snapshot for the /health admin endpoint (spec A5).
package health

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Status is the broker's overall health classification.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// EntityCounts summarizes the entity store for the health report.
type EntityCounts struct {
	Queues        int `json:"queues"`
	Topics        int `json:"topics"`
	Subscriptions int `json:"subscriptions"`
}

// Report is the full body returned by the health endpoint.
type Report struct {
	Status         Status       `json:"status"`
	UptimeSeconds  float64      `json:"uptime_seconds"`
	Goroutines     int          `json:"goroutines"`
	CPUPercent     float64      `json:"cpu_percent"`
	MemoryRSSBytes uint64       `json:"memory_rss_bytes"`
	SystemMemUsed  float64      `json:"system_memory_used_percent"`
	Entities       EntityCounts `json:"entities"`
	CircuitBreaker string       `json:"circuit_breaker_state,omitempty"`
}

// Checker produces Reports and tracks process start time.
type Checker struct {
	startedAt time.Time
	proc      *process.Process
}

// New builds a Checker, capturing the current process handle.
func New() (*Checker, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Checker{startedAt: time.Now(), proc: proc}, nil
}

// CountsFunc supplies the live entity counts at report time.
type CountsFunc func() EntityCounts

// Check assembles a Report. breakerState, if non-empty, is surfaced
// verbatim (e.g. "open", "half-open", "closed").
func (c *Checker) Check(ctx context.Context, counts CountsFunc, breakerState string) Report {
	report := Report{
		Status:        StatusHealthy,
		UptimeSeconds: time.Since(c.startedAt).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if counts != nil {
		report.Entities = counts()
	}
	report.CircuitBreaker = breakerState

	if pct, err := c.proc.CPUPercentWithContext(ctx); err == nil {
		report.CPUPercent = pct
	}
	if info, err := c.proc.MemoryInfoWithContext(ctx); err == nil && info != nil {
		report.MemoryRSSBytes = info.RSS
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		report.SystemMemUsed = vm.UsedPercent
	}

	if cpuTimes, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuTimes) > 0 && cpuTimes[0] > 95 {
		report.Status = StatusDegraded
	}
	if breakerState == "open" {
		report.Status = StatusDegraded
	}
	return report
}
