package child

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Metrics is one resource sample of the workload.
type Metrics struct {
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	SampledAt  time.Time `json:"sampled_at"`
}

// Metrics samples CPU and memory usage of the workload via gopsutil. Fails
// when the process is gone or /proc is unreadable; callers treat that as a
// warning, not a crash signal.
func (c *Child) Metrics() (Metrics, error) {
	pid := c.PID()
	if pid == 0 {
		return Metrics{}, fmt.Errorf("child: no pid to sample")
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Metrics{}, fmt.Errorf("child: process handle: %w", err)
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return Metrics{}, fmt.Errorf("child: memory info: %w", err)
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		// Memory alone is still a usable sample.
		cpuPercent = 0
	}
	return Metrics{
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		SampledAt:  time.Now(),
	}, nil
}
