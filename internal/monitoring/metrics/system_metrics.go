package metrics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/internal/monitoring/health"
	"github.com/theblitlabs/parity-flsim/pkg/logger"
)

// memoryWarnPercent is the host memory usage above which the simulation is
// reported as degraded
const memoryWarnPercent = 90.0

// SystemMetricsCollector samples host memory and CPU usage, caching the
// values for collectInterval
type SystemMetricsCollector struct {
	mu              sync.Mutex
	lastCollectTime time.Time
	cachedCPU       float64
	cachedMemory    int64
	cachedMemPct    float64
	collectInterval time.Duration
}

var _ ports.MetricsProvider = (*SystemMetricsCollector)(nil)

func NewSystemMetricsCollector(collectInterval time.Duration) *SystemMetricsCollector {
	if collectInterval == 0 {
		collectInterval = 5 * time.Second
	}
	return &SystemMetricsCollector{
		collectInterval: collectInterval,
	}
}

// GetSystemMetrics returns the used memory in bytes and the CPU usage in
// percent
func (c *SystemMetricsCollector) GetSystemMetrics() (memory int64, cpu float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastCollectTime) > c.collectInterval {
		c.collectMetrics()
	}
	return c.cachedMemory, c.cachedCPU
}

func (c *SystemMetricsCollector) collectMetrics() {
	log := logger.WithComponent("metrics")

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		log.Error().Err(err).Msg("Failed to get memory info")
		c.cachedMemory = 0
		c.cachedMemPct = 0
	} else {
		c.cachedMemory = int64(memInfo.Used)
		c.cachedMemPct = memInfo.UsedPercent
	}

	// zero interval compares against the previous call instead of sleeping
	cpuPercent, err := cpu.Percent(0, false)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get CPU info")
		c.cachedCPU = 0.0
	} else if len(cpuPercent) > 0 {
		c.cachedCPU = cpuPercent[0]
	}

	c.lastCollectTime = time.Now()

	log.Debug().
		Int64("memory_bytes", c.cachedMemory).
		Float64("cpu_percent", c.cachedCPU).
		Str("os", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("System metrics collected")
}

// Check reports host usage for the health checker
func (c *SystemMetricsCollector) Check(ctx context.Context) (string, error) {
	memory, cpuPct := c.GetSystemMetrics()

	c.mu.Lock()
	memPct := c.cachedMemPct
	c.mu.Unlock()

	msg := fmt.Sprintf("memory %.1f MiB (%.1f%%), cpu %.1f%%, %d goroutines",
		float64(memory)/(1<<20), memPct, cpuPct, runtime.NumGoroutine())
	if memPct > memoryWarnPercent {
		return "", fmt.Errorf("%s: %w", msg, health.ErrDegraded)
	}
	return msg, nil
}
