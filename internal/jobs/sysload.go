package jobs

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/irjudson/lumina/internal/logger"
)

const (
	loadSampleInterval = 3 * time.Second

	// Shedding thresholds: above these the monitor recommends fewer
	// workers than configured.
	shedCPUPercent = 85.0
	shedMemPercent = 90.0

	// Emergency thresholds drop the recommendation to a single worker.
	emergencyCPUPercent = 95.0
	emergencyMemPercent = 95.0
)

// LoadMonitor samples system cpu/mem pressure and advises worker
// counts. Purely advisory: executors consult it between batch claims,
// and the recommendation never drops below one.
type LoadMonitor struct {
	interval time.Duration

	cpuPercent atomic.Uint64
	memPercent atomic.Uint64

	cancel  context.CancelFunc
	doneCh  chan struct{}
	started atomic.Bool
}

// NewLoadMonitor creates a load monitor with default thresholds.
func NewLoadMonitor() *LoadMonitor {
	return &LoadMonitor{interval: loadSampleInterval}
}

// Start launches the sampling goroutine. Idempotent.
func (m *LoadMonitor) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.doneCh = make(chan struct{})
	go m.sampleLoop(ctx)
}

// Stop halts sampling.
func (m *LoadMonitor) Stop() {
	if !m.started.CompareAndSwap(true, false) {
		return
	}
	m.cancel()
	<-m.doneCh
}

// Snapshot returns the most recent cpu and memory usage percentages.
// Zero until the first sample lands.
func (m *LoadMonitor) Snapshot() (cpuPct, memPct float64) {
	return math.Float64frombits(m.cpuPercent.Load()), math.Float64frombits(m.memPercent.Load())
}

// RecommendedWorkers advises how many of the configured workers to run
// under current load. Never below one.
func (m *LoadMonitor) RecommendedWorkers(configured int) int {
	if configured < 1 {
		configured = 1
	}
	cpuPct, memPct := m.Snapshot()
	switch {
	case cpuPct >= emergencyCPUPercent || memPct >= emergencyMemPercent:
		return 1
	case cpuPct > shedCPUPercent || memPct > shedMemPercent:
		half := configured / 2
		if half < 1 {
			half = 1
		}
		return half
	default:
		return configured
	}
}

func (m *LoadMonitor) sampleLoop(ctx context.Context) {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *LoadMonitor) sample(ctx context.Context) {
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		m.cpuPercent.Store(math.Float64bits(percents[0]))
	} else if err != nil {
		logger.Debug("load monitor cpu sample failed: %v", err)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.memPercent.Store(math.Float64bits(vm.UsedPercent))
	} else {
		logger.Debug("load monitor mem sample failed: %v", err)
	}
}
