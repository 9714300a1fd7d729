package jobs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecommendedWorkers(t *testing.T) {
	tests := []struct {
		name       string
		cpu        float64
		mem        float64
		configured int
		want       int
	}{
		{"idle system keeps configured", 10, 20, 4, 4},
		{"cpu pressure halves workers", 88, 20, 4, 2},
		{"memory pressure halves workers", 10, 92, 4, 2},
		{"halving never drops below one", 88, 20, 1, 1},
		{"cpu emergency forces single worker", 96, 20, 8, 1},
		{"memory emergency forces single worker", 10, 97, 8, 1},
		{"zero configured treated as one", 50, 50, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewLoadMonitor()
			m.cpuPercent.Store(math.Float64bits(tt.cpu))
			m.memPercent.Store(math.Float64bits(tt.mem))
			assert.Equal(t, tt.want, m.RecommendedWorkers(tt.configured))
		})
	}
}

func TestLoadMonitorStartStopIdempotent(t *testing.T) {
	m := NewLoadMonitor()
	m.Start()
	m.Start()
	m.Stop()
	m.Stop()

	cpu, mem := m.Snapshot()
	assert.GreaterOrEqual(t, cpu, 0.0)
	assert.GreaterOrEqual(t, mem, 0.0)
}
