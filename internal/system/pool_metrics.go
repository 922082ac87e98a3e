package system

import (
	"time"

	coresys "github.com/l1jgo/spawnpool/internal/core/system"
	"github.com/l1jgo/spawnpool/internal/metrics"
	"github.com/l1jgo/spawnpool/internal/pool"
	"github.com/l1jgo/spawnpool/internal/spawn"
)

// PoolMetricsSystem refreshes the free/active gauges of every pool.
// Phase PostUpdate. Gauges are refreshed every interval ticks.
type PoolMetricsSystem struct {
	registry  *spawn.Registry
	metrics   *metrics.PoolMetrics
	interval  int
	tickCount int
}

func NewPoolMetricsSystem(reg *spawn.Registry, m *metrics.PoolMetrics, interval int) *PoolMetricsSystem {
	if interval < 1 {
		interval = 1
	}
	return &PoolMetricsSystem{registry: reg, metrics: m, interval: interval}
}

func (s *PoolMetricsSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *PoolMetricsSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount%s.interval != 0 {
		return
	}
	s.registry.EachPool(func(id pool.PrefabID, p *pool.InstancePool) {
		s.metrics.ObservePool(id, p.Stats())
	})
}
