package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/l1jgo/spawnpool/internal/pool"
)

const namespace = "spawnpool"

// PoolMetrics exports instance pool activity per prefab. Implements
// pool.Observer.
type PoolMetrics struct {
	acquires  *prometheus.CounterVec
	misses    *prometheus.CounterVec
	reclaims  *prometheus.CounterVec
	creates   *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	free      *prometheus.GaugeVec
	active    *prometheus.GaugeVec
}

// NewPoolMetrics registers the pool collectors on reg.
func NewPoolMetrics(reg prometheus.Registerer) *PoolMetrics {
	f := promauto.With(reg)
	return &PoolMetrics{
		acquires: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquires_total",
			Help:      "Total number of instances handed out by a pool",
		}, []string{"prefab"}),
		misses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "misses_total",
			Help:      "Total number of acquires that found the free list empty",
		}, []string{"prefab"}),
		reclaims: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "reclaims_total",
			Help:      "Total number of instances returned to a pool",
		}, []string{"prefab"}),
		creates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "instantiations_total",
			Help:      "Total number of instances created by a pool (prewarm or growth)",
		}, []string{"prefab"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "spawn",
			Name:      "unpooled_total",
			Help:      "Total number of spawns that bypassed pooling",
		}, []string{"prefab"}),
		free: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "free_instances",
			Help:      "Inactive instances currently held by a pool",
		}, []string{"prefab"}),
		active: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "active_instances",
			Help:      "Instances handed out by a pool and not yet reclaimed",
		}, []string{"prefab"}),
	}
}

func label(id pool.PrefabID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// RecordAcquire counts an acquire; hit is false when the pool had to grow.
func (m *PoolMetrics) RecordAcquire(id pool.PrefabID, hit bool) {
	l := label(id)
	m.acquires.WithLabelValues(l).Inc()
	if !hit {
		m.misses.WithLabelValues(l).Inc()
	}
}

func (m *PoolMetrics) RecordReclaim(id pool.PrefabID) {
	m.reclaims.WithLabelValues(label(id)).Inc()
}

func (m *PoolMetrics) RecordCreate(id pool.PrefabID) {
	m.creates.WithLabelValues(label(id)).Inc()
}

// RecordFallback counts a spawn served by plain instantiation.
func (m *PoolMetrics) RecordFallback(id pool.PrefabID) {
	m.fallbacks.WithLabelValues(label(id)).Inc()
}

// ObservePool refreshes the free/active gauges from a pool snapshot.
func (m *PoolMetrics) ObservePool(id pool.PrefabID, s pool.Stats) {
	l := label(id)
	m.free.WithLabelValues(l).Set(float64(s.Free))
	m.active.WithLabelValues(l).Set(float64(s.Active))
}
