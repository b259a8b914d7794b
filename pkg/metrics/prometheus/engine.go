// Package prometheus implements the metrics interfaces on client_golang.
// Importing it (usually for side effects) links the constructors into
// pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/flashwear/pkg/metrics"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

func init() {
	metrics.RegisterEngineMetricsConstructor(func() wearlevel.Metrics {
		if m := NewEngineMetrics(); m != nil {
			return m
		}
		return nil
	})
	metrics.RegisterStoreMetricsConstructor(func() metrics.StoreMetrics {
		if m := NewStoreMetrics(); m != nil {
			return m
		}
		return nil
	})
}

type engineMetrics struct {
	allocations     *prometheus.CounterVec
	allocationRaces prometheus.Counter
	allocationTime  prometheus.Histogram
	completions     prometheus.Counter
	badBlocks       *prometheus.CounterVec
	relocations     *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	phaseErrors     *prometheus.CounterVec
	blocksByState   *prometheus.GaugeVec
	badRatio        prometheus.Gauge
	degraded        prometheus.Gauge
	usable          prometheus.Gauge
	eraseCount      *prometheus.GaugeVec
	lastMaintenance prometheus.Gauge
}

// NewEngineMetrics creates the engine collectors on the shared registry.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewEngineMetrics() *engineMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &engineMetrics{
		allocations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashwear_allocations_total",
				Help: "Block allocations by outcome",
			},
			[]string{"outcome"}, // "ok", "exhausted", "rejected"
		),
		allocationRaces: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "flashwear_allocation_races_total",
			Help: "Reservations lost to a concurrent allocator",
		}),
		allocationTime: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "flashwear_allocation_duration_seconds",
			Help:    "Time spent choosing and reserving a block",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		completions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "flashwear_program_cycles_total",
			Help: "Completed erase and program cycles",
		}),
		badBlocks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashwear_bad_blocks_total",
				Help: "Blocks retired by reason",
			},
			[]string{"reason"},
		),
		relocations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashwear_relocations_total",
				Help: "Relocation attempts by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		phaseDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flashwear_maintenance_phase_duration_seconds",
				Help:    "Duration of maintenance phases",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
			},
			[]string{"phase"},
		),
		phaseErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashwear_maintenance_phase_errors_total",
				Help: "Maintenance phases that ended in error",
			},
			[]string{"phase"},
		),
		blocksByState: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flashwear_blocks",
				Help: "Blocks per lifecycle state",
			},
			[]string{"state"},
		),
		badRatio: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "flashwear_bad_block_ratio",
			Help: "Fraction of blocks retired as bad",
		}),
		degraded: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "flashwear_degraded",
			Help: "1 when the bad-block ratio exceeds the configured maximum",
		}),
		usable: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "flashwear_usable_blocks",
			Help: "Blocks not retired as bad",
		}),
		eraseCount: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flashwear_erase_count",
				Help: "Erase count distribution across non-bad blocks",
			},
			[]string{"stat"}, // "min", "max", "mean"
		),
		lastMaintenance: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "flashwear_last_maintenance_timestamp_seconds",
			Help: "Unix time of the last completed maintenance cycle",
		}),
	}
}

func (m *engineMetrics) ObserveAllocation(outcome string, lostRaces int, d time.Duration) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(outcome).Inc()
	if lostRaces > 0 {
		m.allocationRaces.Add(float64(lostRaces))
	}
	m.allocationTime.Observe(d.Seconds())
}

func (m *engineMetrics) RecordCompletion() {
	if m == nil {
		return
	}
	m.completions.Inc()
}

func (m *engineMetrics) RecordBadBlock(reason string) {
	if m == nil {
		return
	}
	m.badBlocks.WithLabelValues(reason).Inc()
}

func (m *engineMetrics) RecordRelocation(kind, outcome string) {
	if m == nil {
		return
	}
	m.relocations.WithLabelValues(kind, outcome).Inc()
}

func (m *engineMetrics) ObservePhase(phase string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
	if err != nil {
		m.phaseErrors.WithLabelValues(phase).Inc()
	}
}

func (m *engineMetrics) SetStats(s wearlevel.Stats) {
	if m == nil {
		return
	}
	for _, st := range wearlevel.AllStates {
		m.blocksByState.WithLabelValues(st.String()).Set(float64(s.Count(st)))
	}
	m.badRatio.Set(s.BadRatio)
	if s.Degraded {
		m.degraded.Set(1)
	} else {
		m.degraded.Set(0)
	}
	m.usable.Set(float64(s.Usable))
	m.eraseCount.WithLabelValues("min").Set(float64(s.MinEraseCount))
	m.eraseCount.WithLabelValues("max").Set(float64(s.MaxEraseCount))
	m.eraseCount.WithLabelValues("mean").Set(s.MeanEraseCount)
	if !s.LastMaintenance.IsZero() {
		m.lastMaintenance.Set(float64(s.LastMaintenance.Unix()))
	}
}

var _ wearlevel.Metrics = (*engineMetrics)(nil)
