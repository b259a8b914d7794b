package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/flashwear/pkg/metrics"
)

type storeMetrics struct {
	operations     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	bytes          *prometheus.CounterVec
	journalAppends *prometheus.CounterVec
	journalEntries prometheus.Gauge
}

// NewStoreMetrics creates the persistence collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStoreMetrics() *storeMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &storeMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashwear_snapshot_operations_total",
				Help: "Snapshot store operations by store type, operation and status",
			},
			[]string{"store", "operation", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "flashwear_snapshot_operation_duration_milliseconds",
				Help: "Duration of snapshot store operations in milliseconds",
				Buckets: []float64{
					1,     // local file, memory
					10,    // badger, sqlite
					50,    // postgres
					100,   // s3, same region
					500,   // s3, cross region
					1000,  // 1s
					5000,  // 5s
					30000, // 30s
				},
			},
			[]string{"store", "operation"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashwear_snapshot_bytes_total",
				Help: "Encoded snapshot bytes moved by store type and operation",
			},
			[]string{"store", "operation"},
		),
		journalAppends: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashwear_journal_appends_total",
				Help: "Bad-block journal appends by status",
			},
			[]string{"status"},
		),
		journalEntries: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "flashwear_journal_entries",
			Help: "Bad-block records in the journal since the last snapshot",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *storeMetrics) ObservePersist(storeType, operation string, bytes int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(storeType, operation, status(err)).Inc()
	m.duration.WithLabelValues(storeType, operation).Observe(float64(d.Microseconds()) / 1000)
	if err == nil && bytes > 0 {
		m.bytes.WithLabelValues(storeType, operation).Add(float64(bytes))
	}
}

func (m *storeMetrics) RecordJournalAppend(err error) {
	if m == nil {
		return
	}
	m.journalAppends.WithLabelValues(status(err)).Inc()
}

func (m *storeMetrics) SetJournalEntries(n int) {
	if m == nil {
		return
	}
	m.journalEntries.Set(float64(n))
}

var _ metrics.StoreMetrics = (*storeMetrics)(nil)
