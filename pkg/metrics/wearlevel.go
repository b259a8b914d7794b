package metrics

import (
	"time"

	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// StoreMetrics instruments snapshot persistence and the bad-block journal.
type StoreMetrics interface {
	// ObservePersist records one snapshot save or load against a store type.
	ObservePersist(storeType, operation string, bytes int, d time.Duration, err error)

	// RecordJournalAppend records a bad-block journal append.
	RecordJournalAppend(err error)

	// SetJournalEntries publishes the number of records in the journal.
	SetJournalEntries(n int)
}

var (
	newPrometheusEngineMetrics func() wearlevel.Metrics
	newPrometheusStoreMetrics  func() StoreMetrics
)

// RegisterEngineMetricsConstructor is called by pkg/metrics/prometheus at init.
func RegisterEngineMetricsConstructor(constructor func() wearlevel.Metrics) {
	newPrometheusEngineMetrics = constructor
}

// RegisterStoreMetricsConstructor is called by pkg/metrics/prometheus at init.
func RegisterStoreMetricsConstructor(constructor func() StoreMetrics) {
	newPrometheusStoreMetrics = constructor
}

// NewEngineMetrics returns the engine instrumentation, or nil when metrics
// are disabled or no implementation is linked in.
//
//	metrics.InitRegistry()
//	engine, err := wearlevel.New(policy, blocks, dev, wearlevel.WithMetrics(metrics.NewEngineMetrics()))
func NewEngineMetrics() wearlevel.Metrics {
	if !IsEnabled() || newPrometheusEngineMetrics == nil {
		return nil
	}
	return newPrometheusEngineMetrics()
}

// NewStoreMetrics returns the persistence instrumentation, or nil.
func NewStoreMetrics() StoreMetrics {
	if !IsEnabled() || newPrometheusStoreMetrics == nil {
		return nil
	}
	return newPrometheusStoreMetrics()
}

// ObservePersist is a nil-safe helper around StoreMetrics.ObservePersist.
func ObservePersist(m StoreMetrics, storeType, operation string, bytes int, d time.Duration, err error) {
	if m != nil {
		m.ObservePersist(storeType, operation, bytes, d, err)
	}
}

// RecordJournalAppend is a nil-safe helper.
func RecordJournalAppend(m StoreMetrics, err error) {
	if m != nil {
		m.RecordJournalAppend(err)
	}
}

// SetJournalEntries is a nil-safe helper.
func SetJournalEntries(m StoreMetrics, n int) {
	if m != nil {
		m.SetJournalEntries(n)
	}
}
