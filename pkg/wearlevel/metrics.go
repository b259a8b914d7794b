package wearlevel

import "time"

// Metrics receives engine instrumentation. A nil Metrics disables it with
// zero overhead; see pkg/metrics for the Prometheus implementation.
type Metrics interface {
	// ObserveAllocation records an Allocate outcome ("ok", "exhausted",
	// "rejected"), the number of lost races and the latency.
	ObserveAllocation(outcome string, lostRaces int, d time.Duration)

	// RecordCompletion records a finished program cycle.
	RecordCompletion()

	// RecordBadBlock records a block retirement by reason.
	RecordBadBlock(reason string)

	// RecordRelocation records a relocation attempt. kind is "static" or
	// "dynamic"; outcome is "ok", "deferred" or "failed".
	RecordRelocation(kind, outcome string)

	// ObservePhase records the duration of one maintenance phase.
	ObservePhase(phase string, d time.Duration, err error)

	// SetStats publishes the gauges derived from a Stats snapshot.
	SetStats(s Stats)
}
