package wearlevel

import (
	"fmt"
	"time"
)

// Policy holds the tunables of the engine. It is copied at construction
// and never changes afterwards.
type Policy struct {
	// MaxEraseCount is the rated endurance of a block. Blocks at or above it
	// are never allocated or used as relocation targets, and empty ones are
	// retired by the scan. Zero disables the limit.
	MaxEraseCount uint64

	// StaticIdleThreshold is how long committed data must stay untouched
	// before its block is classified Static.
	StaticIdleThreshold time.Duration

	// RelocateErasesThreshold is the erase count above which static or hot
	// data is moved to a less worn block.
	RelocateErasesThreshold uint64

	// WriteFrequencyThreshold marks a block as hot for scoring and
	// rebalancing.
	WriteFrequencyThreshold float64

	// MaxBadBlockRatio is the bad/total ratio above which the device is
	// reported degraded.
	MaxBadBlockRatio float64

	// RecencyWindow is how recently a block must have been touched to get
	// the recency penalty when scoring.
	RecencyWindow time.Duration

	// FrequencyHalfLife controls how fast WriteFrequency decays.
	FrequencyHalfLife time.Duration

	// AllocateRetries bounds how many lost races Allocate tolerates before
	// falling back to a linear scan.
	AllocateRetries int
}

// DefaultPolicy returns conservative defaults for SLC/MLC NAND.
func DefaultPolicy() Policy {
	return Policy{
		MaxEraseCount:           100_000,
		StaticIdleThreshold:     24 * time.Hour,
		RelocateErasesThreshold: 1_000,
		WriteFrequencyThreshold: 8,
		MaxBadBlockRatio:        0.02,
		RecencyWindow:           5 * time.Second,
		FrequencyHalfLife:       time.Hour,
		AllocateRetries:         8,
	}
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.MaxBadBlockRatio < 0 || p.MaxBadBlockRatio > 1 {
		return fmt.Errorf("max bad block ratio must be within [0,1], got %v", p.MaxBadBlockRatio)
	}
	if p.WriteFrequencyThreshold < 0 {
		return fmt.Errorf("write frequency threshold must not be negative")
	}
	if p.StaticIdleThreshold < 0 || p.RecencyWindow < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if p.FrequencyHalfLife <= 0 {
		return fmt.Errorf("frequency half-life must be positive")
	}
	if p.AllocateRetries < 1 {
		return fmt.Errorf("allocate retries must be at least 1")
	}
	if p.MaxEraseCount > 0 && p.RelocateErasesThreshold >= p.MaxEraseCount {
		return fmt.Errorf("relocate threshold (%d) must be below max erase count (%d)",
			p.RelocateErasesThreshold, p.MaxEraseCount)
	}
	return nil
}

// wornOut reports whether b has reached the rated endurance.
func (p Policy) wornOut(b FlashBlock) bool {
	return p.MaxEraseCount > 0 && b.EraseCount >= p.MaxEraseCount
}
