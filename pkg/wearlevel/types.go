// Package wearlevel decides which physical erase block receives each write,
// tracks per-block wear, relocates cold data off lightly worn blocks and
// permanently retires blocks that fail erase or verify.
//
// The Engine is the single entry point. It owns a fixed-size Table of
// FlashBlock records and sequences three collaborators over it:
//
//   - BadBlockManager: scans, marks and queries block health
//   - DynamicLeveler: picks the best Free block for an incoming write
//   - StaticLeveler: classifies idle data and relocates it
//
// Every state change is a compare-and-set transition on a single block, so
// writers and the maintenance task never block each other for longer than
// one record update.
package wearlevel

import (
	"fmt"
	"time"
)

// State is the lifecycle state of an erase block.
type State uint8

const (
	// StateFree blocks are eligible for allocation. A Free block may still
	// hold committed data (see FlashBlock.HoldsData).
	StateFree State = iota

	// StateAllocated blocks are handed to a writer and awaiting Complete.
	StateAllocated

	// StateStatic blocks hold idle data and are excluded from allocation
	// until relocation moves the data elsewhere.
	StateStatic

	// StateMoved blocks are reserved by maintenance while an erase-verify
	// or a relocation is in flight. The state never survives a maintenance
	// phase.
	StateMoved

	// StateBad is terminal. Bad blocks are never allocated and never leave
	// this state.
	StateBad
)

// AllStates lists every state in declaration order.
var AllStates = []State{StateFree, StateAllocated, StateStatic, StateMoved, StateBad}

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateAllocated:
		return "allocated"
	case StateStatic:
		return "static"
	case StateMoved:
		return "moved"
	case StateBad:
		return "bad"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	for _, st := range AllStates {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown block state %q", s)
}

// MarshalText implements encoding.TextMarshaler so states serialize by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	st, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// FlashBlock is the record of one physical erase unit.
type FlashBlock struct {
	ID         uint32    `json:"id"`
	EraseCount uint64    `json:"erase_count"`
	WriteCount uint64    `json:"write_count"`
	State      State     `json:"state"`
	LastAccess time.Time `json:"last_access"`

	// WriteFrequency is an exponentially decayed count of recent program
	// cycles, valid as of LastAccess.
	WriteFrequency float64 `json:"write_frequency"`

	// HoldsData is set once a write completes on the block and cleared when
	// relocation moves the content away.
	HoldsData bool `json:"holds_data"`

	// Generation increments on every allocation. Handles carry it so that a
	// stale handle cannot complete a later allocation of the same block.
	Generation uint64 `json:"generation"`
}

// BlockHandle is returned by Allocate and consumed by Complete or Release.
type BlockHandle struct {
	ID         uint32 `json:"id"`
	Generation uint64 `json:"generation"`
}

// BadBlockRecord documents why and when a block was retired.
type BadBlockRecord struct {
	BlockID    uint32    `json:"block_id"`
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
}

// Well-known retirement reasons.
const (
	ReasonEraseFailed   = "erase failed"
	ReasonVerifyFailed  = "verify failed"
	ReasonReadFailed    = "read failed"
	ReasonProgramFailed = "program failed"
	ReasonWornOut       = "erase limit reached"
	ReasonRestored      = "restored from snapshot"
)

// Stats is a point-in-time view of the table.
type Stats struct {
	Total     int `json:"total"`
	Free      int `json:"free"`
	Allocated int `json:"allocated"`
	Static    int `json:"static"`
	Moved     int `json:"moved"`
	Bad       int `json:"bad"`

	BadRatio float64 `json:"bad_ratio"`

	// Degraded reports that BadRatio exceeds Policy.MaxBadBlockRatio. It is
	// a warning; the engine keeps serving from the remaining blocks.
	Degraded bool `json:"degraded"`

	// Usable is Total minus Bad. MinUsable is the capacity floor implied by
	// MaxBadBlockRatio.
	Usable    int `json:"usable"`
	MinUsable int `json:"min_usable"`

	MinEraseCount  uint64  `json:"min_erase_count"`
	MaxEraseCount  uint64  `json:"max_erase_count"`
	MeanEraseCount float64 `json:"mean_erase_count"`

	LastMaintenance time.Time `json:"last_maintenance"`
}

// Count returns the number of blocks in state s.
func (s Stats) Count(st State) int {
	switch st {
	case StateFree:
		return s.Free
	case StateAllocated:
		return s.Allocated
	case StateStatic:
		return s.Static
	case StateMoved:
		return s.Moved
	case StateBad:
		return s.Bad
	}
	return 0
}

// Warning returns ErrDeviceDegraded when the bad-block ratio is over budget.
func (s Stats) Warning() error {
	if s.Degraded {
		return fmt.Errorf("%w: %d of %d blocks bad (%.3f)", ErrDeviceDegraded, s.Bad, s.Total, s.BadRatio)
	}
	return nil
}
