package wearlevel

import (
	"fmt"
	"time"

	"github.com/marmos91/flashwear/internal/logger"
)

// SnapshotVersion is the layout version written into every Snapshot.
const SnapshotVersion = 1

// Snapshot is the persisted form of the engine state. Persisting it is the
// job of pkg/snapshot; bad-block events recorded after it was taken are
// replayed on Restore.
type Snapshot struct {
	Version         uint32           `json:"version"`
	TakenAt         time.Time        `json:"taken_at"`
	LastMaintenance time.Time        `json:"last_maintenance"`
	Blocks          []FlashBlock     `json:"blocks"`
	BadBlocks       []BadBlockRecord `json:"bad_blocks"`
}

// Validate checks the structural consistency of s.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	if s.Version != SnapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, s.Version)
	}
	if len(s.Blocks) == 0 {
		return fmt.Errorf("%w: no blocks", ErrInvalidSnapshot)
	}
	for i, b := range s.Blocks {
		if b.ID != uint32(i) {
			return fmt.Errorf("%w: block at index %d has id %d", ErrInvalidSnapshot, i, b.ID)
		}
		if b.State > StateBad {
			return fmt.Errorf("%w: block %d has unknown state %d", ErrInvalidSnapshot, b.ID, b.State)
		}
	}
	for _, r := range s.BadBlocks {
		if int(r.BlockID) >= len(s.Blocks) {
			return fmt.Errorf("%w: bad block record for id %d", ErrInvalidSnapshot, r.BlockID)
		}
	}
	return nil
}

// Snapshot captures the current table and bad-block records.
func (e *Engine) Snapshot() *Snapshot {
	s := &Snapshot{
		Version:   SnapshotVersion,
		TakenAt:   e.now(),
		Blocks:    e.table.Blocks(),
		BadBlocks: e.bad.Records(),
	}
	if ns := e.lastMaintenance.Load(); ns != 0 {
		s.LastMaintenance = time.Unix(0, ns)
	}
	return s
}

// Restore rebuilds an engine from a snapshot plus the bad-block events
// recorded after it. Blocks persisted as Allocated or Moved come back Free:
// in-flight work does not survive a restart. Events for blocks that are
// already Bad are ignored. Restored records are not forwarded to the
// BadBlockSink.
func Restore(policy Policy, snap *Snapshot, events []BadBlockRecord, dev Device, opts ...Option) (*Engine, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	for _, ev := range events {
		if int(ev.BlockID) >= len(snap.Blocks) {
			return nil, fmt.Errorf("%w: journal references block %d beyond table size %d",
				ErrInvalidSnapshot, ev.BlockID, len(snap.Blocks))
		}
	}

	e, err := New(policy, len(snap.Blocks), dev, opts...)
	if err != nil {
		return nil, err
	}

	blocks := make([]FlashBlock, len(snap.Blocks))
	copy(blocks, snap.Blocks)

	reset := 0
	for i := range blocks {
		if blocks[i].State == StateAllocated || blocks[i].State == StateMoved {
			blocks[i].State = StateFree
			reset++
		}
	}

	records := append(append([]BadBlockRecord(nil), snap.BadBlocks...), events...)
	for _, r := range records {
		blocks[r.BlockID].State = StateBad
		e.bad.restore(r)
	}
	for _, b := range blocks {
		if b.State == StateBad {
			if _, ok := e.bad.Record(b.ID); !ok {
				e.bad.restore(BadBlockRecord{BlockID: b.ID, Reason: ReasonRestored, DetectedAt: snap.TakenAt})
			}
		}
	}
	e.table.load(blocks)

	if !snap.LastMaintenance.IsZero() {
		e.lastMaintenance.Store(snap.LastMaintenance.UnixNano())
	}
	e.checkDegraded()

	logger.Info("Engine restored from snapshot",
		logger.BlockCount(len(blocks)),
		logger.BadCount(e.bad.Count()),
		"replayed_events", len(events),
		"reset_in_flight", reset)
	return e, nil
}
