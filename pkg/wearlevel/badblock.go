package wearlevel

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/flashwear/internal/logger"
)

// BadBlockManager maintains block health: it scans the device, retires
// failing blocks and keeps exactly one BadBlockRecord per Bad block.
type BadBlockManager struct {
	table   *Table
	policy  Policy
	now     func() time.Time
	sink    BadBlockSink
	metrics Metrics

	mu      sync.RWMutex
	records map[uint32]BadBlockRecord
}

func newBadBlockManager(t *Table, p Policy, now func() time.Time, sink BadBlockSink, m Metrics) *BadBlockManager {
	return &BadBlockManager{
		table:   t,
		policy:  p,
		now:     now,
		sink:    sink,
		metrics: m,
		records: make(map[uint32]BadBlockRecord),
	}
}

// MarkBad retires id with the given reason. Marking an already Bad block is
// a no-op that returns false.
func (m *BadBlockManager) MarkBad(id uint32, reason string) (bool, error) {
	return m.markBadAt(id, reason, m.now(), nil)
}

// markBadAt retires id if guard accepts its current state (nil accepts any
// non-Bad state). The record is created under the block's lock so that
// concurrent callers cannot produce duplicates.
func (m *BadBlockManager) markBadAt(id uint32, reason string, at time.Time, guard func(FlashBlock) bool) (bool, error) {
	var rec BadBlockRecord
	_, retired, err := m.table.retire(id, guard, func(b FlashBlock) {
		rec = BadBlockRecord{BlockID: b.ID, Reason: reason, DetectedAt: at}
		m.mu.Lock()
		m.records[b.ID] = rec
		m.mu.Unlock()
	})
	if err != nil || !retired {
		return false, err
	}

	logger.Warn("Block retired", logger.BlockID(id), logger.Reason(reason))
	if m.metrics != nil {
		m.metrics.RecordBadBlock(reason)
	}
	if m.sink != nil {
		if err := m.sink.AppendBadBlock(rec); err != nil {
			// The record is authoritative in memory; the next snapshot
			// still captures it.
			logger.Error("Failed to journal bad block", logger.BlockID(id), logger.Err(err))
		}
	}
	return true, nil
}

// retireFailed converts a device failure into a Bad transition. It is only
// applied while the block is still in state expect.
func (m *BadBlockManager) retireFailed(id uint32, expect State, err error) {
	reason := ReasonVerifyFailed
	var de *DeviceError
	if errors.As(err, &de) {
		reason = de.Reason()
	}
	_, _ = m.markBadAt(id, reason, m.now(), isState(expect))
}

// IsBad reports whether id is Bad. Out-of-range ids report false.
func (m *BadBlockManager) IsBad(id uint32) bool {
	b, err := m.table.Get(id)
	return err == nil && b.State == StateBad
}

// NextGood returns the lowest id >= from that is not Bad.
func (m *BadBlockManager) NextGood(from uint32) (uint32, bool) {
	for id := int64(from); id < int64(m.table.Len()); id++ {
		if !m.IsBad(uint32(id)) {
			return uint32(id), true
		}
	}
	return 0, false
}

// Count returns the number of Bad blocks.
func (m *BadBlockManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Ratio returns bad blocks over table size.
func (m *BadBlockManager) Ratio() float64 {
	if m.table.Len() == 0 {
		return 0
	}
	return float64(m.Count()) / float64(m.table.Len())
}

// Record returns the record for id, if the block is Bad.
func (m *BadBlockManager) Record(id uint32) (BadBlockRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok
}

// Records returns every record ordered by block id.
func (m *BadBlockManager) Records() []BadBlockRecord {
	m.mu.RLock()
	out := make([]BadBlockRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b BadBlockRecord) int { return cmp.Compare(a.BlockID, b.BlockID) })
	return out
}

// Scan checks every non-Bad block and returns how many were newly retired.
//
// Empty Free blocks are reserved (Free -> Moved), erased and verified; the
// erase counts as wear. Blocks holding data are read back instead, so a
// scan never destroys committed content. Allocated and Moved blocks are
// skipped. Device failures retire the block; they are never returned.
// Only cancellation of ctx aborts the scan.
func (m *BadBlockManager) Scan(ctx context.Context, dev Device) (int, error) {
	newlyBad := 0
	for b := range m.table.All() {
		if err := ctx.Err(); err != nil {
			return newlyBad, err
		}

		switch {
		case b.State == StateFree && !b.HoldsData:
			if m.policy.wornOut(b) {
				if ok, _ := m.markBadAt(b.ID, ReasonWornOut, m.now(), isEmptyFree); ok {
					newlyBad++
				}
				continue
			}
			retired, err := m.eraseVerify(ctx, dev, b.ID)
			if err != nil {
				return newlyBad, err
			}
			if retired {
				newlyBad++
			}

		case b.State == StateFree || b.State == StateStatic:
			if _, err := dev.Read(ctx, b.ID); err != nil {
				if ctx.Err() != nil {
					return newlyBad, ctx.Err()
				}
				ok, _ := m.markBadAt(b.ID, ReasonReadFailed, m.now(), unchanged(b))
				if ok {
					newlyBad++
				}
			}
		}
	}
	return newlyBad, nil
}

// eraseVerify erases an empty Free block and checks that it reads back
// erased. The block is held in Moved for the duration so that no writer
// can allocate it. A lost reservation race is not an error.
func (m *BadBlockManager) eraseVerify(ctx context.Context, dev Device, id uint32) (bool, error) {
	if _, err := m.table.Transition(id, StateFree, StateMoved, requireEmpty); err != nil {
		return false, nil
	}

	release := func() {
		_, _ = m.table.Transition(id, StateMoved, StateFree, nil)
	}

	if err := dev.Erase(ctx, id); err != nil {
		if ctx.Err() != nil {
			release()
			return false, ctx.Err()
		}
		m.retireFailed(id, StateMoved, &DeviceError{Op: "erase", Block: id, Err: err})
		return true, nil
	}
	_, _ = m.table.Update(id, func(b *FlashBlock) error {
		b.EraseCount++
		return nil
	})

	data, err := dev.Read(ctx, id)
	if err != nil && ctx.Err() != nil {
		release()
		return false, ctx.Err()
	}
	if err != nil || !isErased(data) {
		if err == nil {
			err = errors.New("block does not read back erased")
		}
		m.retireFailed(id, StateMoved, &DeviceError{Op: "verify", Block: id, Err: err})
		return true, nil
	}

	release()
	return false, nil
}

// restore re-creates records while the engine is being built.
func (m *BadBlockManager) restore(rec BadBlockRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.BlockID]; !ok {
		m.records[rec.BlockID] = rec
	}
}

func isState(s State) func(FlashBlock) bool {
	return func(b FlashBlock) bool { return b.State == s }
}

// unchanged accepts the block only if no allocation happened since seen
// was read.
func unchanged(seen FlashBlock) func(FlashBlock) bool {
	return func(b FlashBlock) bool { return b.State == seen.State && b.Generation == seen.Generation }
}

func isEmptyFree(b FlashBlock) bool {
	return b.State == StateFree && !b.HoldsData
}

func requireEmpty(b *FlashBlock) error {
	if b.HoldsData {
		return fmt.Errorf("%w: block %d holds data", ErrInvalidStateTransition, b.ID)
	}
	return nil
}
