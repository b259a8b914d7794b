package wearlevel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/flashwear/internal/logger"
)

// StaticLeveler keeps cold data from pinning a block at low wear forever.
type StaticLeveler struct {
	table  *Table
	reloc  *relocator
	policy Policy
}

// ClassifyStatic moves Free blocks that hold committed data idle for longer
// than Policy.StaticIdleThreshold to Static. Empty blocks stay Free.
func (s *StaticLeveler) ClassifyStatic(now time.Time) int {
	n := 0
	for b := range s.table.All() {
		if b.State != StateFree || !b.HoldsData || b.LastAccess.IsZero() {
			continue
		}
		if now.Sub(b.LastAccess) <= s.policy.StaticIdleThreshold {
			continue
		}
		seen := b
		_, err := s.table.Transition(b.ID, StateFree, StateStatic, func(cur *FlashBlock) error {
			if cur.Generation != seen.Generation || !cur.HoldsData {
				return fmt.Errorf("%w: block %d changed", ErrInvalidStateTransition, cur.ID)
			}
			return nil
		})
		if err == nil {
			n++
		}
	}
	return n
}

// FindLeastWorn returns the empty Free block with the lowest erase count,
// ignoring the given ids.
func (s *StaticLeveler) FindLeastWorn(excluding ...uint32) (uint32, bool) {
	set := make(map[uint32]struct{}, len(excluding))
	for _, id := range excluding {
		set[id] = struct{}{}
	}
	return s.reloc.leastWorn(set, 0)
}

// Relocate moves the content of a Static block whose erase count exceeds
// Policy.RelocateErasesThreshold onto the least worn empty block. On
// success the source becomes Free and the target Static. It returns the
// target id.
func (s *StaticLeveler) Relocate(ctx context.Context, dev Device, source uint32) (uint32, error) {
	b, err := s.table.Get(source)
	if err != nil {
		return 0, err
	}
	if b.State != StateStatic {
		return 0, badTransition(source, b.State, StateStatic)
	}
	if b.EraseCount <= s.policy.RelocateErasesThreshold {
		return 0, fmt.Errorf("%w: block %d has %d erases (threshold %d)",
			ErrRelocationNotNeeded, source, b.EraseCount, s.policy.RelocateErasesThreshold)
	}
	return s.reloc.move(ctx, dev, source, kindStatic, nil)
}

// RelocateAll runs Relocate on every eligible Static block. Missing
// targets are counted as deferred; only cancellation is returned.
func (s *StaticLeveler) RelocateAll(ctx context.Context, dev Device) (moved, deferred int, err error) {
	for b := range s.table.All() {
		if err := ctx.Err(); err != nil {
			return moved, deferred, err
		}
		if b.State != StateStatic || b.EraseCount <= s.policy.RelocateErasesThreshold {
			continue
		}
		_, err := s.Relocate(ctx, dev, b.ID)
		switch {
		case err == nil:
			moved++
		case errors.Is(err, ErrNoTargetAvailable):
			deferred++
			logger.InfoCtx(ctx, "Static relocation deferred", logger.BlockID(b.ID), logger.EraseCount(b.EraseCount))
		case ctx.Err() != nil:
			return moved, deferred, ctx.Err()
		}
	}
	return moved, deferred, nil
}
