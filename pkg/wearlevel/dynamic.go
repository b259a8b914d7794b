package wearlevel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/marmos91/flashwear/internal/logger"
)

// DynamicLeveler selects the block for each incoming write and moves hot
// data off over-worn blocks.
type DynamicLeveler struct {
	table  *Table
	bad    *BadBlockManager
	reloc  *relocator
	policy Policy
	now    func() time.Time
}

// Score returns the wear score of b at time now; lower is better. The
// base is the erase count, doubled for hot blocks and tripled for blocks
// touched within the recency window. Penalties stack multiplicatively.
func (d *DynamicLeveler) Score(b FlashBlock, now time.Time) uint64 {
	score := b.EraseCount
	if d.policy.frequency(b, now) > d.policy.WriteFrequencyThreshold {
		score *= 2
	}
	if !b.LastAccess.IsZero() && now.Sub(b.LastAccess) < d.policy.RecencyWindow {
		score *= 3
	}
	return score
}

// best returns the Free block with the lowest score, ties broken by the
// lowest id.
func (d *DynamicLeveler) best(now time.Time, exclude map[uint32]struct{}) (uint32, uint64, bool) {
	var (
		bestID    uint32
		bestScore uint64
		found     bool
	)
	for b := range d.table.All() {
		if b.State != StateFree || d.policy.wornOut(b) {
			continue
		}
		if _, skip := exclude[b.ID]; skip {
			continue
		}
		s := d.Score(b, now)
		// All yields ascending ids, so strict less-than keeps the lowest id.
		if !found || s < bestScore {
			bestID, bestScore, found = b.ID, s, true
		}
	}
	return bestID, bestScore, found
}

// AllocateForWrite claims the best Free block (Free -> Allocated). A lost
// race excludes the contested block and scores the remaining candidates
// again, up to Policy.AllocateRetries times; after that a linear scan from
// the lowest good id takes over. It returns the handle and the number of
// lost races.
func (d *DynamicLeveler) AllocateForWrite() (BlockHandle, int, error) {
	now := d.now()
	lost := 0
	exclude := make(map[uint32]struct{})

	for lost < d.policy.AllocateRetries {
		id, score, ok := d.best(now, exclude)
		if !ok {
			return BlockHandle{}, lost, ErrAllocationExhausted
		}
		b, err := d.table.Transition(id, StateFree, StateAllocated, d.claim)
		if err == nil {
			logger.Debug("Block allocated", logger.BlockID(id), logger.Score(score), logger.Generation(b.Generation))
			return BlockHandle{ID: id, Generation: b.Generation}, lost, nil
		}
		exclude[id] = struct{}{}
		lost++
	}

	logger.Debug("Allocation falling back to linear scan", logger.Attempt(lost))
	for id, ok := d.bad.NextGood(0); ok; id, ok = d.bad.NextGood(id + 1) {
		if b, err := d.table.Transition(id, StateFree, StateAllocated, d.claim); err == nil {
			return BlockHandle{ID: id, Generation: b.Generation}, lost, nil
		}
	}
	return BlockHandle{}, lost, ErrAllocationExhausted
}

func (d *DynamicLeveler) claim(b *FlashBlock) error {
	if d.policy.wornOut(*b) {
		return fmt.Errorf("%w: block %d reached its erase limit", ErrInvalidStateTransition, b.ID)
	}
	b.Generation++
	return nil
}

// CompleteWrite records the program cycle performed on h and returns the
// block to Free (Allocated -> Free). One erase precedes every program, so
// both counters advance.
func (d *DynamicLeveler) CompleteWrite(h BlockHandle) (FlashBlock, error) {
	now := d.now()
	return d.table.Transition(h.ID, StateAllocated, StateFree, func(b *FlashBlock) error {
		if err := checkGeneration(b, h); err != nil {
			return err
		}
		b.WriteFrequency = d.policy.frequency(*b, now) + 1
		b.LastAccess = now
		b.EraseCount++
		b.WriteCount++
		b.HoldsData = true
		return nil
	})
}

// Release abandons an allocation without a program cycle.
func (d *DynamicLeveler) Release(h BlockHandle) (FlashBlock, error) {
	return d.table.Transition(h.ID, StateAllocated, StateFree, func(b *FlashBlock) error {
		return checkGeneration(b, h)
	})
}

func checkGeneration(b *FlashBlock, h BlockHandle) error {
	if b.Generation != h.Generation {
		return fmt.Errorf("%w: stale handle for block %d (generation %d, current %d)",
			ErrInvalidStateTransition, h.ID, h.Generation, b.Generation)
	}
	return nil
}

// Rebalance relocates data off Free blocks that are both hot and above
// the relocation erase threshold, onto the least worn empty block.
// Allocated blocks are never touched. It returns the number of blocks
// moved and deferred (no target); only cancellation is returned as an
// error.
func (d *DynamicLeveler) Rebalance(ctx context.Context, dev Device, now time.Time) (moved, deferred int, err error) {
	for b := range d.table.All() {
		if err := ctx.Err(); err != nil {
			return moved, deferred, err
		}
		if b.EraseCount <= d.policy.RelocateErasesThreshold {
			continue
		}
		if d.policy.frequency(b, now) <= d.policy.WriteFrequencyThreshold {
			continue
		}
		if b.State == StateAllocated {
			logger.DebugCtx(ctx, "Hot block busy, skipping rebalance", logger.BlockID(b.ID))
			continue
		}
		if b.State != StateFree || !b.HoldsData {
			continue
		}

		seen := b
		_, err := d.reloc.move(ctx, dev, b.ID, kindDynamic, func(cur *FlashBlock) error {
			if cur.Generation != seen.Generation || !cur.HoldsData {
				return fmt.Errorf("%w: block %d changed", ErrInvalidStateTransition, cur.ID)
			}
			return nil
		})
		switch {
		case err == nil:
			moved++
		case errors.Is(err, ErrNoTargetAvailable):
			deferred++
		case ctx.Err() != nil:
			return moved, deferred, ctx.Err()
		}
	}
	return moved, deferred, nil
}

// frequency returns b's write frequency decayed to now.
func (p Policy) frequency(b FlashBlock, now time.Time) float64 {
	if b.WriteFrequency == 0 || b.LastAccess.IsZero() {
		return b.WriteFrequency
	}
	elapsed := now.Sub(b.LastAccess)
	if elapsed <= 0 {
		return b.WriteFrequency
	}
	return b.WriteFrequency * math.Exp2(-float64(elapsed)/float64(p.FrequencyHalfLife))
}
