package wearlevel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/marmos91/flashwear/internal/logger"
)

const (
	kindStatic  = "static"
	kindDynamic = "dynamic"
)

// relocator copies the content of one block onto another through the
// device. Both blocks are held in Moved while the copy is in flight, and
// the content always exists on at least one committed block: the target is
// committed before the source is released.
type relocator struct {
	table   *Table
	bad     *BadBlockManager
	policy  Policy
	metrics Metrics
}

// leastWorn returns the empty, non-worn-out Free block with the lowest
// erase count (ties by lowest id). below, when non-zero, only admits
// blocks with fewer erases.
func (r *relocator) leastWorn(exclude map[uint32]struct{}, below uint64) (uint32, bool) {
	var (
		bestID    uint32
		bestErase uint64
		found     bool
	)
	for b := range r.table.All() {
		if b.State != StateFree || b.HoldsData || r.policy.wornOut(b) {
			continue
		}
		if _, skip := exclude[b.ID]; skip {
			continue
		}
		if below > 0 && b.EraseCount >= below {
			continue
		}
		if !found || b.EraseCount < bestErase {
			bestID, bestErase, found = b.ID, b.EraseCount, true
		}
	}
	return bestID, found
}

// move relocates src. check, when set, is evaluated while reserving the
// source and can refuse it. Device failures retire the failing block and
// are returned as *DeviceError.
func (r *relocator) move(ctx context.Context, dev Device, src uint32, kind string, check func(*FlashBlock) error) (uint32, error) {
	start := time.Now()

	srcState := StateStatic
	if kind == kindDynamic {
		srcState = StateFree
	}

	source, err := r.table.Transition(src, srcState, StateMoved, check)
	if err != nil {
		return 0, err
	}
	restoreSource := func() {
		_, _ = r.table.Transition(src, StateMoved, srcState, nil)
	}

	// Dynamic moves only pay off onto a less worn block.
	var below uint64
	if kind == kindDynamic {
		below = source.EraseCount
	}

	target, ok := r.reserveTarget(src, below)
	if !ok {
		restoreSource()
		r.record(kind, "deferred")
		logger.DebugCtx(ctx, "No relocation target", logger.BlockID(src), logger.Operation(kind))
		return 0, fmt.Errorf("%w for block %d", ErrNoTargetAvailable, src)
	}
	releaseTarget := func() {
		_, _ = r.table.Transition(target, StateMoved, StateFree, nil)
	}

	fail := func(err error) (uint32, error) {
		if ctx.Err() != nil {
			releaseTarget()
			restoreSource()
			return 0, ctx.Err()
		}
		var de *DeviceError
		switch {
		case !errors.As(err, &de):
			releaseTarget()
			restoreSource()
		case de.Block == src:
			r.bad.retireFailed(src, StateMoved, err)
			releaseTarget()
		default:
			r.bad.retireFailed(target, StateMoved, err)
			restoreSource()
		}
		r.record(kind, "failed")
		logger.WarnCtx(ctx, "Relocation failed", logger.BlockID(src), logger.TargetID(target), logger.Err(err))
		return 0, err
	}

	data, err := dev.Read(ctx, src)
	if err != nil {
		return fail(&DeviceError{Op: "read", Block: src, Err: err})
	}

	if err := dev.Erase(ctx, target); err != nil {
		return fail(&DeviceError{Op: "erase", Block: target, Err: err})
	}
	if _, err := r.table.Update(target, func(b *FlashBlock) error { b.EraseCount++; return nil }); err != nil {
		return fail(err)
	}

	if err := dev.Program(ctx, target, data); err != nil {
		return fail(&DeviceError{Op: "program", Block: target, Err: err})
	}
	if _, err := r.table.Update(target, func(b *FlashBlock) error { b.WriteCount++; return nil }); err != nil {
		return fail(err)
	}

	back, err := dev.Read(ctx, target)
	if err != nil {
		return fail(&DeviceError{Op: "verify", Block: target, Err: err})
	}
	if len(back) != len(data) || xxh3.Hash(back) != xxh3.Hash(data) {
		return fail(&DeviceError{Op: "verify", Block: target, Err: errors.New("checksum mismatch after copy")})
	}

	// Commit the target first so the data is never without a home.
	if _, err := r.table.Transition(target, StateMoved, srcState, func(b *FlashBlock) error {
		b.HoldsData = true
		b.LastAccess = source.LastAccess
		b.WriteFrequency = source.WriteFrequency
		return nil
	}); err != nil {
		return fail(err)
	}
	if _, err := r.table.Transition(src, StateMoved, StateFree, func(b *FlashBlock) error {
		b.HoldsData = false
		return nil
	}); err != nil {
		// Source was retired concurrently; the data already lives on target.
		logger.WarnCtx(ctx, "Relocation source changed during commit", logger.BlockID(src), logger.Err(err))
	}

	r.record(kind, "ok")
	logger.InfoCtx(ctx, "Block relocated",
		logger.BlockID(src), logger.TargetID(target), logger.Operation(kind),
		logger.EraseCount(source.EraseCount), logger.DurationMs(start))
	return target, nil
}

// reserveTarget claims the least worn empty block (Free -> Moved), trying
// further candidates when a writer wins the race.
func (r *relocator) reserveTarget(src uint32, below uint64) (uint32, bool) {
	exclude := map[uint32]struct{}{src: {}}
	for range r.policy.AllocateRetries {
		id, ok := r.leastWorn(exclude, below)
		if !ok {
			return 0, false
		}
		if _, err := r.table.Transition(id, StateFree, StateMoved, requireEmpty); err == nil {
			return id, true
		}
		exclude[id] = struct{}{}
	}
	return 0, false
}

func (r *relocator) record(kind, outcome string) {
	if r.metrics != nil {
		r.metrics.RecordRelocation(kind, outcome)
	}
}
