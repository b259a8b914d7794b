package wearlevel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/flashwear/internal/logger"
	"github.com/marmos91/flashwear/internal/telemetry"
)

// Maintenance phases, in execution order.
const (
	PhaseScan      = "scan"
	PhaseRebalance = "rebalance"
	PhaseRelocate  = "relocate"
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now. Tests use it to drive idleness and recency.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics enables instrumentation.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithBadBlockSink forwards every new bad-block record to sink.
func WithBadBlockSink(sink BadBlockSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithBlockSize sets the erase block size Allocate checks requests against.
// Zero disables the check.
func WithBlockSize(n int) Option {
	return func(e *Engine) { e.blockSize = n }
}

// Engine is the wear-leveling orchestrator.
type Engine struct {
	policy    Policy
	dev       Device
	blockSize int
	now       func() time.Time
	metrics   Metrics
	sink      BadBlockSink

	table   *Table
	bad     *BadBlockManager
	dynamic *DynamicLeveler
	static  *StaticLeveler

	maintMu         sync.Mutex
	lastMaintenance atomic.Int64 // unix nanos, 0 = never
	degraded        atomic.Bool
}

// MaintenanceReport summarizes one Maintain call.
type MaintenanceReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	NewlyBad           int `json:"newly_bad"`
	Rebalanced         int `json:"rebalanced"`
	RebalanceDeferred  int `json:"rebalance_deferred"`
	Classified         int `json:"classified"`
	Relocated          int `json:"relocated"`
	RelocationDeferred int `json:"relocation_deferred"`

	// Completed lists the phases that ran to the end.
	Completed []string `json:"completed"`

	// Errors holds per-phase failures that did not stop later phases.
	Errors map[string]string `json:"errors,omitempty"`

	Canceled bool `json:"canceled"`
}

// New builds an engine over a table of blocks Free blocks.
func New(policy Policy, blocks int, dev Device, opts ...Option) (*Engine, error) {
	if blocks <= 0 || int64(blocks) > math.MaxUint32 {
		return nil, fmt.Errorf("block count must be within [1, %d], got %d", uint32(math.MaxUint32), blocks)
	}
	if dev == nil {
		return nil, errors.New("device is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	e := &Engine{
		policy: policy,
		dev:    dev,
		now:    time.Now,
		table:  NewTable(blocks),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.bad = newBadBlockManager(e.table, policy, e.now, e.sink, e.metrics)
	reloc := &relocator{table: e.table, bad: e.bad, policy: policy, metrics: e.metrics}
	e.dynamic = &DynamicLeveler{table: e.table, bad: e.bad, reloc: reloc, policy: policy, now: e.now}
	e.static = &StaticLeveler{table: e.table, reloc: reloc, policy: policy}
	return e, nil
}

func (e *Engine) Policy() Policy                  { return e.policy }
func (e *Engine) Table() *Table                   { return e.table }
func (e *Engine) BadBlocks() *BadBlockManager     { return e.bad }
func (e *Engine) DynamicLeveler() *DynamicLeveler { return e.dynamic }
func (e *Engine) StaticLeveler() *StaticLeveler   { return e.static }
func (e *Engine) Device() Device                  { return e.dev }

// Block returns a copy of one block record.
func (e *Engine) Block(id uint32) (FlashBlock, error) { return e.table.Get(id) }

// Blocks returns a copy of every block record.
func (e *Engine) Blocks() []FlashBlock { return e.table.Blocks() }

// Allocate returns a handle on the best Free block for a write of size
// bytes. It fails fast with ErrAllocationExhausted when no eligible block
// remains.
func (e *Engine) Allocate(ctx context.Context, size int) (BlockHandle, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return BlockHandle{}, err
	}
	if size < 0 {
		e.observeAllocation("rejected", 0, start)
		return BlockHandle{}, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if e.blockSize > 0 && size > e.blockSize {
		e.observeAllocation("rejected", 0, start)
		return BlockHandle{}, fmt.Errorf("%w: %d > %d", ErrSizeTooLarge, size, e.blockSize)
	}

	h, lost, err := e.dynamic.AllocateForWrite()
	if err != nil {
		e.observeAllocation("exhausted", lost, start)
		return BlockHandle{}, err
	}
	e.observeAllocation("ok", lost, start)
	return h, nil
}

// Complete reports that the caller erased and programmed the allocated
// block.
func (e *Engine) Complete(h BlockHandle) error {
	b, err := e.dynamic.CompleteWrite(h)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordCompletion()
	}
	logger.Debug("Write completed", logger.BlockID(b.ID), logger.EraseCount(b.EraseCount), logger.WriteCount(b.WriteCount))
	return nil
}

// Release gives an allocation back without a program cycle.
func (e *Engine) Release(h BlockHandle) error {
	_, err := e.dynamic.Release(h)
	return err
}

// Discard tells the engine that the data on a Free or Static block is no
// longer needed. The block becomes an empty Free block.
func (e *Engine) Discard(id uint32) error {
	b, err := e.table.Get(id)
	if err != nil {
		return err
	}
	dropData := func(b *FlashBlock) error {
		b.HoldsData = false
		return nil
	}
	switch b.State {
	case StateStatic:
		_, err = e.table.Transition(id, StateStatic, StateFree, dropData)
	case StateFree:
		_, err = e.table.Update(id, func(cur *FlashBlock) error {
			if cur.State != StateFree {
				return badTransition(id, cur.State, StateFree)
			}
			return dropData(cur)
		})
	default:
		err = badTransition(id, b.State, StateFree)
	}
	return err
}

// MarkBad retires a block on behalf of the caller, e.g. after an ECC
// failure. It returns false if the block was already Bad.
func (e *Engine) MarkBad(id uint32, reason string) (bool, error) {
	if reason == "" {
		reason = "marked by caller"
	}
	ok, err := e.bad.MarkBad(id, reason)
	if ok {
		e.checkDegraded()
	}
	return ok, err
}

// IsBad reports whether id is Bad.
func (e *Engine) IsBad(id uint32) bool { return e.bad.IsBad(id) }

// ExportBadBlocks returns every bad-block record ordered by block id.
func (e *Engine) ExportBadBlocks() []BadBlockRecord { return e.bad.Records() }

// Maintain runs the bad-block scan, dynamic rebalance and static
// classify+relocate phases in that order. A failing phase does not stop
// the next one. Cancellation of ctx is honored between phases and between
// blocks; the table stays consistent because every phase commits block by
// block. Only one Maintain runs at a time; a concurrent call returns
// ErrMaintenanceRunning instead of waiting.
func (e *Engine) Maintain(ctx context.Context, now time.Time) (rep MaintenanceReport, err error) {
	if !e.maintMu.TryLock() {
		return MaintenanceReport{}, ErrMaintenanceRunning
	}
	defer e.maintMu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanMaintain)
	defer span.End()

	rep.StartedAt = e.now()
	defer func() {
		rep.FinishedAt = e.now()
		e.lastMaintenance.Store(rep.FinishedAt.UnixNano())
		e.checkDegraded()
		if e.metrics != nil {
			e.metrics.SetStats(e.Stats())
		}
	}()

	phases := []struct {
		name string
		run  func(context.Context) error
	}{
		{PhaseScan, func(ctx context.Context) error {
			n, err := e.bad.Scan(ctx, e.dev)
			rep.NewlyBad = n
			return err
		}},
		{PhaseRebalance, func(ctx context.Context) error {
			moved, deferred, err := e.dynamic.Rebalance(ctx, e.dev, now)
			rep.Rebalanced, rep.RebalanceDeferred = moved, deferred
			return err
		}},
		{PhaseRelocate, func(ctx context.Context) error {
			rep.Classified = e.static.ClassifyStatic(now)
			moved, deferred, err := e.static.RelocateAll(ctx, e.dev)
			rep.Relocated, rep.RelocationDeferred = moved, deferred
			return err
		}},
	}

	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			rep.Canceled = true
			return rep, fmt.Errorf("maintenance canceled before %s: %w", p.name, err)
		}

		perr := e.runPhase(ctx, p.name, p.run)
		if perr != nil && ctx.Err() != nil {
			rep.Canceled = true
			return rep, fmt.Errorf("maintenance canceled during %s: %w", p.name, ctx.Err())
		}
		if perr != nil {
			if rep.Errors == nil {
				rep.Errors = make(map[string]string)
			}
			rep.Errors[p.name] = perr.Error()
			continue
		}
		rep.Completed = append(rep.Completed, p.name)
	}

	logger.InfoCtx(ctx, "Maintenance finished",
		"newly_bad", rep.NewlyBad,
		"rebalanced", rep.Rebalanced,
		"classified", rep.Classified,
		"relocated", rep.Relocated,
		"deferred", rep.RebalanceDeferred+rep.RelocationDeferred,
		logger.DurationMs(rep.StartedAt))
	return rep, nil
}

// runPhase executes one phase with its own span, log context and timing.
// A panicking phase is converted into an error so that the remaining
// phases still run.
func (e *Engine) runPhase(ctx context.Context, name string, run func(context.Context) error) (err error) {
	ctx = logger.WithPhaseContext(ctx, name)
	ctx, span := telemetry.StartPhaseSpan(ctx, name)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("phase %s panicked: %v", name, r)
		}
		if err != nil {
			telemetry.RecordError(ctx, err)
			logger.WarnCtx(ctx, "Maintenance phase failed", logger.Err(err))
		} else {
			logger.DebugCtx(ctx, "Maintenance phase done", logger.DurationMs(start))
		}
		if e.metrics != nil {
			e.metrics.ObservePhase(name, time.Since(start), err)
		}
		span.End()
	}()

	return run(ctx)
}

// Stats returns block counts by state, the bad ratio and wear spread.
func (e *Engine) Stats() Stats {
	s := Stats{Total: e.table.Len(), MinEraseCount: math.MaxUint64}

	var eraseSum float64
	for b := range e.table.All() {
		switch b.State {
		case StateFree:
			s.Free++
		case StateAllocated:
			s.Allocated++
		case StateStatic:
			s.Static++
		case StateMoved:
			s.Moved++
		case StateBad:
			s.Bad++
			continue
		}
		eraseSum += float64(b.EraseCount)
		s.MinEraseCount = min(s.MinEraseCount, b.EraseCount)
		s.MaxEraseCount = max(s.MaxEraseCount, b.EraseCount)
	}

	s.Usable = s.Total - s.Bad
	if s.Usable > 0 {
		s.MeanEraseCount = eraseSum / float64(s.Usable)
	} else {
		s.MinEraseCount = 0
	}
	s.BadRatio = float64(s.Bad) / float64(s.Total)
	s.Degraded = s.BadRatio > e.policy.MaxBadBlockRatio
	s.MinUsable = int(math.Ceil(float64(s.Total) * (1 - e.policy.MaxBadBlockRatio)))

	if ns := e.lastMaintenance.Load(); ns != 0 {
		s.LastMaintenance = time.Unix(0, ns)
	}
	return s
}

// checkDegraded logs once per transition into or out of degraded mode.
func (e *Engine) checkDegraded() {
	ratio := e.bad.Ratio()
	degraded := ratio > e.policy.MaxBadBlockRatio
	if e.degraded.Swap(degraded) == degraded {
		return
	}
	if degraded {
		logger.Warn("Device degraded: bad block ratio above policy maximum",
			logger.BadRatio(ratio), logger.BadCount(e.bad.Count()), "max_ratio", e.policy.MaxBadBlockRatio)
	} else {
		logger.Info("Device no longer degraded", logger.BadRatio(ratio))
	}
}

func (e *Engine) observeAllocation(outcome string, lost int, start time.Time) {
	if e.metrics != nil {
		e.metrics.ObserveAllocation(outcome, lost, time.Since(start))
	}
}
