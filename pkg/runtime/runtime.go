// Package runtime owns a running wear-leveling engine together with its
// device, bad-block journal and snapshot store. It restores state on Open,
// drives periodic maintenance and snapshots, and persists a final snapshot
// on Close.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/flashwear/internal/logger"
	"github.com/marmos91/flashwear/internal/telemetry"
	"github.com/marmos91/flashwear/pkg/journal"
	"github.com/marmos91/flashwear/pkg/metrics"
	"github.com/marmos91/flashwear/pkg/snapshot"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// Options configures a Runtime. Device, Store and BlockCount are required.
type Options struct {
	Policy     wearlevel.Policy
	Device     wearlevel.Device
	DeviceKind string
	BlockCount int
	BlockSize  int

	Store     snapshot.Store
	StoreType string

	// Journal records bad blocks between snapshots. Nil disables it.
	Journal journal.Journal

	// MaintenanceInterval and SnapshotInterval drive Run. Zero disables
	// the corresponding loop.
	MaintenanceInterval time.Duration
	SnapshotInterval    time.Duration

	// MaintenanceTimeout bounds one cycle. Zero means no bound.
	MaintenanceTimeout time.Duration

	Metrics      wearlevel.Metrics
	StoreMetrics metrics.StoreMetrics

	// Clock replaces time.Now in the engine and the runtime.
	Clock func() time.Time
}

// RestoreInfo describes how Open obtained the engine state.
type RestoreInfo struct {
	// FromSnapshot is false when no snapshot existed and the table was
	// created fresh.
	FromSnapshot bool      `json:"from_snapshot"`
	SnapshotAt   time.Time `json:"snapshot_at,omitempty"`

	// Replayed is the number of journal records applied on top.
	Replayed int `json:"replayed"`
}

// MaintenanceRun is the outcome of one maintenance cycle.
type MaintenanceRun struct {
	RunID string `json:"run_id"`
	wearlevel.MaintenanceReport
	Error string `json:"error,omitempty"`
}

// Status is a point-in-time view of the runtime.
type Status struct {
	Stats          wearlevel.Stats `json:"stats"`
	DeviceKind     string          `json:"device"`
	StoreType      string          `json:"snapshot_store"`
	JournalEnabled bool            `json:"journal_enabled"`
	Restore        RestoreInfo     `json:"restore"`
	LastPersist    time.Time       `json:"last_persist,omitempty"`
	LastRun        *MaintenanceRun `json:"last_run,omitempty"`
}

type Runtime struct {
	opts    Options
	engine  *wearlevel.Engine
	journal journal.Journal
	sink    *journalSink
	now     func() time.Time

	restore RestoreInfo

	persistMu   sync.Mutex
	lastPersist atomic.Int64
	lastRun     atomic.Pointer[MaintenanceRun]

	closeOnce sync.Once
	closeErr  error
}

// Open restores the engine from the latest snapshot plus the journal, or
// builds a fresh table when the store is empty.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	if opts.Device == nil {
		return nil, errors.New("device is required")
	}
	if opts.Store == nil {
		return nil, errors.New("snapshot store is required")
	}
	if opts.Journal == nil {
		opts.Journal = journal.NullJournal{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.StoreType == "" {
		opts.StoreType = "unknown"
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanRecover,
		trace.WithAttributes(telemetry.StoreType(opts.StoreType), telemetry.DeviceKind(opts.DeviceKind)))
	defer span.End()

	r := &Runtime{
		opts:    opts,
		journal: opts.Journal,
		sink:    &journalSink{journal: opts.Journal, metrics: opts.StoreMetrics},
		now:     opts.Clock,
	}

	engineOpts := []wearlevel.Option{
		wearlevel.WithClock(opts.Clock),
		wearlevel.WithMetrics(opts.Metrics),
		wearlevel.WithBadBlockSink(r.sink),
		wearlevel.WithBlockSize(opts.BlockSize),
	}

	snap, err := r.load(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	events, err := opts.Journal.Recover()
	if err != nil {
		return nil, fmt.Errorf("recover journal: %w", err)
	}

	if snap == nil {
		fresh, err := wearlevel.New(opts.Policy, opts.BlockCount, opts.Device, engineOpts...)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			r.engine = fresh
		} else {
			// Bad blocks recorded before the first snapshot was ever saved.
			snap = fresh.Snapshot()
		}
	} else {
		if len(snap.Blocks) != opts.BlockCount {
			return nil, fmt.Errorf("%w: snapshot has %d blocks, device has %d",
				wearlevel.ErrInvalidSnapshot, len(snap.Blocks), opts.BlockCount)
		}
		r.restore.FromSnapshot = true
		r.restore.SnapshotAt = snap.TakenAt
	}

	if r.engine == nil {
		r.engine, err = wearlevel.Restore(opts.Policy, snap, events, opts.Device, engineOpts...)
		if err != nil {
			return nil, err
		}
		r.restore.Replayed = len(events)
	}

	stats := r.engine.Stats()
	telemetry.SetAttributes(ctx, telemetry.BlockCount(stats.Total), telemetry.BadCount(stats.Bad))
	if opts.Metrics != nil {
		opts.Metrics.SetStats(stats)
	}
	logger.InfoCtx(ctx, "Runtime ready",
		"from_snapshot", r.restore.FromSnapshot,
		"replayed", r.restore.Replayed,
		logger.BlockCount(stats.Total),
		logger.BadCount(stats.Bad),
		logger.StoreType(opts.StoreType))
	if stats.Degraded {
		logger.WarnCtx(ctx, "Device is degraded", logger.BadRatio(stats.BadRatio))
	}

	// Fold replayed events into a snapshot so the journal starts empty.
	if r.restore.Replayed > 0 {
		if err := r.Persist(ctx); err != nil {
			logger.WarnCtx(ctx, "Snapshot after journal replay failed", logger.Err(err))
		}
	}
	return r, nil
}

func (r *Runtime) load(ctx context.Context) (*wearlevel.Snapshot, error) {
	start := time.Now()
	snap, err := r.opts.Store.Load(ctx)
	if errors.Is(err, snapshot.ErrNotFound) {
		metrics.ObservePersist(r.opts.StoreMetrics, r.opts.StoreType, "load", 0, time.Since(start), nil)
		return nil, nil
	}
	metrics.ObservePersist(r.opts.StoreMetrics, r.opts.StoreType, "load", 0, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func (r *Runtime) Engine() *wearlevel.Engine { return r.engine }

// Restored reports how Open obtained the engine state.
func (r *Runtime) Restored() RestoreInfo { return r.restore }

// Persist saves a snapshot and trims the journal to the records the
// snapshot does not cover.
func (r *Runtime) Persist(ctx context.Context) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	runID := uuid.NewString()
	ctx = logger.WithContext(ctx, logger.NewRun(runID))
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanPersist,
		trace.WithAttributes(telemetry.RunID(runID), telemetry.StoreType(r.opts.StoreType)))
	defer span.End()

	snap := r.engine.Snapshot()

	var size int
	if r.opts.StoreMetrics != nil {
		if data, err := snapshot.Encode(snap); err == nil {
			size = len(data)
		}
	}

	start := time.Now()
	err := r.opts.Store.Save(ctx, snap)
	metrics.ObservePersist(r.opts.StoreMetrics, r.opts.StoreType, "save", size, time.Since(start), err)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("save snapshot: %w", err)
	}

	kept, err := r.sink.truncate(snap)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("trim journal: %w", err)
	}

	r.lastPersist.Store(snap.TakenAt.UnixNano())
	logger.DebugCtx(ctx, "Snapshot persisted",
		logger.BlockCount(len(snap.Blocks)),
		logger.BadCount(len(snap.BadBlocks)),
		"journal_kept", kept,
		logger.DurationMs(start))
	return nil
}

// Maintain runs one maintenance cycle and persists the result. It returns
// wearlevel.ErrMaintenanceRunning when a cycle is already in progress.
func (r *Runtime) Maintain(ctx context.Context) (*MaintenanceRun, error) {
	runID := uuid.NewString()
	ctx = logger.WithContext(ctx, logger.NewRun(runID))
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanRun, trace.WithAttributes(telemetry.RunID(runID)))
	defer span.End()

	if r.opts.MaintenanceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.MaintenanceTimeout)
		defer cancel()
	}

	rep, err := r.engine.Maintain(ctx, r.now())
	if errors.Is(err, wearlevel.ErrMaintenanceRunning) {
		return nil, err
	}

	run := &MaintenanceRun{RunID: runID, MaintenanceReport: rep}
	if err != nil {
		run.Error = err.Error()
		telemetry.RecordError(ctx, err)
	}
	r.lastRun.Store(run)

	// A canceled cycle still committed block by block; keep what it did.
	persistCtx := context.WithoutCancel(ctx)
	if perr := r.Persist(persistCtx); perr != nil {
		logger.WarnCtx(ctx, "Snapshot after maintenance failed", logger.Err(perr))
	}
	return run, err
}

// LastRun returns the most recent maintenance outcome, or nil.
func (r *Runtime) LastRun() *MaintenanceRun { return r.lastRun.Load() }

// Status returns a point-in-time view of the runtime.
func (r *Runtime) Status() Status {
	s := Status{
		Stats:          r.engine.Stats(),
		DeviceKind:     r.opts.DeviceKind,
		StoreType:      r.opts.StoreType,
		JournalEnabled: r.journal.IsEnabled(),
		Restore:        r.restore,
		LastRun:        r.lastRun.Load(),
	}
	if ns := r.lastPersist.Load(); ns != 0 {
		s.LastPersist = time.Unix(0, ns)
	}
	return s
}

// Healthcheck verifies the snapshot store is reachable.
func (r *Runtime) Healthcheck(ctx context.Context) error {
	return r.opts.Store.Healthcheck(ctx)
}

// Run drives the maintenance and snapshot loops until ctx is canceled.
func (r *Runtime) Run(ctx context.Context) error {
	maintC, stopMaint := ticker(r.opts.MaintenanceInterval)
	defer stopMaint()
	snapC, stopSnap := ticker(r.opts.SnapshotInterval)
	defer stopSnap()

	logger.Info("Runtime started",
		"maintenance_interval", r.opts.MaintenanceInterval.String(),
		"snapshot_interval", r.opts.SnapshotInterval.String())

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Runtime loop stopping (context cancelled)")
			return nil
		case <-maintC:
			if _, err := r.Maintain(ctx); err != nil {
				if errors.Is(err, wearlevel.ErrMaintenanceRunning) {
					logger.Debug("Skipping scheduled maintenance, a cycle is already running")
					continue
				}
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("Scheduled maintenance failed", logger.Err(err))
			}
		case <-snapC:
			if err := r.Persist(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("Periodic snapshot failed", logger.Err(err))
			}
		}
	}
}

// ticker returns a nil channel when d is not positive, which blocks forever
// in a select.
func ticker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Close persists a final snapshot and releases the journal, the store and
// the device. It is safe to call more than once.
func (r *Runtime) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		var errs []error
		if err := r.Persist(ctx); err != nil {
			errs = append(errs, fmt.Errorf("final snapshot: %w", err))
		}
		if err := r.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
		if err := r.opts.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close snapshot store: %w", err))
		}
		if c, ok := r.opts.Device.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close device: %w", err))
			}
		}
		r.closeErr = errors.Join(errs...)
		logger.Info("Runtime closed")
	})
	return r.closeErr
}
