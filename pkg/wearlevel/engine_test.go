package wearlevel

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashwear/pkg/device/memory"
)

type recordingMetrics struct {
	mu          sync.Mutex
	allocations map[string]int
	completions int
	badBlocks   map[string]int
	phases      []string
	stats       Stats
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{allocations: map[string]int{}, badBlocks: map[string]int{}}
}

func (m *recordingMetrics) ObserveAllocation(outcome string, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations[outcome]++
}

func (m *recordingMetrics) RecordCompletion() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions++
}

func (m *recordingMetrics) RecordBadBlock(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.badBlocks[reason]++
}

func (m *recordingMetrics) RecordRelocation(string, string) {}

func (m *recordingMetrics) ObservePhase(phase string, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases = append(m.phases, phase)
}

func (m *recordingMetrics) SetStats(s Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = s
}

type sliceSink struct {
	mu   sync.Mutex
	recs []BadBlockRecord
	err  error
}

func (s *sliceSink) AppendBadBlock(r BadBlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, r)
	return s.err
}

func TestNewValidatesArguments(t *testing.T) {
	dev := memory.New(4, testBlockSize)

	_, err := New(testPolicy(), 0, dev)
	assert.Error(t, err)

	_, err = New(testPolicy(), 4, nil)
	assert.Error(t, err)

	bad := testPolicy()
	bad.MaxBadBlockRatio = 1.5
	_, err = New(bad, 4, dev)
	assert.Error(t, err)

	e, err := New(testPolicy(), 4, dev)
	require.NoError(t, err)
	s := e.Stats()
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 4, s.Free)
	assert.True(t, s.LastMaintenance.IsZero())
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"negative ratio", func(p *Policy) { p.MaxBadBlockRatio = -0.1 }},
		{"ratio above one", func(p *Policy) { p.MaxBadBlockRatio = 1.1 }},
		{"negative frequency threshold", func(p *Policy) { p.WriteFrequencyThreshold = -1 }},
		{"negative idle threshold", func(p *Policy) { p.StaticIdleThreshold = -time.Second }},
		{"zero half-life", func(p *Policy) { p.FrequencyHalfLife = 0 }},
		{"no retries", func(p *Policy) { p.AllocateRetries = 0 }},
		{"relocate threshold at limit", func(p *Policy) { p.RelocateErasesThreshold = p.MaxEraseCount }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}

	unlimited := DefaultPolicy()
	unlimited.MaxEraseCount = 0
	assert.NoError(t, unlimited.Validate())
}

// A device with most blocks retired is degraded but keeps
// serving the blocks that remain.
func TestDegradedDeviceStillAllocates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	for id := uint32(2); id < 10; id++ {
		ok, err := f.engine.MarkBad(id, ReasonEraseFailed)
		require.NoError(t, err)
		require.True(t, ok)
	}

	s := f.engine.Stats()
	assert.Equal(t, 8, s.Bad)
	assert.InDelta(t, 0.8, s.BadRatio, 1e-9)
	assert.True(t, s.Degraded)
	assert.ErrorIs(t, s.Warning(), ErrDeviceDegraded)
	assert.Equal(t, 5, s.MinUsable)

	for range 2 {
		_, err := f.engine.Allocate(ctx, 16)
		require.NoError(t, err)
	}
	_, err := f.engine.Allocate(ctx, 16)
	assert.ErrorIs(t, err, ErrAllocationExhausted)
}

func TestMarkBad(t *testing.T) {
	sink := &sliceSink{}
	m := newRecordingMetrics()
	f := newFixture(t, 4, WithBadBlockSink(sink), WithMetrics(m))

	ok, err := f.engine.MarkBad(1, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.engine.MarkBad(1, "again")
	require.NoError(t, err)
	assert.False(t, ok, "second retirement is a no-op")

	_, err = f.engine.MarkBad(9, "x")
	assert.ErrorIs(t, err, ErrInvalidBlockID)

	assert.True(t, f.engine.IsBad(1))
	assert.False(t, f.engine.IsBad(0))
	assert.False(t, f.engine.IsBad(9))

	recs := f.engine.ExportBadBlocks()
	require.Len(t, recs, 1)
	assert.Equal(t, "marked by caller", recs[0].Reason)
	assert.Equal(t, f.clock.Now(), recs[0].DetectedAt)

	require.Len(t, sink.recs, 1)
	assert.Equal(t, recs[0], sink.recs[0])
	assert.Equal(t, 1, m.badBlocks["marked by caller"])
}

func TestSinkFailureKeepsRecord(t *testing.T) {
	sink := &sliceSink{err: errors.New("disk full")}
	f := newFixture(t, 2, WithBadBlockSink(sink))

	ok, err := f.engine.MarkBad(0, ReasonReadFailed)
	require.NoError(t, err)
	assert.True(t, ok)
	_, found := f.engine.BadBlocks().Record(0)
	assert.True(t, found)
}

func TestDiscard(t *testing.T) {
	f := newFixture(t, 5)
	f.program(t, 0, "a", FlashBlock{State: StateStatic, EraseCount: 3})
	f.program(t, 1, "b", FlashBlock{State: StateFree, EraseCount: 3})
	f.set(FlashBlock{ID: 2, State: StateAllocated})
	f.set(FlashBlock{ID: 3, State: StateBad})

	require.NoError(t, f.engine.Discard(0))
	b, _ := f.engine.Block(0)
	assert.Equal(t, StateFree, b.State)
	assert.False(t, b.HoldsData)
	assert.Equal(t, uint64(3), b.EraseCount)

	require.NoError(t, f.engine.Discard(1))
	b, _ = f.engine.Block(1)
	assert.False(t, b.HoldsData)

	require.NoError(t, f.engine.Discard(4), "discarding an empty block is harmless")

	assert.ErrorIs(t, f.engine.Discard(2), ErrInvalidStateTransition)
	assert.ErrorIs(t, f.engine.Discard(3), ErrInvalidStateTransition)
	assert.ErrorIs(t, f.engine.Discard(8), ErrInvalidBlockID)
}

func TestReleaseReturnsBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	h, err := f.engine.Allocate(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, f.engine.Release(h))

	b, _ := f.engine.Block(h.ID)
	assert.Equal(t, StateFree, b.State)
	assert.Zero(t, b.EraseCount)
	assert.Zero(t, b.WriteCount)

	assert.ErrorIs(t, f.engine.Release(h), ErrInvalidStateTransition)
}

func TestMaintainReport(t *testing.T) {
	m := newRecordingMetrics()
	f := newFixture(t, 4, WithMetrics(m))
	require.NoError(t, f.dev.Inject(2, memory.FailErase))

	rep, err := f.engine.Maintain(context.Background(), f.clock.Now())
	require.NoError(t, err)

	assert.Equal(t, []string{PhaseScan, PhaseRebalance, PhaseRelocate}, rep.Completed)
	assert.Equal(t, 1, rep.NewlyBad)
	assert.Empty(t, rep.Errors)
	assert.False(t, rep.Canceled)
	assert.Equal(t, f.clock.Now(), rep.FinishedAt)

	rec, ok := f.engine.BadBlocks().Record(2)
	require.True(t, ok)
	assert.Equal(t, ReasonEraseFailed, rec.Reason)

	s := f.engine.Stats()
	assert.Equal(t, f.clock.Now().UnixNano(), s.LastMaintenance.UnixNano())
	assert.Zero(t, s.Moved)

	assert.Equal(t, []string{PhaseScan, PhaseRebalance, PhaseRelocate}, m.phases)
	assert.Equal(t, 1, m.stats.Bad)
	checkConservation(t, f.engine)
}

func TestMaintainCanceledBeforeStart(t *testing.T) {
	f := newFixture(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := f.engine.Maintain(ctx, f.clock.Now())
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, rep.Canceled)
	assert.Empty(t, rep.Completed)
	assert.Zero(t, f.dev.Counters().Erases)
}

func TestMaintainCanceledDuringScan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := memory.New(8, testBlockSize)
	dev := &hookDevice{Device: mem}
	dev.onErase = func(n int32) {
		if n == 3 {
			cancel()
		}
	}
	e, err := New(testPolicy(), 8, dev, WithBlockSize(testBlockSize))
	require.NoError(t, err)

	rep, err := e.Maintain(ctx, time.Now())
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, rep.Canceled)
	assert.Empty(t, rep.Completed)

	s := e.Stats()
	assert.Zero(t, s.Moved, "reservations are released on cancellation")
	assert.Zero(t, s.Bad)
	assert.Equal(t, 8, s.Free)
	checkConservation(t, e)

	// A fresh context finishes the job.
	rep, err = e.Maintain(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Len(t, rep.Completed, 3)
}

func TestMaintainIsExclusive(t *testing.T) {
	mem := memory.New(4, testBlockSize)
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once

	dev := &hookDevice{Device: mem}
	dev.onErase = func(int32) {
		once.Do(func() {
			close(entered)
			<-unblock
		})
	}
	e, err := New(testPolicy(), 4, dev)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := e.Maintain(context.Background(), time.Now())
		done <- err
	}()

	<-entered
	_, err = e.Maintain(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrMaintenanceRunning)

	// Writers are not blocked by maintenance.
	_, err = e.Allocate(context.Background(), 1)
	assert.NoError(t, err)

	close(unblock)
	require.NoError(t, <-done)
}

func TestMaintainConcurrentWithWriters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 32)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := range 4 {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, 7))
			for {
				select {
				case <-stop:
					return
				default:
				}
				h, err := f.engine.Allocate(ctx, 8)
				if err != nil {
					continue
				}
				if rng.IntN(4) == 0 {
					assert.NoError(t, f.engine.Release(h))
					continue
				}
				assert.NoError(t, f.dev.Erase(ctx, h.ID))
				assert.NoError(t, f.dev.Program(ctx, h.ID, []byte("payload")))
				assert.NoError(t, f.engine.Complete(h))
			}
		}(uint64(w))
	}

	for range 5 {
		_, err := f.engine.Maintain(ctx, f.clock.Now())
		assert.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	s := f.engine.Stats()
	assert.Zero(t, s.Allocated)
	assert.Zero(t, s.Moved)
	assert.Zero(t, s.Bad)
	checkConservation(t, f.engine)
}

// TestRandomChurn drives random operations and checks after each step that
// counts are conserved, wear counters never decrease and Bad blocks stay
// Bad with exactly one record each.
func TestRandomChurn(t *testing.T) {
	ctx := context.Background()
	const blocks = 24

	for seed := range uint64(5) {
		t.Run("", func(t *testing.T) {
			f := newFixture(t, blocks)
			rng := rand.New(rand.NewPCG(seed, 42))
			var handles []BlockHandle
			prev := f.engine.Blocks()

			for step := range 400 {
				switch op := rng.IntN(10); {
				case op < 4:
					h, err := f.engine.Allocate(ctx, rng.IntN(testBlockSize))
					if err == nil {
						handles = append(handles, h)
					} else {
						require.ErrorIs(t, err, ErrAllocationExhausted)
					}
				case op < 6 && len(handles) > 0:
					i := rng.IntN(len(handles))
					h := handles[i]
					handles = append(handles[:i], handles[i+1:]...)
					if f.engine.IsBad(h.ID) {
						continue
					}
					require.NoError(t, f.dev.Erase(ctx, h.ID))
					require.NoError(t, f.dev.Program(ctx, h.ID, []byte{byte(step)}))
					require.NoError(t, f.engine.Complete(h))
				case op == 6 && len(handles) > 0:
					i := rng.IntN(len(handles))
					h := handles[i]
					handles = append(handles[:i], handles[i+1:]...)
					if err := f.engine.Release(h); err != nil {
						require.True(t, f.engine.IsBad(h.ID))
					}
				case op == 7 && rng.IntN(4) == 0:
					_, err := f.engine.MarkBad(uint32(rng.IntN(blocks)), "churn")
					require.NoError(t, err)
				case op == 8:
					_ = f.engine.Discard(uint32(rng.IntN(blocks)))
				default:
					f.clock.Advance(time.Duration(rng.IntN(120)) * time.Minute)
					_, err := f.engine.Maintain(ctx, f.clock.Now())
					require.NoError(t, err)
				}

				cur := f.engine.Blocks()
				for i := range cur {
					require.GreaterOrEqual(t, cur[i].EraseCount, prev[i].EraseCount, "block %d", i)
					require.GreaterOrEqual(t, cur[i].WriteCount, prev[i].WriteCount, "block %d", i)
					if prev[i].State == StateBad {
						require.Equal(t, StateBad, cur[i].State, "block %d left Bad", i)
					}
					_, hasRecord := f.engine.BadBlocks().Record(uint32(i))
					require.Equal(t, cur[i].State == StateBad, hasRecord, "block %d", i)
				}
				checkConservation(t, f.engine)
				prev = cur
			}
		})
	}
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 6)

	h, err := f.engine.Allocate(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, f.dev.Erase(ctx, h.ID))
	require.NoError(t, f.dev.Program(ctx, h.ID, []byte("x")))
	require.NoError(t, f.engine.Complete(h))

	_, err = f.engine.Allocate(ctx, 1) // left in flight
	require.NoError(t, err)
	_, err = f.engine.MarkBad(4, ReasonEraseFailed)
	require.NoError(t, err)
	f.set(FlashBlock{ID: 5, State: StateMoved, EraseCount: 9})
	_, err = f.engine.Maintain(ctx, f.clock.Now())
	require.NoError(t, err)

	snap := f.engine.Snapshot()
	require.NoError(t, snap.Validate())
	assert.Equal(t, uint32(SnapshotVersion), snap.Version)
	assert.False(t, snap.LastMaintenance.IsZero())

	// Block 3 has a state of Bad but no record, block 4 is replayed twice.
	snap.Blocks[3].State = StateBad
	events := []BadBlockRecord{
		{BlockID: 4, Reason: "duplicate", DetectedAt: f.clock.Now()},
		{BlockID: 0, Reason: ReasonReadFailed, DetectedAt: f.clock.Now()},
	}

	r, err := Restore(testPolicy(), snap, events, f.dev, WithClock(f.clock.Now))
	require.NoError(t, err)

	s := r.Stats()
	assert.Zero(t, s.Allocated)
	assert.Zero(t, s.Moved)
	assert.Equal(t, 3, s.Bad)
	assert.Equal(t, snap.LastMaintenance.UnixNano(), s.LastMaintenance.UnixNano())
	checkConservation(t, r)

	rec, _ := r.BadBlocks().Record(4)
	assert.Equal(t, ReasonEraseFailed, rec.Reason, "first record wins")
	rec, _ = r.BadBlocks().Record(3)
	assert.Equal(t, ReasonRestored, rec.Reason)
	assert.True(t, r.IsBad(0))

	b5, _ := r.Block(5)
	assert.Equal(t, StateFree, b5.State)
	assert.Equal(t, uint64(9), b5.EraseCount)

	for _, b := range snap.Blocks {
		got, _ := r.Block(b.ID)
		assert.Equal(t, b.EraseCount, got.EraseCount)
		assert.Equal(t, b.WriteCount, got.WriteCount)
		assert.Equal(t, b.Generation, got.Generation)
	}
}

func TestRestoreRejectsInvalidSnapshots(t *testing.T) {
	dev := memory.New(2, testBlockSize)
	valid := func() *Snapshot {
		return &Snapshot{Version: SnapshotVersion, Blocks: []FlashBlock{{ID: 0}, {ID: 1}}}
	}

	tests := []struct {
		name   string
		snap   *Snapshot
		events []BadBlockRecord
	}{
		{"nil", nil, nil},
		{"version", func() *Snapshot { s := valid(); s.Version = 9; return s }(), nil},
		{"empty", &Snapshot{Version: SnapshotVersion}, nil},
		{"id order", func() *Snapshot { s := valid(); s.Blocks[1].ID = 5; return s }(), nil},
		{"state", func() *Snapshot { s := valid(); s.Blocks[0].State = State(42); return s }(), nil},
		{"record range", func() *Snapshot {
			s := valid()
			s.BadBlocks = []BadBlockRecord{{BlockID: 2}}
			return s
		}(), nil},
		{"event range", valid(), []BadBlockRecord{{BlockID: 7}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Restore(testPolicy(), tt.snap, tt.events, dev)
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
		})
	}
}
