package runtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashwear/pkg/device/memory"
	"github.com/marmos91/flashwear/pkg/journal"
	"github.com/marmos91/flashwear/pkg/snapshot"
	snapfile "github.com/marmos91/flashwear/pkg/snapshot/file"
	snapmemory "github.com/marmos91/flashwear/pkg/snapshot/memory"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

const (
	testBlocks    = 32
	testBlockSize = 64
)

type fixture struct {
	dir  string
	dev  *memory.Device
	path string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	return &fixture{
		dir:  dir,
		dev:  memory.New(testBlocks, testBlockSize),
		path: filepath.Join(dir, "snapshot.fwsn"),
	}
}

func (f *fixture) open(t *testing.T) (*Runtime, *journal.MmapJournal) {
	t.Helper()
	store, err := snapfile.New(snapfile.Config{Path: f.path})
	require.NoError(t, err)
	j, err := journal.Open(filepath.Join(f.dir, "journal"), journal.WithInitialSize(4096))
	require.NoError(t, err)

	rt, err := Open(context.Background(), Options{
		Policy:     wearlevel.DefaultPolicy(),
		Device:     f.dev,
		DeviceKind: "memory",
		BlockCount: testBlocks,
		BlockSize:  testBlockSize,
		Store:      store,
		StoreType:  snapshot.TypeFile,
		Journal:    j,
	})
	require.NoError(t, err)
	return rt, j
}

func TestOpenFresh(t *testing.T) {
	f := newFixture(t)
	rt, _ := f.open(t)
	defer rt.Close(context.Background())

	info := rt.Restored()
	assert.False(t, info.FromSnapshot)
	assert.Zero(t, info.Replayed)

	st := rt.Status()
	assert.Equal(t, testBlocks, st.Stats.Total)
	assert.Equal(t, testBlocks, st.Stats.Free)
	assert.True(t, st.JournalEnabled)
	assert.Nil(t, st.LastRun)
}

func TestCloseThenReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rt, j := f.open(t)
	ok, err := rt.Engine().MarkBad(5, "ecc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, j.Len())

	require.NoError(t, rt.Close(ctx))
	require.NoError(t, rt.Close(ctx), "second close is a no-op")

	rt2, j2 := f.open(t)
	defer rt2.Close(ctx)

	info := rt2.Restored()
	assert.True(t, info.FromSnapshot)
	assert.Zero(t, info.Replayed)
	assert.Zero(t, j2.Len(), "final snapshot covers the journal")
	assert.True(t, rt2.Engine().IsBad(5))

	recs := rt2.Engine().ExportBadBlocks()
	require.Len(t, recs, 1)
	assert.Equal(t, "ecc", recs[0].Reason)
}

func TestRecoverFromJournalAfterCrash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rt, j := f.open(t)
	require.NoError(t, rt.Persist(ctx))

	_, err := rt.Engine().MarkBad(7, "ecc")
	require.NoError(t, err)
	_, err = rt.Engine().MarkBad(9, wearlevel.ReasonProgramFailed)
	require.NoError(t, err)

	// Simulate a crash: no final snapshot, only the journal survives.
	require.NoError(t, j.Close())

	rt2, j2 := f.open(t)
	defer rt2.Close(ctx)

	info := rt2.Restored()
	assert.True(t, info.FromSnapshot)
	assert.Equal(t, 2, info.Replayed)
	assert.True(t, rt2.Engine().IsBad(7))
	assert.True(t, rt2.Engine().IsBad(9))
	assert.Equal(t, 2, rt2.Status().Stats.Bad)
	assert.Zero(t, j2.Len(), "replayed records are folded into a snapshot")
}

func TestRecoverJournalWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rt, j := f.open(t)
	_, err := rt.Engine().MarkBad(3, "ecc")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	rt2, _ := f.open(t)
	defer rt2.Close(ctx)

	info := rt2.Restored()
	assert.False(t, info.FromSnapshot)
	assert.Equal(t, 1, info.Replayed)
	assert.True(t, rt2.Engine().IsBad(3))
}

func TestOpenRejectsBlockCountMismatch(t *testing.T) {
	ctx := context.Background()
	store := snapmemory.New()

	e, err := wearlevel.New(wearlevel.DefaultPolicy(), 8, memory.New(8, testBlockSize))
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, e.Snapshot()))

	_, err = Open(ctx, Options{
		Policy:     wearlevel.DefaultPolicy(),
		Device:     memory.New(16, testBlockSize),
		BlockCount: 16,
		Store:      store,
	})
	require.ErrorIs(t, err, wearlevel.ErrInvalidSnapshot)
}

func TestOpenRequiresDeviceAndStore(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Options{Store: snapmemory.New(), BlockCount: 4})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Device: memory.New(4, testBlockSize), BlockCount: 4})
	assert.Error(t, err)
}

func TestPersistKeepsRecordsNewerThanSnapshot(t *testing.T) {
	f := newFixture(t)
	rt, j := f.open(t)
	defer rt.Close(context.Background())

	_, err := rt.Engine().MarkBad(1, "ecc")
	require.NoError(t, err)

	snap := rt.Engine().Snapshot()

	// Appended after the snapshot above was taken.
	_, err = rt.Engine().MarkBad(2, "ecc")
	require.NoError(t, err)

	kept, err := rt.sink.truncate(snap)
	require.NoError(t, err)
	assert.Equal(t, 1, kept)

	recs, err := j.Recover()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint32(2), recs[0].BlockID)
}

func TestMaintainPersistsAndRecordsRun(t *testing.T) {
	ctx := context.Background()
	store := snapmemory.New()
	dev := memory.New(testBlocks, testBlockSize)
	require.NoError(t, dev.Inject(4, memory.FailErase))

	rt, err := Open(ctx, Options{
		Policy:     wearlevel.DefaultPolicy(),
		Device:     dev,
		BlockCount: testBlocks,
		BlockSize:  testBlockSize,
		Store:      store,
		StoreType:  snapshot.TypeMemory,
	})
	require.NoError(t, err)

	run, err := rt.Maintain(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, 1, run.NewlyBad)
	assert.Equal(t, run, rt.LastRun())

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.BadBlocks, 1)
	assert.Equal(t, uint32(4), snap.BadBlocks[0].BlockID)
	assert.False(t, snap.LastMaintenance.IsZero())

	st := rt.Status()
	assert.False(t, st.LastPersist.IsZero())
	assert.False(t, st.JournalEnabled)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, run.RunID, st.LastRun.RunID)
}

func TestMaintainTimeout(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, Options{
		Policy:             wearlevel.DefaultPolicy(),
		Device:             memory.New(testBlocks, testBlockSize),
		BlockCount:         testBlocks,
		Store:              snapmemory.New(),
		MaintenanceTimeout: time.Nanosecond,
	})
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	run, err := rt.Maintain(ctx)
	require.Error(t, err)
	require.NotNil(t, run)
	assert.True(t, run.Canceled)
	assert.NotEmpty(t, run.Error)
	assert.NotNil(t, rt.LastRun())
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := snapmemory.New()

	rt, err := Open(ctx, Options{
		Policy:              wearlevel.DefaultPolicy(),
		Device:              memory.New(testBlocks, testBlockSize),
		BlockCount:          testBlocks,
		Store:               store,
		MaintenanceInterval: 5 * time.Millisecond,
		SnapshotInterval:    5 * time.Millisecond,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	require.Eventually(t, func() bool { return rt.LastRun() != nil }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, err = store.Load(context.Background())
	assert.NoError(t, err)
}

func TestHealthcheck(t *testing.T) {
	ctx := context.Background()
	store := snapmemory.New()
	rt, err := Open(ctx, Options{
		Policy:     wearlevel.DefaultPolicy(),
		Device:     memory.New(4, testBlockSize),
		BlockCount: 4,
		Store:      store,
	})
	require.NoError(t, err)
	assert.NoError(t, rt.Healthcheck(ctx))

	require.NoError(t, rt.Close(ctx))
	assert.ErrorIs(t, rt.Healthcheck(ctx), snapshot.ErrStoreClosed)
}
