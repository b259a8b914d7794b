package journal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashwear/pkg/device/memory"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

func rec(id uint32, reason string) wearlevel.BadBlockRecord {
	return wearlevel.BadBlockRecord{
		BlockID:    id,
		Reason:     reason,
		DetectedAt: time.Date(2024, 5, 1, 10, 0, int(id), 0, time.UTC),
	}
}

func TestOpenCreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	j, err := Open(dir, WithInitialSize(4096))
	require.NoError(t, err)
	defer j.Close()

	info, err := os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())
	assert.True(t, j.IsEnabled())
	assert.Zero(t, j.Len())
}

func TestAppendAndRecoverAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)
	want := []wearlevel.BadBlockRecord{
		rec(3, wearlevel.ReasonEraseFailed),
		rec(17, wearlevel.ReasonVerifyFailed),
		rec(3, "duplicate is kept, dedup happens on restore"),
	}
	for _, r := range want {
		require.NoError(t, j.AppendBadBlock(r))
	}
	require.NoError(t, j.Sync())
	require.NoError(t, j.Close())

	j, err = Open(dir)
	require.NoError(t, err)
	defer j.Close()

	got, err := j.Recover()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 3, j.Len())
}

func TestGrowth(t *testing.T) {
	j, err := Open(t.TempDir(), WithInitialSize(128), WithSyncOnAppend(true))
	require.NoError(t, err)
	defer j.Close()

	reason := strings.Repeat("r", 300)
	for id := range uint32(50) {
		require.NoError(t, j.AppendBadBlock(rec(id, reason)))
	}

	got, err := j.Recover()
	require.NoError(t, err)
	require.Len(t, got, 50)
	assert.Equal(t, uint32(49), got[49].BlockID)
	assert.Equal(t, reason, got[49].Reason)
}

func TestReset(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, j.AppendBadBlock(rec(1, "a")))
	require.NoError(t, j.Reset())
	require.NoError(t, j.AppendBadBlock(rec(2, "b")))
	require.NoError(t, j.Close())

	j, err = Open(dir)
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Recover()
	require.NoError(t, err)
	assert.Equal(t, []wearlevel.BadBlockRecord{rec(2, "b")}, got)
}

func TestRecoverDropsTornTail(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.AppendBadBlock(rec(1, "first")))
	require.NoError(t, j.AppendBadBlock(rec(2, "second")))

	// Flip a byte inside the last entry's reason.
	j.data[j.hdr.nextOffset-entryTrail-1] ^= 0xFF
	require.NoError(t, j.Close())

	j, err = Open(dir)
	require.NoError(t, err)
	got, err := j.Recover()
	require.NoError(t, err)
	assert.Equal(t, []wearlevel.BadBlockRecord{rec(1, "first")}, got)

	// The torn entry is overwritten by the next append.
	require.NoError(t, j.AppendBadBlock(rec(5, "third")))
	got, err = j.Recover()
	require.NoError(t, err)
	assert.Equal(t, []wearlevel.BadBlockRecord{rec(1, "first"), rec(5, "third")}, got)
	require.NoError(t, j.Close())
}

func TestOpenRejectsForeignFiles(t *testing.T) {
	t.Run("short", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("FW"), 0o644))
		_, err := Open(dir)
		assert.ErrorIs(t, err, ErrCorrupted)
	})

	t.Run("magic", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), make([]byte, headerSize), 0o644))
		_, err := Open(dir)
		assert.ErrorIs(t, err, ErrCorrupted)
	})

	t.Run("version", func(t *testing.T) {
		dir := t.TempDir()
		buf := make([]byte, headerSize)
		copy(buf, magic)
		binary.LittleEndian.PutUint16(buf[4:6], version+1)
		binary.LittleEndian.PutUint64(buf[10:18], headerSize)
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), buf, 0o644))
		var err error
		require.NotPanics(t, func() { _, err = Open(dir) })
		require.ErrorIs(t, err, ErrVersionMismatch)
		assert.Contains(t, err.Error(), fmt.Sprintf("version %d", version+1))
	})

	t.Run("offset", func(t *testing.T) {
		dir := t.TempDir()
		buf := make([]byte, headerSize)
		copy(buf, magic)
		binary.LittleEndian.PutUint16(buf[4:6], version)
		binary.LittleEndian.PutUint64(buf[10:18], 1<<40)
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), buf, 0o644))
		_, err := Open(dir)
		assert.ErrorIs(t, err, ErrCorrupted)
	})
}

func TestClosed(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	assert.ErrorIs(t, j.AppendBadBlock(rec(1, "x")), ErrClosed)
	assert.ErrorIs(t, j.Sync(), ErrClosed)
	assert.ErrorIs(t, j.Reset(), ErrClosed)
	_, err = j.Recover()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentAppends(t *testing.T) {
	j, err := Open(t.TempDir(), WithInitialSize(256))
	require.NoError(t, err)
	defer j.Close()

	var wg sync.WaitGroup
	for w := range uint32(8) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range uint32(25) {
				assert.NoError(t, j.AppendBadBlock(rec(w*100+i, "concurrent")))
			}
		}()
	}
	wg.Wait()

	got, err := j.Recover()
	require.NoError(t, err)
	assert.Len(t, got, 200)
}

func TestEngineSink(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	require.NoError(t, err)
	defer j.Close()

	e, err := wearlevel.New(wearlevel.DefaultPolicy(), 8, memory.New(8, 512), wearlevel.WithBadBlockSink(j))
	require.NoError(t, err)
	_, err = e.MarkBad(6, wearlevel.ReasonProgramFailed)
	require.NoError(t, err)

	got, err := j.Recover()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(6), got[0].BlockID)
	assert.Equal(t, wearlevel.ReasonProgramFailed, got[0].Reason)
}

func TestNullJournal(t *testing.T) {
	var j Journal = NullJournal{}
	assert.False(t, j.IsEnabled())
	require.NoError(t, j.AppendBadBlock(rec(1, "x")))
	got, err := j.Recover()
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, j.Reset())
	assert.NoError(t, j.Sync())
	assert.NoError(t, j.Close())
}
