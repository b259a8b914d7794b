package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashwear/pkg/snapshot"
	"github.com/marmos91/flashwear/pkg/snapshot/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) snapshot.Store {
		s, err := New(Config{Path: filepath.Join(t.TempDir(), "state", "snapshot.bin"), KeepPrevious: true})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestRequiresPath(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestFallsBackToPrevious(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.bin")
	s, err := New(Config{Path: path, KeepPrevious: true})
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, storetest.Sample(8, 1)))
	require.NoError(t, s.Save(ctx, storetest.Sample(8, 2)))
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, storetest.Sample(8, 1), got)
}

func TestCorruptWithoutPrevious(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.bin")
	s, err := New(Config{Path: path})
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, storetest.Sample(8, 1)))
	_, err = os.Stat(path + prevSuffix)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, snapshot.ErrCorrupt)
}

func TestNoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{Path: filepath.Join(dir, "snapshot.bin")})
	require.NoError(t, err)
	for seed := range uint64(3) {
		require.NoError(t, s.Save(context.Background(), storetest.Sample(4, seed+1)))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
