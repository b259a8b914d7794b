package badger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashwear/pkg/snapshot"
	"github.com/marmos91/flashwear/pkg/snapshot/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) snapshot.Store {
		s, err := Open(Config{Path: filepath.Join(t.TempDir(), "snapshots"), Retain: 2})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestInMemory(t *testing.T) {
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, storetest.Sample(8, 1)))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, storetest.Sample(8, 1), got)
}

func TestRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestHistoryIsBounded(t *testing.T) {
	ctx := context.Background()
	s, err := Open(Config{Path: t.TempDir(), Retain: 2})
	require.NoError(t, err)
	defer s.Close()

	for seed := range uint64(5) {
		require.NoError(t, s.Save(ctx, storetest.Sample(4, seed+1)))
	}

	hist, err := s.History(ctx)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, storetest.Sample(4, 3), hist[0])
	assert.Equal(t, storetest.Sample(4, 4), hist[1])

	cur, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, storetest.Sample(4, 5), cur)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, storetest.Sample(16, 7)))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, storetest.Sample(16, 7), got)
}
