// Package storetest is the conformance suite every snapshot.Store backend
// runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashwear/pkg/snapshot"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// StoreFactory returns a fresh, empty store. It should register cleanup
// with t.Cleanup; the suite closes the store itself only in the closed-store
// test.
type StoreFactory func(t *testing.T) snapshot.Store

// RunConformanceSuite runs the shared behavior tests against factory.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("LoadEmpty", func(t *testing.T) { testLoadEmpty(t, factory) })
	t.Run("SaveLoad", func(t *testing.T) { testSaveLoad(t, factory) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("Healthcheck", func(t *testing.T) { testHealthcheck(t, factory) })
	t.Run("ConcurrentSaves", func(t *testing.T) { testConcurrentSaves(t, factory) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, factory) })
}

// Sample builds a snapshot of n blocks whose content depends on seed.
func Sample(n int, seed uint64) *wearlevel.Snapshot {
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	s := &wearlevel.Snapshot{
		Version:         wearlevel.SnapshotVersion,
		TakenAt:         base.Add(time.Duration(seed) * time.Minute),
		LastMaintenance: base.Add(time.Duration(seed) * time.Second),
		Blocks:          make([]wearlevel.FlashBlock, n),
	}
	for i := range s.Blocks {
		b := wearlevel.FlashBlock{
			ID:             uint32(i),
			EraseCount:     seed*1000 + uint64(i),
			WriteCount:     seed + uint64(i)/2,
			State:          wearlevel.AllStates[(i+int(seed))%len(wearlevel.AllStates)],
			WriteFrequency: float64(i) / 4,
			HoldsData:      i%3 == 0,
			Generation:     uint64(i),
		}
		if i%2 == 0 {
			b.LastAccess = base.Add(-time.Duration(i) * time.Hour)
		}
		if b.State == wearlevel.StateBad {
			s.BadBlocks = append(s.BadBlocks, wearlevel.BadBlockRecord{
				BlockID:    b.ID,
				Reason:     fmt.Sprintf("sample %d", seed),
				DetectedAt: base,
			})
		}
		s.Blocks[i] = b
	}
	return s
}

func testLoadEmpty(t *testing.T, factory StoreFactory) {
	s := factory(t)
	_, err := s.Load(t.Context())
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func testSaveLoad(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	want := Sample(64, 1)
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func testOverwrite(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	require.NoError(t, s.Save(ctx, Sample(16, 1)))
	require.NoError(t, s.Save(ctx, Sample(32, 2)))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Sample(32, 2), got)
}

func testHealthcheck(t *testing.T, factory StoreFactory) {
	s := factory(t)
	assert.NoError(t, s.Healthcheck(t.Context()))
}

func testConcurrentSaves(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	var wg sync.WaitGroup
	for seed := range uint64(4) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Save(ctx, Sample(24, seed+1)))
		}()
	}
	wg.Wait()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	matched := false
	for seed := range uint64(4) {
		if assert.ObjectsAreEqual(Sample(24, seed+1), got) {
			matched = true
		}
	}
	assert.True(t, matched, "loaded snapshot must equal one of the saved ones")
}

func testClosed(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	require.NoError(t, s.Close())

	err := s.Save(ctx, Sample(4, 1))
	assert.True(t, errors.Is(err, snapshot.ErrStoreClosed), "Save after Close: %v", err)
	_, err = s.Load(ctx)
	assert.True(t, errors.Is(err, snapshot.ErrStoreClosed), "Load after Close: %v", err)
}
