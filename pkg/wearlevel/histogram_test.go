package wearlevel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEraseHistogram(t *testing.T) {
	blocks := []FlashBlock{
		{ID: 0, EraseCount: 0},
		{ID: 1, EraseCount: 3},
		{ID: 2, EraseCount: 9},
		{ID: 3, EraseCount: 100, State: StateBad},
	}

	got := EraseHistogram(blocks, 5)
	require.Len(t, got, 5)
	assert.Equal(t, WearBucket{Min: 0, Max: 1, Count: 1}, got[0])
	assert.Equal(t, WearBucket{Min: 2, Max: 3, Count: 1}, got[1])
	assert.Equal(t, WearBucket{Min: 4, Max: 5, Count: 0}, got[2])
	assert.Equal(t, WearBucket{Min: 8, Max: 9, Count: 1}, got[4])

	// Fewer distinct values than buckets.
	got = EraseHistogram([]FlashBlock{{EraseCount: 7}, {EraseCount: 7}}, 4)
	require.Len(t, got, 1)
	assert.Equal(t, WearBucket{Min: 7, Max: 7, Count: 2}, got[0])

	// The last bucket is clipped to the maximum.
	got = EraseHistogram([]FlashBlock{{EraseCount: 0}, {EraseCount: 10}}, 3)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(10), got[2].Max)
	assert.Equal(t, 1, got[2].Count)

	assert.Nil(t, EraseHistogram(nil, 4))
	assert.Nil(t, EraseHistogram([]FlashBlock{{State: StateBad}}, 4))
}
