package snapshot_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashwear/pkg/snapshot"
	"github.com/marmos91/flashwear/pkg/snapshot/storetest"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

func TestEncodeDecode(t *testing.T) {
	want := storetest.Sample(100, 3)
	data, err := snapshot.Encode(want)
	require.NoError(t, err)

	got, err := snapshot.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, got.Validate())
}

func TestEncodeKeepsZeroTimes(t *testing.T) {
	want := &wearlevel.Snapshot{
		Version: wearlevel.SnapshotVersion,
		Blocks:  []wearlevel.FlashBlock{{ID: 0}},
	}
	data, err := snapshot.Encode(want)
	require.NoError(t, err)
	got, err := snapshot.Decode(data)
	require.NoError(t, err)
	assert.True(t, got.TakenAt.IsZero())
	assert.True(t, got.Blocks[0].LastAccess.IsZero())
}

func TestDecodeRejectsDamage(t *testing.T) {
	data, err := snapshot.Encode(storetest.Sample(8, 1))
	require.NoError(t, err)

	tests := map[string][]byte{
		"empty":     nil,
		"magic":     append([]byte("XXXX"), data[4:]...),
		"truncated": data[:len(data)-3],
		"flipped": func() []byte {
			d := append([]byte(nil), data...)
			d[len(d)-1] ^= 0x01
			return d
		}(),
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := snapshot.Decode(in)
			assert.ErrorIs(t, err, snapshot.ErrCorrupt)
		})
	}
}

func TestEncodeNil(t *testing.T) {
	_, err := snapshot.Encode(nil)
	assert.Error(t, err)
}
