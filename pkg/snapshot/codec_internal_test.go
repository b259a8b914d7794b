package snapshot

import (
	"bytes"
	"encoding/binary"
	"testing"

	xdr "github.com/rasky/go-xdr/xdr2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/xxh3"

	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// envelope wraps an XDR body with a valid header, so only the body content
// is under test.
func envelope(t *testing.T, w wireSnapshot) []byte {
	t.Helper()
	var body bytes.Buffer
	_, err := xdr.Marshal(&body, &w)
	require.NoError(t, err)

	out := make([]byte, envelopeLen, envelopeLen+body.Len())
	copy(out, magic)
	binary.BigEndian.PutUint64(out[len(magic):], xxh3.Hash(body.Bytes()))
	return append(out, body.Bytes()...)
}

func TestDecodeRejectsUnknownState(t *testing.T) {
	for _, state := range []uint32{uint32(wearlevel.StateBad) + 1, 256, 1 << 31} {
		data := envelope(t, wireSnapshot{
			Version: wearlevel.SnapshotVersion,
			Blocks:  []wireBlock{{ID: 0}, {ID: 1, State: state}},
		})
		_, err := Decode(data)
		assert.ErrorIs(t, err, ErrCorrupt, "state %d", state)
	}

	data := envelope(t, wireSnapshot{
		Version: wearlevel.SnapshotVersion,
		Blocks:  []wireBlock{{ID: 0, State: uint32(wearlevel.StateBad)}},
	})
	snap, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, wearlevel.StateBad, snap.Blocks[0].State)
}
