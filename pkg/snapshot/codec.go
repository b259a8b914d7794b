package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	xdr "github.com/rasky/go-xdr/xdr2"
	"github.com/zeebo/xxh3"

	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// Encoded layout: magic "FWSN" | xxh3 of body (u64, big endian) | body.
// The body is the XDR encoding of wireSnapshot.
const (
	magic       = "FWSN"
	envelopeLen = len(magic) + 8
)

type wireBlock struct {
	ID             uint32
	EraseCount     uint64
	WriteCount     uint64
	State          uint32
	LastAccess     int64
	WriteFrequency float64
	HoldsData      bool
	Generation     uint64
}

type wireRecord struct {
	BlockID    uint32
	Reason     string
	DetectedAt int64
}

type wireSnapshot struct {
	Version         uint32
	TakenAt         int64
	LastMaintenance int64
	Blocks          []wireBlock
	BadBlocks       []wireRecord
}

// Encode serializes snap.
func Encode(snap *wearlevel.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("encode snapshot: nil snapshot")
	}

	w := wireSnapshot{
		Version:         snap.Version,
		TakenAt:         nanos(snap.TakenAt),
		LastMaintenance: nanos(snap.LastMaintenance),
		Blocks:          make([]wireBlock, len(snap.Blocks)),
		BadBlocks:       make([]wireRecord, len(snap.BadBlocks)),
	}
	for i, b := range snap.Blocks {
		w.Blocks[i] = wireBlock{
			ID:             b.ID,
			EraseCount:     b.EraseCount,
			WriteCount:     b.WriteCount,
			State:          uint32(b.State),
			LastAccess:     nanos(b.LastAccess),
			WriteFrequency: b.WriteFrequency,
			HoldsData:      b.HoldsData,
			Generation:     b.Generation,
		}
	}
	for i, r := range snap.BadBlocks {
		w.BadBlocks[i] = wireRecord{BlockID: r.BlockID, Reason: r.Reason, DetectedAt: nanos(r.DetectedAt)}
	}

	var body bytes.Buffer
	if _, err := xdr.Marshal(&body, &w); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	out := make([]byte, envelopeLen, envelopeLen+body.Len())
	copy(out, magic)
	binary.BigEndian.PutUint64(out[len(magic):], xxh3.Hash(body.Bytes()))
	return append(out, body.Bytes()...), nil
}

// Decode parses data produced by Encode. Checksum or format errors wrap
// ErrCorrupt.
func Decode(data []byte) (*wearlevel.Snapshot, error) {
	if len(data) < envelopeLen || string(data[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: missing header", ErrCorrupt)
	}
	body := data[envelopeLen:]
	if binary.BigEndian.Uint64(data[len(magic):envelopeLen]) != xxh3.Hash(body) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	var w wireSnapshot
	if _, err := xdr.Unmarshal(bytes.NewReader(body), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	snap := &wearlevel.Snapshot{
		Version:         w.Version,
		TakenAt:         fromNanos(w.TakenAt),
		LastMaintenance: fromNanos(w.LastMaintenance),
		Blocks:          make([]wearlevel.FlashBlock, len(w.Blocks)),
	}
	if len(w.BadBlocks) > 0 {
		snap.BadBlocks = make([]wearlevel.BadBlockRecord, len(w.BadBlocks))
	}
	for i, b := range w.Blocks {
		if b.State > uint32(wearlevel.StateBad) {
			return nil, fmt.Errorf("%w: block %d has unknown state %d", ErrCorrupt, b.ID, b.State)
		}
		snap.Blocks[i] = wearlevel.FlashBlock{
			ID:             b.ID,
			EraseCount:     b.EraseCount,
			WriteCount:     b.WriteCount,
			State:          wearlevel.State(b.State),
			LastAccess:     fromNanos(b.LastAccess),
			WriteFrequency: b.WriteFrequency,
			HoldsData:      b.HoldsData,
			Generation:     b.Generation,
		}
	}
	for i, r := range w.BadBlocks {
		snap.BadBlocks[i] = wearlevel.BadBlockRecord{BlockID: r.BlockID, Reason: r.Reason, DetectedAt: fromNanos(r.DetectedAt)}
	}
	return snap, nil
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
