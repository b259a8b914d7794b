package wearlevel

import "context"

// ErasedByte is the value every byte of a block reads as after a successful
// erase. Erase verification checks for it.
const ErasedByte = 0xFF

// Device is the raw block I/O boundary. The engine only uses it during
// maintenance (erase-verify scans and relocation copies); ordinary writes
// are performed by the caller after Allocate.
//
// Implementations must be safe for concurrent use on distinct blocks.
type Device interface {
	Erase(ctx context.Context, id uint32) error
	Program(ctx context.Context, id uint32, data []byte) error
	Read(ctx context.Context, id uint32) ([]byte, error)
}

// BadBlockSink receives every newly created BadBlockRecord, in creation
// order. The runtime wires a journal here so that bad-block events survive
// between snapshots.
type BadBlockSink interface {
	AppendBadBlock(rec BadBlockRecord) error
}

func isErased(data []byte) bool {
	for _, b := range data {
		if b != ErasedByte {
			return false
		}
	}
	return true
}
