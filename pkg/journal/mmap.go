package journal

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sys/unix"

	"github.com/marmos91/flashwear/internal/logger"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// File layout
//
//	Header (64 bytes, little endian):
//	  magic "FWBJ" | version u16 | entry count u32 | next offset u64 | reserved
//
//	Entry:
//	  type u8 | block id u32 | detected at i64 (unix nanos) |
//	  reason length u16 | reason | xxh3 of the preceding entry bytes u64
//
// A crash in the middle of an append leaves a tail whose checksum does not
// match; Recover stops there and rewinds the write offset.
const (
	FileName = "badblocks.journal"

	magic      = "FWBJ"
	version    = uint16(1)
	headerSize = 64

	// DefaultInitialSize holds roughly 20k records before the first growth.
	DefaultInitialSize = 1 << 20

	entryBadBlock uint8 = 1

	entryFixed = 1 + 4 + 8 + 2 // before the reason
	entryTrail = 8
)

type header struct {
	entries    uint32
	nextOffset uint64
}

// Option configures an MmapJournal.
type Option func(*MmapJournal)

// WithInitialSize sets the size a new journal file is created with.
func WithInitialSize(n uint64) Option {
	return func(j *MmapJournal) {
		if n > headerSize {
			j.initialSize = n
		}
	}
}

// WithSyncOnAppend makes every append synchronously flush the mapping.
func WithSyncOnAppend(on bool) Option {
	return func(j *MmapJournal) { j.syncOnAppend = on }
}

// MmapJournal is a Journal backed by a memory-mapped file. Appends are
// memory copies; the kernel writes dirty pages back on its own schedule
// unless WithSyncOnAppend is set.
type MmapJournal struct {
	initialSize  uint64
	syncOnAppend bool

	mu     sync.Mutex
	path   string
	file   *os.File
	data   []byte
	size   uint64
	hdr    header
	dirty  bool
	closed bool
}

// Open opens the journal in dir, creating dir and the file if needed.
func Open(dir string, opts ...Option) (*MmapJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	j := &MmapJournal{initialSize: DefaultInitialSize, path: filepath.Join(dir, FileName)}
	for _, opt := range opts {
		opt(j)
	}

	var err error
	if _, statErr := os.Stat(j.path); statErr == nil {
		err = j.openExisting()
	} else {
		err = j.create()
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("Journal opened", logger.File(j.path), logger.Count(int(j.hdr.entries)))
	return j, nil
}

// Path returns the journal file path.
func (j *MmapJournal) Path() string { return j.path }

func (j *MmapJournal) create() error {
	f, err := os.OpenFile(j.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	if err := j.mapFile(f, j.initialSize); err != nil {
		f.Close()
		return err
	}
	j.hdr = header{nextOffset: headerSize}
	j.writeHeader()
	return nil
}

func (j *MmapJournal) openExisting() error {
	f, err := os.OpenFile(j.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat journal: %w", err)
	}
	if info.Size() < headerSize {
		f.Close()
		return fmt.Errorf("%w: %s is %d bytes", ErrCorrupted, j.path, info.Size())
	}
	if err := j.mapFile(f, uint64(info.Size())); err != nil {
		f.Close()
		return err
	}

	if string(j.data[0:4]) != magic {
		j.closeLocked()
		return fmt.Errorf("%w: bad magic in %s", ErrCorrupted, j.path)
	}
	if got := binary.LittleEndian.Uint16(j.data[4:6]); got != version {
		j.closeLocked()
		return fmt.Errorf("%w: %s has version %d", ErrVersionMismatch, j.path, got)
	}

	j.hdr = header{
		entries:    binary.LittleEndian.Uint32(j.data[6:10]),
		nextOffset: binary.LittleEndian.Uint64(j.data[10:18]),
	}
	if j.hdr.nextOffset < headerSize || j.hdr.nextOffset > j.size {
		j.closeLocked()
		return fmt.Errorf("%w: write offset %d outside file", ErrCorrupted, j.hdr.nextOffset)
	}
	return nil
}

// mapFile sizes f to size bytes and maps it shared.
func (j *MmapJournal) mapFile(f *os.File, size uint64) error {
	if err := f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap journal: %w", err)
	}
	j.file, j.data, j.size = f, data, size
	return nil
}

func (j *MmapJournal) writeHeader() {
	copy(j.data[0:4], magic)
	binary.LittleEndian.PutUint16(j.data[4:6], version)
	binary.LittleEndian.PutUint32(j.data[6:10], j.hdr.entries)
	binary.LittleEndian.PutUint64(j.data[10:18], j.hdr.nextOffset)
}

// AppendBadBlock appends rec. Reasons longer than 64KiB are truncated.
func (j *MmapJournal) AppendBadBlock(rec wearlevel.BadBlockRecord) error {
	reason := rec.Reason
	if len(reason) > math.MaxUint16 {
		reason = reason[:math.MaxUint16]
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	n := uint64(entryFixed + len(reason) + entryTrail)
	if err := j.ensureSpace(n); err != nil {
		return err
	}

	start := j.hdr.nextOffset
	buf := j.data[start : start+n]
	buf[0] = entryBadBlock
	binary.LittleEndian.PutUint32(buf[1:5], rec.BlockID)
	binary.LittleEndian.PutUint64(buf[5:13], uint64(rec.DetectedAt.UnixNano()))
	binary.LittleEndian.PutUint16(buf[13:15], uint16(len(reason)))
	copy(buf[entryFixed:], reason)
	body := n - entryTrail
	binary.LittleEndian.PutUint64(buf[body:], xxh3.Hash(buf[:body]))

	j.hdr.nextOffset += n
	j.hdr.entries++
	j.writeHeader()
	j.dirty = true

	if j.syncOnAppend {
		return j.msync(unix.MS_SYNC)
	}
	return nil
}

// Sync schedules dirty pages for write-back.
func (j *MmapJournal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	return j.msync(unix.MS_ASYNC)
}

func (j *MmapJournal) msync(flags int) error {
	if !j.dirty {
		return nil
	}
	if err := unix.Msync(j.data, flags); err != nil {
		return fmt.Errorf("msync journal: %w", err)
	}
	j.dirty = false
	return nil
}

// Recover returns the journaled records in append order. A torn tail is
// dropped and later appends overwrite it.
func (j *MmapJournal) Recover() ([]wearlevel.BadBlockRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}

	var recs []wearlevel.BadBlockRecord
	off := uint64(headerSize)
	for off < j.hdr.nextOffset {
		rec, n, ok := j.readEntry(off)
		if !ok {
			logger.Warn("Journal tail is torn, discarding it",
				logger.File(j.path), "offset", off, logger.Count(len(recs)))
			j.hdr.nextOffset = off
			j.hdr.entries = uint32(len(recs))
			j.writeHeader()
			j.dirty = true
			break
		}
		recs = append(recs, rec)
		off += n
	}
	return recs, nil
}

func (j *MmapJournal) readEntry(off uint64) (wearlevel.BadBlockRecord, uint64, bool) {
	end := j.hdr.nextOffset
	if off+entryFixed > end || j.data[off] != entryBadBlock {
		return wearlevel.BadBlockRecord{}, 0, false
	}
	buf := j.data[off:end]
	reasonLen := uint64(binary.LittleEndian.Uint16(buf[13:15]))
	n := entryFixed + reasonLen + entryTrail
	if n > uint64(len(buf)) {
		return wearlevel.BadBlockRecord{}, 0, false
	}
	body := n - entryTrail
	if binary.LittleEndian.Uint64(buf[body:n]) != xxh3.Hash(buf[:body]) {
		return wearlevel.BadBlockRecord{}, 0, false
	}
	return wearlevel.BadBlockRecord{
		BlockID:    binary.LittleEndian.Uint32(buf[1:5]),
		DetectedAt: time.Unix(0, int64(binary.LittleEndian.Uint64(buf[5:13]))).UTC(),
		Reason:     string(buf[entryFixed:body]),
	}, n, true
}

// Reset empties the journal without shrinking the file.
func (j *MmapJournal) Reset() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	j.hdr = header{nextOffset: headerSize}
	j.writeHeader()
	j.dirty = true
	return j.msync(unix.MS_SYNC)
}

// Len returns the number of journaled records.
func (j *MmapJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return int(j.hdr.entries)
}

// IsEnabled always reports true.
func (j *MmapJournal) IsEnabled() bool { return true }

// Close flushes and unmaps the journal. Closing twice is a no-op.
func (j *MmapJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *MmapJournal) closeLocked() error {
	if j.closed {
		return nil
	}
	j.closed = true

	if j.data != nil {
		_ = unix.Msync(j.data, unix.MS_SYNC)
		if err := unix.Munmap(j.data); err != nil {
			return fmt.Errorf("munmap journal: %w", err)
		}
		j.data = nil
	}
	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("close journal: %w", err)
		}
		j.file = nil
	}
	return nil
}

// ensureSpace grows the mapping geometrically until n more bytes fit.
func (j *MmapJournal) ensureSpace(n uint64) error {
	if j.hdr.nextOffset+n <= j.size {
		return nil
	}
	size := j.size * 2
	for j.hdr.nextOffset+n > size {
		size *= 2
	}

	if err := unix.Munmap(j.data); err != nil {
		return fmt.Errorf("munmap journal: %w", err)
	}
	j.data = nil
	if err := j.mapFile(j.file, size); err != nil {
		j.closed = true
		_ = j.file.Close()
		return err
	}
	logger.Debug("Journal grown", logger.File(j.path), logger.Size(int(size)))
	return nil
}
