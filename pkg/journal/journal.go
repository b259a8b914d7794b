// Package journal records bad-block events between snapshots.
//
// A snapshot captures the whole block table but is only written
// periodically. Retirements are rare and must not be lost, so each one is
// appended to the journal as it happens; on startup the events recorded
// after the last snapshot are replayed through wearlevel.Restore. The
// journal is reset once a newer snapshot is durably stored.
package journal

import (
	"errors"

	"github.com/marmos91/flashwear/pkg/wearlevel"
)

var (
	// ErrClosed is returned by operations on a closed journal.
	ErrClosed = errors.New("journal is closed")

	// ErrCorrupted is returned when the journal header is unreadable.
	ErrCorrupted = errors.New("journal file corrupted")

	// ErrVersionMismatch is returned for journals written by an
	// incompatible version.
	ErrVersionMismatch = errors.New("journal version mismatch")
)

// Journal is an append-only log of bad-block records. Implementations are
// safe for concurrent use and satisfy wearlevel.BadBlockSink.
type Journal interface {
	wearlevel.BadBlockSink

	// Sync flushes appended records towards stable storage.
	Sync() error

	// Recover returns every record in append order.
	Recover() ([]wearlevel.BadBlockRecord, error)

	// Reset drops all records. Call it only after a snapshot that includes
	// them has been saved.
	Reset() error

	Close() error

	// IsEnabled reports whether records are persisted at all.
	IsEnabled() bool
}

// NullJournal discards everything. It is used when journaling is off.
type NullJournal struct{}

func (NullJournal) AppendBadBlock(wearlevel.BadBlockRecord) error { return nil }
func (NullJournal) Sync() error                                   { return nil }
func (NullJournal) Recover() ([]wearlevel.BadBlockRecord, error)  { return nil, nil }
func (NullJournal) Reset() error                                  { return nil }
func (NullJournal) Close() error                                  { return nil }
func (NullJournal) IsEnabled() bool                               { return false }

var (
	_ Journal = NullJournal{}
	_ Journal = (*MmapJournal)(nil)
)
