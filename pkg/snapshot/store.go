// Package snapshot persists wear-leveling engine state.
//
// Every backend stores a single current snapshot per device, encoded with
// Encode. Saving replaces the previous snapshot atomically from the
// reader's point of view: Load returns either the old or the new one,
// never a mix.
package snapshot

import (
	"context"
	"errors"

	"github.com/marmos91/flashwear/pkg/wearlevel"
)

var (
	// ErrNotFound is returned by Load when nothing was saved yet.
	ErrNotFound = errors.New("snapshot not found")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("snapshot store is closed")

	// ErrCorrupt is returned when stored bytes fail to decode.
	ErrCorrupt = errors.New("snapshot corrupt")
)

// Store persists the latest engine snapshot.
type Store interface {
	Save(ctx context.Context, snap *wearlevel.Snapshot) error
	Load(ctx context.Context) (*wearlevel.Snapshot, error)

	// Healthcheck reports whether the backend is reachable.
	Healthcheck(ctx context.Context) error

	Close() error
}

// Store types accepted by the configuration.
const (
	TypeMemory = "memory"
	TypeFile   = "file"
	TypeBadger = "badger"
	TypeSQL    = "sql"
	TypeS3     = "s3"
)
