// Package badger stores snapshots in an embedded BadgerDB. Besides the
// current snapshot it keeps a bounded history keyed by capture time.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/flashwear/internal/logger"
	"github.com/marmos91/flashwear/pkg/snapshot"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

var (
	keyCurrent    = []byte("snapshot/current")
	historyPrefix = []byte("snapshot/history/")
)

// Config configures a Badger store.
type Config struct {
	// Path is the database directory. Empty with InMemory set runs
	// without disk.
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`

	// Retain is how many older snapshots are kept besides the current one.
	Retain int `mapstructure:"retain" validate:"gte=0"`

	// SyncWrites makes every save durable before it returns.
	SyncWrites bool `mapstructure:"sync_writes"`
}

type Store struct {
	db     *badgerdb.DB
	retain int

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the database.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("badger snapshot store: path is required")
	}
	opts := badgerdb.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{})
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, retain: cfg.Retain}, nil
}

func historyKey(s *wearlevel.Snapshot) []byte {
	k := make([]byte, len(historyPrefix)+8)
	copy(k, historyPrefix)
	// Big endian so that keys sort by time.
	binary.BigEndian.PutUint64(k[len(historyPrefix):], uint64(s.TakenAt.UnixNano()))
	return k
}

func (s *Store) Save(ctx context.Context, snap *wearlevel.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}

	// Saves are serialized; concurrent read-modify-write transactions on
	// the current key would otherwise fail with ErrConflict.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return snapshot.ErrStoreClosed
	}

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		if s.retain > 0 {
			item, err := txn.Get(keyCurrent)
			switch {
			case err == nil:
				prev, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if old, derr := snapshot.Decode(prev); derr == nil {
					if err := txn.Set(historyKey(old), prev); err != nil {
						return err
					}
				}
			case !errors.Is(err, badgerdb.ErrKeyNotFound):
				return err
			}
		}
		return txn.Set(keyCurrent, data)
	})
	if err != nil {
		return fmt.Errorf("badger save: %w", err)
	}
	return s.prune()
}

// prune deletes the oldest history entries beyond the retention limit.
func (s *Store) prune() error {
	var keys [][]byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = historyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(keys) <= s.retain {
		return err
	}

	stale := keys[:len(keys)-s.retain]
	return s.db.Update(func(txn *badgerdb.Txn) error {
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		logger.Debug("Pruned snapshot history", logger.Count(len(stale)))
		return nil
	})
}

func (s *Store) Load(ctx context.Context) (*wearlevel.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, snapshot.ErrStoreClosed
	}

	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyCurrent)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, snapshot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger load: %w", err)
	}
	return snapshot.Decode(data)
}

// History returns the retained older snapshots, oldest first.
func (s *Store) History(ctx context.Context) ([]*wearlevel.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, snapshot.ErrStoreClosed
	}

	var out []*wearlevel.Snapshot
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = historyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				snap, err := snapshot.Decode(val)
				if err != nil {
					return err
				}
				out = append(out, snap)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return snapshot.ErrStoreClosed
	}
	if err := s.db.View(func(*badgerdb.Txn) error { return nil }); err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// badgerLogger routes Badger's own logging through the process logger.
// Badger is chatty at info level, so that is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...any)   { logger.Errorf("badger: "+f, v...) }
func (badgerLogger) Warningf(f string, v ...any) { logger.Warnf("badger: "+f, v...) }
func (badgerLogger) Infof(f string, v ...any)    { logger.Debugf("badger: "+f, v...) }
func (badgerLogger) Debugf(f string, v ...any)   { logger.Debugf("badger: "+f, v...) }

var _ snapshot.Store = (*Store)(nil)
