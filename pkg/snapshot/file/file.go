// Package file stores the snapshot as a single file, replaced atomically
// by rename. The previous generation is kept next to it and used when the
// current file fails to decode.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/flashwear/internal/logger"
	"github.com/marmos91/flashwear/pkg/snapshot"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

const prevSuffix = ".prev"

// Config configures a file store.
type Config struct {
	// Path of the snapshot file. Its directory is created if missing.
	Path string `mapstructure:"path" validate:"required"`

	// KeepPrevious retains the last generation as Path+".prev".
	KeepPrevious bool `mapstructure:"keep_previous"`
}

type Store struct {
	cfg Config

	mu     sync.Mutex
	closed bool
}

// New prepares a store at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("file snapshot store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &Store{cfg: cfg}, nil
}

func (s *Store) Save(ctx context.Context, snap *wearlevel.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return snapshot.ErrStoreClosed
	}

	dir := filepath.Dir(s.cfg.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.cfg.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}

	if s.cfg.KeepPrevious {
		if err := os.Rename(s.cfg.Path, s.cfg.Path+prevSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("rotate snapshot: %w", err)
		}
	}
	if err := os.Rename(tmp.Name(), s.cfg.Path); err != nil {
		return fmt.Errorf("install snapshot: %w", err)
	}
	return syncDir(dir)
}

func (s *Store) Load(ctx context.Context) (*wearlevel.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, snapshot.ErrStoreClosed
	}

	snap, err := readFile(s.cfg.Path)
	if err == nil || !s.cfg.KeepPrevious || errors.Is(err, snapshot.ErrNotFound) {
		return snap, err
	}

	prev, perr := readFile(s.cfg.Path + prevSuffix)
	if perr != nil {
		return nil, err
	}
	logger.Warn("Current snapshot unreadable, using previous generation", logger.File(s.cfg.Path), logger.Err(err))
	return prev, nil
}

func readFile(path string) (*wearlevel.Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, snapshot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return snapshot.Decode(data)
}

// Healthcheck verifies the snapshot directory is writable.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return snapshot.ErrStoreClosed
	}

	f, err := os.CreateTemp(filepath.Dir(s.cfg.Path), ".healthcheck-*")
	if err != nil {
		return fmt.Errorf("snapshot directory not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync snapshot directory: %w", err)
	}
	return nil
}

var _ snapshot.Store = (*Store)(nil)
