// Package memory keeps the encoded snapshot in process memory. It is the
// default for simulations and tests.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/flashwear/pkg/snapshot"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// Store holds the last saved snapshot in encoded form, so callers never
// share memory with it.
type Store struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
}

func New() *Store { return &Store{} }

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
	s.data = data
	return nil
}

func (s *Store) Load(ctx context.Context) (*wearlevel.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.closed:
		return nil, snapshot.ErrStoreClosed
	case s.data == nil:
		return nil, snapshot.ErrNotFound
	}
	return snapshot.Decode(s.data)
}

func (s *Store) Healthcheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return snapshot.ErrStoreClosed
	}
	return ctx.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ snapshot.Store = (*Store)(nil)
