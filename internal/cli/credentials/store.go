// Package credentials stores the daemon URL and operator token the
// flashwear CLI uses for remote commands.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultConfigDir is the directory under $XDG_CONFIG_HOME.
	DefaultConfigDir = "flashwear"
	// FileName of the session file.
	FileName = "session.json"

	FilePermissions = 0o600
	DirPermissions  = 0o700
)

// ErrNoSession indicates nothing has been saved yet.
var ErrNoSession = errors.New("no saved session - run 'flashwear token --save' first")

// Session is a saved server URL plus operator token.
type Session struct {
	ServerURL string    `json:"server_url"`
	Operator  string    `json:"operator,omitempty"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// IsExpired is true within 60s of expiry. Sessions without a token or an
// expiry never expire.
func (s *Session) IsExpired() bool {
	if s.Token == "" || s.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(60 * time.Second).After(s.ExpiresAt)
}

// Store reads and writes the session file.
type Store struct {
	path string
}

// NewStore returns a store at $XDG_CONFIG_HOME/flashwear/session.json.
func NewStore() (*Store, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return NewStoreAt(filepath.Join(configHome, DefaultConfigDir, FileName)), nil
}

// NewStoreAt returns a store backed by path.
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

// Load returns the saved session or ErrNoSession.
func (s *Store) Load() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", s.path, err)
	}
	return &sess, nil
}

// Save replaces the session file. The token is a credential: the file is
// written owner-only.
func (s *Store) Save(sess *Session) error {
	if err := os.MkdirAll(filepath.Dir(s.path), DirPermissions); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, FilePermissions)
}

// Clear removes the session file. Clearing a missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Path returns the session file path.
func (s *Store) Path() string { return s.path }
