package credentials

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIsExpired(t *testing.T) {
	tests := []struct {
		name     string
		sess     Session
		expected bool
	}{
		{name: "expired in past", sess: Session{Token: "t", ExpiresAt: time.Now().Add(-time.Hour)}, expected: true},
		{name: "expires within 60s", sess: Session{Token: "t", ExpiresAt: time.Now().Add(30 * time.Second)}, expected: true},
		{name: "not expired", sess: Session{Token: "t", ExpiresAt: time.Now().Add(2 * time.Hour)}, expected: false},
		{name: "no expiry", sess: Session{Token: "t"}, expected: false},
		{name: "no token", sess: Session{ExpiresAt: time.Now().Add(-time.Hour)}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.sess.IsExpired())
		})
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	store := NewStoreAt(path)

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	want := &Session{
		ServerURL: "http://localhost:8080",
		Operator:  "ops",
		Token:     "abc",
		ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second),
	}
	require.NoError(t, store.Save(want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePermissions), info.Mode().Perm())

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want.ServerURL, got.ServerURL)
	assert.Equal(t, want.Token, got.Token)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewStoreAt(path).Load()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSession)
}

func TestNewStoreUsesXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	store, err := NewStore()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultConfigDir, FileName), store.Path())
}
