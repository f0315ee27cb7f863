package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileStore(t *testing.T) {
	t.Run("missing file yields empty store", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")

		store, err := NewFileStore(path)
		require.NoError(t, err)
		assert.Equal(t, path, store.Path())
		assert.False(t, store.IsModified())

		all, err := store.GetAll()
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("loads existing yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := "version: \"1\"\nsections:\n  server:\n    listen_addr: \":8080\"\n    subscriber_queue: 32\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		store, err := NewFileStore(path)
		require.NoError(t, err)

		section, err := store.GetSection("server")
		require.NoError(t, err)
		assert.Equal(t, ":8080", section["listen_addr"])
		assert.Equal(t, 32, section["subscriber_queue"])
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("sections: [unterminated"), 0600))

		_, err := NewFileStore(path)
		assert.Error(t, err)
	})
}

func TestFileStore_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.SetSection("store", map[string]any{"driver": "sqlite", "dsn": "file:test.db"}))
	assert.True(t, store.IsModified())

	require.NoError(t, store.Save())
	assert.False(t, store.IsModified())
	assert.NoFileExists(t, path+".tmp")

	reloaded, err := NewFileStore(path)
	require.NoError(t, err)
	section, err := reloaded.GetSection("store")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", section["driver"])
	assert.Equal(t, "file:test.db", section["dsn"])
}

func TestFileStore_ReturnsCopies(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	require.NoError(t, store.SetSection("ai", map[string]any{"model": "gpt-4o-mini"}))

	section, err := store.GetSection("ai")
	require.NoError(t, err)
	section["model"] = "mutated"

	again, err := store.GetSection("ai")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", again["model"])
}

func TestManager_WithFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	manager, err := NewDefaultManager(store)
	require.NoError(t, err)

	sessionFrom(t, manager).RetryMaxAttempts = 7
	require.NoError(t, manager.SaveAll())

	store2, err := NewFileStore(path)
	require.NoError(t, err)
	manager2, err := NewDefaultManager(store2)
	require.NoError(t, err)
	require.NoError(t, manager2.LoadAll())

	assert.Equal(t, 7, sessionFrom(t, manager2).Settings().RetryMaxAttempts)
	assert.Equal(t, defaultQRTTL, sessionFrom(t, manager2).Settings().QRTTL)
}

func sessionFrom(t *testing.T, m *Manager) *SessionSection {
	t.Helper()
	section, ok := m.GetSection(SectionIDSession)
	require.True(t, ok)
	return section.(*SessionSection)
}
