package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDir points the package at a temporary log directory and resets global state.
func setupTestDir(t *testing.T) {
	t.Helper()

	tempDir := t.TempDir()

	origLogDir := logDir
	origInitErr := initErr
	origRunID := runID

	logDir = tempDir
	initErr = nil
	initOnce = sync.Once{}
	runID = ""
	runIDOnce = sync.Once{}
	require.NoError(t, SetLevel("debug"))

	t.Cleanup(func() {
		logDir = origLogDir
		initErr = origInitErr
		initOnce = sync.Once{}
		runID = origRunID
		runIDOnce = sync.Once{}
		_ = SetLevel("info")
	})
}

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestNewLogger(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("session")
	require.NoError(t, err)
	defer logger.Close()

	assert.Equal(t, "session", logger.component)
	assert.NotEmpty(t, logger.SessionID())
	assert.FileExists(t, logger.LogPath())
}

func TestLoggerLevels(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("gateway")
	require.NoError(t, err)
	defer logger.Close()

	logger.Printf("queued %d", 3)
	logger.Debugf("debug message")
	logger.Warnf("warning message")
	logger.Errorf("error message")

	entries := readEntries(t, logger.LogPath())
	require.Len(t, entries, 4)

	levels := []string{"info", "debug", "warn", "error"}
	for i, entry := range entries {
		assert.Equal(t, levels[i], entry["level"])
		assert.Equal(t, "gateway", entry["component"])
		assert.Equal(t, logger.SessionID(), entry["run_id"])
	}
	assert.Equal(t, "queued 3", entries[0]["message"])
}

func TestSetLevelFilters(t *testing.T) {
	setupTestDir(t)
	require.NoError(t, SetLevel("warn"))

	logger, err := NewLogger("broadcast")
	require.NoError(t, err)
	defer logger.Close()

	logger.Debugf("hidden")
	logger.Infof("hidden")
	logger.Warnf("visible")

	entries := readEntries(t, logger.LogPath())
	require.Len(t, entries, 1)
	assert.Equal(t, "visible", entries[0]["message"])

	assert.Error(t, SetLevel("verbose"))
}

func TestMultipleComponentsShareFile(t *testing.T) {
	setupTestDir(t)

	a, err := NewLogger("session")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewLogger("server")
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, a.SessionID(), b.SessionID())
	assert.Equal(t, a.LogPath(), b.LogPath())

	a.Infof("from session")
	b.Infof("from server")

	content, err := os.ReadFile(a.LogPath())
	require.NoError(t, err)
	assert.Contains(t, string(content), `"component":"session"`)
	assert.Contains(t, string(content), `"component":"server"`)
}

func TestWithAddsField(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("gateway")
	require.NoError(t, err)
	defer logger.Close()

	logger.With("correlation_id", "c-1").Infof("sent")

	entries := readEntries(t, logger.LogPath())
	require.Len(t, entries, 1)
	assert.Equal(t, "c-1", entries[0]["correlation_id"])
}

func TestLogPathFormat(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	require.NoError(t, err)
	defer logger.Close()

	fileName := filepath.Base(logger.LogPath())
	assert.True(t, strings.HasSuffix(fileName, "-pandorabox.log"), fileName)
	assert.Contains(t, strings.TrimSuffix(fileName, "-pandorabox.log"), "-")
}

func TestLoggerCloseTwice(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	require.NoError(t, err)

	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestNopDiscards(t *testing.T) {
	logger := Nop()
	logger.Errorf("nothing %s", "here")
	assert.Empty(t, logger.LogPath())
	assert.NoError(t, logger.Close())
}

func TestGetLogDirectory(t *testing.T) {
	setupTestDir(t)

	dir, err := GetLogDirectory()
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, GetSessionID(), GetSessionID())
}
