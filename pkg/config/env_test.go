package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	manager, err := NewDefaultManager(newMockStore())
	require.NoError(t, err)

	err = ApplyEnv(manager, envMap(map[string]string{
		"PORT":           "8080",
		"DATABASE_URL":   "postgres://pandora@db/pandorabox",
		"AI_ENABLED":     "true",
		"OPENAI_API_KEY": "sk-env",
		"REDIS_URL":      "  ",
	}))
	require.NoError(t, err)

	server, _ := manager.GetSection(SectionIDServer)
	assert.Equal(t, ":8080", server.Data()["listen_addr"])
	assert.Equal(t, "", server.Data()["redis_url"], "blank values are ignored")

	store, _ := manager.GetSection(SectionIDStore)
	driver, dsn := store.(*StoreSection).Settings()
	assert.Equal(t, "postgres", driver, "DATABASE_URL alone selects postgres")
	assert.Equal(t, "postgres://pandora@db/pandorabox", dsn)

	ai, _ := manager.GetSection(SectionIDAI)
	assert.True(t, ai.(*AISection).AIConfig().Enabled)
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	manager, err := NewDefaultManager(newMockStore())
	require.NoError(t, err)

	err = ApplyEnv(manager, envMap(map[string]string{"AI_ENABLED": "perhaps"}))
	assert.Error(t, err)
}

func TestInitializeAndRefresh(t *testing.T) {
	t.Cleanup(func() {
		globalMu.Lock()
		globalManager, globalLookup = nil, nil
		globalMu.Unlock()
	})

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sections:\n  ai:\n    enabled: false\n    max_replies: 1\n"), 0600))

	lookup := envMap(map[string]string{"PORT": "9000"})
	require.NoError(t, Initialize(path, lookup))
	require.True(t, IsInitialized())

	ai := GetAI()
	require.NotNil(t, ai)
	assert.Equal(t, 1, ai.AIConfig().RateLimit.MaxReplies)

	require.NoError(t, os.WriteFile(path, []byte("sections:\n  ai:\n    enabled: true\n    max_replies: 4\n"), 0600))
	require.NoError(t, Refresh())

	assert.True(t, ai.AIConfig().Enabled, "section pointer observes refreshed values")
	assert.Equal(t, 4, ai.AIConfig().RateLimit.MaxReplies)
	assert.Equal(t, ":9000", GetServer().Data()["listen_addr"], "env overlay survives refresh")
}
