package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Chat.Provider)
	assert.Equal(t, 30*time.Second, cfg.AITimeout)
	assert.True(t, cfg.DrugAPI.Enabled)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "medreason.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /var/lib/medreason/kb.db
chat:
  provider: openai
  model: gpt-4o-mini
drug_api:
  enabled: false
ai_timeout: 45s
server:
  addr: ":9090"
`), 0o644))

	t.Setenv("MEDREASON_CHAT_MODEL", "gpt-4o")
	t.Setenv("MEDREASON_SERVER_API_KEY", "secret")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/medreason/kb.db", cfg.DBPath)
	assert.Equal(t, "openai", cfg.Chat.Provider)
	assert.Equal(t, "gpt-4o", cfg.Chat.Model, "env overrides file")
	assert.Equal(t, "sk-test", cfg.Chat.APIKey, "provider key fallback")
	assert.False(t, cfg.DrugAPI.Enabled)
	assert.Equal(t, 45*time.Second, cfg.AITimeout)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "secret", cfg.Server.APIKey)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestGeminiKeyFallback(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "g-key", cfg.Chat.APIKey)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
