package medreason

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "gemini", cfg.Chat.Provider)
	assert.True(t, cfg.DrugAPI.Enabled)
	assert.Positive(t, cfg.AITimeout)
	assert.Positive(t, cfg.ExtractTimeout)
	assert.False(t, cfg.Chat.toLLM().Configured(), "no API key by default")
}

func TestResolveDBPath(t *testing.T) {
	cfg := Config{DBPath: "/tmp/explicit.db"}
	assert.Equal(t, "/tmp/explicit.db", cfg.resolveDBPath())

	cfg = Config{DBName: "clinic", StorageDir: "local"}
	assert.Equal(t, "clinic.db", cfg.resolveDBPath())

	cfg = Config{}
	got := cfg.resolveDBPath()
	assert.True(t, strings.HasSuffix(got, filepath.Join(".medreason", "medreason.db")) || got == "medreason.db", got)
}
