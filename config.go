package medreason

import (
	"os"
	"path/filepath"
	"time"

	"github.com/brunobiangulo/medreason/llm"
)

// Config holds all configuration for the medreason engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.medreason/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path" mapstructure:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name" mapstructure:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set: "home" (default) uses ~/.medreason/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir" mapstructure:"storage_dir"`

	// LLM providers. Vision is optional and only used for image OCR.
	Chat   LLMConfig `json:"chat" yaml:"chat" mapstructure:"chat"`
	Vision LLMConfig `json:"vision" yaml:"vision" mapstructure:"vision"`

	DrugAPI DrugAPIConfig `json:"drug_api" yaml:"drug_api" mapstructure:"drug_api"`

	// AITimeout bounds every completion call, ExtractTimeout every
	// document text extraction.
	AITimeout      time.Duration `json:"ai_timeout" yaml:"ai_timeout" mapstructure:"ai_timeout"`
	ExtractTimeout time.Duration `json:"extract_timeout" yaml:"extract_timeout" mapstructure:"extract_timeout"`

	// Audit records are written by a background queue.
	AuditQueueSize int `json:"audit_queue_size" yaml:"audit_queue_size" mapstructure:"audit_queue_size"`
	AuditWorkers   int `json:"audit_workers" yaml:"audit_workers" mapstructure:"audit_workers"`

	// SemanticCacheSize is the number of AI medicine answers kept in memory.
	SemanticCacheSize int `json:"semantic_cache_size" yaml:"semantic_cache_size" mapstructure:"semantic_cache_size"`

	LogLevel string        `json:"log_level" yaml:"log_level" mapstructure:"log_level"` // debug, info, warn, error
	Metrics  MetricsConfig `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"` // gemini, openai, ollama, custom
	Model    string `json:"model" yaml:"model" mapstructure:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
}

func (c LLMConfig) toLLM() llm.Config {
	return llm.Config{
		Provider: c.Provider,
		Model:    c.Model,
		BaseURL:  c.BaseURL,
		APIKey:   c.APIKey,
	}
}

// DrugAPIConfig configures the openFDA drug label tier of medicine search.
type DrugAPIConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	BaseURL   string        `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	APIKey    string        `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	RateLimit float64       `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
}

// MetricsConfig controls the Prometheus recorder.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" yaml:"addr" mapstructure:"addr"` // separate listener; empty serves /metrics on the API port
}

// DefaultConfig returns a Config for Gemini chat with openFDA lookups.
// Database is stored in ~/.medreason/medreason.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "medreason",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
		},
		DrugAPI: DrugAPIConfig{
			Enabled:   true,
			Timeout:   30 * time.Second,
			RateLimit: 4,
		},
		AITimeout:         llm.DefaultTimeout,
		ExtractTimeout:    60 * time.Second,
		AuditQueueSize:    256,
		AuditWorkers:      2,
		SemanticCacheSize: 256,
		LogLevel:          "info",
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "medreason"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".medreason", name+".db")
	}
}
