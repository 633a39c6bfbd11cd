package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/brunobiangulo/medreason"
)

// appConfig is the on-disk configuration: engine settings at the top level
// and HTTP settings under "server".
type appConfig struct {
	medreason.Config `mapstructure:",squash"`
	Server           serverConfig `mapstructure:"server"`
}

type serverConfig struct {
	Addr        string `mapstructure:"addr"`
	APIKey      string `mapstructure:"api_key"`
	CORSOrigins string `mapstructure:"cors_origins"`
}

const envPrefix = "MEDREASON"

// loadConfig merges defaults, an optional config file and MEDREASON_*
// environment variables, in increasing priority.
func loadConfig(path string) (*appConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("medreason")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.medreason")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	cfg := &appConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if f := v.ConfigFileUsed(); f != "" {
		slog.Debug("config: loaded file", "path", f)
	}

	// Fallback: well-known provider env vars for API keys.
	cfg.Chat.APIKey = providerKey(cfg.Chat)
	cfg.Vision.APIKey = providerKey(cfg.Vision)
	if cfg.DrugAPI.APIKey == "" {
		cfg.DrugAPI.APIKey = os.Getenv("OPENFDA_API_KEY")
	}
	return cfg, nil
}

func providerKey(c medreason.LLMConfig) string {
	if c.APIKey != "" {
		return c.APIKey
	}
	switch c.Provider {
	case "gemini":
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// setDefaults registers every key so AutomaticEnv can override it during
// Unmarshal.
func setDefaults(v *viper.Viper) {
	d := medreason.DefaultConfig()

	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("db_name", d.DBName)
	v.SetDefault("storage_dir", d.StorageDir)

	for _, p := range []struct {
		key string
		cfg medreason.LLMConfig
	}{{"chat", d.Chat}, {"vision", d.Vision}} {
		v.SetDefault(p.key+".provider", p.cfg.Provider)
		v.SetDefault(p.key+".model", p.cfg.Model)
		v.SetDefault(p.key+".base_url", p.cfg.BaseURL)
		v.SetDefault(p.key+".api_key", p.cfg.APIKey)
	}

	v.SetDefault("drug_api.enabled", d.DrugAPI.Enabled)
	v.SetDefault("drug_api.base_url", d.DrugAPI.BaseURL)
	v.SetDefault("drug_api.api_key", d.DrugAPI.APIKey)
	v.SetDefault("drug_api.timeout", d.DrugAPI.Timeout)
	v.SetDefault("drug_api.rate_limit", d.DrugAPI.RateLimit)

	v.SetDefault("ai_timeout", d.AITimeout)
	v.SetDefault("extract_timeout", d.ExtractTimeout)
	v.SetDefault("audit_queue_size", d.AuditQueueSize)
	v.SetDefault("audit_workers", d.AuditWorkers)
	v.SetDefault("semantic_cache_size", d.SemanticCacheSize)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.cors_origins", "")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
