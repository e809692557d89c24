//nolint:testpackage // exercising defaults and validation directly
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}

	if cfg.Service.Name != defaultServiceName {
		t.Errorf("service name = %q", cfg.Service.Name)
	}
	if cfg.Limits.RequestsPerMinute != defaultRPM {
		t.Errorf("requests per minute = %d", cfg.Limits.RequestsPerMinute)
	}
	if cfg.LLM.Timeout != defaultLLMTimeoutSec*time.Second {
		t.Errorf("llm timeout = %v", cfg.LLM.Timeout)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("database driver = %q", cfg.Database.Driver)
	}
	if cfg.Retry.Multiplier != defaultRetryMultiplier {
		t.Errorf("retry multiplier = %v", cfg.Retry.Multiplier)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
service:
  name: test-pipeline
  concurrency: 7
limits:
  requests_per_minute: 5
  max_rows_per_batch: 10
llm:
  model: test/model
  timeout: 5s
database:
  driver: postgres
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Name != "test-pipeline" {
		t.Errorf("service name = %q", cfg.Service.Name)
	}
	if cfg.Service.Concurrency != 7 {
		t.Errorf("concurrency = %d", cfg.Service.Concurrency)
	}
	if cfg.Limits.RequestsPerMinute != 5 {
		t.Errorf("requests per minute = %d", cfg.Limits.RequestsPerMinute)
	}
	if cfg.LLM.Model != "test/model" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.LLM.Timeout)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	// Unset fields still get defaults.
	if cfg.Limits.MaxPromptChars != defaultMaxPromptChars {
		t.Errorf("max prompt chars = %d", cfg.Limits.MaxPromptChars)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
limits:
  requests_per_minute: 5
llm:
  model: file/model
`)

	t.Setenv("PIPELINE_RPM", "42")
	t.Setenv("OPENROUTER_MODEL", "env/model")
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("APP_DEBUG", "yes")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Limits.RequestsPerMinute != 42 {
		t.Errorf("env override lost, requests per minute = %d", cfg.Limits.RequestsPerMinute)
	}
	if cfg.LLM.Model != "env/model" {
		t.Errorf("env override lost, model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.LLM.APIKey)
	}
	if !cfg.Service.Debug {
		t.Error("APP_DEBUG=yes should enable debug")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "service: [not a mapping")

	_, err := Load(path)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want ConfigurationError, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		var c Config
		c.setDefaults()
		return &c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults pass", func(*Config) {}, true},
		{"zero rpm", func(c *Config) { c.Limits.RequestsPerMinute = -1 }, false},
		{"negative rows", func(c *Config) { c.Limits.MaxRowsPerBatch = -1 }, false},
		{"output budget below one row", func(c *Config) { c.Limits.MaxOutputTokens = c.Limits.TokensPerRow - 1 }, false},
		{"zero concurrency", func(c *Config) { c.Service.Concurrency = -3 }, false},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantOK && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.wantOK {
				var cfgErr *ConfigurationError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("want ConfigurationError, got %v", err)
				}
			}
		})
	}
}
