package config

import (
	"fmt"
	"time"
)

// Default configuration values.
const (
	defaultServiceName     = "sentiment-pipeline"
	defaultServiceVersion  = "1.0.0"
	defaultServicePort     = 8085
	defaultConcurrency     = 3
	defaultRPM             = 20
	defaultMaxRows         = 60
	defaultMaxCommentChars = 4000
	defaultMaxPromptChars  = 24000
	defaultTokensPerRow    = 16
	defaultMaxOutputTokens = 4096
	defaultLLMBaseURL      = "https://openrouter.ai/api/v1"
	defaultLLMModel        = "qwen/qwen3-coder:free"
	defaultLLMTimeoutSec   = 35
	defaultRetryAttempts   = 4
	defaultRetryInitial    = 500 * time.Millisecond
	defaultRetryMax        = 30 * time.Second
	defaultRetryMultiplier = 2.0
	defaultDBDriver        = "sqlite3"
	defaultDBPath          = "pipeline.db"
	defaultDBHost          = "localhost"
	defaultDBPort          = "5432"
	defaultDBUser          = "postgres"
	defaultDBName          = "sentiment"
	defaultDBSSLMode       = "disable"
	defaultESURL           = "http://localhost:9200"
	defaultESIndex         = "classified_comments"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultAPIRatePerSec   = 5
	defaultAPIRateBurst    = 10
)

// ConfigurationError is fatal: it aborts a run before any batch is processed.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Config holds all configuration for the sentiment pipeline.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Limits        LimitsConfig        `yaml:"limits"`
	LLM           LLMConfig           `yaml:"llm"`
	Retry         RetryConfig         `yaml:"retry"`
	Database      DatabaseConfig      `yaml:"database"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Port        int    `env:"PIPELINE_PORT"        yaml:"port"`
	Debug       bool   `env:"APP_DEBUG"            yaml:"debug"`
	Concurrency int    `env:"PIPELINE_CONCURRENCY" yaml:"concurrency"`

	// API trigger-route throttle.
	APIRatePerSec int `yaml:"api_rate_per_sec"`
	APIRateBurst  int `yaml:"api_rate_burst"`
}

// LimitsConfig holds the batching and rate budgets.
type LimitsConfig struct {
	RequestsPerMinute int `env:"PIPELINE_RPM"               yaml:"requests_per_minute"`
	MaxRowsPerBatch   int `env:"PIPELINE_MAX_ROWS"          yaml:"max_rows_per_batch"`
	MaxCommentChars   int `env:"PIPELINE_MAX_COMMENT_CHARS" yaml:"max_comment_chars"`
	MaxPromptChars    int `env:"PIPELINE_MAX_PROMPT_CHARS"  yaml:"max_prompt_chars"`
	TokensPerRow      int `env:"PIPELINE_TOKENS_PER_ROW"    yaml:"tokens_per_row"`
	MaxOutputTokens   int `env:"PIPELINE_MAX_OUTPUT_TOKENS" yaml:"max_output_tokens"`
}

// LLMConfig holds the external classification service configuration.
type LLMConfig struct {
	BaseURL string        `env:"OPENROUTER_URL"     yaml:"base_url"`
	APIKey  string        `env:"OPENROUTER_API_KEY" yaml:"api_key"`
	Model   string        `env:"OPENROUTER_MODEL"   yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// RetryConfig holds transient-failure retry configuration.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// DatabaseConfig holds result-cache database configuration.
// Driver is "sqlite3" for local runs or "postgres" for service deployments.
type DatabaseConfig struct {
	Driver   string `env:"PIPELINE_DB_DRIVER" yaml:"driver"`
	Path     string `env:"PIPELINE_DB_PATH"   yaml:"path"`
	Host     string `env:"POSTGRES_HOST"      yaml:"host"`
	Port     string `env:"POSTGRES_PORT"      yaml:"port"`
	User     string `env:"POSTGRES_USER"      yaml:"user"`
	Password string `env:"POSTGRES_PASSWORD"  yaml:"password"`
	Database string `env:"POSTGRES_DB"        yaml:"database"`
	SSLMode  string `env:"POSTGRES_SSLMODE"   yaml:"sslmode"`
}

// ElasticsearchConfig holds the optional per-comment result sink.
type ElasticsearchConfig struct {
	Enabled bool   `env:"ELASTICSEARCH_ENABLED" yaml:"enabled"`
	URL     string `env:"ELASTICSEARCH_URL"     yaml:"url"`
	Index   string `yaml:"index"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  yaml:"level"`
	Format string `env:"LOG_FORMAT" yaml:"format"`
}

func (c *Config) setDefaults() {
	s := &c.Service
	if s.Name == "" {
		s.Name = defaultServiceName
	}
	if s.Version == "" {
		s.Version = defaultServiceVersion
	}
	if s.Port == 0 {
		s.Port = defaultServicePort
	}
	if s.Concurrency == 0 {
		s.Concurrency = defaultConcurrency
	}
	if s.APIRatePerSec == 0 {
		s.APIRatePerSec = defaultAPIRatePerSec
	}
	if s.APIRateBurst == 0 {
		s.APIRateBurst = defaultAPIRateBurst
	}

	l := &c.Limits
	if l.RequestsPerMinute == 0 {
		l.RequestsPerMinute = defaultRPM
	}
	if l.MaxRowsPerBatch == 0 {
		l.MaxRowsPerBatch = defaultMaxRows
	}
	if l.MaxCommentChars == 0 {
		l.MaxCommentChars = defaultMaxCommentChars
	}
	if l.MaxPromptChars == 0 {
		l.MaxPromptChars = defaultMaxPromptChars
	}
	if l.TokensPerRow == 0 {
		l.TokensPerRow = defaultTokensPerRow
	}
	if l.MaxOutputTokens == 0 {
		l.MaxOutputTokens = defaultMaxOutputTokens
	}

	m := &c.LLM
	if m.BaseURL == "" {
		m.BaseURL = defaultLLMBaseURL
	}
	if m.Model == "" {
		m.Model = defaultLLMModel
	}
	if m.Timeout == 0 {
		m.Timeout = defaultLLMTimeoutSec * time.Second
	}

	r := &c.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = defaultRetryAttempts
	}
	if r.InitialDelay == 0 {
		r.InitialDelay = defaultRetryInitial
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = defaultRetryMax
	}
	if r.Multiplier == 0 {
		r.Multiplier = defaultRetryMultiplier
	}

	d := &c.Database
	if d.Driver == "" {
		d.Driver = defaultDBDriver
	}
	if d.Path == "" {
		d.Path = defaultDBPath
	}
	if d.Host == "" {
		d.Host = defaultDBHost
	}
	if d.Port == "" {
		d.Port = defaultDBPort
	}
	if d.User == "" {
		d.User = defaultDBUser
	}
	if d.Database == "" {
		d.Database = defaultDBName
	}
	if d.SSLMode == "" {
		d.SSLMode = defaultDBSSLMode
	}

	e := &c.Elasticsearch
	if e.URL == "" {
		e.URL = defaultESURL
	}
	if e.Index == "" {
		e.Index = defaultESIndex
	}

	lg := &c.Logging
	if lg.Level == "" {
		lg.Level = defaultLogLevel
	}
	if lg.Format == "" {
		lg.Format = defaultLogFormat
	}
}

// Validate checks that the batching and rate budgets are coherent. Any
// violation is a ConfigurationError, which is fatal before a run starts.
func (c *Config) Validate() error {
	l := c.Limits
	if l.RequestsPerMinute <= 0 {
		return &ConfigurationError{Reason: "requests_per_minute must be positive"}
	}
	if l.MaxRowsPerBatch <= 0 {
		return &ConfigurationError{Reason: "max_rows_per_batch must be positive"}
	}
	if l.MaxCommentChars <= 0 {
		return &ConfigurationError{Reason: "max_comment_chars must be positive"}
	}
	if l.MaxPromptChars <= 0 {
		return &ConfigurationError{Reason: "max_prompt_chars must be positive"}
	}
	if l.TokensPerRow <= 0 {
		return &ConfigurationError{Reason: "tokens_per_row must be positive"}
	}
	if l.MaxOutputTokens < l.TokensPerRow {
		return &ConfigurationError{
			Reason: fmt.Sprintf("max_output_tokens %d cannot fit a single row at %d tokens per row",
				l.MaxOutputTokens, l.TokensPerRow),
		}
	}
	if c.Service.Concurrency <= 0 {
		return &ConfigurationError{Reason: "concurrency must be positive"}
	}
	if c.Retry.MaxAttempts <= 0 {
		return &ConfigurationError{Reason: "retry max_attempts must be positive"}
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return &ConfigurationError{Reason: "database driver must be sqlite3 or postgres"}
	}
	return nil
}
