// Package config loads and validates brand kit service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Sequencer SequencerConfig `mapstructure:"sequencer"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// BudgetConfig bounds how long a single invocation and its steps may run.
type BudgetConfig struct {
	Invocation time.Duration `mapstructure:"invocation"`
	Step       time.Duration `mapstructure:"step"`
	Lease      time.Duration `mapstructure:"lease"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// SequencerConfig governs claim batches and retry limits.
type SequencerConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	ReuseWindow time.Duration `mapstructure:"reuse_window"`
}

// FetchConfig configures the plain HTTP fetch step.
type FetchConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MinTextChars  int           `mapstructure:"min_text_chars"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes"`
	RateLimit     RateConfig    `mapstructure:"rate_limit"`
	Blocklist     []string      `mapstructure:"blocklist"`
}

// RateConfig describes a per-domain token bucket.
type RateConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	ExecPath    string        `mapstructure:"exec_path"`
}

// GeneratorConfig selects and configures the brand kit generation backend.
type GeneratorConfig struct {
	Backend         string        `mapstructure:"backend"`
	Model           string        `mapstructure:"model"`
	OpenAIAPIKey    string        `mapstructure:"openai_api_key"`
	OpenAIBaseURL   string        `mapstructure:"openai_base_url"`
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxTokens       int           `mapstructure:"max_tokens"`
}

// StorageConfig selects the job store and blob persistence backends.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	BlobBackend string `mapstructure:"blob_backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
}

// DatabaseConfig controls access to the relational database.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for trigger publication.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SchedulerConfig controls the in-process tick scheduler.
type SchedulerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Spec    string `mapstructure:"spec"`
}

// Load builds a Config from an optional .env file, disk and environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("BRANDKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.service_name", "brandkit")
	v.SetDefault("tracing.sample_ratio", 0.1)
	v.SetDefault("budget.invocation", 25*time.Second)
	v.SetDefault("budget.step", 20*time.Second)
	v.SetDefault("budget.lease", 60*time.Second)
	v.SetDefault("budget.stale_after", 10*time.Minute)
	v.SetDefault("sequencer.batch_size", 4)
	v.SetDefault("sequencer.concurrency", 4)
	v.SetDefault("sequencer.max_attempts", 3)
	v.SetDefault("sequencer.max_backoff", 5*time.Minute)
	v.SetDefault("sequencer.reuse_window", 24*time.Hour)
	v.SetDefault("fetch.user_agent", "brandkit-bot/0.1")
	v.SetDefault("fetch.timeout", 15*time.Second)
	v.SetDefault("fetch.min_text_chars", 200)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.rate_limit.rps", 1.0)
	v.SetDefault("fetch.rate_limit.burst", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", 15*time.Second)
	v.SetDefault("generator.backend", "static")
	v.SetDefault("generator.timeout", 15*time.Second)
	v.SetDefault("generator.max_tokens", 1200)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.blob_backend", "memory")
	v.SetDefault("storage.local_dir", "./data")
	v.SetDefault("storage.prefix", "brandkit")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic_name", "brandkit-ticks")
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.spec", "@every 10s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Budget.Invocation <= 0 || c.Budget.Step <= 0 {
		return fmt.Errorf("budget.invocation and budget.step must be > 0")
	}
	if c.Budget.Step >= c.Budget.Invocation {
		return fmt.Errorf("budget.step (%s) must be shorter than budget.invocation (%s)", c.Budget.Step, c.Budget.Invocation)
	}
	if c.Budget.Lease < c.Budget.Invocation {
		return fmt.Errorf("budget.lease must be >= budget.invocation")
	}
	if c.Sequencer.BatchSize <= 0 || c.Sequencer.Concurrency <= 0 {
		return fmt.Errorf("sequencer.batch_size and sequencer.concurrency must be > 0")
	}
	if c.Sequencer.MaxAttempts <= 0 {
		return fmt.Errorf("sequencer.max_attempts must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Generator.Backend {
	case "static":
	case "openai":
		if c.Generator.OpenAIAPIKey == "" {
			return fmt.Errorf("generator.openai_api_key must be set for the openai backend")
		}
	case "anthropic":
		if c.Generator.AnthropicAPIKey == "" {
			return fmt.Errorf("generator.anthropic_api_key must be set for the anthropic backend")
		}
	default:
		return fmt.Errorf("generator.backend %q is not supported", c.Generator.Backend)
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Storage.BlobBackend {
	case "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs blob backend")
		}
	default:
		return fmt.Errorf("storage.blob_backend %q is not supported", c.Storage.BlobBackend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Scheduler.Enabled && c.Scheduler.Spec == "" {
		return fmt.Errorf("scheduler.spec must be set when the scheduler is enabled")
	}
	return nil
}
