package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Cases      CasesConfig      `yaml:"cases" mapstructure:"cases"`
	Settings   SettingsConfig   `yaml:"settings" mapstructure:"settings"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PerplexityConfig holds Perplexity API settings. An empty key disables
// news search.
type PerplexityConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Model       string `yaml:"model" mapstructure:"model"`
	Recency     string `yaml:"recency" mapstructure:"recency"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LLMConfig tunes the model gateway shared by every stage.
type LLMConfig struct {
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	CacheTTL          string  `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	RetryAttempts     int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs    int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// SchedulerConfig configures the record scheduler.
type SchedulerConfig struct {
	Enabled      bool `yaml:"enabled" mapstructure:"enabled"`
	BatchSize    int  `yaml:"batch_size" mapstructure:"batch_size"`
	IntervalSecs int  `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// Interval returns the tick interval.
func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSecs) * time.Second
}

// CasesConfig configures the case matcher.
type CasesConfig struct {
	FetchTimeoutSecs int    `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	SeedPath         string `yaml:"seed_path" mapstructure:"seed_path"`
}

// SettingsConfig configures the settings cache.
type SettingsConfig struct {
	CacheTTLSecs int `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// CacheTTL returns the settings snapshot lifetime.
func (s SettingsConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSecs) * time.Second
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	APIToken       string   `yaml:"api_token" mapstructure:"api_token"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from an optional .env file, config.yaml and
// OUTREACH_* environment variables, in increasing precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets and optional keys are registered so AutomaticEnv sees them.
	for _, key := range []string{"anthropic.key", "anthropic.base_url", "perplexity.key", "server.api_token", "cases.seed_path"} {
		v.SetDefault(key, "")
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outreach.db")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("perplexity.recency", "month")
	v.SetDefault("perplexity.timeout_secs", 60)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.cache_ttl", "5m")
	v.SetDefault("llm.requests_per_second", 2)
	v.SetDefault("llm.burst", 5)
	v.SetDefault("llm.retry_attempts", 3)
	v.SetDefault("llm.retry_backoff_ms", 500)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.batch_size", 5)
	v.SetDefault("scheduler.interval_secs", 10)
	v.SetDefault("cases.fetch_timeout_secs", 5)
	v.SetDefault("settings.cache_ttl_secs", 300)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validation modes, one per command family.
const (
	ModeStore    = "store"    // store-only commands: import, export, jobs, settings
	ModePipeline = "pipeline" // commands that call the model: tick, regenerate, cases match
	ModeServe    = "serve"
)

// Validate checks the keys the given mode needs and reports every problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case ModeStore, ModePipeline, ModeServe:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	if mode == ModePipeline || mode == ModeServe {
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Anthropic.Model == "" {
			errs = append(errs, "anthropic.model is required")
		}
		if c.LLM.MaxTokens <= 0 {
			errs = append(errs, "llm.max_tokens must be > 0")
		}
		if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
			errs = append(errs, "llm.temperature must be between 0 and 1")
		}
		if c.LLM.RequestsPerSecond < 0 {
			errs = append(errs, "llm.requests_per_second must be >= 0")
		}
		if c.LLM.RetryAttempts < 1 || c.LLM.RetryAttempts > 10 {
			errs = append(errs, "llm.retry_attempts must be between 1 and 10")
		}
		if c.Scheduler.BatchSize < 1 || c.Scheduler.BatchSize > 50 {
			errs = append(errs, "scheduler.batch_size must be between 1 and 50")
		}
	}

	if mode == ModeServe {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Scheduler.Enabled && c.Scheduler.IntervalSecs <= 0 {
			errs = append(errs, "scheduler.interval_secs must be > 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
