// Package config resolves Aegis settings from a .env file, environment
// variables (AEGIS_ prefix) and an optional aegis.yaml, in that order of precedence
// after explicit environment values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Auth modes for the LLM endpoint.
const (
	AuthModeAPIKey = "api_key"
	AuthModeToken  = "token"
)

// ModelTier is one model configuration used by a class of agents.
type ModelTier struct {
	Name            string
	InputCostPer1K  float64
	OutputCostPer1K float64
}

// Config holds all configuration for the Aegis services.
type Config struct {
	// Server settings
	Port int

	// Logging
	LogLevel  string
	LogFormat string

	// LLM endpoint
	Provider       string
	AuthMode       string
	APIKey         string
	BaseURL        string
	RequestTimeout time.Duration
	MaxRetries     int
	Temperature    float64
	MaxTokens      int64

	// Models per tier; small for routing/classification, medium for
	// planning/extraction, large for synthesis.
	SmallModel  ModelTier
	MediumModel ModelTier
	LargeModel  ModelTier

	EmbeddingModel      string
	EmbeddingDimensions int

	// Storage
	PostgresDSN     string
	BigQueryProject string
	BigQueryDataset string
	ReportsBucket   string

	// ETL and jobs
	ETLConcurrency int
	JobQueueSize   int
	JobWorkers     int
	JobMaxRetries  int

	// Conversation
	HistoryLimit   int
	ClientCacheTTL time.Duration
}

// Load reads a .env file if present and resolves the configuration.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("AEGIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("aegis")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if path := os.Getenv("AEGIS_CONFIG"); path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.auth_mode", AuthModeAPIKey)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout", 180*time.Second)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 4096)

	v.SetDefault("llm.small.model", "gpt-4.1-nano")
	v.SetDefault("llm.small.input_cost", 0.0001)
	v.SetDefault("llm.small.output_cost", 0.0004)
	v.SetDefault("llm.medium.model", "gpt-4.1-mini")
	v.SetDefault("llm.medium.input_cost", 0.0004)
	v.SetDefault("llm.medium.output_cost", 0.0016)
	v.SetDefault("llm.large.model", "gpt-4.1")
	v.SetDefault("llm.large.input_cost", 0.002)
	v.SetDefault("llm.large.output_cost", 0.008)

	v.SetDefault("llm.embedding.model", "text-embedding-3-large")
	v.SetDefault("llm.embedding.dimensions", 3072)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("bigquery.project", "")
	v.SetDefault("bigquery.dataset", "aegis")
	v.SetDefault("gcs.reports_bucket", "")

	v.SetDefault("etl.concurrency", 5)
	v.SetDefault("jobs.queue_size", 100)
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.max_retries", 1)

	v.SetDefault("conversation.history_limit", 10)
	v.SetDefault("llm.client_cache_ttl", 30*time.Minute)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Port:           v.GetInt("port"),
		LogLevel:       v.GetString("log.level"),
		LogFormat:      v.GetString("log.format"),
		Provider:       strings.ToLower(v.GetString("llm.provider")),
		AuthMode:       strings.ToLower(v.GetString("llm.auth_mode")),
		APIKey:         v.GetString("llm.api_key"),
		BaseURL:        v.GetString("llm.base_url"),
		RequestTimeout: v.GetDuration("llm.timeout"),
		MaxRetries:     v.GetInt("llm.max_retries"),
		Temperature:    v.GetFloat64("llm.temperature"),
		MaxTokens:      v.GetInt64("llm.max_tokens"),
		SmallModel:     tier(v, "llm.small"),
		MediumModel:    tier(v, "llm.medium"),
		LargeModel:     tier(v, "llm.large"),

		EmbeddingModel:      v.GetString("llm.embedding.model"),
		EmbeddingDimensions: v.GetInt("llm.embedding.dimensions"),

		PostgresDSN:     v.GetString("postgres.dsn"),
		BigQueryProject: v.GetString("bigquery.project"),
		BigQueryDataset: v.GetString("bigquery.dataset"),
		ReportsBucket:   v.GetString("gcs.reports_bucket"),

		ETLConcurrency: v.GetInt("etl.concurrency"),
		JobQueueSize:   v.GetInt("jobs.queue_size"),
		JobWorkers:     v.GetInt("jobs.workers"),
		JobMaxRetries:  v.GetInt("jobs.max_retries"),

		HistoryLimit:   v.GetInt("conversation.history_limit"),
		ClientCacheTTL: v.GetDuration("llm.client_cache_ttl"),
	}
}

func tier(v *viper.Viper, prefix string) ModelTier {
	return ModelTier{
		Name:            v.GetString(prefix + ".model"),
		InputCostPer1K:  v.GetFloat64(prefix + ".input_cost"),
		OutputCostPer1K: v.GetFloat64(prefix + ".output_cost"),
	}
}

// validate checks that all required configuration is present
func (c *Config) validate() error {
	if err := c.validateProvider(); err != nil {
		return err
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("AEGIS_POSTGRES_DSN is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("AEGIS_LLM_MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	if c.ETLConcurrency < 1 || c.JobWorkers < 1 || c.JobQueueSize < 1 {
		return fmt.Errorf("ETL concurrency, job workers and job queue size must be positive")
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("AEGIS_CONVERSATION_HISTORY_LIMIT must be positive, got %d", c.HistoryLimit)
	}
	return nil
}

func (c *Config) validateProvider() error {
	switch c.Provider {
	case ProviderOpenAI:
		switch c.AuthMode {
		case AuthModeAPIKey:
			if c.APIKey == "" {
				return fmt.Errorf("AEGIS_LLM_API_KEY is required for openai provider with api_key auth")
			}
		case AuthModeToken:
		default:
			return fmt.Errorf("unsupported auth mode %q", c.AuthMode)
		}
	case ProviderGemini:
	default:
		return fmt.Errorf("unsupported LLM provider %q", c.Provider)
	}
	return nil
}

// Tiers returns the configured model tiers keyed by model name.
func (c *Config) Tiers() map[string]ModelTier {
	return map[string]ModelTier{
		c.SmallModel.Name:  c.SmallModel,
		c.MediumModel.Name: c.MediumModel,
		c.LargeModel.Name:  c.LargeModel,
	}
}
