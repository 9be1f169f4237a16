package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Store     StoreConfig      `mapstructure:"store"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Billing   BillingConfig    `mapstructure:"billing"`
	Upstream  UpstreamConfig   `mapstructure:"upstream"`
	Providers []ProviderConfig `mapstructure:"providers"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
	// Static keys accepted alongside issued ones, for local runs and benchmarks
	APIKeys []string `mapstructure:"api_keys"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type BillingConfig struct {
	// "calendar" or "rolling"; cycle rollover itself is driven externally
	Cycle string `mapstructure:"cycle"`
}

type UpstreamConfig struct {
	// Per-call request budget in seconds
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type ProviderConfig struct {
	ID        string   `mapstructure:"id" validate:"required"`
	Dialect   string   `mapstructure:"dialect"`
	BaseURL   string   `mapstructure:"base_url" validate:"required"`
	APIKey    string   `mapstructure:"api_key"`
	Prefixes  []string `mapstructure:"prefixes" validate:"required,min=1"`
	Streaming *bool    `mapstructure:"streaming"`
	Enabled   bool     `mapstructure:"enabled"`
}

// StreamingEnabled defaults to true when unset.
func (p ProviderConfig) StreamingEnabled() bool {
	return p.Streaming == nil || *p.Streaming
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	if f := os.Getenv("CONFIG_FILE"); f != "" {
		v.SetConfigFile(f)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Default Values
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("store.dsn", "file:gateway.db?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("billing.cycle", "calendar")
	v.SetDefault("upstream.timeout_seconds", 30)

	// Environment Variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders()
	}

	// Resolve API Keys
	for i, p := range cfg.Providers {
		if strings.HasPrefix(p.APIKey, "ENV:") {
			envVar := strings.TrimPrefix(p.APIKey, "ENV:")
			// Check process environment first (explicit override)
			val := os.Getenv(envVar)
			if val == "" {
				// Then check viper (which might have it from other sources)
				val = v.GetString(envVar)
			}
			cfg.Providers[i].APIKey = val
		}
	}

	return &cfg, nil
}

// DefaultProviders is the fixed provider table used when no providers are
// configured. Credentials still come from the environment.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:       "openai",
			Dialect:  "openai",
			BaseURL:  "https://api.openai.com/v1",
			APIKey:   os.Getenv("OPENAI_API_KEY"),
			Prefixes: []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "o1", "o3"},
			Enabled:  true,
		},
		{
			ID:       "deepseek",
			Dialect:  "openai",
			BaseURL:  "https://api.deepseek.com/v1",
			APIKey:   os.Getenv("DEEPSEEK_API_KEY"),
			Prefixes: []string{"deepseek-chat", "deepseek-reasoner"},
			Enabled:  true,
		},
		{
			ID:       "xai",
			Dialect:  "openai",
			BaseURL:  "https://api.x.ai/v1",
			APIKey:   os.Getenv("XAI_API_KEY"),
			Prefixes: []string{"grok-2", "grok-3", "grok-4"},
			Enabled:  true,
		},
		{
			ID:       "gemini",
			Dialect:  "gemini",
			BaseURL:  "https://generativelanguage.googleapis.com/v1beta",
			APIKey:   os.Getenv("GEMINI_API_KEY"),
			Prefixes: []string{"gemini-2.0", "gemini-2.5", "gemini-1.5"},
			Enabled:  true,
		},
		{
			ID:      "nearai",
			Dialect: "openai",
			BaseURL: "https://api.near.ai/v1",
			APIKey:  os.Getenv("NEARAI_API_KEY"),
			Prefixes: []string{
				"Qwen/", "deepseek-ai/", "openai/", "anthropic/", "google/", "zai-org/",
			},
			Enabled: true,
		},
	}
}
