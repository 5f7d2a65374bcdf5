package config

// Package config handles configuration loading for stockpulse.
// It supports YAML config files, an optional .env file and environment
// variable overrides.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultWatchlist is the fixed universe scanned when no watchlist is configured.
var DefaultWatchlist = []string{
	"RKLB", "ASTS", "AMZN", "NBIS", "GOOGL", "RDDT", "MU", "SOFI", "POET", "AMD",
	"IREN", "HOOD", "RIVN", "NVDA", "ONDS", "LUNR", "APLD", "TSLA", "PLTR", "META",
	"NVO", "AVGO", "PATH", "PL", "NFLX", "OPEN", "ANIC", "TMC", "FNMA", "UBER",
}

// Config represents the complete application configuration.
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm"      yaml:"llm"`
	Market   MarketConfig   `mapstructure:"market"   yaml:"market"`
	Scanner  ScannerConfig  `mapstructure:"scanner"  yaml:"scanner"`
	Accuracy AccuracyConfig `mapstructure:"accuracy" yaml:"accuracy"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	API      APIConfig      `mapstructure:"api"      yaml:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
}

// LLMConfig holds the text model configuration.
type LLMConfig struct {
	Primary         string  `mapstructure:"primary"          yaml:"primary"` // "gemini" or "openai"
	GeminiKey       string  `mapstructure:"gemini_key"       yaml:"gemini_key"`
	OpenAIKey       string  `mapstructure:"openai_key"       yaml:"openai_key"`
	Model           string  `mapstructure:"model"            yaml:"model"`
	FallbackModel   string  `mapstructure:"fallback_model"   yaml:"fallback_model"`
	VisionModel     string  `mapstructure:"vision_model"     yaml:"vision_model"`
	Temperature     float64 `mapstructure:"temperature"      yaml:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens"       yaml:"max_tokens"`
	TimeoutSec      int     `mapstructure:"timeout_sec"      yaml:"timeout_sec"`
	MaxRetries      int     `mapstructure:"max_retries"      yaml:"max_retries"`
	SearchGrounding bool    `mapstructure:"search_grounding" yaml:"search_grounding"`
}

// MarketConfig holds market data provider settings.
type MarketConfig struct {
	Provider          string  `mapstructure:"provider"            yaml:"provider"` // "yahoo" or "alpaca"
	AlpacaKey         string  `mapstructure:"alpaca_key"          yaml:"alpaca_key"`
	AlpacaSecret      string  `mapstructure:"alpaca_secret"       yaml:"alpaca_secret"`
	Concurrency       int     `mapstructure:"concurrency"         yaml:"concurrency"`
	RequestTimeoutSec int     `mapstructure:"request_timeout_sec" yaml:"request_timeout_sec"`
	TickerTimeoutSec  int     `mapstructure:"ticker_timeout_sec"  yaml:"ticker_timeout_sec"`
	RatePerSec        float64 `mapstructure:"rate_per_sec"        yaml:"rate_per_sec"`
	CacheTTL          int     `mapstructure:"cache_ttl"           yaml:"cache_ttl"` // seconds
	HeadlineLimit     int     `mapstructure:"headline_limit"      yaml:"headline_limit"`
	MinDaysToExpiry   int     `mapstructure:"min_days_to_expiry"  yaml:"min_days_to_expiry"`
	MaxSpread         float64 `mapstructure:"max_spread"          yaml:"max_spread"`
	ATMContracts      int     `mapstructure:"atm_contracts"       yaml:"atm_contracts"`
	TrendDays         int     `mapstructure:"trend_days"          yaml:"trend_days"` // 0 disables the SMA lookup
}

// ScannerConfig holds the scan universe and selection thresholds.
type ScannerConfig struct {
	Watchlist       []string `mapstructure:"watchlist"         yaml:"watchlist"`
	MinRiskReward   float64  `mapstructure:"min_risk_reward"   yaml:"min_risk_reward"`
	VolatilityTopN  int      `mapstructure:"volatility_top_n"  yaml:"volatility_top_n"`
	IncomeMaxIdeas  int      `mapstructure:"income_max_ideas"  yaml:"income_max_ideas"`
	ExplainVolatile bool     `mapstructure:"explain_volatile"  yaml:"explain_volatile"`
}

// AccuracyConfig holds the author scoring window.
type AccuracyConfig struct {
	MinAgeHours int `mapstructure:"min_age_hours" yaml:"min_age_hours"`
	MaxAgeHours int `mapstructure:"max_age_hours" yaml:"max_age_hours"`
}

// DatabaseConfig holds the relational store settings.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "postgres" or "sqlite"
	URL    string `mapstructure:"url"    yaml:"url"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "console" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.stockpulse/config.yaml (home directory)
//  3. /etc/stockpulse/config.yaml (system)
//
// A .env file in the working directory is loaded first if present.
// Environment variables override config file values.
// Format: STOCKPULSE_<SECTION>_<KEY>, e.g., STOCKPULSE_LLM_GEMINI_KEY
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".stockpulse"))
	v.AddConfigPath("/etc/stockpulse")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	_ = godotenv.Load()

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("STOCKPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// LLM defaults
	v.SetDefault("llm.primary", "gemini")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.fallback_model", "gpt-4o-mini")
	v.SetDefault("llm.vision_model", "gemini-2.0-flash")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout_sec", 90)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.search_grounding", true)

	// Market data defaults
	v.SetDefault("market.provider", "yahoo")
	v.SetDefault("market.concurrency", 5)
	v.SetDefault("market.request_timeout_sec", 15)
	v.SetDefault("market.ticker_timeout_sec", 45)
	v.SetDefault("market.rate_per_sec", 4.0)
	v.SetDefault("market.cache_ttl", 60)
	v.SetDefault("market.headline_limit", 5)
	v.SetDefault("market.min_days_to_expiry", 7)
	v.SetDefault("market.max_spread", 0.50)
	v.SetDefault("market.atm_contracts", 6)
	v.SetDefault("market.trend_days", 20)

	// Scanner defaults
	v.SetDefault("scanner.watchlist", DefaultWatchlist)
	v.SetDefault("scanner.min_risk_reward", 2.0)
	v.SetDefault("scanner.volatility_top_n", 5)
	v.SetDefault("scanner.income_max_ideas", 5)
	v.SetDefault("scanner.explain_volatile", true)

	// Accuracy defaults
	v.SetDefault("accuracy.min_age_hours", 24)
	v.SetDefault("accuracy.max_age_hours", 72)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "stockpulse.db")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
// The unprefixed names are accepted for compatibility with existing deployments.
func overrideFromEnv(cfg *Config) {
	if key := firstEnv("STOCKPULSE_LLM_GEMINI_KEY", "GEMINI_API_KEY"); key != "" {
		cfg.LLM.GeminiKey = key
	}
	if key := firstEnv("STOCKPULSE_LLM_OPENAI_KEY", "OPENAI_API_KEY"); key != "" {
		cfg.LLM.OpenAIKey = key
	}
	if key := firstEnv("STOCKPULSE_MARKET_ALPACA_KEY", "ALPACA_API_KEY"); key != "" {
		cfg.Market.AlpacaKey = key
	}
	if key := firstEnv("STOCKPULSE_MARKET_ALPACA_SECRET", "ALPACA_SECRET_KEY"); key != "" {
		cfg.Market.AlpacaSecret = key
	}
	if url := firstEnv("STOCKPULSE_DATABASE_URL", "DATABASE_URL"); url != "" {
		cfg.Database.URL = url
		if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
			cfg.Database.Driver = "postgres"
		}
	}
}

// Validate rejects configurations no job can run with.
func (c *Config) Validate() error {
	switch c.LLM.Primary {
	case "gemini", "openai":
	default:
		return fmt.Errorf("config: unknown llm.primary %q", c.LLM.Primary)
	}
	switch c.Market.Provider {
	case "yahoo", "alpaca":
	default:
		return fmt.Errorf("config: unknown market.provider %q", c.Market.Provider)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	if len(c.Scanner.Watchlist) == 0 {
		return errors.New("config: scanner.watchlist is empty")
	}
	if c.Accuracy.MinAgeHours >= c.Accuracy.MaxAgeHours {
		return fmt.Errorf("config: accuracy window [%d,%d]h is empty",
			c.Accuracy.MinAgeHours, c.Accuracy.MaxAgeHours)
	}
	return nil
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
