package config

import (
	"os"
	"path/filepath"
	"testing"
)

var sensitiveEnv = []string{
	"STOCKPULSE_LLM_GEMINI_KEY", "GEMINI_API_KEY",
	"STOCKPULSE_LLM_OPENAI_KEY", "OPENAI_API_KEY",
	"STOCKPULSE_MARKET_ALPACA_KEY", "ALPACA_API_KEY",
	"STOCKPULSE_MARKET_ALPACA_SECRET", "ALPACA_SECRET_KEY",
	"STOCKPULSE_DATABASE_URL", "DATABASE_URL",
}

// clearEnv blanks every sensitive variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, e := range sensitiveEnv {
		t.Setenv(e, "")
	}
}

// ── Load / Defaults ──

func TestLoadReturnsDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.LLM.Primary != "gemini" {
		t.Errorf("LLM.Primary: got %q, want %q", cfg.LLM.Primary, "gemini")
	}
	if cfg.LLM.MaxRetries != 2 {
		t.Errorf("LLM.MaxRetries: got %d, want 2", cfg.LLM.MaxRetries)
	}
	if cfg.Market.Provider != "yahoo" {
		t.Errorf("Market.Provider: got %q, want %q", cfg.Market.Provider, "yahoo")
	}
	if cfg.Market.MinDaysToExpiry != 7 {
		t.Errorf("Market.MinDaysToExpiry: got %d, want 7", cfg.Market.MinDaysToExpiry)
	}
	if cfg.Market.MaxSpread != 0.50 {
		t.Errorf("Market.MaxSpread: got %f, want 0.50", cfg.Market.MaxSpread)
	}
	if cfg.Market.ATMContracts != 6 {
		t.Errorf("Market.ATMContracts: got %d, want 6", cfg.Market.ATMContracts)
	}
	if cfg.Market.TrendDays != 20 {
		t.Errorf("Market.TrendDays: got %d, want 20", cfg.Market.TrendDays)
	}
	if len(cfg.Scanner.Watchlist) != len(DefaultWatchlist) {
		t.Errorf("Scanner.Watchlist: got %d symbols, want %d", len(cfg.Scanner.Watchlist), len(DefaultWatchlist))
	}
	if cfg.Scanner.MinRiskReward != 2.0 {
		t.Errorf("Scanner.MinRiskReward: got %f, want 2.0", cfg.Scanner.MinRiskReward)
	}
	if cfg.Scanner.VolatilityTopN != 5 {
		t.Errorf("Scanner.VolatilityTopN: got %d, want 5", cfg.Scanner.VolatilityTopN)
	}
	if cfg.Accuracy.MinAgeHours != 24 || cfg.Accuracy.MaxAgeHours != 72 {
		t.Errorf("Accuracy window: got [%d,%d], want [24,72]", cfg.Accuracy.MinAgeHours, cfg.Accuracy.MaxAgeHours)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver: got %q, want %q", cfg.Database.Driver, "sqlite")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port: got %d, want 8080", cfg.API.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")

	content := []byte(`
llm:
  primary: "openai"
  model: "gpt-4o"
  max_tokens: 8192
market:
  provider: "alpaca"
  alpaca_key: "PKTEST1234567890"
  max_spread: 0.25
scanner:
  watchlist: ["NVDA", "TSLA"]
  volatility_top_n: 3
database:
  driver: "postgres"
  url: "postgres://u:p@localhost/stocks"
logging:
  level: "debug"
  format: "json"
`)
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.LLM.Primary != "openai" {
		t.Errorf("LLM.Primary: got %q, want %q", cfg.LLM.Primary, "openai")
	}
	if cfg.LLM.MaxTokens != 8192 {
		t.Errorf("LLM.MaxTokens: got %d, want 8192", cfg.LLM.MaxTokens)
	}
	if cfg.Market.Provider != "alpaca" {
		t.Errorf("Market.Provider: got %q, want %q", cfg.Market.Provider, "alpaca")
	}
	if cfg.Market.AlpacaKey != "PKTEST1234567890" {
		t.Errorf("Market.AlpacaKey: got %q", cfg.Market.AlpacaKey)
	}
	if cfg.Market.MaxSpread != 0.25 {
		t.Errorf("Market.MaxSpread: got %f, want 0.25", cfg.Market.MaxSpread)
	}
	if len(cfg.Scanner.Watchlist) != 2 || cfg.Scanner.Watchlist[0] != "NVDA" {
		t.Errorf("Scanner.Watchlist: got %v", cfg.Scanner.Watchlist)
	}
	if cfg.Scanner.VolatilityTopN != 3 {
		t.Errorf("Scanner.VolatilityTopN: got %d, want 3", cfg.Scanner.VolatilityTopN)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver: got %q, want %q", cfg.Database.Driver, "postgres")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "json")
	}
	// Defaults still apply to keys the file omits.
	if cfg.Market.ATMContracts != 6 {
		t.Errorf("Market.ATMContracts: got %d, want 6", cfg.Market.ATMContracts)
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("LoadFromFile() with nonexistent path should return error")
	}
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	clearEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("market:\n  provider: \"bloomberg\"\n"), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	if _, err := LoadFromFile(cfgPath); err == nil {
		t.Error("LoadFromFile() should reject an unknown market provider")
	}
}

// ── overrideFromEnv ──

func TestOverrideFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOCKPULSE_LLM_GEMINI_KEY", "gem-key-123456789")
	t.Setenv("OPENAI_API_KEY", "sk-legacy-123456789")
	t.Setenv("DATABASE_URL", "postgres://user:pw@db:5432/trends")

	cfg := &Config{}
	overrideFromEnv(cfg)

	if cfg.LLM.GeminiKey != "gem-key-123456789" {
		t.Errorf("LLM.GeminiKey: got %q", cfg.LLM.GeminiKey)
	}
	if cfg.LLM.OpenAIKey != "sk-legacy-123456789" {
		t.Errorf("LLM.OpenAIKey: got %q", cfg.LLM.OpenAIKey)
	}
	if cfg.Database.URL != "postgres://user:pw@db:5432/trends" {
		t.Errorf("Database.URL: got %q", cfg.Database.URL)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver: got %q, want postgres for a postgres URL", cfg.Database.Driver)
	}
}

func TestOverrideFromEnvPrefixWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOCKPULSE_LLM_GEMINI_KEY", "prefixed-key-000")
	t.Setenv("GEMINI_API_KEY", "legacy-key-000000")

	cfg := &Config{}
	overrideFromEnv(cfg)
	if cfg.LLM.GeminiKey != "prefixed-key-000" {
		t.Errorf("LLM.GeminiKey: got %q, want the prefixed value", cfg.LLM.GeminiKey)
	}
}

func TestOverrideFromEnvNoEnvSet(t *testing.T) {
	clearEnv(t)
	cfg := &Config{LLM: LLMConfig{GeminiKey: "from-config"}}
	overrideFromEnv(cfg)
	if cfg.LLM.GeminiKey != "from-config" {
		t.Errorf("LLM.GeminiKey: config value overwritten with %q", cfg.LLM.GeminiKey)
	}
}

// ── Validate ──

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			LLM:      LLMConfig{Primary: "gemini"},
			Market:   MarketConfig{Provider: "yahoo"},
			Scanner:  ScannerConfig{Watchlist: []string{"NVDA"}},
			Accuracy: AccuracyConfig{MinAgeHours: 24, MaxAgeHours: 72},
			Database: DatabaseConfig{Driver: "sqlite"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"unknown llm", func(c *Config) { c.LLM.Primary = "ollama" }, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"empty watchlist", func(c *Config) { c.Scanner.Watchlist = nil }, true},
		{"inverted window", func(c *Config) { c.Accuracy.MinAgeHours = 80 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ── Keys ──

func TestMaskKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "***"},
		{"short", "***"},
		{"12345678", "***"},
		{"AIzaSyD-abcdefghijk", "AIz...ijk"},
	}
	for _, tt := range tests {
		if got := maskKey(tt.in); got != tt.want {
			t.Errorf("maskKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCheckAPIKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALPACA_API_KEY", "PKENV1234567890")

	cfg := &Config{
		LLM:    LLMConfig{GeminiKey: "gemini-config-key"},
		Market: MarketConfig{AlpacaKey: "PKENV1234567890"},
	}
	statuses := CheckAPIKeys(cfg)
	if len(statuses) != 5 {
		t.Fatalf("CheckAPIKeys: got %d statuses, want 5", len(statuses))
	}

	byName := make(map[string]KeyStatus)
	for _, s := range statuses {
		byName[s.Name] = s
	}
	if s := byName["Gemini API Key"]; !s.IsSet || s.Source != KeySourceConfig {
		t.Errorf("Gemini: got %+v, want set from config", s)
	}
	if s := byName["Alpaca API Key"]; !s.IsSet || s.Source != KeySourceEnv {
		t.Errorf("Alpaca: got %+v, want set from env", s)
	}
	if s := byName["OpenAI API Key"]; s.IsSet || s.Source != KeySourceNone || s.Masked != "" {
		t.Errorf("OpenAI: got %+v, want unset", s)
	}
}
