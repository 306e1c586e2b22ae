package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rustyeddy/rolling5/logging"
	"github.com/rustyeddy/rolling5/sim"
	"github.com/rustyeddy/rolling5/strategy"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. ROLLING5_ACCOUNT_LEVERAGE.
const EnvPrefix = "ROLLING5"

// Config represents the complete engine configuration
type Config struct {
	Account  AccountConfig  `json:"account" yaml:"account" envconfig:"ACCOUNT"`
	Feed     FeedConfig     `json:"feed" yaml:"feed" envconfig:"FEED"`
	Strategy StrategyConfig `json:"strategy" yaml:"strategy" envconfig:"STRATEGY"`
	Runner   RunnerConfig   `json:"runner" yaml:"runner" envconfig:"RUNNER"`
	Journal  JournalConfig  `json:"journal" yaml:"journal" envconfig:"JOURNAL"`
	API      APIConfig      `json:"api" yaml:"api" envconfig:"API"`
	Log      logging.Config `json:"log" yaml:"log" envconfig:"LOG"`
}

// AccountConfig is the capital model
type AccountConfig struct {
	StartingCapital      float64 `json:"starting_capital" yaml:"starting_capital" envconfig:"STARTING_CAPITAL"`
	Leverage             int64   `json:"leverage" yaml:"leverage" envconfig:"LEVERAGE"`
	FeePercent           float64 `json:"fee_percent" yaml:"fee_percent" envconfig:"FEE_PERCENT"`
	LiquidationThreshold float64 `json:"liquidation_threshold" yaml:"liquidation_threshold" envconfig:"LIQUIDATION_THRESHOLD"`
}

// FeedConfig points at the market-data service
type FeedConfig struct {
	Mode         string `json:"mode" yaml:"mode" envconfig:"MODE"` // "http" or "ws"
	BaseURL      string `json:"base_url" yaml:"base_url" envconfig:"BASE_URL"`
	WSURL        string `json:"ws_url,omitempty" yaml:"ws_url,omitempty" envconfig:"WS_URL"`
	Timeout      string `json:"timeout" yaml:"timeout" envconfig:"TIMEOUT"` // e.g. "15s"
	HealthWindow int    `json:"health_window" yaml:"health_window" envconfig:"HEALTH_WINDOW"`
	RecordFile   string `json:"record_file,omitempty" yaml:"record_file,omitempty" envconfig:"RECORD_FILE"` // JSON lines, appended
}

// WindowConfig is one trading window on the offset clock
type WindowConfig struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// StrategyConfig contains evaluator thresholds
type StrategyConfig struct {
	Windows       []WindowConfig `json:"windows" yaml:"windows" ignored:"true"`
	UTCOffset     string         `json:"utc_offset" yaml:"utc_offset" envconfig:"UTC_OFFSET"` // e.g. "-4h"
	MinSpread     float64        `json:"min_spread" yaml:"min_spread" envconfig:"MIN_SPREAD"`
	MinWallGap    float64        `json:"min_wall_gap" yaml:"min_wall_gap" envconfig:"MIN_WALL_GAP"`
	MinConviction float64        `json:"min_conviction" yaml:"min_conviction" envconfig:"MIN_CONVICTION"`
	SpoofLimit    float64        `json:"spoof_limit" yaml:"spoof_limit" envconfig:"SPOOF_LIMIT"`
}

// RunnerConfig contains cycle timing and modes
type RunnerConfig struct {
	Tick      string `json:"tick" yaml:"tick" envconfig:"TICK"`
	Backoff   string `json:"backoff" yaml:"backoff" envconfig:"BACKOFF"`
	Heartbeat string `json:"heartbeat" yaml:"heartbeat" envconfig:"HEARTBEAT"`
	DryRun    bool   `json:"dry_run" yaml:"dry_run" envconfig:"DRY_RUN"`
	Manual    bool   `json:"manual" yaml:"manual" envconfig:"MANUAL"`
}

// JournalConfig contains persistence parameters
type JournalConfig struct {
	Type        string `json:"type" yaml:"type" envconfig:"TYPE"` // "json" or "sqlite"
	TradesFile  string `json:"trades_file,omitempty" yaml:"trades_file,omitempty" envconfig:"TRADES_FILE"`
	DBPath      string `json:"db_path,omitempty" yaml:"db_path,omitempty" envconfig:"DB_PATH"`
	SessionFile string `json:"session_file" yaml:"session_file" envconfig:"SESSION_FILE"`
}

// APIConfig contains the HTTP surface and command allow-list
type APIConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" envconfig:"ENABLED"`
	Addr    string   `json:"addr" yaml:"addr" envconfig:"ADDR"`
	Allow   []string `json:"allow,omitempty" yaml:"allow,omitempty" envconfig:"ALLOW"`
}

// Load builds the runtime configuration: defaults, then the file at path
// (if any), then a .env file and ROLLING5_* environment variables.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		c, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ROLLING5_* environment variables. Unset
// variables leave fields alone.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a file over the defaults. YAML is
// tried first with JSON as the fallback.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.StartingCapital <= 0 {
		return fmt.Errorf("account.starting_capital must be positive")
	}
	if c.Account.Leverage <= 0 {
		return fmt.Errorf("account.leverage must be positive")
	}
	if c.Account.FeePercent < 0 {
		return fmt.Errorf("account.fee_percent must not be negative")
	}
	if c.Account.LiquidationThreshold <= 0 {
		return fmt.Errorf("account.liquidation_threshold must be positive")
	}

	switch c.Feed.Mode {
	case "http":
		if c.Feed.BaseURL == "" {
			return fmt.Errorf("feed.base_url is required for http mode")
		}
	case "ws":
		if c.Feed.WSURL == "" {
			return fmt.Errorf("feed.ws_url is required for ws mode")
		}
	default:
		return fmt.Errorf("feed.mode must be 'http' or 'ws'")
	}

	for name, s := range map[string]string{
		"feed.timeout":        c.Feed.Timeout,
		"runner.tick":         c.Runner.Tick,
		"runner.backoff":      c.Runner.Backoff,
		"runner.heartbeat":    c.Runner.Heartbeat,
		"strategy.utc_offset": c.Strategy.UTCOffset,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if d := mustDuration(c.Runner.Tick); d <= 0 {
		return fmt.Errorf("runner.tick must be positive")
	}

	if err := c.StrategyParams().Validate(); err != nil {
		return err
	}

	if c.Journal.Type != "json" && c.Journal.Type != "sqlite" {
		return fmt.Errorf("journal.type must be 'json' or 'sqlite'")
	}
	if c.Journal.Type == "json" && c.Journal.TradesFile == "" {
		return fmt.Errorf("journal trades_file required for JSON type")
	}
	if c.Journal.Type == "sqlite" && c.Journal.DBPath == "" {
		return fmt.Errorf("journal db_path required for SQLite type")
	}
	if c.Journal.SessionFile == "" {
		return fmt.Errorf("journal.session_file is required")
	}
	if c.API.Enabled && c.API.Addr == "" {
		return fmt.Errorf("api.addr is required when the api is enabled")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	windows := make([]WindowConfig, 0, 4)
	for _, w := range strategy.DefaultWindows() {
		windows = append(windows, WindowConfig{Start: w.Start, End: w.End})
	}
	return &Config{
		Account: AccountConfig{
			StartingCapital:      10,
			Leverage:             250,
			FeePercent:           0.34,
			LiquidationThreshold: 4.00,
		},
		Feed: FeedConfig{
			Mode:         "http",
			BaseURL:      "http://localhost:8090",
			WSURL:        "ws://localhost:8090/ws",
			Timeout:      "15s",
			HealthWindow: 5,
		},
		Strategy: StrategyConfig{
			Windows:       windows,
			UTCOffset:     "-4h",
			MinSpread:     0.4,
			MinWallGap:    0.6,
			MinConviction: 0.2,
			SpoofLimit:    0.2,
		},
		Runner: RunnerConfig{
			Tick:      "2.5s",
			Backoff:   "5s",
			Heartbeat: "15s",
		},
		Journal: JournalConfig{
			Type:        "json",
			TradesFile:  "./trade_log.json",
			DBPath:      "./rolling5.db",
			SessionFile: "./session_store.json",
		},
		API: APIConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Capital converts the account section for the lifecycle engine.
func (c *Config) Capital() sim.CapitalState {
	return sim.CapitalState{
		Starting:             decimal.NewFromFloat(c.Account.StartingCapital),
		Leverage:             c.Account.Leverage,
		FeeRatePercent:       decimal.NewFromFloat(c.Account.FeePercent),
		LiquidationThreshold: decimal.NewFromFloat(c.Account.LiquidationThreshold),
	}
}

// StrategyParams converts the strategy section for the evaluator.
func (c *Config) StrategyParams() strategy.Params {
	p := strategy.Params{
		UTCOffset:     mustDuration(c.Strategy.UTCOffset),
		MinSpread:     decimal.NewFromFloat(c.Strategy.MinSpread),
		MinWallGap:    decimal.NewFromFloat(c.Strategy.MinWallGap),
		MinConviction: decimal.NewFromFloat(c.Strategy.MinConviction),
		SpoofLimit:    decimal.NewFromFloat(c.Strategy.SpoofLimit),
	}
	for _, w := range c.Strategy.Windows {
		p.Windows = append(p.Windows, strategy.Window{Start: w.Start, End: w.End})
	}
	return p
}

func (c *Config) FeedTimeout() time.Duration { return mustDuration(c.Feed.Timeout) }
func (c *Config) TickInterval() time.Duration { return mustDuration(c.Runner.Tick) }
func (c *Config) BackoffInterval() time.Duration { return mustDuration(c.Runner.Backoff) }
func (c *Config) HeartbeatInterval() time.Duration { return mustDuration(c.Runner.Heartbeat) }

// mustDuration returns zero for strings Validate would reject.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
