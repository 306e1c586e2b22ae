package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, 10.0, cfg.Account.StartingCapital)
	assert.EqualValues(t, 250, cfg.Account.Leverage)
	assert.Equal(t, 2500*time.Millisecond, cfg.TickInterval())
	assert.Equal(t, 5*time.Second, cfg.BackoffInterval())
	assert.Equal(t, 15*time.Second, cfg.FeedTimeout())
	assert.Len(t, cfg.Strategy.Windows, 4)
	assert.NoError(t, cfg.Validate())
}

func TestCapitalConversion(t *testing.T) {
	cs := Default().Capital()
	assert.True(t, cs.Starting.Equal(decimal.NewFromInt(10)))
	assert.True(t, cs.FeeRatePercent.Equal(decimal.RequireFromString("0.34")))
	assert.True(t, cs.LiquidationThreshold.Equal(decimal.NewFromInt(4)))
	assert.True(t, cs.OpenFee().IsZero(), "no current capital yet")

	cs.Current = cs.Starting
	assert.True(t, cs.OpenFee().Equal(decimal.RequireFromString("8.5")))
}

func TestStrategyParamsConversion(t *testing.T) {
	p := Default().StrategyParams()
	require.NoError(t, p.Validate())
	assert.Equal(t, -4*time.Hour, p.UTCOffset)
	assert.True(t, p.MinWallGap.Equal(decimal.RequireFromString("0.6")))
	assert.Equal(t, "09:30", p.Windows[2].Start)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid config", func(*Config) {}, ""},
		{"zero capital", func(c *Config) { c.Account.StartingCapital = 0 }, "account.starting_capital must be positive"},
		{"zero leverage", func(c *Config) { c.Account.Leverage = 0 }, "account.leverage must be positive"},
		{"negative fee", func(c *Config) { c.Account.FeePercent = -1 }, "account.fee_percent"},
		{"zero threshold", func(c *Config) { c.Account.LiquidationThreshold = 0 }, "account.liquidation_threshold"},
		{"bad mode", func(c *Config) { c.Feed.Mode = "grpc" }, "feed.mode must be"},
		{"http without url", func(c *Config) { c.Feed.BaseURL = "" }, "feed.base_url is required"},
		{"ws without url", func(c *Config) { c.Feed.Mode = "ws"; c.Feed.WSURL = "" }, "feed.ws_url is required"},
		{"bad tick", func(c *Config) { c.Runner.Tick = "fast" }, "runner.tick"},
		{"zero tick", func(c *Config) { c.Runner.Tick = "0s" }, "runner.tick must be positive"},
		{"bad offset", func(c *Config) { c.Strategy.UTCOffset = "EDT" }, "strategy.utc_offset"},
		{"no windows", func(c *Config) { c.Strategy.Windows = nil }, "trade window"},
		{"bad journal", func(c *Config) { c.Journal.Type = "csv" }, "journal.type must be"},
		{"sqlite without path", func(c *Config) { c.Journal.Type = "sqlite"; c.Journal.DBPath = "" }, "db_path required"},
		{"json without file", func(c *Config) { c.Journal.TradesFile = "" }, "trades_file required"},
		{"no session file", func(c *Config) { c.Journal.SessionFile = "" }, "session_file"},
		{"api without addr", func(c *Config) { c.API.Addr = "" }, "api.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Account.Leverage = 100
			cfg.Journal.Type = "sqlite"
			cfg.API.Allow = []string{"42", "7"}

			path := filepath.Join(tmpDir, name)
			require.NoError(t, cfg.SaveToFile(path))

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("account:\n  leverage: 50\nrunner:\n  tick: 5s\n"), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.EqualValues(t, 50, cfg.Account.Leverage)
	assert.Equal(t, 10.0, cfg.Account.StartingCapital)
	assert.Equal(t, 5*time.Second, cfg.TickInterval())
	assert.Len(t, cfg.Strategy.Windows, 4)
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.yaml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{\"account\": ["), 0o644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"feed": {"mode": "carrier-pigeon"}}`), 0o644))
	_, err = LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROLLING5_ACCOUNT_LEVERAGE", "125")
	t.Setenv("ROLLING5_FEED_MODE", "ws")
	t.Setenv("ROLLING5_FEED_WS_URL", "ws://feed.test/ws")
	t.Setenv("ROLLING5_RUNNER_DRY_RUN", "true")
	t.Setenv("ROLLING5_API_ALLOW", "1001,1002")
	t.Setenv("ROLLING5_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.EqualValues(t, 125, cfg.Account.Leverage)
	assert.Equal(t, "ws", cfg.Feed.Mode)
	assert.Equal(t, "ws://feed.test/ws", cfg.Feed.WSURL)
	assert.True(t, cfg.Runner.DryRun)
	assert.Equal(t, []string{"1001", "1002"}, cfg.API.Allow)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched fields keep their defaults.
	assert.Equal(t, 0.34, cfg.Account.FeePercent)
}

func TestEnvOverrideInvalid(t *testing.T) {
	t.Setenv("ROLLING5_ACCOUNT_LEVERAGE", "lots")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadWithFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, Default().SaveToFile(path))
	t.Setenv("ROLLING5_JOURNAL_TYPE", "sqlite")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Journal.Type)
}
