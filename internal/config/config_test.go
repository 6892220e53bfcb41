package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
logger:
  level: debug
trading:
  fee_rate: 0.001
  margin_rate: 3
backtest:
  base_timeframe: 5m
  indicator_timeframe: 1h
  start: "2024-01-01"
  end: "2024-03-01"
exchanges:
  bitfinex:
    markets: ["btc/usd", "ETH/USD"]
    timeframes: ["5m", "1h"]
funds:
  bitfinex:
    USD: 1000
params:
  fast: 5
  slow: "20"
  trade_portion: 0.2
`

func writeConfig(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(testYAML), 0o600))
	return dir
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 0.001, cfg.Trading.FeeRate)
	assert.Equal(t, 0.0005, cfg.Trading.MarginFee, "default applies")
	assert.Equal(t, []string{"BTC/USD", "ETH/USD"}, cfg.Exchanges["bitfinex"].Markets)
	assert.Equal(t, 1000.0, cfg.Funds["bitfinex"]["USD"])
	assert.Equal(t, 10*time.Second, cfg.Binance.Timeout)
	assert.NoError(t, cfg.Validate())

	start, end, err := cfg.Backtest.Window()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Trading:   Trading{FeeRate: 0.001, MarginRate: 3},
			Runner:    Runner{MaxProcesses: 2},
			Backtest:  Backtest{BaseTimeframe: "5m"},
			Exchanges: map[string]Exchange{"bitfinex": {Markets: []string{"BTC/USD"}}},
		}
	}

	testCases := []struct {
		name   string
		mutate func(c *Config)
		valid  bool
	}{
		{name: "Valid", mutate: func(c *Config) {}, valid: true},
		{name: "No exchanges", mutate: func(c *Config) { c.Exchanges = nil }},
		{name: "Fee rate", mutate: func(c *Config) { c.Trading.FeeRate = 1 }},
		{name: "Leverage", mutate: func(c *Config) { c.Trading.MarginRate = 1 }},
		{name: "Workers", mutate: func(c *Config) { c.Runner.MaxProcesses = 0 }},
		{name: "Malformed market", mutate: func(c *Config) {
			c.Exchanges["bitfinex"] = Exchange{Markets: []string{"BTCUSD"}}
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			err := c.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestClone_SharesNothing(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t))
	require.NoError(t, err)

	cp := cfg.Clone()
	cp.SetParam("fast", 9)
	cp.Funds["bitfinex"]["USD"] = 1
	ex := cp.Exchanges["bitfinex"]
	ex.Markets[0] = "XRP/USD"

	fast, err := cfg.ParamInt("fast")
	require.NoError(t, err)
	assert.Equal(t, 5, fast)
	assert.Equal(t, 1000.0, cfg.Funds["bitfinex"]["USD"])
	assert.Equal(t, "BTC/USD", cfg.Exchanges["bitfinex"].Markets[0])
}

func TestParamAccessors(t *testing.T) {
	cfg := &Config{}
	cfg.SetParam("slow", "20")
	cfg.SetParam("Portion", 0.25)
	cfg.SetParam("window", 3.0)

	slow, err := cfg.ParamInt("slow")
	require.NoError(t, err)
	assert.Equal(t, 20, slow)

	portion, err := cfg.ParamFloat("portion")
	require.NoError(t, err)
	assert.Equal(t, 0.25, portion)

	window, err := cfg.ParamInt("window")
	require.NoError(t, err)
	assert.Equal(t, 3, window)

	_, err = cfg.ParamFloat("missing")
	assert.ErrorIs(t, err, ErrUnknownParam)

	assert.Equal(t, []string{"portion", "slow", "window"}, cfg.ParamNames())
}

func TestRunnerWorkers(t *testing.T) {
	assert.Equal(t, 1, Runner{MaxProcesses: 4}.Workers())
	assert.Equal(t, 4, Runner{MaxProcesses: 4, Parallel: true}.Workers())
	assert.Equal(t, 1, Runner{Parallel: true}.Workers())
}
