package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

var (
	// ErrInvalidConfig is returned by Validate.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrUnknownParam is returned by the parameter accessors.
	ErrUnknownParam = errors.New("unknown parameter")
)

// Config holds all configuration for the application.
type Config struct {
	Binance   Binance                       `mapstructure:"binance"`
	Trading   Trading                       `mapstructure:"trading"`
	Logger    Logger                        `mapstructure:"logger"`
	Server    Server                        `mapstructure:"server"`
	Database  Database                      `mapstructure:"database"`
	Backtest  Backtest                      `mapstructure:"backtest"`
	Runner    Runner                        `mapstructure:"runner"`
	Optimizer Optimizer                     `mapstructure:"optimizer"`
	Exchanges map[string]Exchange           `mapstructure:"exchanges"`
	Funds     map[string]map[string]float64 `mapstructure:"funds"`
	Params    map[string]interface{}        `mapstructure:"params"`
}

// Binance holds the configuration for the Binance kline API.
type Binance struct {
	BaseURL        string        `mapstructure:"base_url"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Trading holds fee, leverage and strategy selection.
type Trading struct {
	FeeRate       float64 `mapstructure:"fee_rate"`
	MarginFee     float64 `mapstructure:"margin_fee"`
	MarginRate    float64 `mapstructure:"margin_rate"`
	MinOrderValue float64 `mapstructure:"min_order_value"`
	Strategy      string  `mapstructure:"strategy"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Backtest holds the simulation window and timeframes.
type Backtest struct {
	BaseTimeframe      string  `mapstructure:"base_timeframe"`
	IndicatorTimeframe string  `mapstructure:"indicator_timeframe"`
	FastMode           bool    `mapstructure:"fast_mode"`
	ValuationCurrency  string  `mapstructure:"valuation_currency"`
	ReconcileTolerance float64 `mapstructure:"reconcile_tolerance"`
	Start              string  `mapstructure:"start"`
	End                string  `mapstructure:"end"`
	PeriodDays         int     `mapstructure:"period_days"`
	ShiftDays          int     `mapstructure:"shift_days"`
	RandomPeriods      int     `mapstructure:"random_periods"`
}

// Window parses the configured start and end.
func (b Backtest) Window() (time.Time, time.Time, error) {
	start, err := cast.ToTimeE(b.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest.start: %w", err)
	}
	end, err := cast.ToTimeE(b.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest.end: %w", err)
	}
	return start.UTC(), end.UTC(), nil
}

// Runner holds the worker pool settings.
type Runner struct {
	MaxProcesses int  `mapstructure:"max_processes"`
	Parallel     bool `mapstructure:"parallel"`
}

// Workers returns the pool size honouring Parallel.
func (r Runner) Workers() int {
	if !r.Parallel || r.MaxProcesses < 1 {
		return 1
	}
	return r.MaxProcesses
}

// Range is an inclusive numeric sweep.
type Range struct {
	Min  float64 `mapstructure:"min"`
	Max  float64 `mapstructure:"max"`
	Step float64 `mapstructure:"step"`
}

// Optimizer holds the parameter sweep definition.
type Optimizer struct {
	Name          string                   `mapstructure:"name"`
	SaveThreshold float64                  `mapstructure:"save_threshold"`
	Ranges        map[string]Range         `mapstructure:"ranges"`
	Selections    map[string][]interface{} `mapstructure:"selections"`
}

// Exchange lists the markets and timeframes simulated on one exchange.
type Exchange struct {
	Markets    []string `mapstructure:"markets"`
	Timeframes []string `mapstructure:"timeframes"`
	LotStep    float64  `mapstructure:"lot_step"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("database.dsn", "backtest.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("binance.base_url", "https://api.binance.com/api/v3")
	v.SetDefault("binance.rate_limit", 20)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size
	v.SetDefault("binance.timeout", "10s")
	v.SetDefault("trading.fee_rate", 0.002)
	v.SetDefault("trading.margin_fee", 0.0005)
	v.SetDefault("trading.margin_rate", 3)
	v.SetDefault("trading.min_order_value", 10)
	v.SetDefault("trading.strategy", "crossover")
	v.SetDefault("backtest.base_timeframe", "5m")
	v.SetDefault("backtest.indicator_timeframe", "5m")
	v.SetDefault("backtest.valuation_currency", "USD")
	v.SetDefault("backtest.reconcile_tolerance", 0.01)
	v.SetDefault("backtest.period_days", 30)
	v.SetDefault("backtest.shift_days", 7)
	v.SetDefault("runner.max_processes", 4)
	v.SetDefault("runner.parallel", true)
	v.SetDefault("optimizer.save_threshold", 0)
}

// LoadConfig reads configuration from file or environment variables.
// Each call uses its own viper instance.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// viper lowercases map keys; currencies and markets are upper case.
func (c *Config) normalize() {
	for ex, wallet := range c.Funds {
		up := make(map[string]float64, len(wallet))
		for cur, v := range wallet {
			up[strings.ToUpper(cur)] = v
		}
		c.Funds[ex] = up
	}
	for name, ex := range c.Exchanges {
		for i, m := range ex.Markets {
			ex.Markets[i] = strings.ToUpper(m)
		}
		c.Exchanges[name] = ex
	}
	c.Backtest.ValuationCurrency = strings.ToUpper(c.Backtest.ValuationCurrency)
}

// Validate checks the values the simulation depends on.
func (c *Config) Validate() error {
	switch {
	case len(c.Exchanges) == 0:
		return fmt.Errorf("%w: no exchanges", ErrInvalidConfig)
	case c.Trading.FeeRate < 0 || c.Trading.FeeRate >= 1:
		return fmt.Errorf("%w: trading.fee_rate %f", ErrInvalidConfig, c.Trading.FeeRate)
	case c.Trading.MarginRate <= 1:
		return fmt.Errorf("%w: trading.margin_rate must be greater than 1", ErrInvalidConfig)
	case c.Runner.MaxProcesses < 1:
		return fmt.Errorf("%w: runner.max_processes must be positive", ErrInvalidConfig)
	case c.Backtest.BaseTimeframe == "":
		return fmt.Errorf("%w: backtest.base_timeframe is empty", ErrInvalidConfig)
	}
	for name, ex := range c.Exchanges {
		if len(ex.Markets) == 0 {
			return fmt.Errorf("%w: exchange %s has no markets", ErrInvalidConfig, name)
		}
		for _, m := range ex.Markets {
			if parts := strings.Split(m, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				return fmt.Errorf("%w: exchange %s market %q", ErrInvalidConfig, name, m)
			}
		}
	}
	return nil
}

// ExchangeNames returns the configured exchanges, sorted.
func (c *Config) ExchangeNames() []string {
	out := make([]string, 0, len(c.Exchanges))
	for name := range c.Exchanges {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Markets returns the markets per exchange.
func (c *Config) Markets() map[string][]string {
	out := make(map[string][]string, len(c.Exchanges))
	for name, ex := range c.Exchanges {
		out[name] = append([]string(nil), ex.Markets...)
	}
	return out
}

// Clone returns a deep copy that shares no maps or slices with c.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Exchanges = make(map[string]Exchange, len(c.Exchanges))
	for name, ex := range c.Exchanges {
		ex.Markets = append([]string(nil), ex.Markets...)
		ex.Timeframes = append([]string(nil), ex.Timeframes...)
		cp.Exchanges[name] = ex
	}
	cp.Funds = make(map[string]map[string]float64, len(c.Funds))
	for ex, wallet := range c.Funds {
		w := make(map[string]float64, len(wallet))
		for cur, v := range wallet {
			w[cur] = v
		}
		cp.Funds[ex] = w
	}
	cp.Params = make(map[string]interface{}, len(c.Params))
	for k, v := range c.Params {
		cp.Params[k] = v
	}
	cp.Optimizer.Ranges = make(map[string]Range, len(c.Optimizer.Ranges))
	for k, v := range c.Optimizer.Ranges {
		cp.Optimizer.Ranges[k] = v
	}
	cp.Optimizer.Selections = make(map[string][]interface{}, len(c.Optimizer.Selections))
	for k, v := range c.Optimizer.Selections {
		cp.Optimizer.Selections[k] = append([]interface{}(nil), v...)
	}
	return &cp
}

// ParamNames returns the tunable parameter names, sorted.
func (c *Config) ParamNames() []string {
	out := make([]string, 0, len(c.Params))
	for k := range c.Params {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SetParam overwrites a strategy parameter.
func (c *Config) SetParam(name string, value interface{}) {
	if c.Params == nil {
		c.Params = make(map[string]interface{})
	}
	c.Params[strings.ToLower(name)] = value
}

// Param returns the raw value of a strategy parameter.
func (c *Config) Param(name string) (interface{}, error) {
	v, ok := c.Params[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	return v, nil
}

// ParamFloat returns a parameter as float64.
func (c *Config) ParamFloat(name string) (float64, error) {
	v, err := c.Param(name)
	if err != nil {
		return 0, err
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", name, err)
	}
	return f, nil
}

// ParamInt returns a parameter as int.
func (c *Config) ParamInt(name string) (int, error) {
	v, err := c.Param(name)
	if err != nil {
		return 0, err
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		// a swept integer may arrive as 3.0
		f, ferr := cast.ToFloat64E(v)
		if ferr != nil {
			return 0, fmt.Errorf("param %s: %w", name, err)
		}
		return int(f), nil
	}
	return i, nil
}

// ParamString returns a parameter as string.
func (c *Config) ParamString(name string) (string, error) {
	v, err := c.Param(name)
	if err != nil {
		return "", err
	}
	return cast.ToStringE(v)
}
