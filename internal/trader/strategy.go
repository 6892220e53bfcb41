package trader

import (
	"crypto-backtester-go/internal/config"

	"go.uber.org/zap"
)

// StrategyContext provides the strategy with access to the core components.
type StrategyContext struct {
	Logger *zap.Logger
	Cfg    *config.Config
	Trader *Trader
	// Fast is set when the window runs on the event-skipping path.
	Fast *FastTrader
}

// Strategy defines the interface for a trading strategy.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Init binds the strategy to the trader of one window.
	Init(ctx StrategyContext) error

	// PrefeedDays is the lead-in history the strategy wants before the window starts.
	PrefeedDays() int

	// Prefeed warms up internal state once before the simulation.
	Prefeed() error

	// Run is called once per tick on the bar-accurate path.
	Run() error

	// FastRun returns every operation of the window on the event-skipping path.
	FastRun() ([]Operation, error)
}
