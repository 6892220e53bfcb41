// Package backtest runs strategies over historical windows and aggregates
// their reports.
package backtest

import (
	"errors"
	"fmt"
	"time"

	"crypto-backtester-go/internal/config"
	"crypto-backtester-go/internal/market"
	"crypto-backtester-go/internal/trader"

	"go.uber.org/zap"
)

// ErrNoMarketData is returned when the feed lacks a configured market.
var ErrNoMarketData = errors.New("feed has no data for market")

// Backtest simulates one strategy over one window.
type Backtest struct {
	logger   *zap.Logger
	cfg      *config.Config
	strategy trader.Strategy
	trader   *trader.Trader
	fast     *trader.FastTrader
	start    time.Time
	end      time.Time
}

// New binds s to a fresh trader over [start, end). The trader runs on the
// event-skipping path when backtest.fast_mode is set.
func New(logger *zap.Logger, cfg *config.Config, s trader.Strategy, feed market.Feed, start, end time.Time) (*Backtest, error) {
	if len(feed) == 0 {
		return nil, fmt.Errorf("%w: feed is empty", ErrNoMarketData)
	}
	for _, ex := range cfg.ExchangeNames() {
		for _, m := range cfg.Exchanges[ex].Markets {
			if !feed.HasMarket(ex, m) {
				return nil, fmt.Errorf("%w: %s %s", ErrNoMarketData, ex, m)
			}
		}
	}

	l := logger.With(zap.String("strategy", s.Name()), zap.Time("start", start), zap.Time("end", end))
	t, err := trader.NewTrader(l, cfg, feed, start, end)
	if err != nil {
		return nil, err
	}
	if err := covered(t, feed, start, end); err != nil {
		return nil, err
	}
	b := &Backtest{
		logger:   l,
		cfg:      cfg,
		strategy: s,
		trader:   t,
		start:    start.UTC(),
		end:      end.UTC(),
	}

	ctx := trader.StrategyContext{Logger: l.Named("strategy"), Cfg: cfg, Trader: t}
	if cfg.Backtest.FastMode {
		b.fast = trader.NewFastTrader(t)
		ctx.Fast = b.fast
	}
	if err := s.Init(ctx); err != nil {
		return nil, fmt.Errorf("init strategy %s: %w", s.Name(), err)
	}
	t.SetStrategy(s)
	return b, nil
}

// covered checks that every market has indicator candles inside
// [start, end).
func covered(t *trader.Trader, feed market.Feed, start, end time.Time) error {
	tf := t.IndicatorTimeframe()
	for _, ex := range t.Exchanges() {
		for _, m := range t.Markets(ex) {
			s, err := feed.Series(ex, m, tf)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrNoMarketData, err)
			}
			if len(s.Between(start, end.Add(-time.Nanosecond))) == 0 {
				return fmt.Errorf("%w: no %s %s %s candles between %s and %s", ErrNoMarketData,
					ex, m, tf, start.Format(time.RFC3339), end.Format(time.RFC3339))
			}
		}
	}
	return nil
}

// Trader exposes the confirmed books after a run.
func (b *Backtest) Trader() *trader.Trader { return b.trader }

// Run simulates the window and reports on it. Every position is closed and
// every pending order canceled before the final valuation.
func (b *Backtest) Run() (*Report, error) {
	currency := b.cfg.Backtest.ValuationCurrency
	report, err := newReport(b.trader, currency, b.start, b.end)
	if err != nil {
		return nil, err
	}

	if b.fast != nil {
		err = b.fastRun()
	} else {
		err = b.slowRun()
	}
	if err != nil {
		return nil, err
	}

	if err := report.finish(b.trader, currency); err != nil {
		return nil, err
	}
	b.logger.Info("Window finished",
		zap.Float64("pl_percent", report.PLPercent),
		zap.Float64("pl_eff", report.PLEff),
		zap.Int("wins", report.Wins),
		zap.Int("losses", report.Losses))
	return report, nil
}

// slowRun feeds one base interval at a time so the strategy only ever sees
// candles up to the cursor.
func (b *Backtest) slowRun() error {
	if err := b.strategy.Prefeed(); err != nil {
		return fmt.Errorf("prefeed: %w", err)
	}
	for {
		b.trader.FeedData(b.trader.Clock().Next())
		if b.trader.Done() {
			break
		}
		if err := b.trader.Tick(); err != nil {
			return err
		}
	}
	return b.trader.Liquidate()
}

func (b *Backtest) fastRun() error {
	if err := b.fast.RunFast(); err != nil {
		return err
	}
	if err := b.fast.Liquidate(); err != nil {
		return err
	}
	for _, d := range b.fast.Reconcile(b.cfg.Backtest.ReconcileTolerance) {
		b.logger.Warn("Projected balance drifted",
			zap.String("exchange", d.Exchange),
			zap.String("currency", d.Currency),
			zap.Float64("confirmed", d.Confirmed),
			zap.Float64("projected", d.Projected))
	}
	return nil
}
