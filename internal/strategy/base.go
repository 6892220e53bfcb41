package strategy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"crypto-backtester-go/internal/config"
	"crypto-backtester-go/internal/ledger"
	"crypto-backtester-go/internal/market"
	"crypto-backtester-go/internal/order"
	"crypto-backtester-go/internal/trader"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errNotInitialized = errors.New("strategy is not initialized")

// Base carries the trader binding and the order helpers shared by the
// built-in strategies.
type Base struct {
	logger *zap.Logger
	cfg    *config.Config
	trader *trader.Trader
	fast   *trader.FastTrader
}

// Init binds the strategy to the trader of one window.
func (b *Base) Init(ctx trader.StrategyContext) error {
	if ctx.Trader == nil {
		return errNotInitialized
	}
	b.logger = ctx.Logger
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	b.cfg = ctx.Cfg
	b.trader = ctx.Trader
	b.fast = ctx.Fast
	return nil
}

// Prefeed does nothing by default.
func (b *Base) Prefeed() error { return nil }

// Run does nothing by default.
func (b *Base) Run() error { return nil }

// FastRun returns no operations by default.
func (b *Base) FastRun() ([]trader.Operation, error) { return nil, nil }

// each calls fn for every configured exchange and market.
func (b *Base) each(fn func(exchange, mkt string) error) error {
	for _, ex := range b.trader.Exchanges() {
		for _, m := range b.trader.Markets(ex) {
			if err := fn(ex, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// prefeedDays converts a number of indicator candles to whole days.
func (b *Base) prefeedDays(candles int) int {
	tf, err := market.ParseTimeframe(b.cfg.Backtest.IndicatorTimeframe)
	if err != nil {
		return 1
	}
	return int(math.Ceil(float64(tf*time.Duration(candles)) / float64(24*time.Hour)))
}

// marketAmount is the base amount spendable from balance at price. Margin
// orders are scaled by the leverage.
func (b *Base) marketAmount(exchange string, balance, price, portion float64, margin bool) float64 {
	if price <= 0 || balance <= 0 {
		return 0
	}
	amount := balance * portion / price
	if margin {
		amount *= b.cfg.Trading.MarginRate
	}
	return floorToStep(amount, b.cfg.Exchanges[exchange].LotStep)
}

// tooSmall reports whether an order of amount at price falls below the
// configured minimum order value.
func (b *Base) tooSmall(amount, price float64) bool {
	return amount <= 0 || amount*price < b.cfg.Trading.MinOrderValue
}

// open submits a request on the bar-accurate path. Refusals for lack of
// balance are logged and swallowed.
func (b *Base) open(req order.Request, price float64) (*order.Order, error) {
	if b.tooSmall(req.Amount, price) {
		return nil, nil
	}
	o, err := b.trader.Open(req)
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		b.logger.Debug("Skipping order", zap.String("market", req.Market), zap.Error(err))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s %s: %w", req.Side, req.Market, err)
	}
	return o, nil
}

// opOpen issues a request on the event-skipping path.
func (b *Base) opOpen(ops []trader.Operation, req order.Request, price float64, now time.Time) ([]trader.Operation, *order.Order, error) {
	if b.tooSmall(req.Amount, price) {
		return ops, nil, nil
	}
	op, err := b.fast.OpOpen(req, now)
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		return ops, nil, nil
	}
	if err != nil {
		return ops, nil, fmt.Errorf("op open %s %s: %w", req.Side, req.Market, err)
	}
	return append(ops, op), op.Ticket, nil
}

// windowCandles returns the indicator candles inside the window together
// with the lead-in history before it.
func (b *Base) windowCandles(exchange, mkt string) (market.Series, int, error) {
	s, err := b.trader.Window(exchange, mkt, b.trader.IndicatorTimeframe())
	if err != nil {
		return nil, 0, err
	}
	first := len(s.Until(b.trader.Clock().Start().Add(-time.Nanosecond)))
	return s, first, nil
}

// floorToStep floors amount to a multiple of step. A zero step leaves the
// amount untouched.
func floorToStep(amount, step float64) float64 {
	if step <= 0 {
		return amount
	}
	d := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(amount).Div(d).Floor().Mul(d).InexactFloat64()
}

func sma(closes []float64, n int) float64 {
	var sum float64
	for _, c := range closes[len(closes)-n:] {
		sum += c
	}
	return sum / float64(n)
}

func paramInt(cfg *config.Config, name string, def int) (int, error) {
	v, err := cfg.ParamInt(name)
	if errors.Is(err, config.ErrUnknownParam) {
		return def, nil
	}
	return v, err
}

func paramFloat(cfg *config.Config, name string, def float64) (float64, error) {
	v, err := cfg.ParamFloat(name)
	if errors.Is(err, config.ErrUnknownParam) {
		return def, nil
	}
	return v, err
}
