package strategy

import (
	"fmt"

	"crypto-backtester-go/internal/config"
	"crypto-backtester-go/internal/market"
	"crypto-backtester-go/internal/order"
	"crypto-backtester-go/internal/trader"

	"go.uber.org/zap"
)

// Crossover buys when the fast moving average crosses above the slow one
// and sells the whole base balance on the opposite cross.
//
// Parameters: fast, slow (candles), trade_portion (share of the quote
// balance spent per buy).
type Crossover struct {
	Base
	fastLen int
	slowLen int
	portion float64

	above map[string]bool
}

// NewCrossover reads the strategy parameters from cfg.
func NewCrossover(cfg *config.Config) (*Crossover, error) {
	fast, err := paramInt(cfg, "fast", 5)
	if err != nil {
		return nil, err
	}
	slow, err := paramInt(cfg, "slow", 20)
	if err != nil {
		return nil, err
	}
	portion, err := paramFloat(cfg, "trade_portion", 0.5)
	if err != nil {
		return nil, err
	}
	if fast < 1 || slow <= fast {
		return nil, fmt.Errorf("crossover needs 0 < fast < slow, got %d and %d", fast, slow)
	}
	if portion <= 0 || portion > 1 {
		return nil, fmt.Errorf("trade_portion %f out of (0, 1]", portion)
	}
	return &Crossover{
		Base:    Base{cfg: cfg},
		fastLen: fast,
		slowLen: slow,
		portion: portion,
		above:   make(map[string]bool),
	}, nil
}

// Name returns the strategy name.
func (c *Crossover) Name() string { return "crossover" }

// PrefeedDays covers the slow average.
func (c *Crossover) PrefeedDays() int { return c.prefeedDays(c.slowLen) }

// Prefeed records which average leads at the window start so the first
// tick does not trade on a stale cross.
func (c *Crossover) Prefeed() error {
	return c.each(func(ex, m string) error {
		s, err := c.trader.OHLCV(ex, m, c.trader.IndicatorTimeframe())
		if err != nil {
			return nil
		}
		if up, ok := c.signal(s.Closes()); ok {
			c.above[ex+m] = up
		}
		return nil
	})
}

// signal reports whether the fast average is above the slow one.
func (c *Crossover) signal(closes []float64) (bool, bool) {
	if len(closes) < c.slowLen {
		return false, false
	}
	return sma(closes, c.fastLen) > sma(closes, c.slowLen), true
}

// crossed updates the lead state and reports a change.
func (c *Crossover) crossed(key string, closes []float64) (up, changed bool) {
	up, ok := c.signal(closes)
	if !ok {
		return false, false
	}
	prev, seen := c.above[key]
	c.above[key] = up
	return up, seen && prev != up
}

// Run trades market orders on each cross.
func (c *Crossover) Run() error {
	return c.each(func(ex, m string) error {
		s, err := c.trader.OHLCV(ex, m, c.trader.IndicatorTimeframe())
		if err != nil {
			return nil
		}
		up, changed := c.crossed(ex+m, s.Closes())
		if !changed {
			return nil
		}
		last, _ := s.Last()
		pair := market.MustParsePair(m)
		req := order.Request{Exchange: ex, Market: m, Kind: order.Market}
		if up {
			req.Side = order.Buy
			req.Amount = c.marketAmount(ex, c.trader.Available(ex, pair.Quote), last.Close, c.portion, false)
		} else {
			req.Side = order.Sell
			req.Amount = floorToStep(c.trader.Available(ex, pair.Base), c.cfg.Exchanges[ex].LotStep)
		}
		c.logger.Debug("Cross", zap.String("market", m), zap.Bool("up", up), zap.Float64("amount", req.Amount))
		_, err = c.open(req, last.Close)
		return err
	})
}

// FastRun walks the whole window once and emits a market operation per
// cross, sized on the projected balance.
func (c *Crossover) FastRun() ([]trader.Operation, error) {
	if c.fast == nil {
		return nil, errNotInitialized
	}
	var ops []trader.Operation
	err := c.each(func(ex, m string) error {
		s, first, err := c.windowCandles(ex, m)
		if err != nil {
			return nil
		}
		pair := market.MustParsePair(m)
		key := ex + m
		if first > 0 {
			if up, ok := c.signal(s[:first].Closes()); ok {
				c.above[key] = up
			}
		}
		closes := s.Closes()
		for i := first; i < len(s); i++ {
			candle := s[i]
			if !candle.Time.Before(c.trader.End()) {
				break
			}
			up, changed := c.crossed(key, closes[:i+1])
			if !changed {
				continue
			}
			req := order.Request{Exchange: ex, Market: m, Kind: order.Market}
			if up {
				req.Side = order.Buy
				balance := c.fast.ProjectedBalance(ex, pair.Quote, candle.Time)
				req.Amount = c.marketAmount(ex, balance, candle.Close, c.portion, false)
			} else {
				req.Side = order.Sell
				req.Amount = floorToStep(c.fast.ProjectedBalance(ex, pair.Base, candle.Time), c.cfg.Exchanges[ex].LotStep)
			}
			if ops, _, err = c.opOpen(ops, req, candle.Close, candle.Time); err != nil {
				return err
			}
		}
		return nil
	})
	return ops, err
}
