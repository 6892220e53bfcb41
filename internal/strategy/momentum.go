package strategy

import (
	"fmt"
	"time"

	"crypto-backtester-go/internal/config"
	"crypto-backtester-go/internal/market"
	"crypto-backtester-go/internal/order"
	"crypto-backtester-go/internal/trader"
)

// Momentum trades leveraged positions in the direction of the return over
// a lookback. An entry is a limit order at the last close; entries not
// filled within patience candles are canceled and positions are closed
// once the return turns against them.
//
// Parameters: lookback, patience (candles), threshold (return),
// trade_portion.
type Momentum struct {
	Base
	lookback  int
	patience  int
	threshold float64
	portion   float64
}

// NewMomentum reads the strategy parameters from cfg.
func NewMomentum(cfg *config.Config) (*Momentum, error) {
	lookback, err := paramInt(cfg, "lookback", 12)
	if err != nil {
		return nil, err
	}
	patience, err := paramInt(cfg, "patience", 3)
	if err != nil {
		return nil, err
	}
	threshold, err := paramFloat(cfg, "threshold", 0.02)
	if err != nil {
		return nil, err
	}
	portion, err := paramFloat(cfg, "trade_portion", 0.3)
	if err != nil {
		return nil, err
	}
	if lookback < 1 || patience < 1 {
		return nil, fmt.Errorf("momentum needs positive lookback and patience, got %d and %d", lookback, patience)
	}
	if portion <= 0 || portion > 1 {
		return nil, fmt.Errorf("trade_portion %f out of (0, 1]", portion)
	}
	return &Momentum{
		Base:      Base{cfg: cfg},
		lookback:  lookback,
		patience:  patience,
		threshold: threshold,
		portion:   portion,
	}, nil
}

// Name returns the strategy name.
func (s *Momentum) Name() string { return "momentum" }

// PrefeedDays covers the lookback.
func (s *Momentum) PrefeedDays() int { return s.prefeedDays(s.lookback + 1) }

// momentum returns the return over the lookback.
func (s *Momentum) momentum(closes []float64) (float64, bool) {
	n := len(closes)
	if n <= s.lookback || closes[n-1-s.lookback] == 0 {
		return 0, false
	}
	return closes[n-1]/closes[n-1-s.lookback] - 1, true
}

func (s *Momentum) entry(ret float64) (order.Side, bool) {
	switch {
	case ret > s.threshold:
		return order.Buy, true
	case ret < -s.threshold:
		return order.Sell, true
	}
	return "", false
}

func against(side order.Side, ret float64) bool {
	return (side == order.Buy && ret < 0) || (side == order.Sell && ret > 0)
}

func inMarket(orders []*order.Order, mkt string) []*order.Order {
	var out []*order.Order
	for _, o := range orders {
		if o.Market.String() == mkt && !o.IsClosing() {
			out = append(out, o)
		}
	}
	return out
}

func (s *Momentum) stale(o *order.Order, now time.Time) bool {
	tf, err := market.ParseTimeframe(s.trader.IndicatorTimeframe())
	if err != nil {
		return false
	}
	return now.Sub(o.OpenedAt) >= tf*time.Duration(s.patience)
}

// Run manages one position per market on the bar-accurate path.
func (s *Momentum) Run() error {
	now := s.trader.Clock().Now()
	return s.each(func(ex, m string) error {
		series, err := s.trader.OHLCV(ex, m, s.trader.IndicatorTimeframe())
		if err != nil {
			return nil
		}
		ret, ok := s.momentum(series.Closes())
		if !ok {
			return nil
		}

		positions := inMarket(s.trader.Positions(ex), m)
		for _, p := range positions {
			if against(p.Side, ret) {
				if err := s.trader.ClosePosition(p); err != nil {
					return err
				}
			}
		}
		pending := inMarket(s.trader.Orders(ex), m)
		for _, o := range pending {
			if s.stale(o, now) {
				if err := s.trader.Cancel(o); err != nil {
					return err
				}
			}
		}
		if len(positions) > 0 || len(pending) > 0 {
			return nil
		}

		side, ok := s.entry(ret)
		if !ok {
			return nil
		}
		last, _ := series.Last()
		quote := market.MustParsePair(m).Quote
		amount := s.marketAmount(ex, s.trader.Available(ex, quote), last.Close, s.portion, true)
		_, err = s.open(order.Request{
			Exchange: ex, Market: m, Side: side, Kind: order.Limit,
			Amount: amount, Price: last.Close, Margin: true,
		}, last.Close)
		return err
	})
}

// FastRun emits the same decisions from the projected books.
func (s *Momentum) FastRun() ([]trader.Operation, error) {
	if s.fast == nil {
		return nil, errNotInitialized
	}
	var ops []trader.Operation
	err := s.each(func(ex, m string) error {
		series, first, err := s.windowCandles(ex, m)
		if err != nil {
			return nil
		}
		quote := market.MustParsePair(m).Quote
		closes := series.Closes()
		for i := first; i < len(series); i++ {
			c := series[i]
			if !c.Time.Before(s.trader.End()) {
				break
			}
			ret, ok := s.momentum(closes[:i+1])
			if !ok {
				continue
			}

			positions := inMarket(s.fast.ProjectedPositions(ex, c.Time), m)
			for _, p := range positions {
				if against(p.Side, ret) {
					op, err := s.fast.OpClosePosition(p, c.Time, 0)
					if err != nil {
						return err
					}
					ops = append(ops, op)
				}
			}
			pending := inMarket(s.fast.ProjectedOrders(ex, c.Time), m)
			for _, o := range pending {
				if s.stale(o, c.Time) {
					op, err := s.fast.OpCancel(o, c.Time)
					if err != nil {
						return err
					}
					ops = append(ops, op)
				}
			}
			if len(positions) > 0 || len(pending) > 0 {
				continue
			}

			side, ok := s.entry(ret)
			if !ok {
				continue
			}
			amount := s.marketAmount(ex, s.fast.ProjectedBalance(ex, quote, c.Time), c.Close, s.portion, true)
			req := order.Request{
				Exchange: ex, Market: m, Side: side, Kind: order.Limit,
				Amount: amount, Price: c.Close, Margin: true,
			}
			if ops, _, err = s.opOpen(ops, req, c.Close, c.Time); err != nil {
				return err
			}
		}
		return nil
	})
	return ops, err
}
