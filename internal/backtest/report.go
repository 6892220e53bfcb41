package backtest

import (
	"errors"
	"fmt"
	"time"

	"crypto-backtester-go/internal/market"
	"crypto-backtester-go/internal/order"
	"crypto-backtester-go/internal/trader"
)

// Report is the outcome of one window.
type Report struct {
	InitialFund  map[string]map[string]float64 `json:"initial_fund"`
	InitialValue float64                       `json:"initial_value"`
	FinalFund    map[string]map[string]float64 `json:"final_fund"`
	FinalValue   float64                       `json:"final_value"`
	Days         int                           `json:"days"`
	PL           float64                       `json:"pl"`
	PLPercent    float64                       `json:"pl_percent"`
	// PLEff is PLPercent on a 30 day basis; 1 means +100% per 30 days.
	PLEff  float64 `json:"pl_eff"`
	Fees   float64 `json:"fees"`
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
	// Trades are the settled orders of the window, canceled ones excluded.
	Trades []*order.Order `json:"-"`
}

func days(start, end time.Time) int {
	return int(end.Sub(start) / (24 * time.Hour))
}

// newReport captures the opening state of a window.
func newReport(t *trader.Trader, currency string, start, end time.Time) (*Report, error) {
	value, err := totalValue(t, currency)
	if err != nil {
		return nil, err
	}
	return &Report{
		InitialFund:  t.Wallet(),
		InitialValue: value,
		Days:         days(start, end),
	}, nil
}

// finish fills in the closing state and the order statistics.
func (r *Report) finish(t *trader.Trader, currency string) error {
	value, err := totalValue(t, currency)
	if err != nil {
		return err
	}
	r.FinalFund = t.Wallet()
	r.FinalValue = value
	r.PL = r.FinalValue - r.InitialValue
	if r.InitialValue != 0 {
		r.PLPercent = r.PL / r.InitialValue * 100
	}
	if r.Days > 0 {
		r.PLEff = r.PLPercent / float64(r.Days) * 0.3
	}

	for _, ex := range t.Exchanges() {
		for _, o := range t.History(ex) {
			if o.Canceled {
				continue
			}
			r.Fees += o.Fee
			r.Trades = append(r.Trades, o.Clone())
			if !o.IsMargin() {
				continue
			}
			r.Fees += o.Margin.Fee
			if o.Margin.PL >= 0 {
				r.Wins++
			} else {
				r.Losses++
			}
		}
	}
	return nil
}

// totalValue sums every balance of every exchange in currency at the
// cursor.
func totalValue(t *trader.Trader, currency string) (float64, error) {
	var total float64
	for ex, wallet := range t.Wallet() {
		for cur, amount := range wallet {
			if amount == 0 {
				continue
			}
			if cur == currency {
				total += amount
				continue
			}
			v, err := convert(t, ex, cur, currency, amount)
			if err != nil {
				return 0, err
			}
			total += v
		}
	}
	return total, nil
}

// convert values amount of cur through a direct market, either cur/to or
// to/cur.
func convert(t *trader.Trader, exchange, cur, to string, amount float64) (float64, error) {
	if p, err := price(t, exchange, cur+"/"+to); err == nil {
		return amount * p, nil
	} else if !errors.Is(err, market.ErrNoData) {
		return 0, err
	}
	p, err := price(t, exchange, to+"/"+cur)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot value %s in %s on %s", ErrNoMarketData, cur, to, exchange)
	}
	if p == 0 {
		return 0, fmt.Errorf("%w: zero price for %s/%s on %s", ErrNoMarketData, to, cur, exchange)
	}
	return amount / p, nil
}

// price is the close at the cursor, or the first close when the series
// starts after it.
func price(t *trader.Trader, exchange, mkt string) (float64, error) {
	p, err := t.CurPrice(exchange, mkt)
	if err == nil {
		return p, nil
	}
	s, werr := t.Window(exchange, mkt, t.IndicatorTimeframe())
	if werr != nil || len(s) == 0 {
		return 0, err
	}
	return s[0].Close, nil
}
