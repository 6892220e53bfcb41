package market

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNoData is returned when no candles are visible for a request.
var ErrNoData = errors.New("no market data")

// Candle is one OHLCV row.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// IsUp reports whether the candle closed above its open.
func (c Candle) IsUp() bool {
	return c.Close > c.Open
}

// Series is a time-ascending run of candles for one market and timeframe.
type Series []Candle

// Sort orders the series by time, in place.
func (s Series) Sort() {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })
}

// Until returns the candles with Time <= t.
func (s Series) Until(t time.Time) Series {
	n := sort.Search(len(s), func(i int) bool { return s[i].Time.After(t) })
	return s[:n]
}

// Between returns the candles with from <= Time <= to.
func (s Series) Between(from, to time.Time) Series {
	lo := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(from) })
	hi := sort.Search(len(s), func(i int) bool { return s[i].Time.After(to) })
	if lo >= hi {
		return nil
	}
	return s[lo:hi]
}

// Last returns the newest candle.
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}

// Closes returns the close prices of the series.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Close
	}
	return out
}

// Feed holds OHLCV panels keyed exchange > market > timeframe.
type Feed map[string]map[string]map[string]Series

// Add stores a series in the feed, replacing any previous one.
func (f Feed) Add(exchange, market, timeframe string, s Series) {
	if f[exchange] == nil {
		f[exchange] = make(map[string]map[string]Series)
	}
	if f[exchange][market] == nil {
		f[exchange][market] = make(map[string]Series)
	}
	f[exchange][market][timeframe] = s
}

// Series looks up one panel.
func (f Feed) Series(exchange, market, timeframe string) (Series, error) {
	s, ok := f[exchange][market][timeframe]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s %s", ErrNoData, exchange, market, timeframe)
	}
	return s, nil
}

// HasMarket reports whether any timeframe exists for the market.
func (f Feed) HasMarket(exchange, market string) bool {
	_, ok := f[exchange][market]
	return ok
}
