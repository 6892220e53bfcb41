package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minuteSeries(start time.Time, closes ...float64) Series {
	s := make(Series, len(closes))
	for i, c := range closes {
		s[i] = Candle{Time: start.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c}
	}
	return s
}

func TestSeries_Slicing(t *testing.T) {
	start := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	s := minuteSeries(start, 1, 2, 3, 4, 5)

	assert.Len(t, s.Until(start.Add(2*time.Minute)), 3)
	assert.Len(t, s.Until(start.Add(-time.Minute)), 0)
	assert.Len(t, s.Until(start.Add(time.Hour)), 5)

	between := s.Between(start.Add(time.Minute), start.Add(3*time.Minute))
	assert.Equal(t, []float64{2, 3, 4}, between.Closes())
	assert.Nil(t, s.Between(start.Add(time.Hour), start.Add(2*time.Hour)))

	last, ok := s.Until(start.Add(90 * time.Second)).Last()
	require.True(t, ok)
	assert.Equal(t, 2.0, last.Close)

	_, ok = Series{}.Last()
	assert.False(t, ok)
}

func TestSeries_Sort(t *testing.T) {
	start := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Series{{Time: start.Add(time.Minute), Close: 2}, {Time: start, Close: 1}}
	s.Sort()
	assert.Equal(t, []float64{1, 2}, s.Closes())
}

func TestFeed(t *testing.T) {
	f := Feed{}
	f.Add("bitfinex", "BTC/USD", "1m", Series{{Close: 1}})

	s, err := f.Series("bitfinex", "BTC/USD", "1m")
	require.NoError(t, err)
	assert.Len(t, s, 1)
	assert.True(t, f.HasMarket("bitfinex", "BTC/USD"))
	assert.False(t, f.HasMarket("bitfinex", "ETH/USD"))

	_, err = f.Series("bitfinex", "BTC/USD", "5m")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestParsePair(t *testing.T) {
	p, err := ParsePair("btc/usd")
	require.NoError(t, err)
	assert.Equal(t, Pair{Base: "BTC", Quote: "USD"}, p)
	assert.Equal(t, "BTC/USD", p.String())
	assert.Equal(t, "BTCUSD", p.Symbol())
	assert.Equal(t, "USD", p.Other("BTC"))
	assert.Equal(t, "BTC", p.Other("USD"))

	for _, bad := range []string{"BTCUSD", "/USD", "BTC/", "A/B/C"} {
		_, err := ParsePair(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseTimeframe(t *testing.T) {
	testCases := []struct {
		tf       string
		expected time.Duration
		isErr    bool
	}{
		{tf: "1m", expected: time.Minute},
		{tf: "30m", expected: 30 * time.Minute},
		{tf: "4h", expected: 4 * time.Hour},
		{tf: "1D", expected: 24 * time.Hour},
		{tf: "1w", expected: 7 * 24 * time.Hour},
		{tf: "m", isErr: true},
		{tf: "0m", isErr: true},
		{tf: "5x", isErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.tf, func(t *testing.T) {
			d, err := ParseTimeframe(tc.tf)
			if tc.isErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, d)
		})
	}

	tf, err := SmallestTimeframe([]string{"1h", "5m", "1D"})
	require.NoError(t, err)
	assert.Equal(t, "5m", tf)
}
