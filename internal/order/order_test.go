package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRequestValidate(t *testing.T) {
	valid := Request{Exchange: "bitfinex", Market: "BTC/USD", Side: Buy, Kind: Limit, Amount: 0.1, Price: 10000}

	testCases := []struct {
		name   string
		mutate func(r *Request)
		valid  bool
	}{
		{name: "Valid limit", mutate: func(r *Request) {}, valid: true},
		{name: "Market without price", mutate: func(r *Request) { r.Kind = Market; r.Price = 0 }, valid: true},
		{name: "Missing exchange", mutate: func(r *Request) { r.Exchange = "" }},
		{name: "Missing market", mutate: func(r *Request) { r.Market = "" }},
		{name: "Bad side", mutate: func(r *Request) { r.Side = AnySide }},
		{name: "Bad kind", mutate: func(r *Request) { r.Kind = "stop" }},
		{name: "Zero amount", mutate: func(r *Request) { r.Amount = 0 }},
		{name: "Zero limit price", mutate: func(r *Request) { r.Price = 0 }},
		{name: "Malformed pair", mutate: func(r *Request) { r.Market = "BTCUSD" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			err := r.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidOrder)
			}
		})
	}
}

func TestNew_Currency(t *testing.T) {
	testCases := []struct {
		side     Side
		margin   bool
		currency string
	}{
		{side: Buy, currency: "USD"},
		{side: Sell, currency: "BTC"},
		{side: Sell, margin: true, currency: "USD"},
		{side: Buy, margin: true, currency: "USD"},
	}
	for _, tc := range testCases {
		o := New(1, Request{Exchange: "bitfinex", Market: "BTC/USD", Side: tc.side, Kind: Market, Amount: 1, Margin: tc.margin}, t0)
		assert.Equal(t, tc.currency, o.Currency)
		assert.Equal(t, tc.margin, o.IsMargin())
		assert.NotEmpty(t, o.UUID)
	}
}

func TestClone_DeepCopiesMargin(t *testing.T) {
	o := New(1, Request{Exchange: "bitfinex", Market: "BTC/USD", Side: Buy, Kind: Limit, Amount: 1, Price: 10, Margin: true}, t0)
	o.Reserve(5)
	cp := o.Clone()
	cp.Margin.Active = true

	assert.False(t, o.Margin.Active)
	assert.Equal(t, 5.0, cp.Reserved())
	assert.Equal(t, 5.0, o.Release())
	assert.Equal(t, 0.0, o.Reserved())
}

func TestSideMatches(t *testing.T) {
	assert.True(t, Buy.Matches(AnySide))
	assert.True(t, Sell.Matches(""))
	assert.True(t, Sell.Matches(Sell))
	assert.False(t, Buy.Matches(Sell))
}

func TestSchedule_Buy(t *testing.T) {
	s := Schedule{FeeRate: 0.001}
	got := s.Buy(10000, 0.1)

	assert.InDelta(t, 1000, got.Cost, 1e-9)
	assert.InDelta(t, 0.0999, got.Amount, 1e-12)
	assert.InDelta(t, 10000*0.0999*0.001, got.Fee, 1e-9)
}

func TestSchedule_Sell(t *testing.T) {
	s := Schedule{FeeRate: 0.002}
	got := s.Sell(200, 2)

	assert.Equal(t, 2.0, got.Cost)
	assert.InDelta(t, 400*0.998, got.Proceeds, 1e-9)
	assert.InDelta(t, 0.8, got.Fee, 1e-9)
}

func TestSchedule_Margin(t *testing.T) {
	s := Schedule{FeeRate: 0.002, MarginFee: 0.0005, MarginRate: 3}
	open := s.MarginOpen(10000, 1)

	mf := 0.0005 / 2
	amount := (10000.0 / 3) / (1.0/3 + 0.002 + mf) / 10000
	assert.InDelta(t, 3333.3333333, open.Cost, 1e-6)
	assert.InDelta(t, amount, open.Amount, 1e-12)
	assert.InDelta(t, amount/3*2*10000, open.Fund, 1e-9)
	assert.InDelta(t, open.Fund*0.0005, open.MarginFee, 1e-12)
	assert.InDelta(t, 10000*amount*0.002, open.Fee, 1e-9)

	closed := s.MarginClose(Buy, 10000, 11000, open.Amount, open.Fee, open.MarginFee)
	closeFee := open.Amount * 11000 * 0.002
	assert.InDelta(t, open.Fee+closeFee, closed.Fee, 1e-9)
	assert.InDelta(t, 1000*open.Amount-closed.Fee-open.MarginFee, closed.PL, 1e-9)
	assert.InDelta(t, 10000*open.Amount/3+1000*open.Amount-closeFee, closed.Return, 1e-9)
	assert.Greater(t, closed.PL, 0.0)

	short := s.MarginClose(Sell, 10000, 11000, open.Amount, open.Fee, open.MarginFee)
	assert.Less(t, short.PL, 0.0)
}

func TestRegistry_SinglePartition(t *testing.T) {
	r := NewRegistry([]string{"bitfinex"})
	margin := New(1, Request{Exchange: "bitfinex", Market: "BTC/USD", Side: Buy, Kind: Market, Amount: 1, Margin: true}, t0)
	plain := New(2, Request{Exchange: "bitfinex", Market: "BTC/USD", Side: Buy, Kind: Market, Amount: 1}, t0)

	require.NoError(t, r.Queue(margin))
	require.NoError(t, r.Queue(plain))
	assert.Error(t, r.Queue(plain), "an id cannot be queued twice")
	assert.True(t, r.HasQueued())

	assert.Error(t, r.Fill(plain), "plain orders never become positions")
	require.NoError(t, r.Fill(margin))
	assert.Equal(t, Open, r.Locate("bitfinex", 1))

	require.NoError(t, r.Requeue(margin))
	assert.Equal(t, Queued, r.Locate("bitfinex", 1))
	assert.Error(t, r.Requeue(margin))

	require.NoError(t, r.Archive(margin))
	require.NoError(t, r.Archive(plain))
	assert.Equal(t, Archived, r.Locate("bitfinex", 1))
	assert.Equal(t, Nowhere, r.Locate("bitfinex", 3))
	assert.False(t, r.HasQueued())

	hist := r.History("bitfinex")
	require.Len(t, hist, 2)
	assert.Equal(t, int64(1), hist[0].ID)
	assert.Equal(t, int64(2), hist[1].ID)
	assert.Empty(t, r.Queued("bitfinex"))
	assert.Empty(t, r.Positions("bitfinex"))
}
