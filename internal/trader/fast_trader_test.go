package trader

import (
	"testing"
	"time"

	"crypto-backtester-go/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fastCloses = []float64{100, 100, 90, 95, 110, 120}

func newTestFastTrader(t *testing.T, funds map[string]float64) *FastTrader {
	return NewFastTrader(newTestTrader(t, testConfig(funds), fastCloses...))
}

func hour(n int) time.Time { return t0.Add(time.Duration(n) * time.Hour) }

func runOps(t *testing.T, f *FastTrader, ops ...Operation) {
	s := new(MockStrategy)
	s.On("FastRun").Return(ops, nil).Once()
	f.SetStrategy(s)
	require.NoError(t, f.RunFast())
	s.AssertExpectations(t)
}

func TestFast_ProjectedLimitFillsOnCross(t *testing.T) {
	// Arrange
	f := newTestFastTrader(t, map[string]float64{"USD": 1000})
	req := order.Request{Exchange: testExchange, Market: testMarket, Side: order.Buy, Kind: order.Limit, Amount: 1, Price: 95}

	// Act
	op, err := f.OpOpen(req, t0)
	require.NoError(t, err)

	// Assert: projected debit is immediate
	assert.InDelta(t, 905, f.ProjectedBalance(testExchange, "USD", t0), 1e-9)
	assert.Len(t, f.ProjectedOrders(testExchange, hour(1)), 1, "closes of 100 do not cross")
	assert.Equal(t, 0.0, f.ProjectedBalance(testExchange, "BTC", hour(1)))
	assert.InDelta(t, 0.999, f.ProjectedBalance(testExchange, "BTC", hour(2)), 1e-12)
	assert.Empty(t, f.ProjectedOrders(testExchange, hour(2)))
	assert.Equal(t, 1000.0, f.Available(testExchange, "USD"), "confirmed ledger is untouched")

	runOps(t, f, op)

	hist := f.History(testExchange)
	require.Len(t, hist, 1)
	assert.Equal(t, hour(2), hist[0].ClosedAt)
	assert.InDelta(t, 0.999, f.Available(testExchange, "BTC"), 1e-12)
	assert.Empty(t, f.Reconcile(1e-9))
}

func TestFast_MarketOrdersDriftFromProjection(t *testing.T) {
	f := newTestFastTrader(t, map[string]float64{"USD": 1000})

	open, err := f.OpOpen(order.Request{Exchange: testExchange, Market: testMarket, Side: order.Buy, Kind: order.Market, Amount: 1, Margin: true}, hour(1))
	require.NoError(t, err)
	require.Len(t, f.ProjectedPositions(testExchange, hour(1)), 1)
	assert.Equal(t, 100.0, open.Ticket.OpenPrice)

	closeOp, err := f.OpClosePosition(open.Ticket, hour(4), 0)
	require.NoError(t, err)
	assert.Empty(t, f.ProjectedPositions(testExchange, hour(4)))

	// submitted out of order on purpose
	runOps(t, f, closeOp, open)

	hist := f.History(testExchange)
	require.Len(t, hist, 1)
	assert.Equal(t, 90.0, hist[0].OpenPrice, "executed at the next matching pass")
	assert.Equal(t, 120.0, hist[0].Margin.ClosePrice)

	drift := f.Reconcile(1e-6)
	require.Len(t, drift, 1)
	assert.Equal(t, "USD", drift[0].Currency)
	assert.Greater(t, drift[0].Confirmed, drift[0].Projected)
}

func TestFast_ClosePriceOverrideMatchesProjection(t *testing.T) {
	f := newTestFastTrader(t, map[string]float64{"USD": 1000})

	open, err := f.OpOpen(order.Request{Exchange: testExchange, Market: testMarket, Side: order.Buy, Kind: order.Limit, Amount: 3, Price: 100, Margin: true}, t0)
	require.NoError(t, err)
	closeOp, err := f.OpClosePosition(open.Ticket, hour(1), 105)
	require.NoError(t, err)

	runOps(t, f, open, closeOp)

	hist := f.History(testExchange)
	require.Len(t, hist, 1)
	assert.Equal(t, 105.0, hist[0].Margin.ClosePrice)
	assert.Greater(t, hist[0].Margin.PL, 0.0)
	assert.Empty(t, f.Positions(testExchange))
	assert.Empty(t, f.Reconcile(1e-9))
}

func TestFast_Cancel(t *testing.T) {
	f := newTestFastTrader(t, map[string]float64{"USD": 1000})

	open, err := f.OpOpen(order.Request{Exchange: testExchange, Market: testMarket, Side: order.Buy, Kind: order.Limit, Amount: 1, Price: 50}, t0)
	require.NoError(t, err)
	assert.InDelta(t, 950, f.ProjectedBalance(testExchange, "USD", t0), 1e-9)

	_, err = f.OpClosePosition(open.Ticket, hour(1), 0)
	assert.ErrorIs(t, err, ErrNotPosition)

	cancel, err := f.OpCancel(open.Ticket, hour(3))
	require.NoError(t, err)
	assert.Equal(t, 1000.0, f.ProjectedBalance(testExchange, "USD", hour(3)))

	_, err = f.OpCancel(open.Ticket, hour(3))
	assert.ErrorIs(t, err, ErrNotCancelable)

	runOps(t, f, open, cancel)

	assert.Empty(t, f.Orders(testExchange))
	hist := f.History(testExchange)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Canceled)
	assert.Equal(t, hour(3), hist[0].ClosedAt)
	assert.Equal(t, 1000.0, f.Available(testExchange, "USD"))
}

func TestFast_UnresolvedOrdersLeftForLiquidate(t *testing.T) {
	f := newTestFastTrader(t, map[string]float64{"USD": 1000})

	open, err := f.OpOpen(order.Request{Exchange: testExchange, Market: testMarket, Side: order.Buy, Kind: order.Limit, Amount: 1, Price: 50}, t0)
	require.NoError(t, err)

	runOps(t, f, open)

	require.Len(t, f.Orders(testExchange), 1)
	assert.True(t, f.Done())
	require.NoError(t, f.Liquidate())
	assert.Empty(t, f.Orders(testExchange))
	assert.Equal(t, 1000.0, f.Available(testExchange, "USD"))
}

func TestFast_BulkOperations(t *testing.T) {
	f := newTestFastTrader(t, map[string]float64{"USD": 1000})

	long, err := f.OpOpen(order.Request{Exchange: testExchange, Market: testMarket, Side: order.Buy, Kind: order.Market, Amount: 1, Margin: true}, t0)
	require.NoError(t, err)
	short, err := f.OpOpen(order.Request{Exchange: testExchange, Market: testMarket, Side: order.Sell, Kind: order.Market, Amount: 1, Margin: true}, t0)
	require.NoError(t, err)
	pending, err := f.OpOpen(order.Request{Exchange: testExchange, Market: testMarket, Side: order.Buy, Kind: order.Limit, Amount: 1, Price: 10}, t0)
	require.NoError(t, err)

	closeLongs, err := f.OpCloseAll(testExchange, hour(1), order.Buy)
	require.NoError(t, err)
	positions := f.ProjectedPositions(testExchange, hour(1))
	require.Len(t, positions, 1)
	assert.Equal(t, order.Sell, positions[0].Side)

	cancelAll, err := f.OpCancelAll(testExchange, hour(1), order.AnySide)
	require.NoError(t, err)
	assert.Empty(t, f.ProjectedOrders(testExchange, hour(1)))

	runOps(t, f, long, short, pending, closeLongs, cancelAll)

	open := f.Positions(testExchange)
	require.Len(t, open, 1)
	assert.Equal(t, order.Sell, open[0].Side)
	assert.Empty(t, f.Orders(testExchange))
	assert.Len(t, f.History(testExchange), 2)
}

func TestFast_OperationsAfterEndAreDropped(t *testing.T) {
	tr, err := NewTrader(zap.NewNop(), testConfig(map[string]float64{"USD": 1000}), hourly(fastCloses...), t0, hour(3))
	require.NoError(t, err)
	f := NewFastTrader(tr)

	long, err := f.OpOpen(order.Request{Exchange: testExchange, Market: testMarket, Side: order.Buy, Kind: order.Market, Amount: 1, Margin: true}, hour(1))
	require.NoError(t, err)
	late, err := f.OpCancelAll(testExchange, hour(5), order.AnySide)
	require.NoError(t, err)

	runOps(t, f, long, late)

	assert.Equal(t, hour(3), f.Clock().Now(), "the cursor stops at the window end")
	assert.True(t, f.Done())
	require.NoError(t, f.Liquidate())
	hist := f.History(testExchange)
	require.Len(t, hist, 1)
	assert.Equal(t, 95.0, hist[0].Margin.ClosePrice, "closed at the window end, not at a later candle")
	assert.Equal(t, hour(3), hist[0].ClosedAt)
}

func TestFast_UnalignedEnd(t *testing.T) {
	end := hour(2).Add(30 * time.Minute)
	tr, err := NewTrader(zap.NewNop(), testConfig(map[string]float64{"USD": 1000}), hourly(fastCloses...), t0, end)
	require.NoError(t, err)
	f := NewFastTrader(tr)

	long, err := f.OpOpen(order.Request{Exchange: testExchange, Market: testMarket, Side: order.Buy, Kind: order.Market, Amount: 1, Margin: true}, t0)
	require.NoError(t, err)

	runOps(t, f, long)

	assert.Equal(t, end, f.Clock().Now())
	require.NoError(t, f.Liquidate())
	hist := f.History(testExchange)
	require.Len(t, hist, 1)
	assert.Equal(t, 90.0, hist[0].Margin.ClosePrice, "the last candle at or before the end")
}

func TestFast_NoOperations(t *testing.T) {
	f := newTestFastTrader(t, map[string]float64{"USD": 1000})
	runOps(t, f)
	assert.True(t, f.Done())
	assert.Empty(t, f.Reconcile(0))
}

func TestFast_Reset(t *testing.T) {
	f := newTestFastTrader(t, map[string]float64{"USD": 1000})
	_, err := f.OpOpen(order.Request{Exchange: testExchange, Market: testMarket, Side: order.Buy, Kind: order.Limit, Amount: 1, Price: 50}, t0)
	require.NoError(t, err)

	f.Reset()

	assert.Equal(t, 1000.0, f.ProjectedBalance(testExchange, "USD", t0))
	assert.Empty(t, f.ProjectedOrders(testExchange, t0))
}

func TestOpQueue(t *testing.T) {
	q := newOpQueue([]Operation{
		{Kind: OpCancel, Time: hour(2)},
		{Kind: OpOpen, Time: hour(1)},
		{Kind: OpCloseAll, Time: hour(2)},
	})
	assert.Equal(t, 3, q.Len())

	next, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, hour(1), next)

	_, ok = q.PopDue(t0)
	assert.False(t, ok)

	var kinds []OpKind
	for op, ok := q.PopDue(hour(2)); ok; op, ok = q.PopDue(hour(2)) {
		kinds = append(kinds, op.Kind)
	}
	assert.Equal(t, []OpKind{OpOpen, OpCancel, OpCloseAll}, kinds)
	assert.Equal(t, 0, q.Len())
	_, ok = q.Peek()
	assert.False(t, ok)
}
