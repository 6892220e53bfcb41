package trader

import (
	"errors"
	"fmt"
	"time"

	"crypto-backtester-go/internal/clock"
	"crypto-backtester-go/internal/config"
	"crypto-backtester-go/internal/ledger"
	"crypto-backtester-go/internal/market"
	"crypto-backtester-go/internal/order"

	"go.uber.org/zap"
)

var (
	// ErrNotCancelable is returned when cancel targets an order that is no longer queued.
	ErrNotCancelable = errors.New("order is not cancelable")
	// ErrNotPosition is returned when a close targets something other than an open position.
	ErrNotPosition = errors.New("order is not an open position")
)

// Trader simulates an exchange account over one window, matching queued
// orders against the close of the indicator timeframe at the clock's cursor.
type Trader struct {
	logger      *zap.Logger
	cfg         *config.Config
	feed        market.Feed
	clock       *clock.Clock
	end         time.Time
	indicatorTF string
	fees        order.Schedule

	wallet   *ledger.Ledger
	registry *order.Registry
	nextID   int64
	strategy Strategy
}

// NewTrader creates a trader for the window [start, end).
func NewTrader(logger *zap.Logger, cfg *config.Config, feed market.Feed, start, end time.Time) (*Trader, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("window start %s is not before end %s", start, end)
	}
	interval, err := market.ParseTimeframe(cfg.Backtest.BaseTimeframe)
	if err != nil {
		return nil, fmt.Errorf("base timeframe: %w", err)
	}
	indicatorTF := cfg.Backtest.IndicatorTimeframe
	if indicatorTF == "" {
		indicatorTF = cfg.Backtest.BaseTimeframe
	}
	if _, err := market.ParseTimeframe(indicatorTF); err != nil {
		return nil, fmt.Errorf("indicator timeframe: %w", err)
	}

	t := &Trader{
		logger:      logger.Named("trader"),
		cfg:         cfg,
		feed:        feed,
		clock:       clock.New(start, interval),
		end:         end.UTC(),
		indicatorTF: indicatorTF,
		fees: order.Schedule{
			FeeRate:    cfg.Trading.FeeRate,
			MarginFee:  cfg.Trading.MarginFee,
			MarginRate: cfg.Trading.MarginRate,
		},
	}
	t.clock.SetLimit(t.end)
	t.Reset()
	return t, nil
}

// Reset rewinds the clock and rebuilds the ledger and the order registry.
func (t *Trader) Reset() {
	t.clock.Reset()
	t.wallet = ledger.New(t.cfg.Funds, t.cfg.Markets())
	t.registry = order.NewRegistry(t.cfg.ExchangeNames())
	t.nextID = 0
}

// SetStrategy binds the strategy whose Run is invoked after each matching pass.
func (t *Trader) SetStrategy(s Strategy) {
	t.strategy = s
}

// Clock returns the simulation clock.
func (t *Trader) Clock() *clock.Clock { return t.clock }

// Config returns the window's configuration.
func (t *Trader) Config() *config.Config { return t.cfg }

// End returns the window end.
func (t *Trader) End() time.Time { return t.end }

// Done reports whether the cursor reached the window end.
func (t *Trader) Done() bool { return !t.clock.Now().Before(t.end) }

// Fees returns the fee schedule applied to every order.
func (t *Trader) Fees() order.Schedule { return t.fees }

// IndicatorTimeframe is the timeframe whose close prices drive matching.
func (t *Trader) IndicatorTimeframe() string { return t.indicatorTF }

// Exchanges returns the configured exchanges, sorted.
func (t *Trader) Exchanges() []string { return t.cfg.ExchangeNames() }

// Markets returns the markets traded on an exchange.
func (t *Trader) Markets(exchange string) []string {
	return t.cfg.Exchanges[exchange].Markets
}

// Timeframes returns the timeframes loaded for an exchange.
func (t *Trader) Timeframes(exchange string) []string {
	return t.cfg.Exchanges[exchange].Timeframes
}

// Wallet returns a copy of the confirmed balances.
func (t *Trader) Wallet() map[string]map[string]float64 { return t.wallet.Snapshot() }

// Available returns the confirmed balance of a currency.
func (t *Trader) Available(exchange, currency string) float64 {
	return t.wallet.Available(exchange, currency)
}

// Orders returns the queued orders of an exchange.
func (t *Trader) Orders(exchange string) []*order.Order { return t.registry.Queued(exchange) }

// Positions returns the open margin positions of an exchange.
func (t *Trader) Positions(exchange string) []*order.Order { return t.registry.Positions(exchange) }

// History returns the filled, closed and canceled orders of an exchange.
func (t *Trader) History(exchange string) []*order.Order { return t.registry.History(exchange) }

// Locate returns the registry partition of an order.
func (t *Trader) Locate(o *order.Order) order.Location {
	return t.registry.Locate(o.Exchange, o.ID)
}

// OHLCV returns the candles visible at the cursor.
func (t *Trader) OHLCV(exchange, mkt, timeframe string) (market.Series, error) {
	s, err := t.feed.Series(exchange, mkt, timeframe)
	if err != nil {
		return nil, err
	}
	return s.Until(t.clock.Now()), nil
}

// Window returns every candle up to the window end, ignoring the cursor.
// Only the fast path may look ahead like this.
func (t *Trader) Window(exchange, mkt, timeframe string) (market.Series, error) {
	s, err := t.feed.Series(exchange, mkt, timeframe)
	if err != nil {
		return nil, err
	}
	return s.Until(t.end), nil
}

// PriceAt returns the last indicator close at or before at.
func (t *Trader) PriceAt(exchange, mkt string, at time.Time) (float64, error) {
	s, err := t.feed.Series(exchange, mkt, t.indicatorTF)
	if err != nil {
		return 0, err
	}
	c, ok := s.Until(at).Last()
	if !ok {
		return 0, fmt.Errorf("%w: %s %s before %s", market.ErrNoData, exchange, mkt, at.Format(time.RFC3339))
	}
	return c.Close, nil
}

// CurPrice returns the price orders are matched against at the cursor.
func (t *Trader) CurPrice(exchange, mkt string) (float64, error) {
	return t.PriceAt(exchange, mkt, t.clock.Now())
}

// FeedData reveals candles up to target and moves the cursor to the latest
// revealed boundary, or by one interval when nothing newer arrived.
func (t *Trader) FeedData(target time.Time) {
	var latest time.Time
	for _, ex := range t.Exchanges() {
		for _, m := range t.Markets(ex) {
			s, err := t.feed.Series(ex, m, t.indicatorTF)
			if err != nil {
				continue
			}
			if c, ok := s.Until(target).Last(); ok && c.Time.After(latest) {
				latest = c.Time
			}
		}
	}
	if latest.IsZero() || !clock.RoundUp(latest, t.clock.Interval()).After(t.clock.Now()) {
		t.clock.Tick()
		return
	}
	t.clock.SetNow(latest)
}

// Open validates a request and queues it. Limit orders are priced and
// debited immediately; market orders are priced when executed.
func (t *Trader) Open(req order.Request) (*order.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !t.tradable(req.Exchange, req.Market) {
		return nil, fmt.Errorf("%w: %s is not traded on %s", order.ErrInvalidOrder, req.Market, req.Exchange)
	}

	o := order.New(t.nextID+1, req, t.clock.Now())
	if o.Kind == order.Limit {
		cost := quote(t.fees, o, req.Price)
		if err := t.wallet.Debit(o.Exchange, o.Currency, cost); err != nil {
			t.logger.Warn("Refusing order",
				zap.String("exchange", o.Exchange),
				zap.String("market", o.Market.String()),
				zap.String("side", string(o.Side)),
				zap.Error(err))
			return nil, err
		}
		o.Reserve(cost)
	}
	if err := t.registry.Queue(o); err != nil {
		t.wallet.Credit(o.Exchange, o.Currency, o.Release())
		return nil, err
	}
	t.nextID = o.ID
	t.logger.Debug("Order queued",
		zap.Int64("id", o.ID),
		zap.String("kind", string(o.Kind)),
		zap.String("side", string(o.Side)),
		zap.Float64("amount", o.Amount),
		zap.Float64("price", o.OpenPrice))
	return o, nil
}

// Cancel withdraws a queued order and refunds its up-front debit.
func (t *Trader) Cancel(o *order.Order) error {
	if t.Locate(o) != order.Queued || o.IsClosing() {
		return fmt.Errorf("%w: %d", ErrNotCancelable, o.ID)
	}
	return t.cancel(o)
}

func (t *Trader) cancel(o *order.Order) error {
	t.wallet.Credit(o.Exchange, o.Currency, o.Release())
	o.Canceled = true
	o.ClosedAt = t.clock.Now()
	if err := t.registry.Archive(o); err != nil {
		return err
	}
	t.logger.Debug("Order canceled", zap.Int64("id", o.ID))
	return nil
}

// ClosePosition queues an open position to be closed at the next matching pass.
func (t *Trader) ClosePosition(o *order.Order) error {
	return t.closePosition(o, 0)
}

func (t *Trader) closePosition(o *order.Order, closeAt float64) error {
	if !o.IsMargin() || t.Locate(o) != order.Open {
		return fmt.Errorf("%w: %d", ErrNotPosition, o.ID)
	}
	o.Margin.CloseAt = closeAt
	return t.registry.Requeue(o)
}

// CancelAllOrders cancels the queued orders of an exchange ("" for all)
// matching side. Positions queued for close are left alone.
func (t *Trader) CancelAllOrders(exchange string, side order.Side) error {
	for _, ex := range t.selectExchanges(exchange) {
		for _, o := range t.registry.Queued(ex) {
			if o.IsClosing() || !o.Side.Matches(side) {
				continue
			}
			if err := t.cancel(o); err != nil {
				return err
			}
		}
	}
	return nil
}

// CloseAllPositions queues every open position of an exchange ("" for all)
// matching side for close.
func (t *Trader) CloseAllPositions(exchange string, side order.Side) error {
	for _, ex := range t.selectExchanges(exchange) {
		for _, o := range t.registry.Positions(ex) {
			if !o.Side.Matches(side) {
				continue
			}
			if err := t.closePosition(o, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// Tick runs one matching pass and then the strategy callback.
func (t *Trader) Tick() error {
	t.match()
	if t.strategy == nil {
		return nil
	}
	return t.strategy.Run()
}

// Liquidate cancels every queued order, closes every position and runs a
// final matching pass without the strategy.
func (t *Trader) Liquidate() error {
	if err := t.CancelAllOrders("", order.AnySide); err != nil {
		return err
	}
	if err := t.CloseAllPositions("", order.AnySide); err != nil {
		return err
	}
	t.match()
	return nil
}

func (t *Trader) match() {
	for _, ex := range t.Exchanges() {
		for _, o := range t.registry.Queued(ex) {
			price, err := t.CurPrice(ex, o.Market.String())
			if err != nil {
				t.logger.Debug("No price to match against", zap.Int64("id", o.ID), zap.Error(err))
				continue
			}
			switch {
			case o.IsClosing():
				t.settle(o, price)
			case o.Kind == order.Market:
				t.execute(o, price)
			case o.Side == order.Buy && price <= o.OpenPrice,
				o.Side == order.Sell && price >= o.OpenPrice:
				t.fill(o)
			}
		}
	}
}

// execute prices a market order at the current price and fills it, or
// cancels it when the balance no longer covers the cost.
func (t *Trader) execute(o *order.Order, price float64) {
	cost := quote(t.fees, o, price)
	if err := t.wallet.Debit(o.Exchange, o.Currency, cost); err != nil {
		t.logger.Warn("Canceling market order", zap.Int64("id", o.ID), zap.Error(err))
		if err := t.cancel(o); err != nil {
			t.logger.Error("Failed to cancel market order", zap.Int64("id", o.ID), zap.Error(err))
		}
		return
	}
	t.fill(o)
}

func (t *Trader) fill(o *order.Order) {
	o.Release()
	l := t.logger.With(zap.Int64("id", o.ID), zap.String("market", o.Market.String()))
	if o.IsMargin() {
		o.Margin.Active = true
		if err := t.registry.Fill(o); err != nil {
			l.Error("Failed to open position", zap.Error(err))
			return
		}
		l.Debug("Position opened", zap.Float64("price", o.OpenPrice), zap.Float64("amount", o.Amount))
		return
	}
	cur, amount := proceeds(t.fees, o)
	t.wallet.Credit(o.Exchange, cur, amount)
	o.ClosedAt = t.clock.Now()
	if err := t.registry.Archive(o); err != nil {
		l.Error("Failed to archive order", zap.Error(err))
		return
	}
	l.Debug("Order filled", zap.Float64("price", o.OpenPrice), zap.Float64("amount", o.Amount))
}

func (t *Trader) settle(o *order.Order, price float64) {
	if o.Margin.CloseAt > 0 {
		price = o.Margin.CloseAt
	}
	st := t.fees.MarginClose(o.Side, o.OpenPrice, price, o.Amount, o.Fee, o.Margin.Fee)
	o.Fee = st.Fee
	o.Margin.PL = st.PL
	o.Margin.ClosePrice = price
	o.Margin.Active = false
	o.ClosedAt = t.clock.Now()
	t.wallet.Credit(o.Exchange, o.Market.Quote, st.Return)
	if err := t.registry.Archive(o); err != nil {
		t.logger.Error("Failed to archive position", zap.Int64("id", o.ID), zap.Error(err))
		return
	}
	t.logger.Debug("Position closed",
		zap.Int64("id", o.ID),
		zap.Float64("close_price", price),
		zap.Float64("pl", st.PL))
}

func (t *Trader) tradable(exchange, mkt string) bool {
	for _, m := range t.Markets(exchange) {
		if m == mkt {
			return true
		}
	}
	return false
}

func (t *Trader) selectExchanges(exchange string) []string {
	if exchange == "" {
		return t.Exchanges()
	}
	return []string{exchange}
}

// quote prices o at price with the schedule's formulas and returns the
// amount to debit from o.Currency.
func quote(s order.Schedule, o *order.Order, price float64) float64 {
	o.OpenPrice = price
	switch {
	case o.IsMargin():
		q := s.MarginOpen(price, o.Amount)
		o.Cost, o.Amount, o.Fee = q.Cost, q.Amount, q.Fee
		o.Margin.Fund, o.Margin.Fee = q.Fund, q.MarginFee
	case o.Side == order.Buy:
		q := s.Buy(price, o.Amount)
		o.Cost, o.Amount, o.Fee = q.Cost, q.Amount, q.Fee
	default:
		q := s.Sell(price, o.Amount)
		o.Cost, o.Fee = q.Cost, q.Fee
	}
	return o.Cost
}

// proceeds returns what a filled non-margin order credits.
func proceeds(s order.Schedule, o *order.Order) (string, float64) {
	if o.Side == order.Buy {
		return o.Market.Base, o.Amount
	}
	return o.Market.Quote, s.Sell(o.OpenPrice, o.Amount).Proceeds
}
