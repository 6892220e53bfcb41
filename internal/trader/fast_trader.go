package trader

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"crypto-backtester-go/internal/clock"
	"crypto-backtester-go/internal/ledger"
	"crypto-backtester-go/internal/order"

	"go.uber.org/zap"
)

var errUnknownTicket = errors.New("unknown ticket")

// FastTrader runs a window from a precomputed operation list, jumping the
// clock between operations while nothing is queued. Every issued operation
// updates a projected ledger immediately so a strategy can size the next one.
type FastTrader struct {
	*Trader

	projected  *ledger.Ledger
	pOrders    map[int64]*order.Order
	pPositions map[int64]*order.Order
	nextTicket int64

	// tickets maps a projected order id to the confirmed order opened for it.
	tickets map[int64]*order.Order
}

// NewFastTrader wraps t with the projected books.
func NewFastTrader(t *Trader) *FastTrader {
	f := &FastTrader{Trader: t}
	f.resetProjection()
	return f
}

// Reset rewinds the confirmed and projected books.
func (f *FastTrader) Reset() {
	f.Trader.Reset()
	f.resetProjection()
}

func (f *FastTrader) resetProjection() {
	f.projected = ledger.New(f.cfg.Funds, f.cfg.Markets())
	f.pOrders = make(map[int64]*order.Order)
	f.pPositions = make(map[int64]*order.Order)
	f.tickets = make(map[int64]*order.Order)
	f.nextTicket = 0
}

// OpOpen projects a new order issued at now and returns the operation to replay.
func (f *FastTrader) OpOpen(req order.Request, now time.Time) (Operation, error) {
	if err := req.Validate(); err != nil {
		return Operation{}, err
	}
	if !f.tradable(req.Exchange, req.Market) {
		return Operation{}, fmt.Errorf("%w: %s is not traded on %s", order.ErrInvalidOrder, req.Market, req.Exchange)
	}
	price := req.Price
	if req.Kind == order.Market {
		p, err := f.PriceAt(req.Exchange, req.Market, now)
		if err != nil {
			return Operation{}, err
		}
		price = p
	}

	ticket := order.New(f.nextTicket+1, req, now)
	cost := quote(f.fees, ticket, price)
	if err := f.projected.Debit(ticket.Exchange, ticket.Currency, cost); err != nil {
		return Operation{}, err
	}
	f.nextTicket = ticket.ID
	ticket.Reserve(cost)

	if req.Kind == order.Market {
		f.projectFill(ticket)
	} else {
		f.pOrders[ticket.ID] = ticket
	}
	return Operation{Kind: OpOpen, Time: now, Ticket: ticket, Request: req}, nil
}

// OpClosePosition projects closing a position at closePrice, or at the
// price at now when closePrice is zero.
func (f *FastTrader) OpClosePosition(ticket *order.Order, now time.Time, closePrice float64) (Operation, error) {
	f.resolve(now)
	if f.pPositions[ticket.ID] == nil {
		return Operation{}, fmt.Errorf("%w: %d", ErrNotPosition, ticket.ID)
	}
	if err := f.projectClose(ticket, now, closePrice); err != nil {
		return Operation{}, err
	}
	return Operation{Kind: OpClosePosition, Time: now, Ticket: ticket, ClosePrice: closePrice}, nil
}

// OpCancel projects withdrawing an unfilled order.
func (f *FastTrader) OpCancel(ticket *order.Order, now time.Time) (Operation, error) {
	f.resolve(now)
	if f.pOrders[ticket.ID] == nil {
		return Operation{}, fmt.Errorf("%w: %d", ErrNotCancelable, ticket.ID)
	}
	f.projectCancel(ticket)
	return Operation{Kind: OpCancel, Time: now, Ticket: ticket}, nil
}

// OpCloseAll projects closing every position of an exchange matching side.
func (f *FastTrader) OpCloseAll(exchange string, now time.Time, side order.Side) (Operation, error) {
	for _, p := range f.ProjectedPositions(exchange, now) {
		if !p.Side.Matches(side) {
			continue
		}
		if err := f.projectClose(p, now, 0); err != nil {
			return Operation{}, err
		}
	}
	return Operation{Kind: OpCloseAll, Time: now, Exchange: exchange, Side: side}, nil
}

// OpCancelAll projects canceling every unfilled order of an exchange matching side.
func (f *FastTrader) OpCancelAll(exchange string, now time.Time, side order.Side) (Operation, error) {
	for _, o := range f.ProjectedOrders(exchange, now) {
		if o.Side.Matches(side) {
			f.projectCancel(o)
		}
	}
	return Operation{Kind: OpCancelAll, Time: now, Exchange: exchange, Side: side}, nil
}

// ProjectedBalance returns the projected balance at now.
func (f *FastTrader) ProjectedBalance(exchange, currency string, now time.Time) float64 {
	f.resolve(now)
	return f.projected.Available(exchange, currency)
}

// ProjectedPositions returns the projected open positions at now, by ticket id.
func (f *FastTrader) ProjectedPositions(exchange string, now time.Time) []*order.Order {
	f.resolve(now)
	return byExchange(f.pPositions, exchange)
}

// ProjectedOrders returns the projected unfilled orders at now, by ticket id.
func (f *FastTrader) ProjectedOrders(exchange string, now time.Time) []*order.Order {
	f.resolve(now)
	return byExchange(f.pOrders, exchange)
}

// resolve fills projected limit orders whose limit was crossed by a close
// between their issue time and now.
func (f *FastTrader) resolve(now time.Time) {
	for _, id := range sortedIDs(f.pOrders) {
		o := f.pOrders[id]
		if f.crossed(o, now) {
			delete(f.pOrders, id)
			f.projectFill(o)
		}
	}
}

func (f *FastTrader) crossed(o *order.Order, now time.Time) bool {
	s, err := f.feed.Series(o.Exchange, o.Market.String(), f.indicatorTF)
	if err != nil {
		return false
	}
	for _, c := range s.Between(o.OpenedAt, now) {
		if (o.Side == order.Buy && c.Close <= o.OpenPrice) || (o.Side == order.Sell && c.Close >= o.OpenPrice) {
			return true
		}
	}
	return false
}

func (f *FastTrader) projectFill(o *order.Order) {
	o.Release()
	if o.IsMargin() {
		o.Margin.Active = true
		f.pPositions[o.ID] = o
		return
	}
	cur, amount := proceeds(f.fees, o)
	f.projected.Credit(o.Exchange, cur, amount)
}

func (f *FastTrader) projectClose(o *order.Order, now time.Time, closePrice float64) error {
	if closePrice <= 0 {
		p, err := f.PriceAt(o.Exchange, o.Market.String(), now)
		if err != nil {
			return err
		}
		closePrice = p
	}
	st := f.fees.MarginClose(o.Side, o.OpenPrice, closePrice, o.Amount, o.Fee, o.Margin.Fee)
	f.projected.Credit(o.Exchange, o.Market.Quote, st.Return)
	o.Margin.Active = false
	delete(f.pPositions, o.ID)
	return nil
}

func (f *FastTrader) projectCancel(o *order.Order) {
	f.projected.Credit(o.Exchange, o.Currency, o.Release())
	delete(f.pOrders, o.ID)
}

// RunFast replays the strategy's operations over the window and leaves the
// cursor at the window end. Orders still queued there are left for
// Liquidate.
func (f *FastTrader) RunFast() error {
	if f.strategy == nil {
		return errors.New("no strategy bound")
	}
	f.clock.Reset()
	ops, err := f.strategy.FastRun()
	if err != nil {
		return fmt.Errorf("fast run: %w", err)
	}
	q := newOpQueue(ops)
	f.logger.Debug("Replaying operations", zap.Int("count", q.Len()))

	for !f.Done() {
		f.match()
		for op, ok := q.PopDue(f.clock.Now()); ok; op, ok = q.PopDue(f.clock.Now()) {
			f.apply(op)
		}
		if f.registry.HasQueued() {
			f.clock.Tick()
			continue
		}
		next, ok := q.Peek()
		if !ok || !next.Before(f.end) {
			f.clock.SetNow(f.end)
			break
		}
		if !clock.RoundUp(next, f.clock.Interval()).After(f.clock.Now()) {
			f.clock.Tick()
			continue
		}
		f.clock.SetNow(next)
	}
	return nil
}

func (f *FastTrader) apply(op Operation) {
	l := f.logger.With(zap.Stringer("op", op.Kind), zap.Time("at", op.Time))
	var err error
	switch op.Kind {
	case OpOpen:
		var o *order.Order
		if o, err = f.Open(op.Request); err == nil {
			f.tickets[op.Ticket.ID] = o
		}
	case OpClosePosition:
		var o *order.Order
		if o, err = f.confirmed(op.Ticket); err == nil {
			err = f.closePosition(o, op.ClosePrice)
		}
	case OpCancel:
		var o *order.Order
		if o, err = f.confirmed(op.Ticket); err == nil {
			err = f.Cancel(o)
		}
	case OpCloseAll:
		err = f.CloseAllPositions(op.Exchange, op.Side)
	case OpCancelAll:
		err = f.CancelAllOrders(op.Exchange, op.Side)
	default:
		err = fmt.Errorf("unknown operation %d", op.Kind)
	}
	if err != nil {
		l.Warn("Operation not applied", zap.Error(err))
	}
}

func (f *FastTrader) confirmed(ticket *order.Order) (*order.Order, error) {
	if ticket == nil {
		return nil, errUnknownTicket
	}
	o, ok := f.tickets[ticket.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errUnknownTicket, ticket.ID)
	}
	return o, nil
}

// Drift is a currency whose projected balance diverged from the confirmed one.
type Drift struct {
	Exchange  string
	Currency  string
	Confirmed float64
	Projected float64
}

// Reconcile lists the currencies whose relative difference between the
// projected and confirmed balances exceeds tolerance.
func (f *FastTrader) Reconcile(tolerance float64) []Drift {
	var out []Drift
	confirmed := f.wallet.Snapshot()
	projected := f.projected.Snapshot()
	for _, ex := range f.Exchanges() {
		for _, cur := range f.wallet.Currencies(ex) {
			c, p := confirmed[ex][cur], projected[ex][cur]
			scale := math.Max(math.Abs(c), math.Abs(p))
			if scale == 0 || math.Abs(c-p)/scale <= tolerance {
				continue
			}
			out = append(out, Drift{Exchange: ex, Currency: cur, Confirmed: c, Projected: p})
		}
	}
	return out
}

func byExchange(m map[int64]*order.Order, exchange string) []*order.Order {
	var out []*order.Order
	for _, id := range sortedIDs(m) {
		if o := m[id]; exchange == "" || o.Exchange == exchange {
			out = append(out, o)
		}
	}
	return out
}

func sortedIDs(m map[int64]*order.Order) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
