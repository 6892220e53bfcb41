package order

import (
	"errors"
	"fmt"
	"time"

	"crypto-backtester-go/internal/market"

	"github.com/google/uuid"
)

// ErrInvalidOrder is returned when a request is missing a required field.
var ErrInvalidOrder = errors.New("invalid order")

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
	// AnySide selects both sides in bulk operations.
	AnySide Side = "all"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

// Matches reports whether s is selected by filter.
func (s Side) Matches(filter Side) bool {
	return filter == AnySide || filter == "" || filter == s
}

// Kind is the order type.
type Kind string

const (
	Limit  Kind = "limit"
	Market Kind = "market"
)

// Request is what a strategy submits to open an order.
type Request struct {
	Exchange string
	Market   string
	Side     Side
	Kind     Kind
	Amount   float64
	// Price is the limit price; ignored for market orders.
	Price  float64
	Margin bool
}

// Validate checks the fields required for the request's kind.
func (r Request) Validate() error {
	switch {
	case r.Exchange == "":
		return fmt.Errorf("%w: missing exchange", ErrInvalidOrder)
	case r.Market == "":
		return fmt.Errorf("%w: missing market", ErrInvalidOrder)
	case r.Side != Buy && r.Side != Sell:
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, r.Side)
	case r.Kind != Limit && r.Kind != Market:
		return fmt.Errorf("%w: kind %q", ErrInvalidOrder, r.Kind)
	case r.Amount <= 0:
		return fmt.Errorf("%w: amount %f", ErrInvalidOrder, r.Amount)
	case r.Kind == Limit && r.Price <= 0:
		return fmt.Errorf("%w: cannot open limit order at price %f", ErrInvalidOrder, r.Price)
	}
	if _, err := market.ParsePair(r.Market); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	return nil
}

// Currency returns the currency the request consumes: quote for buys and any
// margin order, base for a plain sell.
func (r Request) Currency(p market.Pair) string {
	if r.Margin || r.Side == Buy {
		return p.Quote
	}
	return p.Base
}

// Margin holds the leveraged part of a margin order.
type Margin struct {
	Fund       float64
	Fee        float64
	ClosePrice float64
	PL         float64
	// Active is true while the position is held.
	Active bool
	// CloseAt overrides the market price when the position is closed.
	CloseAt float64
}

// Order is a simulated order.
type Order struct {
	ID        int64
	UUID      string
	Exchange  string
	Market    market.Pair
	Side      Side
	Kind      Kind
	Amount    float64
	OpenPrice float64
	Cost      float64
	Fee       float64
	Currency  string
	OpenedAt  time.Time
	ClosedAt  time.Time
	Canceled  bool
	Margin    *Margin

	// reserved is the amount debited before execution, restored on cancel.
	reserved float64
}

// New builds an order from a validated request.
func New(id int64, req Request, now time.Time) *Order {
	pair := market.MustParsePair(req.Market)
	o := &Order{
		ID:       id,
		UUID:     uuid.NewString(),
		Exchange: req.Exchange,
		Market:   pair,
		Side:     req.Side,
		Kind:     req.Kind,
		Amount:   req.Amount,
		Currency: req.Currency(pair),
		OpenedAt: now,
	}
	if req.Kind == Limit {
		o.OpenPrice = req.Price
	}
	if req.Margin {
		o.Margin = &Margin{}
	}
	return o
}

// IsMargin reports whether the order is leveraged.
func (o *Order) IsMargin() bool {
	return o.Margin != nil
}

// IsClosing reports whether o is a margin position queued to be closed.
func (o *Order) IsClosing() bool {
	return o.Margin != nil && o.Margin.Active
}

// Reserved returns the amount debited from the ledger ahead of execution.
func (o *Order) Reserved() float64 {
	return o.reserved
}

// Reserve records an up-front debit.
func (o *Order) Reserve(amount float64) {
	o.reserved = amount
}

// Release clears the up-front debit and returns it.
func (o *Order) Release() float64 {
	r := o.reserved
	o.reserved = 0
	return r
}

// Clone returns a copy that shares nothing with o.
func (o *Order) Clone() *Order {
	cp := *o
	if o.Margin != nil {
		m := *o.Margin
		cp.Margin = &m
	}
	return &cp
}
