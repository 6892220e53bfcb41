package order

import (
	"errors"
	"fmt"
	"sort"
)

var errNotFound = errors.New("order not found")

// Location names the registry partition an order lives in.
type Location int

const (
	Nowhere Location = iota
	Queued
	Open
	Archived
)

func (l Location) String() string {
	switch l {
	case Queued:
		return "queued"
	case Open:
		return "open"
	case Archived:
		return "archived"
	}
	return "nowhere"
}

// Registry keeps every order of a session in exactly one of three partitions
// per exchange: queued orders, open margin positions and the terminal history.
type Registry struct {
	queued    map[string]map[int64]*Order
	positions map[string]map[int64]*Order
	history   map[string]map[int64]*Order
}

// NewRegistry creates empty partitions for the exchanges.
func NewRegistry(exchanges []string) *Registry {
	r := &Registry{
		queued:    make(map[string]map[int64]*Order),
		positions: make(map[string]map[int64]*Order),
		history:   make(map[string]map[int64]*Order),
	}
	for _, ex := range exchanges {
		r.queued[ex] = make(map[int64]*Order)
		r.positions[ex] = make(map[int64]*Order)
		r.history[ex] = make(map[int64]*Order)
	}
	return r
}

// Queue adds a new order to the queue.
func (r *Registry) Queue(o *Order) error {
	if loc := r.Locate(o.Exchange, o.ID); loc != Nowhere {
		return fmt.Errorf("order %d already %s", o.ID, loc)
	}
	partition(r.queued, o.Exchange)[o.ID] = o
	return nil
}

// Fill moves a queued margin order into the open positions.
func (r *Registry) Fill(o *Order) error {
	if !o.IsMargin() {
		return fmt.Errorf("order %d is not a margin order", o.ID)
	}
	return r.move(r.queued, r.positions, o)
}

// Requeue moves an open position back to the queue to be closed.
func (r *Registry) Requeue(o *Order) error {
	return r.move(r.positions, r.queued, o)
}

// Archive moves a queued order to the history.
func (r *Registry) Archive(o *Order) error {
	return r.move(r.queued, r.history, o)
}

// Locate returns the partition holding the order id.
func (r *Registry) Locate(exchange string, id int64) Location {
	switch {
	case r.queued[exchange][id] != nil:
		return Queued
	case r.positions[exchange][id] != nil:
		return Open
	case r.history[exchange][id] != nil:
		return Archived
	}
	return Nowhere
}

// Queued returns the queued orders of an exchange by ascending id.
func (r *Registry) Queued(exchange string) []*Order {
	return sorted(r.queued[exchange])
}

// Positions returns the open positions of an exchange by ascending id.
func (r *Registry) Positions(exchange string) []*Order {
	return sorted(r.positions[exchange])
}

// History returns the terminal orders of an exchange by ascending id.
func (r *Registry) History(exchange string) []*Order {
	return sorted(r.history[exchange])
}

// HasQueued reports whether any exchange has a queued order.
func (r *Registry) HasQueued() bool {
	for _, orders := range r.queued {
		if len(orders) > 0 {
			return true
		}
	}
	return false
}

func (r *Registry) move(from, to map[string]map[int64]*Order, o *Order) error {
	src := from[o.Exchange]
	if src[o.ID] == nil {
		return fmt.Errorf("%w: %d on %s", errNotFound, o.ID, o.Exchange)
	}
	delete(src, o.ID)
	partition(to, o.Exchange)[o.ID] = o
	return nil
}

func partition(m map[string]map[int64]*Order, exchange string) map[int64]*Order {
	p, ok := m[exchange]
	if !ok {
		p = make(map[int64]*Order)
		m[exchange] = p
	}
	return p
}

func sorted(m map[int64]*Order) []*Order {
	out := make([]*Order, 0, len(m))
	for _, o := range m {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
