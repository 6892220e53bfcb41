package trader

import (
	"sort"
	"time"

	"crypto-backtester-go/internal/order"
)

// OpKind enumerates the fast-path operations.
type OpKind int

const (
	OpOpen OpKind = iota
	OpClosePosition
	OpCancel
	OpCloseAll
	OpCancelAll
)

func (k OpKind) String() string {
	switch k {
	case OpOpen:
		return "open"
	case OpClosePosition:
		return "close_position"
	case OpCancel:
		return "cancel"
	case OpCloseAll:
		return "close_all"
	case OpCancelAll:
		return "cancel_all"
	}
	return "unknown"
}

// Operation is a timestamped trading intent replayed against the matching engine.
type Operation struct {
	Kind OpKind
	Time time.Time
	// Ticket is the projected order the operation refers to.
	Ticket   *order.Order
	Request  order.Request
	Exchange string
	Side     order.Side
	// ClosePrice overrides the market price of a position close when positive.
	ClosePrice float64
}

// opQueue hands out operations in time order. Ties keep submission order.
type opQueue struct {
	ops  []Operation
	head int
}

func newOpQueue(ops []Operation) *opQueue {
	sorted := append([]Operation(nil), ops...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	return &opQueue{ops: sorted}
}

func (q *opQueue) Len() int { return len(q.ops) - q.head }

// Peek returns the next operation's time.
func (q *opQueue) Peek() (time.Time, bool) {
	if q.Len() == 0 {
		return time.Time{}, false
	}
	return q.ops[q.head].Time, true
}

// PopDue removes and returns the next operation if it is due at now.
func (q *opQueue) PopDue(now time.Time) (Operation, bool) {
	if q.Len() == 0 || q.ops[q.head].Time.After(now) {
		return Operation{}, false
	}
	op := q.ops[q.head]
	q.head++
	return op, true
}
