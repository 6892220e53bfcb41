package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInsufficientBalance is returned by Debit when the balance cannot cover the amount.
	ErrInsufficientBalance = errors.New("insufficient balance")
	errNegativeAmount      = errors.New("negative debit amount")
)

// Ledger holds balances per exchange and currency.
type Ledger struct {
	balances map[string]map[string]float64
}

// New creates a ledger holding a balance for every currency of every market.
// Currencies without an entry in funds start at zero.
func New(funds map[string]map[string]float64, markets map[string][]string) *Ledger {
	l := &Ledger{balances: make(map[string]map[string]float64, len(markets))}
	for ex, mkts := range markets {
		wallet := make(map[string]float64)
		for _, m := range mkts {
			for _, cur := range strings.Split(m, "/") {
				if _, ok := wallet[cur]; !ok {
					wallet[cur] = funds[ex][cur]
				}
			}
		}
		l.balances[ex] = wallet
	}
	return l
}

// Available returns the balance of a currency on an exchange.
func (l *Ledger) Available(exchange, currency string) float64 {
	return l.balances[exchange][currency]
}

// Debit subtracts amount, or refuses without touching the balance.
func (l *Ledger) Debit(exchange, currency string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("%w: %f", errNegativeAmount, amount)
	}
	available := l.balances[exchange][currency]
	if amount > available {
		return fmt.Errorf("%w: %s %s %.8f < %.8f", ErrInsufficientBalance, exchange, currency, available, amount)
	}
	l.wallet(exchange)[currency] = available - amount
	return nil
}

// Credit adds amount. Non-positive amounts are ignored.
func (l *Ledger) Credit(exchange, currency string, amount float64) {
	if amount <= 0 {
		return
	}
	l.wallet(exchange)[currency] += amount
}

// Snapshot returns a deep copy of all balances.
func (l *Ledger) Snapshot() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(l.balances))
	for ex, wallet := range l.balances {
		cp := make(map[string]float64, len(wallet))
		for cur, v := range wallet {
			cp[cur] = v
		}
		out[ex] = cp
	}
	return out
}

// Exchanges lists the exchanges in the ledger, sorted.
func (l *Ledger) Exchanges() []string {
	out := make([]string, 0, len(l.balances))
	for ex := range l.balances {
		out = append(out, ex)
	}
	sort.Strings(out)
	return out
}

// Currencies lists the currencies held on an exchange, sorted.
func (l *Ledger) Currencies(exchange string) []string {
	out := make([]string, 0, len(l.balances[exchange]))
	for cur := range l.balances[exchange] {
		out = append(out, cur)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) wallet(exchange string) map[string]float64 {
	w, ok := l.balances[exchange]
	if !ok {
		w = make(map[string]float64)
		l.balances[exchange] = w
	}
	return w
}
