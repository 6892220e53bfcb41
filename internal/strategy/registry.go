package strategy

import (
	"errors"
	"fmt"
	"sort"

	"crypto-backtester-go/internal/config"
	"crypto-backtester-go/internal/trader"
)

// ErrUnknownStrategy is returned for a name with no registered constructor.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Factory builds a fresh strategy from a configuration.
type Factory func(cfg *config.Config) (trader.Strategy, error)

var builtin = map[string]Factory{
	"crossover": func(cfg *config.Config) (trader.Strategy, error) {
		s, err := NewCrossover(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	},
	"momentum": func(cfg *config.Config) (trader.Strategy, error) {
		s, err := NewMomentum(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	},
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	f, ok := builtin[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return f, nil
}

// New builds the named strategy.
func New(name string, cfg *config.Config) (trader.Strategy, error) {
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return f(cfg)
}

// Names lists the registered strategies.
func Names() []string {
	out := make([]string, 0, len(builtin))
	for name := range builtin {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
