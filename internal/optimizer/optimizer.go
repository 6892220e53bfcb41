// Package optimizer sweeps strategy parameter combinations through period
// runs and ranks the outcomes.
package optimizer

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"crypto-backtester-go/internal/config"
	"crypto-backtester-go/internal/market"
	"crypto-backtester-go/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

var (
	// ErrUnknownParameter is returned for a parameter missing from params.
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrInvalidRange is returned for an empty or reversed sweep.
	ErrInvalidRange = errors.New("invalid range")
	// ErrUnknownAnalysis is returned by AnalyzeSummary for an unsupported mode.
	ErrUnknownAnalysis = errors.New("unknown analysis mode")
)

// rangeTolerance admits an upper bound lost to float rounding.
const rangeTolerance = 1e-9

// fingerprintLen is the number of hex digits kept of a grid hash.
const fingerprintLen = 16

// Source yields the points of a parameter grid by index so Run never holds
// the whole grid.
type Source interface {
	Count() int
	Combination(idx int) Combination
	Fingerprint() string
}

// Optimizer streams its own grid.
var _ Source = (*Optimizer)(nil)

// List is a Source over combinations already in memory.
type List []Combination

func (l List) Count() int { return len(l) }

func (l List) Combination(idx int) Combination { return l[idx] }

// Fingerprint hashes every combination in order.
func (l List) Fingerprint() string {
	h := sha256.New()
	for _, c := range l {
		fmt.Fprintln(h, c.String())
	}
	return hex.EncodeToString(h.Sum(nil))[:fingerprintLen]
}

// Param is one named parameter value.
type Param struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// Combination is one point of the parameter grid, ordered by name.
type Combination []Param

// Apply writes the combination into cfg's params.
func (c Combination) Apply(cfg *config.Config) {
	for _, p := range c {
		cfg.SetParam(p.Name, p.Value)
	}
}

// Map returns the combination keyed by name.
func (c Combination) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(c))
	for _, p := range c {
		out[p.Name] = p.Value
	}
	return out
}

func (c Combination) String() string {
	parts := make([]string, len(c))
	for i, p := range c {
		parts[i] = p.Name + "=" + cast.ToString(p.Value)
	}
	return strings.Join(parts, ",")
}

// Optimizer holds one candidate set per tunable parameter.
type Optimizer struct {
	logger  *zap.Logger
	cfg     *config.Config
	factory strategy.Factory
	feed    market.Feed
	store   Store

	names      []string
	candidates map[string][]interface{}

	mu       sync.Mutex
	progress Progress
}

// New seeds every parameter of cfg.Params with its configured value and
// then applies the ranges and selections of the optimizer section.
func New(logger *zap.Logger, cfg *config.Config, factory strategy.Factory, feed market.Feed) (*Optimizer, error) {
	o := &Optimizer{
		logger:     logger.Named("optimizer"),
		cfg:        cfg,
		factory:    factory,
		feed:       feed,
		names:      cfg.ParamNames(),
		candidates: make(map[string][]interface{}),
	}
	for _, name := range o.names {
		v, _ := cfg.Param(name)
		o.candidates[name] = []interface{}{v}
	}

	names := make([]string, 0, len(cfg.Optimizer.Ranges))
	for name := range cfg.Optimizer.Ranges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := cfg.Optimizer.Ranges[name]
		if err := o.OptimizeRange(name, r.Min, r.Max, r.Step); err != nil {
			return nil, err
		}
	}
	names = names[:0]
	for name := range cfg.Optimizer.Selections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := o.OptimizeSelection(name, cfg.Optimizer.Selections[name]); err != nil {
			return nil, err
		}
	}

	o.progress = Progress{
		RunID:     uuid.NewString(),
		Name:      cfg.Optimizer.Name,
		Strategy:  cfg.Trading.Strategy,
		StartTime: time.Now(),
		BestIndex: -1,
	}
	return o, nil
}

// SetStore attaches checkpoint and result persistence to Run.
func (o *Optimizer) SetStore(s Store) { o.store = s }

// Params returns the tunable parameter names, sorted.
func (o *Optimizer) Params() []string { return append([]string(nil), o.names...) }

// Candidates returns the current candidate set of a parameter.
func (o *Optimizer) Candidates(name string) ([]interface{}, error) {
	c, ok := o.candidates[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	return append([]interface{}(nil), c...), nil
}

// OptimizeRange sweeps a numeric parameter from lo to hi inclusive.
func (o *Optimizer) OptimizeRange(name string, lo, hi, step float64) error {
	name = strings.ToLower(name)
	if _, ok := o.candidates[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	if lo > hi || step <= 0 || math.IsNaN(lo) || math.IsNaN(hi) || math.IsNaN(step) {
		return fmt.Errorf("%w: %s from %v to %v by %v", ErrInvalidRange, name, lo, hi, step)
	}

	n := int(math.Floor((hi-lo)/step+rangeTolerance)) + 1
	dlo, dstep := decimal.NewFromFloat(lo), decimal.NewFromFloat(step)
	values := make([]interface{}, n)
	for i := range values {
		values[i] = dlo.Add(dstep.Mul(decimal.NewFromInt(int64(i)))).InexactFloat64()
	}
	o.candidates[name] = values
	return nil
}

// OptimizeSelection replaces the candidate set of a parameter with values.
func (o *Optimizer) OptimizeSelection(name string, values []interface{}) error {
	name = strings.ToLower(name)
	if _, ok := o.candidates[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	if len(values) == 0 {
		return fmt.Errorf("%w: %s has no selections", ErrInvalidRange, name)
	}
	o.candidates[name] = append([]interface{}(nil), values...)
	return nil
}

// Count is the number of combinations.
func (o *Optimizer) Count() int {
	n := 1
	for _, name := range o.names {
		n *= len(o.candidates[name])
	}
	return n
}

// Combination decodes the idx-th point of the grid without building the
// rest of it. idx must lie in [0, Count()).
func (o *Optimizer) Combination(idx int) Combination {
	c := make(Combination, len(o.names))
	for i := len(o.names) - 1; i >= 0; i-- {
		values := o.candidates[o.names[i]]
		c[i] = Param{Name: o.names[i], Value: values[idx%len(values)]}
		idx /= len(values)
	}
	return c
}

// Fingerprint identifies the grid: the parameter names and their candidate
// sets in order.
func (o *Optimizer) Fingerprint() string {
	h := sha256.New()
	for _, name := range o.names {
		fmt.Fprintf(h, "%s=", name)
		for _, v := range o.candidates[name] {
			fmt.Fprintf(h, "%s,", cast.ToString(v))
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:fingerprintLen]
}

// Combinations materializes the whole grid.
func (o *Optimizer) Combinations() []Combination {
	out := make([]Combination, 0, o.Count())
	_ = o.StreamCombinations(func(_ int, c Combination) error {
		out = append(out, c)
		return nil
	})
	return out
}

// StreamCombinations calls fn for every combination in grid order, the
// last parameter varying fastest. It stops at the first error.
func (o *Optimizer) StreamCombinations(fn func(idx int, c Combination) error) error {
	total := o.Count()
	if total == 0 {
		return nil
	}
	digits := make([]int, len(o.names))
	for idx := 0; idx < total; idx++ {
		c := make(Combination, len(o.names))
		for i, name := range o.names {
			c[i] = Param{Name: name, Value: o.candidates[name][digits[i]]}
		}
		if err := fn(idx, c); err != nil {
			return err
		}
		for i := len(digits) - 1; i >= 0; i-- {
			digits[i]++
			if digits[i] < len(o.candidates[o.names[i]]) {
				break
			}
			digits[i] = 0
		}
	}
	return nil
}

// WriteCombinations streams the grid to w as CSV with an index column.
func (o *Optimizer) WriteCombinations(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"idx"}, o.names...)); err != nil {
		return err
	}
	err := o.StreamCombinations(func(idx int, c Combination) error {
		rec := make([]string, 0, len(c)+1)
		rec = append(rec, cast.ToString(idx))
		for _, p := range c {
			rec = append(rec, cast.ToString(p.Value))
		}
		return cw.Write(rec)
	})
	if err != nil {
		return fmt.Errorf("write combinations: %w", err)
	}
	cw.Flush()
	return cw.Error()
}
