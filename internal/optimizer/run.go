package optimizer

import (
	"context"
	"fmt"
	"time"

	"crypto-backtester-go/internal/backtest"

	"go.uber.org/zap"
)

// saveBatch is the number of results buffered between checkpoints.
const saveBatch = 100

// Key identifies one optimization so a later run can resume it.
type Key struct {
	Name      string
	Strategy  string
	Timeframe string
	Start     time.Time
	End       time.Time
	// Grid is the fingerprint of the parameter grid. A changed grid starts
	// over instead of resuming by index.
	Grid      string
}

// Store persists optimization results and checkpoints.
type Store interface {
	// LastCheckpoint returns the index of the last finished combination.
	// ok is false when the optimization never ran.
	LastCheckpoint(ctx context.Context, key Key) (idx int, ok bool, err error)
	SaveResults(ctx context.Context, key Key, results []Result) error
	SaveCheckpoint(ctx context.Context, key Key, idx int, best *Result) error
}

// Result is the outcome of one combination over every period.
type Result struct {
	Index   int              `json:"index"`
	Params  Combination      `json:"params"`
	Summary backtest.Summary `json:"summary"`
	// Failed counts the windows that produced no report.
	Failed int `json:"failed"`
}

// MeanPLPercent averages PL% over the successful windows.
func (r Result) MeanPLPercent() float64 { return r.Summary.MeanPLPercent() }

// MeanPLEff averages PL_Eff over the successful windows.
func (r Result) MeanPLEff() float64 { return r.Summary.MeanPLEff() }

// Progress is a snapshot of a running optimization.
type Progress struct {
	RunID         string    `json:"run_id"`
	Name          string    `json:"name"`
	Strategy      string    `json:"strategy"`
	StartTime     time.Time `json:"start_time"`
	Total         int       `json:"total"`
	Done          int       `json:"done"`
	BestIndex     int       `json:"best_index"`
	BestPLPercent float64   `json:"best_pl_percent"`
}

// Progress returns the current progress.
func (o *Optimizer) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

func (o *Optimizer) record(total, done int, r *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress.Total = total
	o.progress.Done = done
	if r != nil && (o.progress.BestIndex < 0 || r.MeanPLPercent() > o.progress.BestPLPercent) {
		o.progress.BestIndex = r.Index
		o.progress.BestPLPercent = r.MeanPLPercent()
	}
}

// key describes src run over periods.
func (o *Optimizer) key(src Source, periods []backtest.Period) Key {
	k := Key{
		Name:      o.cfg.Optimizer.Name,
		Strategy:  o.cfg.Trading.Strategy,
		Timeframe: o.cfg.Backtest.IndicatorTimeframe,
		Grid:      src.Fingerprint(),
	}
	for i, p := range periods {
		if i == 0 || p.Start.Before(k.Start) {
			k.Start = p.Start
		}
		if i == 0 || p.End.After(k.End) {
			k.End = p.End
		}
	}
	return k
}

// Run backtests every combination of src over periods, one Runner per
// combination, decoding each combination only when its turn comes. With a
// store attached it skips the combinations finished by a previous run of
// the same grid and saves results whose mean PL% reaches
// optimizer.save_threshold.
func (o *Optimizer) Run(ctx context.Context, src Source, periods []backtest.Period) ([]Result, error) {
	if err := backtest.CheckPeriods(periods); err != nil {
		return nil, err
	}
	total := src.Count()
	key := o.key(src, periods)
	l := o.logger.With(zap.String("name", key.Name), zap.String("strategy", key.Strategy))

	first := 0
	if o.store != nil {
		last, ok, err := o.store.LastCheckpoint(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read checkpoint: %w", err)
		}
		if ok {
			first = last + 1
		}
	}
	o.record(total, first, nil)
	l.Info("Starting optimization",
		zap.String("grid", key.Grid),
		zap.Int("combinations", total),
		zap.Int("remaining", total-first),
		zap.Int("periods", len(periods)))

	var (
		out     []Result
		pending []Result
		best    *Result
	)
	flush := func(idx int) error {
		if o.store == nil {
			return nil
		}
		var keep []Result
		for _, r := range pending {
			if r.MeanPLPercent() >= o.cfg.Optimizer.SaveThreshold {
				keep = append(keep, r)
			}
		}
		if len(keep) > 0 {
			if err := o.store.SaveResults(ctx, key, keep); err != nil {
				return fmt.Errorf("save results: %w", err)
			}
		}
		pending = pending[:0]
		return o.store.SaveCheckpoint(ctx, key, idx, best)
	}

	for idx := first; idx < total; idx++ {
		comb := src.Combination(idx)
		cfg := o.cfg.Clone()
		comb.Apply(cfg)
		runner := backtest.NewRunner(o.logger, cfg, o.factory, o.feed)
		results, summary, err := runner.RunPeriods(ctx, periods)
		if err != nil {
			return out, fmt.Errorf("combination %d: %w", idx, err)
		}

		r := Result{Index: idx, Params: comb, Summary: summary}
		for _, res := range results {
			if res.Err != nil {
				r.Failed++
			}
		}
		out = append(out, r)
		pending = append(pending, r)
		if best == nil || r.MeanPLPercent() > best.MeanPLPercent() {
			b := r
			best = &b
		}
		o.record(total, idx+1, &r)
		l.Debug("Combination finished",
			zap.Int("idx", idx),
			zap.Stringer("params", r.Params),
			zap.Float64("pl_percent", r.MeanPLPercent()))

		if len(pending) >= saveBatch {
			if err := flush(idx); err != nil {
				return out, err
			}
		}
	}
	if len(pending) > 0 {
		if err := flush(out[len(out)-1].Index); err != nil {
			return out, err
		}
	}
	l.Info("Optimization finished", zap.Int("ran", len(out)))
	return out, nil
}
