package backtest

import (
	"context"
	"fmt"
	"runtime/debug"

	"crypto-backtester-go/internal/config"
	"crypto-backtester-go/internal/market"
	"crypto-backtester-go/internal/strategy"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one window. Err is set when the window failed
// or panicked; Report is nil in that case.
type Result struct {
	Period Period
	Report *Report
	Err    error

	index int
}

// Runner fans windows out over a bounded pool of workers. Each window gets
// its own configuration copy, strategy and trader.
type Runner struct {
	logger  *zap.Logger
	cfg     *config.Config
	factory strategy.Factory
	feed    market.Feed
}

// NewRunner creates a runner sharing one read-only feed between windows.
func NewRunner(logger *zap.Logger, cfg *config.Config, factory strategy.Factory, feed market.Feed) *Runner {
	return &Runner{
		logger:  logger.Named("runner"),
		cfg:     cfg,
		factory: factory,
		feed:    feed,
	}
}

// RunPeriods backtests every period and returns one result per period in
// submission order. A failing window never stops the others. Canceling ctx
// skips the windows that have not started yet.
func (r *Runner) RunPeriods(ctx context.Context, periods []Period) ([]Result, Summary, error) {
	if err := CheckPeriods(periods); err != nil {
		return nil, nil, err
	}
	workers := r.cfg.Runner.Workers()
	r.logger.Info("Running periods", zap.Int("periods", len(periods)), zap.Int("workers", workers))

	results := make(chan Result, workers)
	go func() {
		var g errgroup.Group
		g.SetLimit(workers)
		for i, p := range periods {
			g.Go(func() error {
				results <- r.runWindow(ctx, i, p)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	out := make([]Result, len(periods))
	var failed int
	for res := range results {
		if res.Err != nil {
			failed++
			r.logger.Error("Window failed", zap.Stringer("period", res.Period), zap.Error(res.Err))
		}
		out[res.index] = res
	}
	if failed > 0 {
		r.logger.Warn("Some windows failed", zap.Int("failed", failed), zap.Int("total", len(periods)))
	}
	return out, Summarize(out), ctx.Err()
}

func (r *Runner) runWindow(ctx context.Context, idx int, p Period) (res Result) {
	res = Result{Period: p, index: idx}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	defer func() {
		if v := recover(); v != nil {
			res.Report = nil
			res.Err = fmt.Errorf("window %s panicked: %v\n%s", p, v, debug.Stack())
		}
	}()

	cfg := r.cfg.Clone()
	s, err := r.factory(cfg)
	if err != nil {
		res.Err = fmt.Errorf("build strategy: %w", err)
		return res
	}
	bt, err := New(r.logger, cfg, s, r.feed, p.Start, p.End)
	if err != nil {
		res.Err = err
		return res
	}
	res.Report, res.Err = bt.Run()
	return res
}
