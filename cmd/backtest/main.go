package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-backtester-go/internal/backtest"
	"crypto-backtester-go/internal/config"
	"crypto-backtester-go/internal/database"
	"crypto-backtester-go/internal/logger"
	"crypto-backtester-go/internal/market"
	"crypto-backtester-go/internal/optimizer"
	"crypto-backtester-go/internal/strategy"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "./configs", "directory holding config.yml")
	optimize := flag.Bool("optimize", false, "sweep optimizer.ranges and optimizer.selections")
	analysis := flag.String("analysis", optimizer.Mean, "optimization table: mean or best_params")
	out := flag.String("out", "summary.csv", "CSV output file")
	seed := flag.Int64("seed", time.Now().UnixNano(), "seed for random periods")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(fmt.Sprintf("could not load config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, log, cfg)
	if err != nil {
		log.Fatal("Failed to prepare backtest", zap.Error(err))
	}

	periods, err := buildPeriods(cfg.Backtest, app.start, app.end, rand.New(rand.NewSource(*seed)))
	if err != nil {
		log.Fatal("Failed to build periods", zap.Error(err))
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatal("Failed to create output file", zap.Error(err))
	}
	defer f.Close()

	if *optimize {
		err = app.optimize(ctx, periods, *analysis, f)
	} else {
		err = app.run(ctx, periods, f)
	}
	if err != nil {
		log.Fatal("Backtest failed", zap.Error(err))
	}
	log.Info("Summary written", zap.String("file", *out))
}

type app struct {
	log     *zap.Logger
	cfg     *config.Config
	factory strategy.Factory
	feed    market.Feed
	store   *database.ResultStore
	start   time.Time
	end     time.Time
}

func newApp(ctx context.Context, log *zap.Logger, cfg *config.Config) (*app, error) {
	start, end, err := cfg.Backtest.Window()
	if err != nil {
		return nil, err
	}
	factory, err := strategy.Lookup(cfg.Trading.Strategy)
	if err != nil {
		return nil, err
	}

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	lead, err := leadDays(cfg, factory)
	if err != nil {
		return nil, err
	}
	from := start.AddDate(0, 0, -lead)
	log.Info("Loading candles",
		zap.Time("from", from),
		zap.Time("to", end),
		zap.Int("lead_days", lead))

	feed, err := database.NewCandleStore(db, log).LoadFeed(ctx, feedExchanges(cfg), from, end)
	if err != nil {
		return nil, err
	}
	return &app{
		log:     log,
		cfg:     cfg,
		factory: factory,
		feed:    feed,
		store:   database.NewResultStore(db),
		start:   start,
		end:     end,
	}, nil
}

// leadDays is the longest lead-in any swept parameter set asks for.
func leadDays(cfg *config.Config, factory strategy.Factory) (int, error) {
	s, err := factory(cfg)
	if err != nil {
		return 0, err
	}
	lead := s.PrefeedDays()
	if len(cfg.Optimizer.Ranges) == 0 && len(cfg.Optimizer.Selections) == 0 {
		return lead, nil
	}

	o, err := optimizer.New(zap.NewNop(), cfg, factory, nil)
	if err != nil {
		return 0, err
	}
	err = o.StreamCombinations(func(_ int, c optimizer.Combination) error {
		cp := cfg.Clone()
		c.Apply(cp)
		s, err := factory(cp)
		if err != nil {
			// invalid combinations fail later as window errors
			return nil
		}
		if d := s.PrefeedDays(); d > lead {
			lead = d
		}
		return nil
	})
	return lead, err
}

// feedExchanges adds the simulation timeframes to every exchange.
func feedExchanges(cfg *config.Config) map[string]config.Exchange {
	out := make(map[string]config.Exchange, len(cfg.Exchanges))
	for name, ex := range cfg.Clone().Exchanges {
		for _, tf := range []string{cfg.Backtest.BaseTimeframe, cfg.Backtest.IndicatorTimeframe} {
			if tf != "" && !contains(ex.Timeframes, tf) {
				ex.Timeframes = append(ex.Timeframes, tf)
			}
		}
		out[name] = ex
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// buildPeriods picks random windows, shifted windows or the whole range,
// in that order of precedence.
func buildPeriods(b config.Backtest, start, end time.Time, rng *rand.Rand) ([]backtest.Period, error) {
	switch {
	case b.RandomPeriods > 0:
		return backtest.GenerateRandomPeriods(start, end, b.PeriodDays, b.PeriodDays, b.RandomPeriods, rng)
	case b.PeriodDays > 0 && b.ShiftDays > 0:
		return backtest.GeneratePeriodsWithShiftStep(start, end, b.PeriodDays, b.ShiftDays)
	}
	return []backtest.Period{{Start: start, End: end}}, nil
}

func (a *app) run(ctx context.Context, periods []backtest.Period, f *os.File) error {
	runID := uuid.NewString()
	l := a.log.With(zap.String("run_id", runID))

	results, summary, err := backtest.NewRunner(a.log, a.cfg, a.factory, a.feed).RunPeriods(ctx, periods)
	if err != nil {
		return err
	}
	if err := summary.WriteCSV(f); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	if err := a.store.SaveRun(ctx, runID, a.cfg.Trading.Strategy, a.cfg.Params, summary); err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		if err := a.store.SaveTrades(ctx, runID, r.Period, r.Report.Trades); err != nil {
			return err
		}
	}
	l.Info("Run finished",
		zap.Int("windows", len(summary)),
		zap.Int("failed", len(results)-len(summary)),
		zap.Float64("mean_pl_percent", summary.MeanPLPercent()),
		zap.Float64("mean_pl_eff", summary.MeanPLEff()))
	return nil
}

func (a *app) optimize(ctx context.Context, periods []backtest.Period, mode string, f *os.File) error {
	o, err := optimizer.New(a.log, a.cfg, a.factory, a.feed)
	if err != nil {
		return err
	}
	o.SetStore(a.store)

	status := optimizer.NewStatusServer(o, a.cfg.Server.Port, a.log)
	status.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := status.Stop(shutdownCtx); err != nil {
			a.log.Warn("Failed to stop status server", zap.Error(err))
		}
	}()

	results, err := o.Run(ctx, o, periods)
	if err != nil {
		return err
	}
	rows, err := optimizer.AnalyzeSummary(results, mode)
	if err != nil {
		return err
	}
	if err := optimizer.WriteRows(f, o.Params(), rows); err != nil {
		return fmt.Errorf("write analysis: %w", err)
	}
	if len(rows) > 0 {
		a.log.Info("Best combination",
			zap.Int("idx", rows[0].Index),
			zap.Any("params", rows[0].Params),
			zap.Float64("pl_eff", rows[0].PLEff))
	}
	return nil
}
