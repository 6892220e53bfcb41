package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"crypto-backtester-go/internal/binance"
	"crypto-backtester-go/internal/config"
	"crypto-backtester-go/internal/database"
	"crypto-backtester-go/internal/logger"
	"crypto-backtester-go/internal/market"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "./configs", "directory holding config.yml")
	exchange := flag.String("exchange", "binance", "configured exchange to fill")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ex, ok := cfg.Exchanges[*exchange]
	if !ok {
		log.Fatal("Exchange is not configured", zap.String("exchange", *exchange))
	}
	start, end, err := cfg.Backtest.Window()
	if err != nil {
		log.Fatal("Invalid backtest window", zap.Error(err))
	}

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := binance.NewRestClient(&cfg.Binance, log)
	if _, err := client.GetServerTime(ctx); err != nil {
		log.Fatal("Failed to connect to Binance API", zap.Error(err))
	}

	f := &fetcher{
		log:    log,
		client: client,
		store:  database.NewCandleStore(db, log),
	}
	for _, m := range ex.Markets {
		for _, tf := range feedTimeframes(cfg, ex) {
			if err := f.fill(ctx, *exchange, m, tf, start, end); err != nil {
				log.Fatal("Fetch failed", zap.String("market", m), zap.String("timeframe", tf), zap.Error(err))
			}
		}
	}
	log.Info("Candles are up to date")
}

type fetcher struct {
	log    *zap.Logger
	client binance.RestClientInterface
	store  *database.CandleStore
}

// fill downloads the candles of one panel missing after the newest stored
// one.
func (f *fetcher) fill(ctx context.Context, exchange, mkt, tf string, start, end time.Time) error {
	pair, err := market.ParsePair(mkt)
	if err != nil {
		return err
	}
	step, err := market.ParseTimeframe(tf)
	if err != nil {
		return err
	}
	latest, ok, err := f.store.Latest(ctx, exchange, mkt, tf)
	if err != nil {
		return err
	}
	from := start
	if ok && !latest.Before(from) {
		from = latest.Add(step)
	}
	if from.After(end) {
		f.log.Debug("Panel is complete", zap.String("market", mkt), zap.String("timeframe", tf))
		return nil
	}

	series, err := f.client.GetKlines(ctx, pair.Symbol(), tf, from, end)
	if err != nil {
		return err
	}
	f.log.Info("Fetched candles",
		zap.String("market", mkt),
		zap.String("timeframe", tf),
		zap.Time("from", from),
		zap.Int("count", len(series)))
	return f.store.SaveCandles(ctx, exchange, mkt, tf, series)
}

// feedTimeframes lists the exchange timeframes plus the simulation ones.
func feedTimeframes(cfg *config.Config, ex config.Exchange) []string {
	out := append([]string(nil), ex.Timeframes...)
	for _, tf := range []string{cfg.Backtest.BaseTimeframe, cfg.Backtest.IndicatorTimeframe} {
		found := tf == ""
		for _, have := range out {
			found = found || have == tf
		}
		if !found {
			out = append(out, tf)
		}
	}
	return out
}
