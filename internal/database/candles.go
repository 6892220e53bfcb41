package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crypto-backtester-go/internal/config"
	"crypto-backtester-go/internal/market"
	"crypto-backtester-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const candleBatch = 500

// CandleStore reads and writes OHLCV history.
type CandleStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewCandleStore creates a candle store on db.
func NewCandleStore(db *gorm.DB, logger *zap.Logger) *CandleStore {
	return &CandleStore{db: db, logger: logger.Named("candles")}
}

// SaveCandles upserts a series; candles already stored are overwritten.
func (s *CandleStore) SaveCandles(ctx context.Context, exchange, mkt, timeframe string, series market.Series) error {
	if len(series) == 0 {
		return nil
	}
	rows := make([]models.Candle, len(series))
	for i, c := range series {
		rows[i] = models.Candle{
			Exchange:  exchange,
			Market:    mkt,
			Timeframe: timeframe,
			Time:      c.Time.UTC(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		}
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "exchange"}, {Name: "market"}, {Name: "timeframe"}, {Name: "time"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
	}).CreateInBatches(rows, candleBatch).Error
	if err != nil {
		return fmt.Errorf("save %s %s %s candles: %w", exchange, mkt, timeframe, err)
	}
	s.logger.Debug("Saved candles",
		zap.String("exchange", exchange),
		zap.String("market", mkt),
		zap.String("timeframe", timeframe),
		zap.Int("count", len(rows)))
	return nil
}

// Latest returns the time of the newest stored candle. ok is false when
// nothing is stored.
func (s *CandleStore) Latest(ctx context.Context, exchange, mkt, timeframe string) (time.Time, bool, error) {
	var c models.Candle
	err := s.db.WithContext(ctx).
		Where("exchange = ? AND market = ? AND timeframe = ?", exchange, mkt, timeframe).
		Order("time desc").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return c.Time.UTC(), true, nil
}

// LoadFeed reads every market and timeframe of exchanges between start and
// end inclusive. A panel with no stored candles is left out of the feed.
func (s *CandleStore) LoadFeed(ctx context.Context, exchanges map[string]config.Exchange, start, end time.Time) (market.Feed, error) {
	feed := market.Feed{}
	for name, ex := range exchanges {
		for _, m := range ex.Markets {
			for _, tf := range ex.Timeframes {
				var rows []models.Candle
				err := s.db.WithContext(ctx).
					Where("exchange = ? AND market = ? AND timeframe = ? AND time >= ? AND time <= ?",
						name, m, tf, start.UTC(), end.UTC()).
					Order("time asc").
					Find(&rows).Error
				if err != nil {
					return nil, fmt.Errorf("load %s %s %s candles: %w", name, m, tf, err)
				}
				if len(rows) == 0 {
					s.logger.Warn("No candles stored",
						zap.String("exchange", name), zap.String("market", m), zap.String("timeframe", tf))
					continue
				}
				series := make(market.Series, len(rows))
				for i, r := range rows {
					series[i] = market.Candle{
						Time:   r.Time.UTC(),
						Open:   r.Open,
						High:   r.High,
						Low:    r.Low,
						Close:  r.Close,
						Volume: r.Volume,
					}
				}
				feed.Add(name, m, tf, series)
			}
		}
	}
	return feed, nil
}
