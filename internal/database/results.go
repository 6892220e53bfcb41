package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"crypto-backtester-go/internal/backtest"
	"crypto-backtester-go/internal/models"
	"crypto-backtester-go/internal/optimizer"
	"crypto-backtester-go/internal/order"

	"gorm.io/gorm"
)

// ResultStore persists run summaries, trades and optimization results.
type ResultStore struct {
	db *gorm.DB
}

// NewResultStore creates a result store on db.
func NewResultStore(db *gorm.DB) *ResultStore {
	return &ResultStore{db: db}
}

// ResultStore checkpoints optimizations.
var _ optimizer.Store = (*ResultStore)(nil)

func encodeParams(params map[string]interface{}) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	return string(b), nil
}

func metaWhere(key optimizer.Key) models.OptimizationMeta {
	return models.OptimizationMeta{
		Name:        key.Name,
		Strategy:    key.Strategy,
		Timeframe:   key.Timeframe,
		PeriodStart: key.Start.UTC(),
		PeriodEnd:   key.End.UTC(),
		Grid:        key.Grid,
	}
}

// LastCheckpoint returns the last finished combination of an optimization.
func (s *ResultStore) LastCheckpoint(ctx context.Context, key optimizer.Key) (int, bool, error) {
	var meta models.OptimizationMeta
	err := s.db.WithContext(ctx).Where(metaWhere(key)).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read optimization meta: %w", err)
	}
	return meta.LastIdx, true, nil
}

// SaveResults stores one row per combination.
func (s *ResultStore) SaveResults(ctx context.Context, key optimizer.Key, results []optimizer.Result) error {
	if len(results) == 0 {
		return nil
	}
	rows := make([]models.OptimizationResult, len(results))
	for i, r := range results {
		params, err := encodeParams(r.Params.Map())
		if err != nil {
			return err
		}
		rows[i] = models.OptimizationResult{
			Name:        key.Name,
			Strategy:    key.Strategy,
			Timeframe:   key.Timeframe,
			PeriodStart: key.Start.UTC(),
			PeriodEnd:   key.End.UTC(),
			Grid:        key.Grid,
			ParamIdx:    r.Index,
			Params:      params,
			Windows:     len(r.Summary),
			Failed:      r.Failed,
			PLPercent:   r.MeanPLPercent(),
			PLEff:       r.MeanPLEff(),
		}
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("save optimization results: %w", err)
	}
	return nil
}

// SaveCheckpoint records idx as finished. The stored best result is only
// replaced by a better one.
func (s *ResultStore) SaveCheckpoint(ctx context.Context, key optimizer.Key, idx int, best *optimizer.Result) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meta models.OptimizationMeta
		err := tx.Where(metaWhere(key)).First(&meta).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			meta = metaWhere(key)
		case err != nil:
			return fmt.Errorf("read optimization meta: %w", err)
		}

		meta.LastIdx = idx
		if best != nil && (meta.BestParams == "" || best.MeanPLPercent() > meta.BestPLPercent) {
			params, err := encodeParams(best.Params.Map())
			if err != nil {
				return err
			}
			meta.BestParams = params
			meta.BestPLPercent = best.MeanPLPercent()
		}
		if err := tx.Save(&meta).Error; err != nil {
			return fmt.Errorf("save optimization meta: %w", err)
		}
		return nil
	})
}

// SaveRun stores the summary rows of a period run.
func (s *ResultStore) SaveRun(ctx context.Context, runID, strategy string, params map[string]interface{}, summary backtest.Summary) error {
	if len(summary) == 0 {
		return nil
	}
	encoded, err := encodeParams(params)
	if err != nil {
		return err
	}
	rows := make([]models.RunSummary, len(summary))
	for i, r := range summary {
		rows[i] = models.RunSummary{
			RunID:     runID,
			Strategy:  strategy,
			Params:    encoded,
			Start:     r.Start.UTC(),
			End:       r.End.UTC(),
			Days:      r.Days,
			Wins:      r.Wins,
			Losses:    r.Losses,
			PLPercent: r.PLPercent,
			PLEff:     r.PLEff,
		}
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("save run summary: %w", err)
	}
	return nil
}

// SaveTrades stores the settled orders of one window.
func (s *ResultStore) SaveTrades(ctx context.Context, runID string, period backtest.Period, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	rows := make([]models.Trade, len(orders))
	for i, o := range orders {
		rows[i] = models.Trade{
			RunID:       runID,
			OrderUUID:   o.UUID,
			WindowStart: period.Start.UTC(),
			Exchange:    o.Exchange,
			Market:      o.Market.String(),
			Side:        string(o.Side),
			Kind:        string(o.Kind),
			Margin:      o.IsMargin(),
			Price:       o.OpenPrice,
			Amount:      o.Amount,
			Cost:        o.Cost,
			Fee:         o.Fee,
			OpenedAt:    o.OpenedAt.UTC(),
			ClosedAt:    o.ClosedAt.UTC(),
		}
		if o.IsMargin() {
			rows[i].Fee += o.Margin.Fee
			rows[i].ClosePrice = o.Margin.ClosePrice
			rows[i].Profit = o.Margin.PL
		}
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("save trades: %w", err)
	}
	return nil
}

// RunSummaries lists stored windows, newest run first. An empty runID
// lists every run.
func (s *ResultStore) RunSummaries(ctx context.Context, runID string, limit int) ([]models.RunSummary, error) {
	q := s.db.WithContext(ctx).Order("created_at desc, start asc")
	if runID != "" {
		q = q.Where("run_id = ?", runID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.RunSummary
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list run summaries: %w", err)
	}
	return rows, nil
}

// OptimizationResults lists saved combinations of an optimization, best
// PL_Eff first. An empty name lists every optimization.
func (s *ResultStore) OptimizationResults(ctx context.Context, name string, limit int) ([]models.OptimizationResult, error) {
	q := s.db.WithContext(ctx).Order("pl_eff desc")
	if name != "" {
		q = q.Where("name = ?", name)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.OptimizationResult
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list optimization results: %w", err)
	}
	return rows, nil
}

// Optimizations lists the checkpoint rows.
func (s *ResultStore) Optimizations(ctx context.Context) ([]models.OptimizationMeta, error) {
	var rows []models.OptimizationMeta
	if err := s.db.WithContext(ctx).Order("updated_at desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list optimizations: %w", err)
	}
	return rows, nil
}

// Trades lists the stored trades of a run, newest first.
func (s *ResultStore) Trades(ctx context.Context, runID string, limit int) ([]models.Trade, error) {
	q := s.db.WithContext(ctx).Order("closed_at desc")
	if runID != "" {
		q = q.Where("run_id = ?", runID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var trades []models.Trade
	if err := q.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return trades, nil
}
