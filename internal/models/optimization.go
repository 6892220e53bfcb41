package models

import (
	"time"

	"gorm.io/gorm"
)

// OptimizationResult is a saved parameter combination of an optimization.
type OptimizationResult struct {
	gorm.Model
	Name        string    `gorm:"index:idx_optimization" json:"name"`
	Strategy    string    `gorm:"index:idx_optimization" json:"strategy"`
	Timeframe   string    `gorm:"index:idx_optimization" json:"timeframe"`
	PeriodStart time.Time `gorm:"index:idx_optimization" json:"period_start"`
	PeriodEnd   time.Time `gorm:"index:idx_optimization" json:"period_end"`
	Grid        string    `gorm:"index:idx_optimization" json:"grid"`
	ParamIdx    int       `json:"param_idx"`
	Params      string    `json:"params"` // JSON object
	Windows     int       `json:"windows"`
	Failed      int       `json:"failed"`
	PLPercent   float64   `json:"pl_percent"`
	PLEff       float64   `json:"pl_eff"`
}

// OptimizationMeta tracks the checkpoint and best result of an optimization.
// There is one row per name, strategy, timeframe, period and grid.
type OptimizationMeta struct {
	gorm.Model
	Name          string    `gorm:"uniqueIndex:idx_optimization_meta" json:"name"`
	Strategy      string    `gorm:"uniqueIndex:idx_optimization_meta" json:"strategy"`
	Timeframe     string    `gorm:"uniqueIndex:idx_optimization_meta" json:"timeframe"`
	PeriodStart   time.Time `gorm:"uniqueIndex:idx_optimization_meta" json:"period_start"`
	PeriodEnd     time.Time `gorm:"uniqueIndex:idx_optimization_meta" json:"period_end"`
	Grid          string    `gorm:"uniqueIndex:idx_optimization_meta" json:"grid"`
	LastIdx       int       `json:"last_idx"`
	BestParams    string    `json:"best_params"` // JSON object
	BestPLPercent float64   `json:"best_pl_percent"`
}
