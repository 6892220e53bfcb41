package models

import (
	"time"

	"gorm.io/gorm"
)

// RunSummary is one window of a period run.
type RunSummary struct {
	gorm.Model
	RunID     string    `gorm:"index" json:"run_id"`
	Strategy  string    `json:"strategy"`
	Params    string    `json:"params"` // JSON object
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Days      int       `json:"days"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	PLPercent float64   `json:"pl_percent"`
	PLEff     float64   `json:"pl_eff"`
}
