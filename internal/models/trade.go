package models

import (
	"time"

	"gorm.io/gorm"
)

// Trade is a settled simulated order of a backtest window.
type Trade struct {
	gorm.Model
	RunID       string    `gorm:"index" json:"run_id"`
	OrderUUID   string    `json:"order_uuid"`
	WindowStart time.Time `json:"window_start"`
	Exchange    string    `json:"exchange"`
	Market      string    `json:"market"`
	Side        string    `json:"side"` // "buy" or "sell"
	Kind        string    `json:"kind"` // "limit" or "market"
	Margin      bool      `json:"margin"`
	Price       float64   `json:"price"`
	Amount      float64   `json:"amount"`
	Cost        float64   `json:"cost"`
	Fee         float64   `json:"fee"`
	ClosePrice  float64   `json:"close_price,omitempty"`
	Profit      float64   `json:"profit,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
	ClosedAt    time.Time `json:"closed_at"`
}
