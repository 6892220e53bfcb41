package models

import "time"

// Candle is one stored OHLCV row.
type Candle struct {
	ID        uint      `gorm:"primarykey"`
	Exchange  string    `gorm:"uniqueIndex:idx_candle;not null"`
	Market    string    `gorm:"uniqueIndex:idx_candle;not null"`
	Timeframe string    `gorm:"uniqueIndex:idx_candle;not null"`
	Time      time.Time `gorm:"uniqueIndex:idx_candle;not null"`
	Open      float64   `gorm:"not null"`
	High      float64   `gorm:"not null"`
	Low       float64   `gorm:"not null"`
	Close     float64   `gorm:"not null"`
	Volume    float64
}
