package database

import (
	"fmt"

	"crypto-backtester-go/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the SQLite database at dsn and migrates the schema.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the tables of every model. Stored candles
// and results are kept across runs.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Candle{},
		&models.Trade{},
		&models.RunSummary{},
		&models.OptimizationResult{},
		&models.OptimizationMeta{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}
