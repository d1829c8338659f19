package database

import (
	"fmt"

	"binary-options-engine-go/internal/config"
	"binary-options-engine-go/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db, cfg); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates the schema and populates the instrument table from config.
func Migrate(db *gorm.DB, cfg *config.Config) error {
	err := db.AutoMigrate(
		&models.Instrument{},
		&models.TradeOrder{},
		&models.TradeResult{},
		&models.Wallet{},
		&models.WalletTransaction{},
		&models.CopyRelationship{},
		&models.CopyLink{},
		&models.Candle{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	// Populate the 'instruments' table from the config
	for _, seed := range cfg.Trading.Instruments {
		instrument := models.Instrument{
			Symbol:     seed.Symbol,
			PayoutRate: seed.PayoutRate,
			BasePrice:  seed.BasePrice,
			Active:     true,
		}
		if err := db.FirstOrCreate(&instrument, models.Instrument{Symbol: seed.Symbol}).Error; err != nil {
			return fmt.Errorf("failed to populate instrument '%s': %w", seed.Symbol, err)
		}
	}

	return nil
}
