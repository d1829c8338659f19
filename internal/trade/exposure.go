package trade

import (
	"fmt"

	"binary-options-engine-go/internal/models"
	"gorm.io/gorm"
)

// SymbolExposure is the open stake aggregated over one instrument and
// direction.
type SymbolExposure struct {
	Symbol    string  `json:"symbol"`
	Direction string  `json:"direction"`
	Amount    float64 `json:"amount"`
	Orders    int64   `json:"orders"`
}

// Exposure is the read-only risk rollup over open positions. Reads are
// best-effort: concurrent settlements may change the result between two
// aggregate calls.
type Exposure struct {
	db *gorm.DB
}

// NewExposure creates an exposure aggregator.
func NewExposure(db *gorm.DB) *Exposure {
	return &Exposure{db: db}
}

// TotalExposure sums the stake over all LOCKED orders.
func (e *Exposure) TotalExposure() (float64, error) {
	var total float64
	err := e.db.Model(&models.TradeOrder{}).
		Where("status = ?", models.StatusLocked).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate total exposure: %w", err)
	}
	return total, nil
}

// ExposureBySymbol groups the open stake by instrument and direction.
func (e *Exposure) ExposureBySymbol() ([]SymbolExposure, error) {
	var out []SymbolExposure
	err := e.db.Model(&models.TradeOrder{}).
		Where("status = ?", models.StatusLocked).
		Select("symbol, direction, SUM(amount) AS amount, COUNT(*) AS orders").
		Group("symbol").
		Group("direction").
		Order("symbol").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate exposure by symbol: %w", err)
	}
	return out, nil
}
