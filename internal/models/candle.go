package models

import (
	"time"

	"gorm.io/gorm"
)

// Candle is an OHLC bar built from feed ticks. Only closed candles are
// persisted; the running candle lives in the feed tracker.
type Candle struct {
	gorm.Model
	Symbol    string    `gorm:"uniqueIndex:idx_symbol_start" json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	StartTime time.Time `gorm:"uniqueIndex:idx_symbol_start" json:"start_time"`
}
