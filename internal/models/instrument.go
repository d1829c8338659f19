package models

import "gorm.io/gorm"

// Instrument represents a tradable symbol with its payout terms.
type Instrument struct {
	gorm.Model
	Symbol     string  `gorm:"uniqueIndex" json:"symbol"`
	PayoutRate float64 `gorm:"not null" json:"payout_rate"` // fraction of the stake paid as profit on a win
	BasePrice  float64 `json:"base_price"`
	Active     bool    `gorm:"default:true" json:"active"`
}
