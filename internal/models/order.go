package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	DirectionUp   = "UP"
	DirectionDown = "DOWN"

	StatusLocked  = "LOCKED"
	StatusSettled = "SETTLED"

	OutcomeWin  = "WIN"
	OutcomeLose = "LOSE"
)

// TradeOrder represents a single wager that a price will move up or down
// within a fixed time window. The stake is locked against the user's wallet
// for the lifetime of the order. An order is mutated exactly once, by
// settlement, and never deleted.
type TradeOrder struct {
	gorm.Model
	UserID       string    `gorm:"index;not null" json:"user_id"`
	InstrumentID uint      `gorm:"not null" json:"instrument_id"`
	Symbol       string    `gorm:"index" json:"symbol"`
	Direction    string    `json:"direction"` // "UP" or "DOWN"
	Amount       float64   `gorm:"not null" json:"amount"`
	PayoutRate   float64   `json:"payout_rate"` // snapshotted from the instrument at creation
	EntryPrice   float64   `json:"entry_price"`
	OpenTime     time.Time `json:"open_time"`
	ExpireTime   time.Time `gorm:"index" json:"expire_time"`
	Status       string    `gorm:"index;default:LOCKED" json:"status"`
}

// TradeResult records the outcome of a settled order. It is created exactly
// once, in the same transaction that flips the order to SETTLED.
type TradeResult struct {
	gorm.Model
	TradeOrderID uint    `gorm:"uniqueIndex;not null" json:"trade_order_id"`
	SettlePrice  float64 `json:"settle_price"`
	Outcome      string  `json:"outcome"` // "WIN" or "LOSE"
	Profit       float64 `json:"profit"`  // signed: amount*payout on a win, -amount on a loss
}
