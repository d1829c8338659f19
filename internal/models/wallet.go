package models

import "gorm.io/gorm"

const (
	TxTypeLock     = "LOCK"
	TxTypeUnlock   = "UNLOCK"
	TxTypeSettle   = "SETTLE"
	TxTypeDeposit  = "DEPOSIT"
	TxTypeWithdraw = "WITHDRAW"
)

// Wallet holds the two per-user balance counters. Invariant: both counters
// are non-negative and locked equals the sum of the user's LOCKED order
// amounts.
type Wallet struct {
	gorm.Model
	UserID    string  `gorm:"uniqueIndex;not null" json:"user_id"`
	Available float64 `gorm:"default:0" json:"available"`
	Locked    float64 `gorm:"default:0" json:"locked"`
}

// WalletTransaction is an append-only audit entry, written in the same
// database transaction as the balance mutation it describes.
type WalletTransaction struct {
	gorm.Model
	UserID    string  `gorm:"index;not null" json:"user_id"`
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"` // signed
	Reference string  `json:"reference,omitempty"`
}
