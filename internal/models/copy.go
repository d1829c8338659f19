package models

import "gorm.io/gorm"

const (
	CopyTypeFixed   = "FIXED"
	CopyTypePercent = "PERCENT"
)

// CopyRelationship is a standing instruction to mirror a trader's new orders
// into a follower's account at a scaled size. Upserted on follow,
// soft-disabled on unfollow.
type CopyRelationship struct {
	gorm.Model
	FollowerID string  `gorm:"uniqueIndex:idx_follower_trader;not null" json:"follower_id"`
	TraderID   string  `gorm:"uniqueIndex:idx_follower_trader;index;not null" json:"trader_id"`
	CopyType   string  `json:"copy_type"` // "FIXED" or "PERCENT"
	Value      float64 `json:"value"`
	MaxAmount  float64 `json:"max_amount"` // clamp per mirrored order
	Active     bool    `gorm:"default:true" json:"active"`
}

// CopyLink ties a source trade to the mirrored trade it produced, one row
// per successful propagation.
type CopyLink struct {
	gorm.Model
	SourceTradeID uint   `gorm:"index;not null" json:"source_trade_id"`
	MirrorTradeID uint   `gorm:"not null" json:"mirror_trade_id"`
	FollowerID    string `json:"follower_id"`
}
