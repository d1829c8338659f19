package events

import "time"

// Topic enumerates the event topics inside the trading core.
type Topic string

const (
	TopicTradeCreated Topic = "trade.created"
	TopicTradeSettled Topic = "trade.settled"
	TopicPriceUpdate  Topic = "price.update"
)

// TradeCreated is published after a new order has been committed.
type TradeCreated struct {
	TradeID      uint      `json:"trade_id"`
	UserID       string    `json:"user_id"`
	InstrumentID uint      `json:"instrument_id"`
	Symbol       string    `json:"symbol"`
	Direction    string    `json:"direction"`
	Amount       float64   `json:"amount"`
	Timeframe    int       `json:"timeframe"` // seconds
	Mirrored     bool      `json:"mirrored"`  // created by copy propagation; never propagated again
	OpenTime     time.Time `json:"open_time"`
}

// TradeSettled is published after an order has been settled and the wallet
// updated.
type TradeSettled struct {
	TradeID     uint    `json:"trade_id"`
	UserID      string  `json:"user_id"`
	Symbol      string  `json:"symbol"`
	Outcome     string  `json:"outcome"`
	Profit      float64 `json:"profit"`
	SettlePrice float64 `json:"settle_price"`
}

// PriceUpdate is published on every feed tick and oracle price change.
type PriceUpdate struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
