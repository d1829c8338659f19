package copytrade

import (
	"binary-options-engine-go/internal/events"
	"binary-options-engine-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderCreator is the slice of the trade lifecycle the propagator needs.
type OrderCreator interface {
	CreateMirrorOrder(userID string, instrumentID uint, direction string, amount float64, timeframeSeconds int) (*models.TradeOrder, error)
}

// Propagator mirrors newly created trades into follower accounts. It is
// best-effort by design: a follower that cannot take the mirror (usually
// insufficient balance) is logged and skipped, the remaining followers are
// unaffected, and nothing is surfaced to the source trader.
type Propagator struct {
	logger    *zap.Logger
	db        *gorm.DB
	service   *Service
	orders    OrderCreator
	timeframe int // seconds, fixed for every mirrored order

	unsubscribe func()
}

// NewPropagator creates a copy-trade propagator.
func NewPropagator(logger *zap.Logger, db *gorm.DB, service *Service, orders OrderCreator, timeframeSeconds int) *Propagator {
	return &Propagator{
		logger:    logger.Named("copy-propagator"),
		db:        db,
		service:   service,
		orders:    orders,
		timeframe: timeframeSeconds,
	}
}

// Start subscribes the propagator to trade-created events.
func (p *Propagator) Start(bus *events.Bus) {
	p.unsubscribe = bus.Subscribe(events.TopicTradeCreated, "copy-propagator", 64, p.onTradeCreated)
	p.logger.Info("Copy propagator subscribed", zap.Int("timeframe_seconds", p.timeframe))
}

// Stop detaches the propagator from the bus.
func (p *Propagator) Stop() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

func (p *Propagator) onTradeCreated(payload any) {
	evt, ok := payload.(events.TradeCreated)
	if !ok {
		return
	}
	if evt.Mirrored {
		// Mirrors of mirrors would cascade through follow chains.
		return
	}

	followers, err := p.service.Followers(evt.UserID)
	if err != nil {
		p.logger.Error("Failed to load followers for trade",
			zap.Uint("trade_id", evt.TradeID),
			zap.String("trader_id", evt.UserID),
			zap.Error(err))
		return
	}

	for _, rel := range followers {
		p.mirror(evt, rel)
	}
}

// mirror attempts a single follower's copy of the source trade.
func (p *Propagator) mirror(evt events.TradeCreated, rel models.CopyRelationship) {
	amount := CopyAmount(rel, evt.Amount)
	if amount <= 0 {
		return
	}

	order, err := p.orders.CreateMirrorOrder(rel.FollowerID, evt.InstrumentID, evt.Direction, amount, p.timeframe)
	if err != nil {
		p.logger.Info("Skipping follower for mirrored trade",
			zap.Uint("source_trade_id", evt.TradeID),
			zap.String("follower_id", rel.FollowerID),
			zap.Float64("amount", amount),
			zap.Error(err))
		return
	}

	link := models.CopyLink{
		SourceTradeID: evt.TradeID,
		MirrorTradeID: order.ID,
		FollowerID:    rel.FollowerID,
	}
	if err := p.db.Create(&link).Error; err != nil {
		p.logger.Error("Failed to record copy link",
			zap.Uint("source_trade_id", evt.TradeID),
			zap.Uint("mirror_trade_id", order.ID),
			zap.Error(err))
		return
	}

	p.logger.Info("Mirrored trade",
		zap.Uint("source_trade_id", evt.TradeID),
		zap.Uint("mirror_trade_id", order.ID),
		zap.String("follower_id", rel.FollowerID),
		zap.Float64("amount", amount))
}

// CopyAmount computes the follower's stake for a source amount: the fixed
// value, or a percentage of the source, clamped to the relationship's
// per-order maximum.
func CopyAmount(rel models.CopyRelationship, sourceAmount float64) float64 {
	var amount float64
	switch rel.CopyType {
	case models.CopyTypeFixed:
		amount = rel.Value
	case models.CopyTypePercent:
		amount = sourceAmount * rel.Value / 100
	default:
		return 0
	}
	if rel.MaxAmount > 0 && amount > rel.MaxAmount {
		amount = rel.MaxAmount
	}
	return amount
}
