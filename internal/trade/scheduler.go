package trade

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"binary-options-engine-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Scheduler settles expired orders on a fixed period. A tick whose work
// outlives the interval is not re-entered: an atomic run token skips the
// overlapping tick, and the idempotent status guard in Settle covers
// whatever slips through.
type Scheduler struct {
	logger   *zap.Logger
	db       *gorm.DB
	manager  *Manager
	prices   PriceSource
	interval time.Duration
	running  atomic.Bool
	now      func() time.Time
}

// NewScheduler creates a settlement scheduler.
func NewScheduler(logger *zap.Logger, db *gorm.DB, manager *Manager, prices PriceSource, interval time.Duration) *Scheduler {
	return &Scheduler{
		logger:   logger.Named("settlement"),
		db:       db,
		manager:  manager,
		prices:   prices,
		interval: interval,
		now:      time.Now,
	}
}

// Run starts the settlement loop and blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Starting settlement loop", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping settlement loop...")
			return
		case <-ticker.C:
			if err := s.Sweep(); err != nil {
				s.logger.Error("Settlement sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep settles every LOCKED order whose expiry has passed. Each order is
// settled independently; one order's failure never blocks the others.
func (s *Scheduler) Sweep() error {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Previous settlement sweep still running, skipping tick")
		return nil
	}
	defer s.running.Store(false)

	var expired []models.TradeOrder
	err := s.db.Where("status = ? AND expire_time <= ?", models.StatusLocked, s.now()).
		Find(&expired).Error
	if err != nil {
		return fmt.Errorf("failed to select expired orders: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	s.logger.Info("Settling expired orders", zap.Int("count", len(expired)))

	// One price read per symbol per sweep; every expired order of that
	// symbol settles against the same value.
	settlePrices := make(map[string]float64)
	for _, order := range expired {
		price, ok := settlePrices[order.Symbol]
		if !ok {
			var err error
			price, err = s.prices.ManipulatedPrice(order.Symbol)
			if err != nil {
				s.logger.Error("No settle price for symbol, deferring its orders",
					zap.String("symbol", order.Symbol), zap.Error(err))
				settlePrices[order.Symbol] = -1
				continue
			}
			settlePrices[order.Symbol] = price
		}
		if price < 0 {
			continue
		}

		if err := s.manager.Settle(order.ID, price); err != nil {
			s.logger.Error("Failed to settle order",
				zap.Uint("trade_id", order.ID),
				zap.String("symbol", order.Symbol),
				zap.Error(err))
		}
	}

	return nil
}
