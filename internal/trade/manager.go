package trade

import (
	"errors"
	"fmt"
	"time"

	"binary-options-engine-go/internal/events"
	"binary-options-engine-go/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidInstrument is returned for an unknown or inactive instrument.
	ErrInvalidInstrument = errors.New("unknown or inactive instrument")
	// ErrInvalidAmount is returned for a non-positive stake.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidDirection is returned when the direction is not UP or DOWN.
	ErrInvalidDirection = errors.New("direction must be UP or DOWN")
	// ErrInvalidTimeframe is returned when the timeframe is out of range.
	ErrInvalidTimeframe = errors.New("timeframe out of range")
	// ErrNotFound is returned when a trade does not exist.
	ErrNotFound = errors.New("trade not found")
)

// PriceSource provides current prices for order creation and settlement.
type PriceSource interface {
	CurrentPrice(symbol string) (float64, error)
	ManipulatedPrice(symbol string) (float64, error)
}

// Ledger is the wallet surface the lifecycle manager depends on.
type Ledger interface {
	LockBalance(userID string, amount float64, reference string) error
	UnlockBalance(userID string, amount float64, reference string) error
	SettleWin(userID string, amount, profit float64, reference string) error
	SettleLose(userID string, amount float64, reference string) error
}

// Manager drives the order lifecycle: LOCKED -> SETTLED, with no other
// transitions. Orders are never deleted.
type Manager struct {
	logger *zap.Logger
	db     *gorm.DB
	prices PriceSource
	ledger Ledger
	bus    *events.Bus

	minTimeframe time.Duration
	maxTimeframe time.Duration
	now          func() time.Time
}

// NewManager creates a trade lifecycle manager.
func NewManager(logger *zap.Logger, db *gorm.DB, prices PriceSource, ledger Ledger, bus *events.Bus, minTimeframe, maxTimeframe time.Duration) *Manager {
	return &Manager{
		logger:       logger.Named("trade"),
		db:           db,
		prices:       prices,
		ledger:       ledger,
		bus:          bus,
		minTimeframe: minTimeframe,
		maxTimeframe: maxTimeframe,
		now:          time.Now,
	}
}

// CreateOrder validates and accepts a new wager. The stake is locked against
// the user's wallet only after instrument and price validation succeed, so a
// failure never leaves a partial wallet mutation.
func (m *Manager) CreateOrder(userID string, instrumentID uint, direction string, amount float64, timeframeSeconds int) (*models.TradeOrder, error) {
	return m.create(userID, instrumentID, direction, amount, timeframeSeconds, false)
}

// CreateMirrorOrder accepts an order produced by copy propagation. It is
// identical to CreateOrder except that the resulting trade-created event is
// flagged so the propagator never mirrors a mirror.
func (m *Manager) CreateMirrorOrder(userID string, instrumentID uint, direction string, amount float64, timeframeSeconds int) (*models.TradeOrder, error) {
	return m.create(userID, instrumentID, direction, amount, timeframeSeconds, true)
}

func (m *Manager) create(userID string, instrumentID uint, direction string, amount float64, timeframeSeconds int, mirrored bool) (*models.TradeOrder, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if direction != models.DirectionUp && direction != models.DirectionDown {
		return nil, ErrInvalidDirection
	}
	timeframe := time.Duration(timeframeSeconds) * time.Second
	if timeframe < m.minTimeframe || timeframe > m.maxTimeframe {
		return nil, ErrInvalidTimeframe
	}

	var instrument models.Instrument
	if err := m.db.First(&instrument, instrumentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidInstrument
		}
		return nil, fmt.Errorf("failed to load instrument %d: %w", instrumentID, err)
	}
	if !instrument.Active {
		return nil, ErrInvalidInstrument
	}

	entryPrice, err := m.prices.CurrentPrice(instrument.Symbol)
	if err != nil {
		return nil, err
	}

	reference := uuid.NewString()
	if err := m.ledger.LockBalance(userID, amount, reference); err != nil {
		return nil, err
	}

	now := m.now()
	order := models.TradeOrder{
		UserID:       userID,
		InstrumentID: instrument.ID,
		Symbol:       instrument.Symbol,
		Direction:    direction,
		Amount:       amount,
		PayoutRate:   instrument.PayoutRate,
		EntryPrice:   entryPrice,
		OpenTime:     now,
		ExpireTime:   now.Add(timeframe),
		Status:       models.StatusLocked,
	}
	if err := m.db.Create(&order).Error; err != nil {
		// Give the stake back; the order never existed.
		if unlockErr := m.ledger.UnlockBalance(userID, amount, reference); unlockErr != nil {
			m.logger.Error("Failed to unlock stake after order persist failure",
				zap.String("user_id", userID),
				zap.Float64("amount", amount),
				zap.Error(unlockErr))
		}
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	m.logger.Info("Order created",
		zap.Uint("trade_id", order.ID),
		zap.String("user_id", userID),
		zap.String("symbol", order.Symbol),
		zap.String("direction", direction),
		zap.Float64("amount", amount),
		zap.Float64("entry_price", entryPrice),
		zap.Bool("mirrored", mirrored))

	m.bus.Publish(events.TopicTradeCreated, events.TradeCreated{
		TradeID:      order.ID,
		UserID:       userID,
		InstrumentID: instrument.ID,
		Symbol:       order.Symbol,
		Direction:    direction,
		Amount:       amount,
		Timeframe:    timeframeSeconds,
		Mirrored:     mirrored,
		OpenTime:     now,
	})

	return &order, nil
}

// Settle resolves an order against the settle price. It is idempotent: a
// missing order or one that is no longer LOCKED is a silent no-op, so the
// scheduler may safely retry the same id.
func (m *Manager) Settle(tradeID uint, settlePrice float64) error {
	var order models.TradeOrder
	if err := m.db.First(&order, tradeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load order %d: %w", tradeID, err)
	}
	if order.Status != models.StatusLocked {
		return nil
	}

	outcome := models.OutcomeLose
	if (order.Direction == models.DirectionUp && settlePrice > order.EntryPrice) ||
		(order.Direction == models.DirectionDown && settlePrice < order.EntryPrice) {
		outcome = models.OutcomeWin
	}
	profit := -order.Amount
	if outcome == models.OutcomeWin {
		profit = order.Amount * order.PayoutRate
	}

	// The status flip and the result row commit together. The WHERE guard on
	// the status column makes a concurrent double-settle lose the race and
	// back out without a result row.
	settled := false
	err := m.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.TradeOrder{}).
			Where("id = ? AND status = ?", tradeID, models.StatusLocked).
			Update("status", models.StatusSettled)
		if res.Error != nil {
			return fmt.Errorf("failed to update order status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil // lost the race, already settled
		}
		settled = true
		result := models.TradeResult{
			TradeOrderID: tradeID,
			SettlePrice:  settlePrice,
			Outcome:      outcome,
			Profit:       profit,
		}
		if err := tx.Create(&result).Error; err != nil {
			return fmt.Errorf("failed to persist trade result: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !settled {
		return nil
	}

	// Wallet update is a separate step after the result commit. A failure
	// here leaves the order SETTLED with no balance change, which is why it
	// is logged loudly with the trade id for reconciliation.
	reference := fmt.Sprintf("trade:%d", tradeID)
	var walletErr error
	if outcome == models.OutcomeWin {
		walletErr = m.ledger.SettleWin(order.UserID, order.Amount, profit, reference)
	} else {
		walletErr = m.ledger.SettleLose(order.UserID, order.Amount, reference)
	}
	if walletErr != nil {
		m.logger.Error("Wallet update failed for settled order",
			zap.Uint("trade_id", tradeID),
			zap.String("user_id", order.UserID),
			zap.String("outcome", outcome),
			zap.Float64("profit", profit),
			zap.Error(walletErr))
		return fmt.Errorf("wallet update failed for trade %d: %w", tradeID, walletErr)
	}

	m.logger.Info("Order settled",
		zap.Uint("trade_id", tradeID),
		zap.String("user_id", order.UserID),
		zap.String("outcome", outcome),
		zap.Float64("entry_price", order.EntryPrice),
		zap.Float64("settle_price", settlePrice),
		zap.Float64("profit", profit))

	m.bus.Publish(events.TopicTradeSettled, events.TradeSettled{
		TradeID:     tradeID,
		UserID:      order.UserID,
		Symbol:      order.Symbol,
		Outcome:     outcome,
		Profit:      profit,
		SettlePrice: settlePrice,
	})

	return nil
}

// Order returns a single trade by id.
func (m *Manager) Order(tradeID uint) (*models.TradeOrder, error) {
	var order models.TradeOrder
	if err := m.db.First(&order, tradeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load order %d: %w", tradeID, err)
	}
	return &order, nil
}

// OpenOrders returns the user's LOCKED orders, newest first.
func (m *Manager) OpenOrders(userID string) ([]models.TradeOrder, error) {
	var orders []models.TradeOrder
	err := m.db.Where("user_id = ? AND status = ?", userID, models.StatusLocked).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load open orders: %w", err)
	}
	return orders, nil
}

// History returns the user's most recent orders regardless of status.
func (m *Manager) History(userID string, limit int) ([]models.TradeOrder, error) {
	var orders []models.TradeOrder
	err := m.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load order history: %w", err)
	}
	return orders, nil
}
