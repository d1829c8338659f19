package trade

import (
	"testing"
	"time"

	"binary-options-engine-go/internal/events"
	"binary-options-engine-go/internal/models"
	"binary-options-engine-go/internal/pricing"
	"binary-options-engine-go/internal/wallet"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakePrices is a PriceSource backed by a plain map.
type fakePrices struct {
	prices map[string]float64
}

func (f *fakePrices) CurrentPrice(symbol string) (float64, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return 0, pricing.ErrPriceUnavailable
	}
	return p, nil
}

func (f *fakePrices) ManipulatedPrice(symbol string) (float64, error) {
	return f.CurrentPrice(symbol)
}

type testEnv struct {
	db      *gorm.DB
	manager *Manager
	wallets *wallet.Service
	prices  *fakePrices
	bus     *events.Bus
	created chan events.TradeCreated
	settled chan events.TradeSettled
}

// setupTest wires a manager over an in-memory database with a real wallet
// ledger and event bus.
func setupTest(t *testing.T) *testEnv {
	// Use a new, non-shared in-memory database for each test to ensure isolation.
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)

	err = db.AutoMigrate(
		&models.Instrument{},
		&models.TradeOrder{},
		&models.TradeResult{},
		&models.Wallet{},
		&models.WalletTransaction{},
	)
	assert.NoError(t, err)

	bus := events.NewBus(zap.NewNop())
	env := &testEnv{
		db:      db,
		wallets: wallet.NewService(zap.NewNop(), db),
		prices:  &fakePrices{prices: map[string]float64{}},
		bus:     bus,
		created: make(chan events.TradeCreated, 8),
		settled: make(chan events.TradeSettled, 8),
	}
	bus.Subscribe(events.TopicTradeCreated, "test-created", 8, func(p any) {
		if evt, ok := p.(events.TradeCreated); ok {
			env.created <- evt
		}
	})
	bus.Subscribe(events.TopicTradeSettled, "test-settled", 8, func(p any) {
		if evt, ok := p.(events.TradeSettled); ok {
			env.settled <- evt
		}
	})

	env.manager = NewManager(zap.NewNop(), db, env.prices, env.wallets, bus, time.Second, 24*time.Hour)

	t.Cleanup(bus.Close)
	return env
}

// seedInstrument creates an instrument and returns its id.
func seedInstrument(t *testing.T, env *testEnv, symbol string, payout float64, active bool) uint {
	instrument := models.Instrument{Symbol: symbol, PayoutRate: payout, Active: active}
	assert.NoError(t, env.db.Create(&instrument).Error)
	return instrument.ID
}

func waitCreated(t *testing.T, env *testEnv) events.TradeCreated {
	select {
	case evt := <-env.created:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trade-created event")
		return events.TradeCreated{}
	}
}

func waitSettled(t *testing.T, env *testEnv) events.TradeSettled {
	select {
	case evt := <-env.settled:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trade-settled event")
		return events.TradeSettled{}
	}
}

func TestCreateOrder_LocksStake(t *testing.T) {
	// Arrange
	env := setupTest(t)
	id := seedInstrument(t, env, "BTCUSDT", 0.85, true)
	env.prices.prices["BTCUSDT"] = 100
	assert.NoError(t, env.wallets.Credit("alice", 100, "seed"))

	// Act
	order, err := env.manager.CreateOrder("alice", id, models.DirectionUp, 10, 60)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, models.StatusLocked, order.Status)
	assert.Equal(t, 100.0, order.EntryPrice)
	assert.Equal(t, 0.85, order.PayoutRate)

	w, err := env.wallets.Get("alice")
	assert.NoError(t, err)
	assert.Equal(t, 90.0, w.Available)
	assert.Equal(t, 10.0, w.Locked)

	evt := waitCreated(t, env)
	assert.Equal(t, order.ID, evt.TradeID)
	assert.Equal(t, "alice", evt.UserID)
	assert.False(t, evt.Mirrored)
}

func TestCreateOrder_ValidationBeforeWalletMutation(t *testing.T) {
	env := setupTest(t)
	assert.NoError(t, env.wallets.Credit("alice", 100, "seed"))

	// Unknown instrument
	_, err := env.manager.CreateOrder("alice", 99, models.DirectionUp, 10, 60)
	assert.ErrorIs(t, err, ErrInvalidInstrument)

	// Inactive instrument
	inactive := seedInstrument(t, env, "ETHUSDT", 0.85, false)
	_, err = env.manager.CreateOrder("alice", inactive, models.DirectionUp, 10, 60)
	assert.ErrorIs(t, err, ErrInvalidInstrument)

	// Active instrument without a price
	noPrice := seedInstrument(t, env, "BTCUSDT", 0.85, true)
	_, err = env.manager.CreateOrder("alice", noPrice, models.DirectionUp, 10, 60)
	assert.ErrorIs(t, err, pricing.ErrPriceUnavailable)

	// None of the failures touched the wallet.
	w, err := env.wallets.Get("alice")
	assert.NoError(t, err)
	assert.Equal(t, 100.0, w.Available)
	assert.Equal(t, 0.0, w.Locked)
}

func TestCreateOrder_InvalidArguments(t *testing.T) {
	env := setupTest(t)
	id := seedInstrument(t, env, "BTCUSDT", 0.85, true)
	env.prices.prices["BTCUSDT"] = 100

	_, err := env.manager.CreateOrder("alice", id, models.DirectionUp, 0, 60)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.manager.CreateOrder("alice", id, "SIDEWAYS", 10, 60)
	assert.ErrorIs(t, err, ErrInvalidDirection)

	_, err = env.manager.CreateOrder("alice", id, models.DirectionDown, 10, 0)
	assert.ErrorIs(t, err, ErrInvalidTimeframe)
}

func TestCreateOrder_InsufficientBalance(t *testing.T) {
	env := setupTest(t)
	id := seedInstrument(t, env, "BTCUSDT", 0.85, true)
	env.prices.prices["BTCUSDT"] = 100
	assert.NoError(t, env.wallets.Credit("alice", 5, "seed"))

	_, err := env.manager.CreateOrder("alice", id, models.DirectionUp, 10, 60)
	assert.ErrorIs(t, err, wallet.ErrInsufficientBalance)
}

func TestSettle_Win(t *testing.T) {
	env := setupTest(t)
	id := seedInstrument(t, env, "BTCUSDT", 0.85, true)
	env.prices.prices["BTCUSDT"] = 100
	assert.NoError(t, env.wallets.Credit("alice", 100, "seed"))

	order, err := env.manager.CreateOrder("alice", id, models.DirectionUp, 10, 60)
	assert.NoError(t, err)

	err = env.manager.Settle(order.ID, 110)
	assert.NoError(t, err)

	var result models.TradeResult
	assert.NoError(t, env.db.Where("trade_order_id = ?", order.ID).First(&result).Error)
	assert.Equal(t, models.OutcomeWin, result.Outcome)
	assert.Equal(t, 8.5, result.Profit)

	w, err := env.wallets.Get("alice")
	assert.NoError(t, err)
	assert.Equal(t, 98.5, w.Available)
	assert.Equal(t, 0.0, w.Locked)

	evt := waitSettled(t, env)
	assert.Equal(t, models.OutcomeWin, evt.Outcome)
	assert.Equal(t, 110.0, evt.SettlePrice)
}

func TestSettle_Lose(t *testing.T) {
	env := setupTest(t)
	id := seedInstrument(t, env, "BTCUSDT", 0.85, true)
	env.prices.prices["BTCUSDT"] = 100
	assert.NoError(t, env.wallets.Credit("alice", 100, "seed"))

	order, err := env.manager.CreateOrder("alice", id, models.DirectionUp, 10, 60)
	assert.NoError(t, err)

	err = env.manager.Settle(order.ID, 90)
	assert.NoError(t, err)

	var result models.TradeResult
	assert.NoError(t, env.db.Where("trade_order_id = ?", order.ID).First(&result).Error)
	assert.Equal(t, models.OutcomeLose, result.Outcome)
	assert.Equal(t, -10.0, result.Profit)

	w, err := env.wallets.Get("alice")
	assert.NoError(t, err)
	assert.Equal(t, 90.0, w.Available)
	assert.Equal(t, 0.0, w.Locked)
}

func TestSettle_ExactEntryPriceIsLose(t *testing.T) {
	env := setupTest(t)
	id := seedInstrument(t, env, "BTCUSDT", 0.85, true)
	env.prices.prices["BTCUSDT"] = 100
	assert.NoError(t, env.wallets.Credit("alice", 100, "seed"))

	order, err := env.manager.CreateOrder("alice", id, models.DirectionUp, 10, 60)
	assert.NoError(t, err)

	assert.NoError(t, env.manager.Settle(order.ID, 100))

	var result models.TradeResult
	assert.NoError(t, env.db.Where("trade_order_id = ?", order.ID).First(&result).Error)
	assert.Equal(t, models.OutcomeLose, result.Outcome)
}

func TestSettle_Idempotent(t *testing.T) {
	env := setupTest(t)
	id := seedInstrument(t, env, "BTCUSDT", 0.85, true)
	env.prices.prices["BTCUSDT"] = 100
	assert.NoError(t, env.wallets.Credit("alice", 100, "seed"))

	order, err := env.manager.CreateOrder("alice", id, models.DirectionUp, 10, 60)
	assert.NoError(t, err)

	assert.NoError(t, env.manager.Settle(order.ID, 110))
	assert.NoError(t, env.manager.Settle(order.ID, 90)) // second call is a no-op

	// Exactly one result row.
	var results int64
	assert.NoError(t, env.db.Model(&models.TradeResult{}).Where("trade_order_id = ?", order.ID).Count(&results).Error)
	assert.Equal(t, int64(1), results)

	// Exactly one settle entry in the audit trail.
	var settles int64
	assert.NoError(t, env.db.Model(&models.WalletTransaction{}).
		Where("user_id = ? AND type = ?", "alice", models.TxTypeSettle).
		Count(&settles).Error)
	assert.Equal(t, int64(1), settles)

	// The wallet moved once.
	w, err := env.wallets.Get("alice")
	assert.NoError(t, err)
	assert.Equal(t, 98.5, w.Available)
	assert.Equal(t, 0.0, w.Locked)
}

func TestSettle_MissingOrderIsNoop(t *testing.T) {
	env := setupTest(t)
	assert.NoError(t, env.manager.Settle(12345, 100))
}

func TestCreateMirrorOrder_FlagsEvent(t *testing.T) {
	env := setupTest(t)
	id := seedInstrument(t, env, "BTCUSDT", 0.85, true)
	env.prices.prices["BTCUSDT"] = 100
	assert.NoError(t, env.wallets.Credit("bob", 50, "seed"))

	_, err := env.manager.CreateMirrorOrder("bob", id, models.DirectionUp, 5, 60)
	assert.NoError(t, err)

	evt := waitCreated(t, env)
	assert.True(t, evt.Mirrored)
}
