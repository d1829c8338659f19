package trade

import (
	"testing"
	"time"

	"binary-options-engine-go/internal/models"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestScheduler(env *testEnv) *Scheduler {
	return NewScheduler(zap.NewNop(), env.db, env.manager, env.prices, 5*time.Second)
}

// expireOrder backdates an order so the next sweep picks it up.
func expireOrder(t *testing.T, env *testEnv, tradeID uint) {
	err := env.db.Model(&models.TradeOrder{}).
		Where("id = ?", tradeID).
		Update("expire_time", time.Now().Add(-time.Minute)).Error
	assert.NoError(t, err)
}

func TestSweep_SettlesOnlyExpiredOrders(t *testing.T) {
	env := setupTest(t)
	id := seedInstrument(t, env, "BTCUSDT", 0.85, true)
	env.prices.prices["BTCUSDT"] = 100
	assert.NoError(t, env.wallets.Credit("alice", 100, "seed"))

	expired, err := env.manager.CreateOrder("alice", id, models.DirectionUp, 10, 60)
	assert.NoError(t, err)
	open, err := env.manager.CreateOrder("alice", id, models.DirectionDown, 10, 3600)
	assert.NoError(t, err)
	expireOrder(t, env, expired.ID)

	env.prices.prices["BTCUSDT"] = 110
	scheduler := newTestScheduler(env)
	assert.NoError(t, scheduler.Sweep())

	settledOrder, err := env.manager.Order(expired.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusSettled, settledOrder.Status)

	stillOpen, err := env.manager.Order(open.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusLocked, stillOpen.Status)

	// UP at entry 100, settled at 110: win pays 8.5, the other stake stays locked.
	w, err := env.wallets.Get("alice")
	assert.NoError(t, err)
	assert.Equal(t, 98.5, w.Available)
	assert.Equal(t, 10.0, w.Locked)
}

func TestSweep_OneFailureDoesNotBlockOthers(t *testing.T) {
	env := setupTest(t)
	btc := seedInstrument(t, env, "BTCUSDT", 0.85, true)
	eth := seedInstrument(t, env, "ETHUSDT", 0.85, true)
	env.prices.prices["BTCUSDT"] = 100
	env.prices.prices["ETHUSDT"] = 10
	assert.NoError(t, env.wallets.Credit("alice", 100, "seed"))

	badPrice, err := env.manager.CreateOrder("alice", eth, models.DirectionUp, 10, 60)
	assert.NoError(t, err)
	good, err := env.manager.CreateOrder("alice", btc, models.DirectionUp, 10, 60)
	assert.NoError(t, err)
	expireOrder(t, env, badPrice.ID)
	expireOrder(t, env, good.ID)

	// ETH loses its price source; its orders defer while BTC settles.
	delete(env.prices.prices, "ETHUSDT")
	env.prices.prices["BTCUSDT"] = 110

	scheduler := newTestScheduler(env)
	assert.NoError(t, scheduler.Sweep())

	settledOrder, err := env.manager.Order(good.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusSettled, settledOrder.Status)

	deferred, err := env.manager.Order(badPrice.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusLocked, deferred.Status)
}

func TestSweep_NonOverlapGuard(t *testing.T) {
	env := setupTest(t)
	id := seedInstrument(t, env, "BTCUSDT", 0.85, true)
	env.prices.prices["BTCUSDT"] = 100
	assert.NoError(t, env.wallets.Credit("alice", 100, "seed"))

	order, err := env.manager.CreateOrder("alice", id, models.DirectionUp, 10, 60)
	assert.NoError(t, err)
	expireOrder(t, env, order.ID)

	scheduler := newTestScheduler(env)

	// Simulate a previous sweep still holding the run token.
	scheduler.running.Store(true)
	assert.NoError(t, scheduler.Sweep())

	unsettled, err := env.manager.Order(order.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusLocked, unsettled.Status)

	// Once the token is released the next sweep settles as usual.
	scheduler.running.Store(false)
	assert.NoError(t, scheduler.Sweep())

	settledOrder, err := env.manager.Order(order.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusSettled, settledOrder.Status)
}
