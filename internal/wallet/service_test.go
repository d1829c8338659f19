package wallet

import (
	"testing"

	"binary-options-engine-go/internal/models"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTest creates a wallet service over a fresh in-memory database.
func setupTest(t *testing.T) (*Service, *gorm.DB) {
	// Use a new, non-shared in-memory database for each test to ensure isolation.
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)

	err = db.AutoMigrate(&models.Wallet{}, &models.WalletTransaction{})
	assert.NoError(t, err)

	return NewService(zap.NewNop(), db), db
}

func fundWallet(t *testing.T, svc *Service, userID string, amount float64) {
	assert.NoError(t, svc.Credit(userID, amount, "seed"))
}

func TestGet_CreatesEmptyWallet(t *testing.T) {
	svc, _ := setupTest(t)

	w, err := svc.Get("alice")
	assert.NoError(t, err)
	assert.Equal(t, "alice", w.UserID)
	assert.Equal(t, 0.0, w.Available)
	assert.Equal(t, 0.0, w.Locked)
}

func TestLockBalance_MovesAvailableToLocked(t *testing.T) {
	svc, _ := setupTest(t)
	fundWallet(t, svc, "alice", 100)

	err := svc.LockBalance("alice", 10, "order-1")
	assert.NoError(t, err)

	w, err := svc.Get("alice")
	assert.NoError(t, err)
	assert.Equal(t, 90.0, w.Available)
	assert.Equal(t, 10.0, w.Locked)
}

func TestLockBalance_Insufficient(t *testing.T) {
	svc, _ := setupTest(t)
	fundWallet(t, svc, "alice", 5)

	err := svc.LockBalance("alice", 10, "order-1")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// The wallet is untouched and no audit row was written for the lock.
	w, err := svc.Get("alice")
	assert.NoError(t, err)
	assert.Equal(t, 5.0, w.Available)
	assert.Equal(t, 0.0, w.Locked)

	txs, err := svc.Transactions("alice", 10)
	assert.NoError(t, err)
	assert.Len(t, txs, 1) // only the seed deposit
	assert.Equal(t, models.TxTypeDeposit, txs[0].Type)
}

func TestSettleWin_ReleasesStakeAndCreditsProfit(t *testing.T) {
	svc, _ := setupTest(t)
	fundWallet(t, svc, "alice", 100)
	assert.NoError(t, svc.LockBalance("alice", 10, "order-1"))

	err := svc.SettleWin("alice", 10, 8.5, "trade:1")
	assert.NoError(t, err)

	w, err := svc.Get("alice")
	assert.NoError(t, err)
	assert.Equal(t, 98.5, w.Available)
	assert.Equal(t, 0.0, w.Locked)
}

func TestSettleLose_ForfeitsStakeOnly(t *testing.T) {
	svc, _ := setupTest(t)
	fundWallet(t, svc, "alice", 100)
	assert.NoError(t, svc.LockBalance("alice", 10, "order-1"))

	err := svc.SettleLose("alice", 10, "trade:1")
	assert.NoError(t, err)

	w, err := svc.Get("alice")
	assert.NoError(t, err)
	assert.Equal(t, 90.0, w.Available)
	assert.Equal(t, 0.0, w.Locked)
}

func TestUnlockBalance_ReversesLock(t *testing.T) {
	svc, _ := setupTest(t)
	fundWallet(t, svc, "alice", 100)
	assert.NoError(t, svc.LockBalance("alice", 25, "order-1"))

	err := svc.UnlockBalance("alice", 25, "order-1")
	assert.NoError(t, err)

	w, err := svc.Get("alice")
	assert.NoError(t, err)
	assert.Equal(t, 100.0, w.Available)
	assert.Equal(t, 0.0, w.Locked)
}

func TestSettle_MoreThanLockedFails(t *testing.T) {
	svc, _ := setupTest(t)
	fundWallet(t, svc, "alice", 100)
	assert.NoError(t, svc.LockBalance("alice", 10, "order-1"))

	err := svc.SettleLose("alice", 20, "trade:1")
	assert.Error(t, err)

	// The failed transaction rolled back; balances are unchanged.
	w, err := svc.Get("alice")
	assert.NoError(t, err)
	assert.Equal(t, 90.0, w.Available)
	assert.Equal(t, 10.0, w.Locked)
}

func TestDebit_RequiresAvailable(t *testing.T) {
	svc, _ := setupTest(t)
	fundWallet(t, svc, "alice", 30)

	assert.NoError(t, svc.Debit("alice", 20, "wd-1"))
	assert.ErrorIs(t, svc.Debit("alice", 20, "wd-2"), ErrInsufficientBalance)

	w, err := svc.Get("alice")
	assert.NoError(t, err)
	assert.Equal(t, 10.0, w.Available)
}

func TestAuditTrail_OneRowPerMutation(t *testing.T) {
	svc, db := setupTest(t)
	fundWallet(t, svc, "alice", 100)
	assert.NoError(t, svc.LockBalance("alice", 10, "order-1"))
	assert.NoError(t, svc.SettleWin("alice", 10, 8.5, "trade:1"))

	var count int64
	assert.NoError(t, db.Model(&models.WalletTransaction{}).Where("user_id = ?", "alice").Count(&count).Error)
	assert.Equal(t, int64(3), count)

	txs, err := svc.Transactions("alice", 10)
	assert.NoError(t, err)
	types := make([]string, 0, len(txs))
	for _, tx := range txs {
		types = append(types, tx.Type)
	}
	assert.Contains(t, types, models.TxTypeDeposit)
	assert.Contains(t, types, models.TxTypeLock)
	assert.Contains(t, types, models.TxTypeSettle)
}
