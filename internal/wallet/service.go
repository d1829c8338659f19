package wallet

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"binary-options-engine-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInsufficientBalance is returned when an operation needs more available
// balance than the wallet holds.
var ErrInsufficientBalance = errors.New("insufficient balance")

// lockStripes is the number of per-user mutex stripes.
const lockStripes = 64

// Service is the balance ledger. Every mutation is a single database
// transaction containing both the balance change and the audit-log append,
// and all mutations for one user are serialized through a striped mutex so
// available+locked conservation holds under concurrent settlement and order
// creation.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
	locks  [lockStripes]sync.Mutex
}

// NewService creates a new wallet ledger service.
func NewService(logger *zap.Logger, db *gorm.DB) *Service {
	return &Service{
		logger: logger.Named("wallet"),
		db:     db,
	}
}

// userLock returns the mutex stripe for the user.
func (s *Service) userLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.locks[h.Sum32()%lockStripes]
}

// Get returns the user's wallet, creating an empty one on first touch.
func (s *Service) Get(userID string) (*models.Wallet, error) {
	var w models.Wallet
	err := s.db.FirstOrCreate(&w, models.Wallet{UserID: userID}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet for user %s: %w", userID, err)
	}
	return &w, nil
}

// LockBalance moves amount from available to locked, reserving the stake of
// a new order. Fails with ErrInsufficientBalance without touching the
// wallet when available is too low.
func (s *Service) LockBalance(userID string, amount float64, reference string) error {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		var w models.Wallet
		if err := tx.FirstOrCreate(&w, models.Wallet{UserID: userID}).Error; err != nil {
			return fmt.Errorf("failed to load wallet: %w", err)
		}
		if w.Available < amount {
			return ErrInsufficientBalance
		}
		w.Available -= amount
		w.Locked += amount
		if err := tx.Save(&w).Error; err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}
		return s.appendLog(tx, userID, models.TxTypeLock, amount, reference)
	})
}

// UnlockBalance reverses a lock, moving amount from locked back to
// available.
func (s *Service) UnlockBalance(userID string, amount float64, reference string) error {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		w, err := s.loadLocked(tx, userID, amount)
		if err != nil {
			return err
		}
		w.Locked -= amount
		w.Available += amount
		if err := tx.Save(w).Error; err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}
		return s.appendLog(tx, userID, models.TxTypeUnlock, amount, reference)
	})
}

// SettleWin releases the stake and credits the profit for a winning order.
func (s *Service) SettleWin(userID string, amount, profit float64, reference string) error {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		w, err := s.loadLocked(tx, userID, amount)
		if err != nil {
			return err
		}
		w.Locked -= amount
		w.Available += amount + profit
		if err := tx.Save(w).Error; err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}
		return s.appendLog(tx, userID, models.TxTypeSettle, profit, reference)
	})
}

// SettleLose forfeits the stake of a losing order. Available is untouched.
func (s *Service) SettleLose(userID string, amount float64, reference string) error {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		w, err := s.loadLocked(tx, userID, amount)
		if err != nil {
			return err
		}
		w.Locked -= amount
		if err := tx.Save(w).Error; err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}
		return s.appendLog(tx, userID, models.TxTypeSettle, -amount, reference)
	})
}

// Credit increases the available balance. Used by the external
// deposit-approval workflow.
func (s *Service) Credit(userID string, amount float64, reference string) error {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		var w models.Wallet
		if err := tx.FirstOrCreate(&w, models.Wallet{UserID: userID}).Error; err != nil {
			return fmt.Errorf("failed to load wallet: %w", err)
		}
		w.Available += amount
		if err := tx.Save(&w).Error; err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}
		return s.appendLog(tx, userID, models.TxTypeDeposit, amount, reference)
	})
}

// Debit decreases the available balance. Used by the external
// withdrawal-approval workflow.
func (s *Service) Debit(userID string, amount float64, reference string) error {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		var w models.Wallet
		if err := tx.FirstOrCreate(&w, models.Wallet{UserID: userID}).Error; err != nil {
			return fmt.Errorf("failed to load wallet: %w", err)
		}
		if w.Available < amount {
			return ErrInsufficientBalance
		}
		w.Available -= amount
		if err := tx.Save(&w).Error; err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}
		return s.appendLog(tx, userID, models.TxTypeWithdraw, -amount, reference)
	})
}

// Transactions returns the most recent audit entries for the user.
func (s *Service) Transactions(userID string, limit int) ([]models.WalletTransaction, error) {
	var txs []models.WalletTransaction
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet transactions: %w", err)
	}
	return txs, nil
}

// loadLocked fetches the wallet and verifies it holds at least amount in
// locked balance.
func (s *Service) loadLocked(tx *gorm.DB, userID string, amount float64) (*models.Wallet, error) {
	var w models.Wallet
	if err := tx.Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	if w.Locked < amount {
		return nil, fmt.Errorf("locked balance %.8f below requested %.8f for user %s", w.Locked, amount, userID)
	}
	return &w, nil
}

func (s *Service) appendLog(tx *gorm.DB, userID, txType string, amount float64, reference string) error {
	entry := models.WalletTransaction{
		UserID:    userID,
		Type:      txType,
		Amount:    amount,
		Reference: reference,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append wallet log: %w", err)
	}
	return nil
}
