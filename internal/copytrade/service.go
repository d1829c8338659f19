package copytrade

import (
	"errors"
	"fmt"

	"binary-options-engine-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrSelfFollow is returned when a user tries to follow themselves.
	ErrSelfFollow = errors.New("cannot follow yourself")
	// ErrInvalidCopyType is returned for a copy type other than FIXED or PERCENT.
	ErrInvalidCopyType = errors.New("copy type must be FIXED or PERCENT")
	// ErrInvalidCopyValue is returned for a non-positive copy value.
	ErrInvalidCopyValue = errors.New("copy value must be positive")
	// ErrNotFound is returned when no relationship exists.
	ErrNotFound = errors.New("copy relationship not found")
)

// Service manages copy relationships.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a copy-relationship service.
func NewService(logger *zap.Logger, db *gorm.DB) *Service {
	return &Service{
		logger: logger.Named("copytrade"),
		db:     db,
	}
}

// Follow creates or re-activates the relationship between follower and
// trader, overwriting the scaling parameters.
func (s *Service) Follow(followerID, traderID, copyType string, value, maxAmount float64) (*models.CopyRelationship, error) {
	if followerID == traderID {
		return nil, ErrSelfFollow
	}
	if copyType != models.CopyTypeFixed && copyType != models.CopyTypePercent {
		return nil, ErrInvalidCopyType
	}
	if value <= 0 {
		return nil, ErrInvalidCopyValue
	}

	var rel models.CopyRelationship
	err := s.db.Where("follower_id = ? AND trader_id = ?", followerID, traderID).First(&rel).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rel = models.CopyRelationship{
			FollowerID: followerID,
			TraderID:   traderID,
			CopyType:   copyType,
			Value:      value,
			MaxAmount:  maxAmount,
			Active:     true,
		}
		if err := s.db.Create(&rel).Error; err != nil {
			return nil, fmt.Errorf("failed to create copy relationship: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load copy relationship: %w", err)
	default:
		rel.CopyType = copyType
		rel.Value = value
		rel.MaxAmount = maxAmount
		rel.Active = true
		if err := s.db.Save(&rel).Error; err != nil {
			return nil, fmt.Errorf("failed to update copy relationship: %w", err)
		}
	}

	s.logger.Info("Copy relationship active",
		zap.String("follower_id", followerID),
		zap.String("trader_id", traderID),
		zap.String("copy_type", copyType),
		zap.Float64("value", value),
		zap.Float64("max_amount", maxAmount))
	return &rel, nil
}

// Unfollow soft-disables the relationship. The row is kept for its history.
func (s *Service) Unfollow(followerID, traderID string) error {
	res := s.db.Model(&models.CopyRelationship{}).
		Where("follower_id = ? AND trader_id = ?", followerID, traderID).
		Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to disable copy relationship: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.logger.Info("Copy relationship disabled",
		zap.String("follower_id", followerID),
		zap.String("trader_id", traderID))
	return nil
}

// Following returns all relationships where the user is the follower.
func (s *Service) Following(followerID string) ([]models.CopyRelationship, error) {
	var rels []models.CopyRelationship
	if err := s.db.Where("follower_id = ?", followerID).Find(&rels).Error; err != nil {
		return nil, fmt.Errorf("failed to load copy relationships: %w", err)
	}
	return rels, nil
}

// Followers returns the active relationships targeting the trader.
func (s *Service) Followers(traderID string) ([]models.CopyRelationship, error) {
	var rels []models.CopyRelationship
	err := s.db.Where("trader_id = ? AND active = ?", traderID, true).Find(&rels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load followers: %w", err)
	}
	return rels, nil
}
