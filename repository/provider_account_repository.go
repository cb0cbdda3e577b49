package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/utils"
)

// ProviderAccountRepositoryImpl implements ProviderAccountRepository interface
type ProviderAccountRepositoryImpl struct {
	*BaseRepository[models.ProviderAccount, models.ProviderAccountFilter]
}

// NewProviderAccountRepository creates a new provider account repository
func NewProviderAccountRepository(db *gorm.DB) ProviderAccountRepository {
	return &ProviderAccountRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ProviderAccount, models.ProviderAccountFilter](db),
	}
}

// ByUUID retrieves a provider account by UUID
func (r *ProviderAccountRepositoryImpl) ByUUID(ctx context.Context, uuidStr string) (*models.ProviderAccount, error) {
	id, err := utils.ParseUUID(uuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID format: %w", err)
	}

	db := r.getDB(ctx)

	var account models.ProviderAccount
	err = db.Where("uuid = ?", id).Last(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find provider account by UUID: %w", err)
	}

	return &account, nil
}

// ByFilter retrieves provider accounts based on filter criteria
func (r *ProviderAccountRepositoryImpl) ByFilter(ctx context.Context, filter models.ProviderAccountFilter, orderBy string, limit, offset int) ([]*models.ProviderAccount, error) {
	db := r.getDB(ctx).Model(&models.ProviderAccount{})

	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.ProviderType != nil {
		db = db.Where("provider_type = ?", *filter.ProviderType)
	}
	if filter.PhoneNumber != nil {
		db = db.Where("phone_number = ?", *filter.PhoneNumber)
	}
	if filter.IsActive != nil {
		db = db.Where("is_active = ?", *filter.IsActive)
	}

	var accounts []*models.ProviderAccount
	err := listQuery(db, orderBy, limit, offset).Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find provider accounts by filter: %w", err)
	}

	return accounts, nil
}

// ListActive retrieves all active provider accounts
func (r *ProviderAccountRepositoryImpl) ListActive(ctx context.Context) ([]*models.ProviderAccount, error) {
	db := r.getDB(ctx)

	var accounts []*models.ProviderAccount
	err := db.Where("is_active = ?", true).Order("id ASC").Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active provider accounts: %w", err)
	}

	return accounts, nil
}

// PickWithCapacity selects the least-recently-used active account that still
// has room. Ordering by last_used_at spreads load across accounts instead of
// draining the first one.
func (r *ProviderAccountRepositoryImpl) PickWithCapacity(ctx context.Context, maxPerProvider int) (*models.ProviderAccount, error) {
	if maxPerProvider <= 0 {
		return nil, nil
	}

	db := r.getDB(ctx)

	var account models.ProviderAccount
	err := db.
		Where("is_active = ? AND current_in_flight < ?", true, maxPerProvider).
		Order("last_used_at ASC NULLS FIRST, id ASC").
		First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pick provider account: %w", err)
	}

	return &account, nil
}

// IncrementUsage bumps the in-flight and daily counters in one conditional
// UPDATE. The capacity check sits inside the WHERE clause, so two dispatch
// workers cannot both take the last slot.
func (r *ProviderAccountRepositoryImpl) IncrementUsage(ctx context.Context, id uint, maxPerProvider int, now time.Time) (bool, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.ProviderAccount{}).
		Where("id = ? AND is_active = ? AND current_in_flight < ?", id, true, maxPerProvider).
		Updates(map[string]any{
			"current_in_flight": gorm.Expr("current_in_flight + 1"),
			"daily_call_count":  gorm.Expr("daily_call_count + 1"),
			"last_used_at":      now,
			"updated_at":        utils.UTCNow(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to increment usage on provider account %d: %w", id, result.Error)
	}

	return result.RowsAffected > 0, nil
}

// DecrementInFlight lowers the in-flight counter, flooring at zero so a
// duplicate terminal webhook cannot drive it negative
func (r *ProviderAccountRepositoryImpl) DecrementInFlight(ctx context.Context, id uint) error {
	db := r.getDB(ctx)

	err := db.Model(&models.ProviderAccount{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"current_in_flight": gorm.Expr("GREATEST(current_in_flight - 1, 0)"),
			"updated_at":        utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to decrement in-flight on provider account %d: %w", id, err)
	}

	return nil
}

// ResetDailyCounts zeroes daily_call_count across all accounts
func (r *ProviderAccountRepositoryImpl) ResetDailyCounts(ctx context.Context) error {
	db := r.getDB(ctx)

	err := db.Model(&models.ProviderAccount{}).
		Where("daily_call_count > 0").
		Updates(map[string]any{
			"daily_call_count": 0,
			"updated_at":       utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reset daily call counts: %w", err)
	}

	return nil
}
