package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mkarimv/Raijin/models"
)

// TriggerAccountRepositoryImpl implements TriggerAccountRepository interface
type TriggerAccountRepositoryImpl struct {
	*BaseRepository[models.TriggerAccount, models.TriggerAccountFilter]
}

// NewTriggerAccountRepository creates a new trigger account repository
func NewTriggerAccountRepository(db *gorm.DB) TriggerAccountRepository {
	return &TriggerAccountRepositoryImpl{
		BaseRepository: NewBaseRepository[models.TriggerAccount, models.TriggerAccountFilter](db),
	}
}

// ByFilter retrieves trigger accounts based on filter criteria
func (r *TriggerAccountRepositoryImpl) ByFilter(ctx context.Context, filter models.TriggerAccountFilter, orderBy string, limit, offset int) ([]*models.TriggerAccount, error) {
	db := r.getDB(ctx).Model(&models.TriggerAccount{})

	if filter.APIKeyID != nil {
		db = db.Where("api_key_id = ?", *filter.APIKeyID)
	}
	if filter.IsActive != nil {
		db = db.Where("is_active = ?", *filter.IsActive)
	}

	var accounts []*models.TriggerAccount
	err := listQuery(db, orderBy, limit, offset).Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find trigger accounts by filter: %w", err)
	}

	return accounts, nil
}

// ByAPIKeyID retrieves a trigger account by its public key identifier
func (r *TriggerAccountRepositoryImpl) ByAPIKeyID(ctx context.Context, apiKeyID string) (*models.TriggerAccount, error) {
	db := r.getDB(ctx)

	var account models.TriggerAccount
	err := db.Where("api_key_id = ?", apiKeyID).Last(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find trigger account by key ID: %w", err)
	}

	return &account, nil
}

// TouchLastSeen records the last successful authentication time
func (r *TriggerAccountRepositoryImpl) TouchLastSeen(ctx context.Context, id uint, at time.Time) error {
	db := r.getDB(ctx)

	err := db.Model(&models.TriggerAccount{}).
		Where("id = ?", id).
		Update("last_seen_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to touch last seen on trigger account %d: %w", id, err)
	}

	return nil
}
