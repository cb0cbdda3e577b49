package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mkarimv/Raijin/models"
)

// DNCRepositoryImpl implements DNCRepository interface
type DNCRepositoryImpl struct {
	*BaseRepository[models.DNCEntry, models.DNCEntryFilter]
}

// NewDNCRepository creates a new DNC repository
func NewDNCRepository(db *gorm.DB) DNCRepository {
	return &DNCRepositoryImpl{
		BaseRepository: NewBaseRepository[models.DNCEntry, models.DNCEntryFilter](db),
	}
}

// Upsert inserts the entry, keeping the first recorded source on conflict so
// repeated opt-outs stay idempotent
func (r *DNCRepositoryImpl) Upsert(ctx context.Context, entry *models.DNCEntry) error {
	db := r.getDB(ctx)

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone_number"}},
		DoNothing: true,
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to upsert DNC entry: %w", err)
	}

	return nil
}

// Exists reports whether the phone number is on the registry
func (r *DNCRepositoryImpl) Exists(ctx context.Context, phoneNumber string) (bool, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.DNCEntry{}).
		Where("phone_number = ?", phoneNumber).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check DNC registry: %w", err)
	}

	return count > 0, nil
}

// ByPhone retrieves the DNC entry for a phone number
func (r *DNCRepositoryImpl) ByPhone(ctx context.Context, phoneNumber string) (*models.DNCEntry, error) {
	db := r.getDB(ctx)

	var entry models.DNCEntry
	err := db.Where("phone_number = ?", phoneNumber).Last(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find DNC entry: %w", err)
	}

	return &entry, nil
}
