package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/utils"
)

// BroadcastRepositoryImpl implements BroadcastRepository interface
type BroadcastRepositoryImpl struct {
	*BaseRepository[models.Broadcast, models.BroadcastFilter]
}

// NewBroadcastRepository creates a new broadcast repository
func NewBroadcastRepository(db *gorm.DB) BroadcastRepository {
	return &BroadcastRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Broadcast, models.BroadcastFilter](db),
	}
}

// ByUUID retrieves a broadcast by UUID
func (r *BroadcastRepositoryImpl) ByUUID(ctx context.Context, uuidStr string) (*models.Broadcast, error) {
	id, err := utils.ParseUUID(uuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID format: %w", err)
	}

	db := r.getDB(ctx)

	var broadcast models.Broadcast
	err = db.Where("uuid = ?", id).Last(&broadcast).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find broadcast by UUID: %w", err)
	}

	return &broadcast, nil
}

// ByFilter retrieves broadcasts based on filter criteria
func (r *BroadcastRepositoryImpl) ByFilter(ctx context.Context, filter models.BroadcastFilter, orderBy string, limit, offset int) ([]*models.Broadcast, error) {
	db := r.getDB(ctx).Model(&models.Broadcast{})

	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.Name != nil {
		db = db.Where("name ILIKE ?", "%"+*filter.Name+"%")
	}

	var broadcasts []*models.Broadcast
	err := listQuery(db, orderBy, limit, offset).Find(&broadcasts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find broadcasts by filter: %w", err)
	}

	return broadcasts, nil
}

// ListByStatus retrieves all broadcasts with the given status
func (r *BroadcastRepositoryImpl) ListByStatus(ctx context.Context, status models.BroadcastStatus) ([]*models.Broadcast, error) {
	db := r.getDB(ctx)

	var broadcasts []*models.Broadcast
	err := db.Where("status = ?", status).Order("id ASC").Find(&broadcasts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcasts by status: %w", err)
	}

	return broadcasts, nil
}

// TransitionStatus performs a compare-and-set status change and stamps the
// lifecycle timestamps
func (r *BroadcastRepositoryImpl) TransitionStatus(ctx context.Context, id uint, from, to models.BroadcastStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("invalid broadcast transition %s -> %s", from, to)
	}

	db := r.getDB(ctx)

	now := utils.UTCNow()
	updates := map[string]any{
		"status":     to,
		"updated_at": now,
	}
	switch to {
	case models.BroadcastStatusRunning:
		if from == models.BroadcastStatusDraft {
			updates["started_at"] = now
		}
	case models.BroadcastStatusStopped, models.BroadcastStatusCompleted:
		updates["stopped_at"] = now
	}

	result := db.Model(&models.Broadcast{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition broadcast %d: %w", id, result.Error)
	}

	return result.RowsAffected > 0, nil
}

// UpdateSpec replaces the broadcast's pacing and behavior settings
func (r *BroadcastRepositoryImpl) UpdateSpec(ctx context.Context, id uint, spec models.BroadcastSpec) error {
	db := r.getDB(ctx)

	err := db.Model(&models.Broadcast{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"spec":       spec,
			"updated_at": utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update broadcast spec %d: %w", id, err)
	}

	return nil
}
