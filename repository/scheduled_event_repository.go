package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mkarimv/Raijin/models"
)

// ScheduledEventRepositoryImpl implements ScheduledEventRepository interface
type ScheduledEventRepositoryImpl struct {
	*BaseRepository[models.ScheduledEvent, models.ScheduledEventFilter]
}

// NewScheduledEventRepository creates a new scheduled event repository
func NewScheduledEventRepository(db *gorm.DB) ScheduledEventRepository {
	return &ScheduledEventRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ScheduledEvent, models.ScheduledEventFilter](db),
	}
}

// ByFilter retrieves scheduled events based on filter criteria
func (r *ScheduledEventRepositoryImpl) ByFilter(ctx context.Context, filter models.ScheduledEventFilter, orderBy string, limit, offset int) ([]*models.ScheduledEvent, error) {
	db := r.getDB(ctx).Model(&models.ScheduledEvent{})

	if filter.DialTargetID != nil {
		db = db.Where("dial_target_id = ?", *filter.DialTargetID)
	}
	if filter.BroadcastID != nil {
		db = db.Where("broadcast_id = ?", *filter.BroadcastID)
	}
	if filter.Kind != nil {
		db = db.Where("kind = ?", *filter.Kind)
	}

	var events []*models.ScheduledEvent
	err := listQuery(db, orderBy, limit, offset).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find scheduled events by filter: %w", err)
	}

	return events, nil
}

// ListDue retrieves events whose run_at has passed, oldest first
func (r *ScheduledEventRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledEvent, error) {
	db := r.getDB(ctx)

	var events []*models.ScheduledEvent
	err := db.
		Where("run_at <= ?", now).
		Order("run_at ASC, id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due scheduled events: %w", err)
	}

	return events, nil
}

// Delete removes a consumed event
func (r *ScheduledEventRepositoryImpl) Delete(ctx context.Context, id uint) error {
	db := r.getDB(ctx)

	err := db.Delete(&models.ScheduledEvent{}, id).Error
	if err != nil {
		return fmt.Errorf("failed to delete scheduled event %d: %w", id, err)
	}

	return nil
}

// DeleteForTarget removes every pending event of a dial target; used when the
// target reaches a state that makes the scheduled work moot
func (r *ScheduledEventRepositoryImpl) DeleteForTarget(ctx context.Context, dialTargetID uint) (int64, error) {
	db := r.getDB(ctx)

	result := db.Where("dial_target_id = ?", dialTargetID).Delete(&models.ScheduledEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete scheduled events for target %d: %w", dialTargetID, result.Error)
	}

	return result.RowsAffected, nil
}

// CountForTarget counts pending events of a dial target
func (r *ScheduledEventRepositoryImpl) CountForTarget(ctx context.Context, dialTargetID uint) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.ScheduledEvent{}).
		Where("dial_target_id = ?", dialTargetID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count scheduled events for target %d: %w", dialTargetID, err)
	}

	return count, nil
}
