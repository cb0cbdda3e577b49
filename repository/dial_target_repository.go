package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/utils"
)

// DialTargetRepositoryImpl implements DialTargetRepository interface
type DialTargetRepositoryImpl struct {
	*BaseRepository[models.DialTarget, models.DialTargetFilter]
}

// NewDialTargetRepository creates a new dial target repository
func NewDialTargetRepository(db *gorm.DB) DialTargetRepository {
	return &DialTargetRepositoryImpl{
		BaseRepository: NewBaseRepository[models.DialTarget, models.DialTargetFilter](db),
	}
}

// ByUUID retrieves a dial target by UUID
func (r *DialTargetRepositoryImpl) ByUUID(ctx context.Context, uuidStr string) (*models.DialTarget, error) {
	id, err := utils.ParseUUID(uuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID format: %w", err)
	}

	db := r.getDB(ctx)

	var target models.DialTarget
	err = db.Where("uuid = ?", id).Last(&target).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find dial target by UUID: %w", err)
	}

	return &target, nil
}

// ByFilter retrieves dial targets based on filter criteria
func (r *DialTargetRepositoryImpl) ByFilter(ctx context.Context, filter models.DialTargetFilter, orderBy string, limit, offset int) ([]*models.DialTarget, error) {
	db := r.getDB(ctx).Model(&models.DialTarget{})

	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.BroadcastID != nil {
		db = db.Where("broadcast_id = ?", *filter.BroadcastID)
	}
	if filter.PhoneNumber != nil {
		db = db.Where("phone_number = ?", *filter.PhoneNumber)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.MinPriority != nil {
		db = db.Where("priority >= ?", *filter.MinPriority)
	}

	var targets []*models.DialTarget
	err := listQuery(db, orderBy, limit, offset).Find(&targets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find dial targets by filter: %w", err)
	}

	return targets, nil
}

// SelectDispatchBatch returns dialable pending targets for a broadcast. Higher
// priority first, then oldest scheduled_at. Numbers on the DNC registry are
// filtered out at selection time so opt-outs recorded mid-broadcast take
// effect on the very next tick.
func (r *DialTargetRepositoryImpl) SelectDispatchBatch(ctx context.Context, broadcastID uint, limit int, now time.Time) ([]*models.DialTarget, error) {
	db := r.getDB(ctx)

	var targets []*models.DialTarget
	err := db.
		Where("broadcast_id = ?", broadcastID).
		Where("status = ?", models.DialTargetStatusPending).
		Where("scheduled_at <= ?", now).
		Where("NOT EXISTS (SELECT 1 FROM dnc_entries WHERE dnc_entries.phone_number = dial_targets.phone_number)").
		Order("priority DESC, scheduled_at ASC, id ASC").
		Limit(limit).
		Find(&targets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select dispatch batch: %w", err)
	}

	return targets, nil
}

// ClaimForDispatch transitions a target from pending to calling and counts the
// attempt, all in one conditional UPDATE. Two ticks racing for the same row
// produce exactly one winner; the loser sees false and skips the target.
func (r *DialTargetRepositoryImpl) ClaimForDispatch(ctx context.Context, id uint) (bool, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.DialTarget{}).
		Where("id = ? AND status = ?", id, models.DialTargetStatusPending).
		Updates(map[string]any{
			"status":     models.DialTargetStatusCalling,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": utils.UTCNow(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim dial target %d: %w", id, result.Error)
	}

	return result.RowsAffected > 0, nil
}

// Unclaim rolls back a claim that never produced a dial. The attempt counter
// is refunded because no call was placed.
func (r *DialTargetRepositoryImpl) Unclaim(ctx context.Context, id uint) (bool, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.DialTarget{}).
		Where("id = ? AND status = ?", id, models.DialTargetStatusCalling).
		Updates(map[string]any{
			"status":     models.DialTargetStatusPending,
			"attempts":   gorm.Expr("GREATEST(attempts - 1, 0)"),
			"updated_at": utils.UTCNow(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to unclaim dial target %d: %w", id, result.Error)
	}

	return result.RowsAffected > 0, nil
}

// TransitionStatus performs a compare-and-set status change
func (r *DialTargetRepositoryImpl) TransitionStatus(ctx context.Context, id uint, from, to models.DialTargetStatus, lastError *string) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("invalid dial target transition %s -> %s", from, to)
	}

	db := r.getDB(ctx)

	updates := map[string]any{
		"status":     to,
		"updated_at": utils.UTCNow(),
	}
	if lastError != nil {
		updates["last_error"] = *lastError
	}

	result := db.Model(&models.DialTarget{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition dial target %d: %w", id, result.Error)
	}

	return result.RowsAffected > 0, nil
}

// ListStale returns targets stuck in calling since before the cutoff
func (r *DialTargetRepositoryImpl) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.DialTarget, error) {
	db := r.getDB(ctx)

	var targets []*models.DialTarget
	err := db.
		Where("status = ? AND updated_at < ?", models.DialTargetStatusCalling, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&targets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale dial targets: %w", err)
	}

	return targets, nil
}

// RevertCallingToPending moves calling items of a broadcast back to pending
func (r *DialTargetRepositoryImpl) RevertCallingToPending(ctx context.Context, broadcastID uint) (int64, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.DialTarget{}).
		Where("broadcast_id = ? AND status = ?", broadcastID, models.DialTargetStatusCalling).
		Updates(map[string]any{
			"status":     models.DialTargetStatusPending,
			"updated_at": utils.UTCNow(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to revert calling targets for broadcast %d: %w", broadcastID, result.Error)
	}

	return result.RowsAffected, nil
}

// ExistsActive reports whether a pending or calling row already holds the
// (broadcast, phone) slot
func (r *DialTargetRepositoryImpl) ExistsActive(ctx context.Context, broadcastID uint, phoneNumber string) (bool, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.DialTarget{}).
		Where("broadcast_id = ? AND phone_number = ? AND status IN ?",
			broadcastID, phoneNumber,
			[]models.DialTargetStatus{models.DialTargetStatusPending, models.DialTargetStatusCalling}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check active dial target: %w", err)
	}

	return count > 0, nil
}

// CountByStatus aggregates target counts per status for a broadcast
func (r *DialTargetRepositoryImpl) CountByStatus(ctx context.Context, broadcastID uint) (map[models.DialTargetStatus]int64, error) {
	db := r.getDB(ctx)

	type row struct {
		Status models.DialTargetStatus
		Total  int64
	}
	var rows []row
	err := db.Model(&models.DialTarget{}).
		Select("status, COUNT(*) AS total").
		Where("broadcast_id = ?", broadcastID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count dial targets by status: %w", err)
	}

	counts := make(map[models.DialTargetStatus]int64, len(rows))
	for _, rw := range rows {
		counts[rw.Status] = rw.Total
	}

	return counts, nil
}

// RecentFailures returns the latest failed or exhausted targets
func (r *DialTargetRepositoryImpl) RecentFailures(ctx context.Context, broadcastID uint, limit int) ([]*models.DialTarget, error) {
	db := r.getDB(ctx)

	var targets []*models.DialTarget
	err := db.
		Where("broadcast_id = ? AND status IN ?", broadcastID,
			[]models.DialTargetStatus{models.DialTargetStatusFailed, models.DialTargetStatusExhausted}).
		Order("updated_at DESC").
		Limit(limit).
		Find(&targets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent failures: %w", err)
	}

	return targets, nil
}

// HasLiveTargets reports whether any pending or calling rows remain
func (r *DialTargetRepositoryImpl) HasLiveTargets(ctx context.Context, broadcastID uint) (bool, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.DialTarget{}).
		Where("broadcast_id = ? AND status IN ?", broadcastID,
			[]models.DialTargetStatus{models.DialTargetStatusPending, models.DialTargetStatusCalling}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count live dial targets: %w", err)
	}

	return count > 0, nil
}
