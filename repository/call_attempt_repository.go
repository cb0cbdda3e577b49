package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/utils"
)

// CallAttemptRepositoryImpl implements CallAttemptRepository interface
type CallAttemptRepositoryImpl struct {
	*BaseRepository[models.CallAttempt, models.CallAttemptFilter]
}

// NewCallAttemptRepository creates a new call attempt repository
func NewCallAttemptRepository(db *gorm.DB) CallAttemptRepository {
	return &CallAttemptRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CallAttempt, models.CallAttemptFilter](db),
	}
}

// ByFilter retrieves call attempts based on filter criteria
func (r *CallAttemptRepositoryImpl) ByFilter(ctx context.Context, filter models.CallAttemptFilter, orderBy string, limit, offset int) ([]*models.CallAttempt, error) {
	db := r.getDB(ctx).Model(&models.CallAttempt{})

	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.DialTargetID != nil {
		db = db.Where("dial_target_id = ?", *filter.DialTargetID)
	}
	if filter.BroadcastID != nil {
		db = db.Where("broadcast_id = ?", *filter.BroadcastID)
	}
	if filter.ProviderCallID != nil {
		db = db.Where("provider_call_id = ?", *filter.ProviderCallID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}

	var attempts []*models.CallAttempt
	err := listQuery(db, orderBy, limit, offset).Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find call attempts by filter: %w", err)
	}

	return attempts, nil
}

// ByProviderCallID retrieves an attempt by the provider's call identifier.
// Call IDs are only unique within one provider namespace, so the lookup is
// scoped by provider type.
func (r *CallAttemptRepositoryImpl) ByProviderCallID(ctx context.Context, providerType models.ProviderType, providerCallID string) (*models.CallAttempt, error) {
	db := r.getDB(ctx)

	var attempt models.CallAttempt
	err := db.
		Where("provider_type = ? AND provider_call_id = ?", providerType, providerCallID).
		Last(&attempt).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find call attempt by provider call ID: %w", err)
	}

	return &attempt, nil
}

// ActiveByTarget retrieves the latest non-terminal attempt of a dial target
func (r *CallAttemptRepositoryImpl) ActiveByTarget(ctx context.Context, dialTargetID uint) (*models.CallAttempt, error) {
	db := r.getDB(ctx)

	var attempt models.CallAttempt
	err := db.
		Where("dial_target_id = ? AND status IN ?", dialTargetID, activeAttemptStatuses()).
		Order("id DESC").
		First(&attempt).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active call attempt: %w", err)
	}

	return &attempt, nil
}

// SetProviderCallID records the identifier returned by the provider
func (r *CallAttemptRepositoryImpl) SetProviderCallID(ctx context.Context, id uint, providerCallID string) error {
	db := r.getDB(ctx)

	err := db.Model(&models.CallAttempt{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"provider_call_id": providerCallID,
			"updated_at":       utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to set provider call ID on attempt %d: %w", id, err)
	}

	return nil
}

// TransitionStatus performs a compare-and-set on a non-terminal attempt
func (r *CallAttemptRepositoryImpl) TransitionStatus(ctx context.Context, id uint, from, to models.CallAttemptStatus, answeredAt *time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("invalid call attempt transition %s -> %s", from, to)
	}

	db := r.getDB(ctx)

	updates := map[string]any{
		"status":     to,
		"updated_at": utils.UTCNow(),
	}
	if answeredAt != nil {
		updates["answered_at"] = *answeredAt
	}

	result := db.Model(&models.CallAttempt{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition call attempt %d: %w", id, result.Error)
	}

	return result.RowsAffected > 0, nil
}

// FinalizeIfActive writes the terminal state only when the attempt is still
// live. Duplicate webhooks and the stale sweeper may both try to finish the
// same attempt; whichever UPDATE lands first wins and the rest are no-ops.
func (r *CallAttemptRepositoryImpl) FinalizeIfActive(ctx context.Context, id uint, status models.CallAttemptStatus, outcome models.CallOutcome, durationSeconds *int, endedAt time.Time, lastError *string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("cannot finalize call attempt with non-terminal status %s", status)
	}

	db := r.getDB(ctx)

	updates := map[string]any{
		"status":     status,
		"outcome":    outcome,
		"ended_at":   endedAt,
		"updated_at": utils.UTCNow(),
	}
	if durationSeconds != nil {
		updates["duration_seconds"] = *durationSeconds
	}
	if lastError != nil {
		updates["last_error"] = *lastError
	}

	result := db.Model(&models.CallAttempt{}).
		Where("id = ? AND status IN ?", id, activeAttemptStatuses()).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to finalize call attempt %d: %w", id, result.Error)
	}

	return result.RowsAffected > 0, nil
}

// AppendDTMF appends a digit to the attempt's DTMF history
func (r *CallAttemptRepositoryImpl) AppendDTMF(ctx context.Context, id uint, digit string) error {
	db := r.getDB(ctx)

	err := db.Model(&models.CallAttempt{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"dtmf_pressed": gorm.Expr("array_append(dtmf_pressed, ?)", digit),
			"updated_at":   utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to append DTMF on attempt %d: %w", id, err)
	}

	return nil
}

// Reclassify rewrites the outcome of a finished attempt
func (r *CallAttemptRepositoryImpl) Reclassify(ctx context.Context, id uint, outcome models.CallOutcome, reclassifiedBy string) (bool, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.CallAttempt{}).
		Where("id = ? AND status NOT IN ?", id, activeAttemptStatuses()).
		Updates(map[string]any{
			"outcome":         outcome,
			"reclassified_by": reclassifiedBy,
			"updated_at":      utils.UTCNow(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to reclassify call attempt %d: %w", id, result.Error)
	}

	return result.RowsAffected > 0, nil
}

// CountInFlight counts non-terminal attempts for a broadcast
func (r *CallAttemptRepositoryImpl) CountInFlight(ctx context.Context, broadcastID uint) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.CallAttempt{}).
		Where("broadcast_id = ? AND status IN ?", broadcastID, activeAttemptStatuses()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count in-flight call attempts: %w", err)
	}

	return count, nil
}

func activeAttemptStatuses() []models.CallAttemptStatus {
	return []models.CallAttemptStatus{
		models.CallAttemptStatusQueued,
		models.CallAttemptStatusRinging,
		models.CallAttemptStatusInProgress,
	}
}
