// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/mkarimv/Raijin/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
}

// DialTargetRepository defines operations for the dial queue. All status
// writes are compare-and-set: they report whether the transition happened so
// callers can detect that another worker got there first.
type DialTargetRepository interface {
	Repository[models.DialTarget, models.DialTargetFilter]
	ByUUID(ctx context.Context, uuid string) (*models.DialTarget, error)
	// SelectDispatchBatch returns up to limit pending targets for the
	// broadcast, ordered by (priority desc, scheduled_at asc), excluding any
	// phone number present in the DNC registry.
	SelectDispatchBatch(ctx context.Context, broadcastID uint, limit int, now time.Time) ([]*models.DialTarget, error)
	// ClaimForDispatch transitions pending -> calling and increments
	// attempts in one conditional UPDATE.
	ClaimForDispatch(ctx context.Context, id uint) (bool, error)
	// Unclaim rolls back a claim that never produced a dial, restoring
	// pending and refunding the attempt.
	Unclaim(ctx context.Context, id uint) (bool, error)
	// TransitionStatus performs a compare-and-set status change.
	TransitionStatus(ctx context.Context, id uint, from, to models.DialTargetStatus, lastError *string) (bool, error)
	// ListStale returns targets stuck in calling since before the cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.DialTarget, error)
	// RevertCallingToPending moves every calling item of a broadcast back to
	// pending; used when a broadcast is stopped or paused.
	RevertCallingToPending(ctx context.Context, broadcastID uint) (int64, error)
	// ExistsActive reports whether the (broadcast, phone) slot is occupied
	// by a pending or calling row.
	ExistsActive(ctx context.Context, broadcastID uint, phoneNumber string) (bool, error)
	// CountByStatus aggregates target counts per status for dashboards.
	CountByStatus(ctx context.Context, broadcastID uint) (map[models.DialTargetStatus]int64, error)
	// RecentFailures returns the latest failed/exhausted targets with their
	// diagnostic messages.
	RecentFailures(ctx context.Context, broadcastID uint, limit int) ([]*models.DialTarget, error)
	// HasLiveTargets reports whether any pending or calling rows remain.
	HasLiveTargets(ctx context.Context, broadcastID uint) (bool, error)
}

// CallAttemptRepository defines operations for call attempts
type CallAttemptRepository interface {
	Repository[models.CallAttempt, models.CallAttemptFilter]
	ByProviderCallID(ctx context.Context, providerType models.ProviderType, providerCallID string) (*models.CallAttempt, error)
	ActiveByTarget(ctx context.Context, dialTargetID uint) (*models.CallAttempt, error)
	SetProviderCallID(ctx context.Context, id uint, providerCallID string) error
	// TransitionStatus performs a compare-and-set on a non-terminal attempt.
	TransitionStatus(ctx context.Context, id uint, from, to models.CallAttemptStatus, answeredAt *time.Time) (bool, error)
	// FinalizeIfActive writes the terminal status/outcome only when the
	// attempt is still non-terminal; the first terminal write sticks.
	FinalizeIfActive(ctx context.Context, id uint, status models.CallAttemptStatus, outcome models.CallOutcome, durationSeconds *int, endedAt time.Time, lastError *string) (bool, error)
	AppendDTMF(ctx context.Context, id uint, digit string) error
	// Reclassify rewrites the outcome of a terminal attempt (voicemail
	// heuristic) without touching status timestamps or duration.
	Reclassify(ctx context.Context, id uint, outcome models.CallOutcome, reclassifiedBy string) (bool, error)
	// CountInFlight counts non-terminal attempts for a broadcast.
	CountInFlight(ctx context.Context, broadcastID uint) (int64, error)
}

// ProviderAccountRepository defines operations for provider accounts.
// Usage counters use conditional UPDATEs, never read-modify-write.
type ProviderAccountRepository interface {
	Repository[models.ProviderAccount, models.ProviderAccountFilter]
	ByUUID(ctx context.Context, uuid string) (*models.ProviderAccount, error)
	ListActive(ctx context.Context) ([]*models.ProviderAccount, error)
	// PickWithCapacity selects the least-recently-used active account whose
	// in-flight count is below maxPerProvider, or nil when none has room.
	PickWithCapacity(ctx context.Context, maxPerProvider int) (*models.ProviderAccount, error)
	// IncrementUsage bumps in-flight and daily counters only while the
	// account stays under maxPerProvider; returns false when full.
	IncrementUsage(ctx context.Context, id uint, maxPerProvider int, now time.Time) (bool, error)
	// DecrementInFlight lowers the in-flight counter, flooring at zero.
	DecrementInFlight(ctx context.Context, id uint) error
	// ResetDailyCounts zeroes daily_call_count across all accounts.
	ResetDailyCounts(ctx context.Context) error
}

// BroadcastRepository defines operations for broadcasts
type BroadcastRepository interface {
	Repository[models.Broadcast, models.BroadcastFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Broadcast, error)
	ListByStatus(ctx context.Context, status models.BroadcastStatus) ([]*models.Broadcast, error)
	// TransitionStatus performs a compare-and-set status change and stamps
	// started_at/stopped_at as appropriate.
	TransitionStatus(ctx context.Context, id uint, from, to models.BroadcastStatus) (bool, error)
	UpdateSpec(ctx context.Context, id uint, spec models.BroadcastSpec) error
}

// ScheduledEventRepository defines operations for scheduled events
type ScheduledEventRepository interface {
	Repository[models.ScheduledEvent, models.ScheduledEventFilter]
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledEvent, error)
	Delete(ctx context.Context, id uint) error
	DeleteForTarget(ctx context.Context, dialTargetID uint) (int64, error)
	CountForTarget(ctx context.Context, dialTargetID uint) (int64, error)
}

// DNCRepository defines operations for the do-not-call registry
type DNCRepository interface {
	// Upsert inserts the entry, silently keeping the existing row on
	// conflict so repeated opt-outs stay idempotent.
	Upsert(ctx context.Context, entry *models.DNCEntry) error
	Exists(ctx context.Context, phoneNumber string) (bool, error)
	ByPhone(ctx context.Context, phoneNumber string) (*models.DNCEntry, error)
}

// TriggerAccountRepository defines operations for inbound gateway accounts
type TriggerAccountRepository interface {
	Repository[models.TriggerAccount, models.TriggerAccountFilter]
	ByAPIKeyID(ctx context.Context, apiKeyID string) (*models.TriggerAccount, error)
	TouchLastSeen(ctx context.Context, id uint, at time.Time) error
}
