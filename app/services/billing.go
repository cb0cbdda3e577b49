package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CreditReserver reserves billing credit before a call is placed and settles
// the reservation once the real cost is known. Dispatch refuses to dial when
// the reservation fails, so a broadcast can never overrun its balance.
type CreditReserver interface {
	// Reserve holds estimatedUnits of credit and returns a reservation ID.
	Reserve(ctx context.Context, broadcastID uint, estimatedUnits int64) (string, error)
	// Settle replaces the hold with the actual consumed units.
	Settle(ctx context.Context, reservationID string, actualUnits int64) error
	// Release cancels the hold, e.g. when placement failed.
	Release(ctx context.Context, reservationID string) error
}

// NoopCreditReserver is used when billing is disabled; every reservation
// succeeds and settlement is a no-op
type NoopCreditReserver struct{}

// NewNoopCreditReserver creates a reserver that approves everything
func NewNoopCreditReserver() *NoopCreditReserver {
	return &NoopCreditReserver{}
}

func (r *NoopCreditReserver) Reserve(ctx context.Context, broadcastID uint, estimatedUnits int64) (string, error) {
	return uuid.New().String(), nil
}

func (r *NoopCreditReserver) Settle(ctx context.Context, reservationID string, actualUnits int64) error {
	return nil
}

func (r *NoopCreditReserver) Release(ctx context.Context, reservationID string) error {
	return nil
}

const reservationTTL = 24 * time.Hour

// RedisCreditReserver keeps a per-broadcast credit balance in redis. Reserve
// decrements the balance and records the hold; Settle and Release refund the
// difference between the hold and the real cost. Reservations expire after a
// day so a crashed dispatcher cannot leak holds forever.
type RedisCreditReserver struct {
	client redis.UniversalClient
}

// NewRedisCreditReserver creates a reserver backed by the given redis client
func NewRedisCreditReserver(client redis.UniversalClient) *RedisCreditReserver {
	return &RedisCreditReserver{client: client}
}

func balanceKey(broadcastID uint) string {
	return fmt.Sprintf("credit:balance:%d", broadcastID)
}

func reservationKey(id string) string {
	return "credit:reservation:" + id
}

// Reserve holds estimatedUnits against the broadcast balance. The hold fails
// when the balance would go negative.
func (r *RedisCreditReserver) Reserve(ctx context.Context, broadcastID uint, estimatedUnits int64) (string, error) {
	if estimatedUnits < 0 {
		return "", fmt.Errorf("estimated units must not be negative: %d", estimatedUnits)
	}

	remaining, err := r.client.DecrBy(ctx, balanceKey(broadcastID), estimatedUnits).Result()
	if err != nil {
		return "", fmt.Errorf("credit reserve failed: %w", err)
	}
	if remaining < 0 {
		r.client.IncrBy(ctx, balanceKey(broadcastID), estimatedUnits)
		return "", fmt.Errorf("insufficient credit for broadcast %d", broadcastID)
	}

	id := uuid.New().String()
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, reservationKey(id), "broadcast_id", broadcastID, "units", estimatedUnits)
	pipe.Expire(ctx, reservationKey(id), reservationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.client.IncrBy(ctx, balanceKey(broadcastID), estimatedUnits)
		return "", fmt.Errorf("credit reservation record failed: %w", err)
	}

	return id, nil
}

// Settle replaces the hold with the actual consumed units, refunding or
// charging the difference. Settling an unknown or expired reservation is a
// no-op so retries stay safe.
func (r *RedisCreditReserver) Settle(ctx context.Context, reservationID string, actualUnits int64) error {
	broadcastID, held, ok, err := r.takeReservation(ctx, reservationID)
	if err != nil || !ok {
		return err
	}
	if diff := held - actualUnits; diff != 0 {
		if err := r.client.IncrBy(ctx, balanceKey(broadcastID), diff).Err(); err != nil {
			return fmt.Errorf("credit settle failed: %w", err)
		}
	}
	return nil
}

// Release cancels the hold and refunds the full held amount.
func (r *RedisCreditReserver) Release(ctx context.Context, reservationID string) error {
	broadcastID, held, ok, err := r.takeReservation(ctx, reservationID)
	if err != nil || !ok {
		return err
	}
	if err := r.client.IncrBy(ctx, balanceKey(broadcastID), held).Err(); err != nil {
		return fmt.Errorf("credit release failed: %w", err)
	}
	return nil
}

// takeReservation reads and deletes the reservation record. The delete makes
// Settle and Release idempotent under webhook redelivery.
func (r *RedisCreditReserver) takeReservation(ctx context.Context, id string) (uint, int64, bool, error) {
	fields, err := r.client.HGetAll(ctx, reservationKey(id)).Result()
	if err != nil {
		return 0, 0, false, fmt.Errorf("credit reservation lookup failed: %w", err)
	}
	if len(fields) == 0 {
		return 0, 0, false, nil
	}

	deleted, err := r.client.Del(ctx, reservationKey(id)).Result()
	if err != nil {
		return 0, 0, false, fmt.Errorf("credit reservation delete failed: %w", err)
	}
	if deleted == 0 {
		// Another settler got here first.
		return 0, 0, false, nil
	}

	broadcastID, _ := strconv.ParseUint(fields["broadcast_id"], 10, 64)
	units, _ := strconv.ParseInt(fields["units"], 10, 64)
	return uint(broadcastID), units, true, nil
}
