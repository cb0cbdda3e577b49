package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/repository"
	"github.com/mkarimv/Raijin/utils"
)

// retry backoff tuning
const (
	retryBaseDelay = 2 * time.Minute
	retryMaxDelay  = time.Hour
)

// RetryScheduler turns non-final call outcomes into scheduled events. The
// finished dial target row is never reopened; when an event comes due the
// dispatcher creates a fresh pending row carrying the attempt count forward.
type RetryScheduler struct {
	eventRepo repository.ScheduledEventRepository
}

// NewRetryScheduler creates a new retry scheduler
func NewRetryScheduler(eventRepo repository.ScheduledEventRepository) *RetryScheduler {
	return &RetryScheduler{eventRepo: eventRepo}
}

// Schedule records a future redial for the target. The caller has already
// checked that attempts remain; this only decides when and with what
// priority the number comes back around.
func (s *RetryScheduler) Schedule(ctx context.Context, target *models.DialTarget, outcome models.CallOutcome) error {
	kind := models.ScheduledEventKindRetry
	priority := target.Priority
	delay := backoffDelay(target.Attempts)

	switch outcome {
	case models.CallOutcomeCallback:
		// Callee asked to be called back: jump the queue when it fires.
		kind = models.ScheduledEventKindCallback
		priority = target.Priority + utils.CallbackPriorityBoost
		delay = utils.DefaultCallbackDelay
	case models.CallOutcomeVoicemail:
		delay = utils.VoicemailRetryDelay
	}

	event := &models.ScheduledEvent{
		DialTargetID: target.ID,
		BroadcastID:  target.BroadcastID,
		Kind:         kind,
		RunAt:        utils.UTCNow().Add(delay),
		Payload: models.ScheduledEventPayload{
			Outcome:  outcome,
			Attempts: target.Attempts,
			Priority: priority,
		},
	}

	if err := s.eventRepo.Save(ctx, event); err != nil {
		return fmt.Errorf("failed to schedule %s for target %d: %w", kind, target.ID, err)
	}
	return nil
}

// ScheduleAt records a callback for an explicit requested time, used when
// the callee keyed in a callback during the call
func (s *RetryScheduler) ScheduleAt(ctx context.Context, target *models.DialTarget, runAt time.Time) error {
	event := &models.ScheduledEvent{
		DialTargetID: target.ID,
		BroadcastID:  target.BroadcastID,
		Kind:         models.ScheduledEventKindCallback,
		RunAt:        runAt,
		Payload: models.ScheduledEventPayload{
			Outcome:       models.CallOutcomeCallback,
			Attempts:      target.Attempts,
			Priority:      target.Priority + utils.CallbackPriorityBoost,
			RequestedTime: &runAt,
		},
	}

	if err := s.eventRepo.Save(ctx, event); err != nil {
		return fmt.Errorf("failed to schedule callback for target %d: %w", target.ID, err)
	}
	return nil
}

// backoffDelay doubles per attempt, capped so a target never disappears for
// longer than retryMaxDelay
func backoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := retryBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}
