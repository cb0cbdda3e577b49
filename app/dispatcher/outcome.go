package dispatcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mkarimv/Raijin/app/services"
	businessflow "github.com/mkarimv/Raijin/business_flow"
	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/repository"
	"github.com/mkarimv/Raijin/utils"
)

// OutcomeProcessor applies normalized call events to the call attempt and
// dial target state machines. Every state write is compare-and-set, so a
// duplicate or late webhook degrades to a no-op instead of corrupting state.
type OutcomeProcessor struct {
	targetRepo    repository.DialTargetRepository
	attemptRepo   repository.CallAttemptRepository
	accountRepo   repository.ProviderAccountRepository
	broadcastRepo repository.BroadcastRepository
	eventRepo     repository.ScheduledEventRepository
	dncRepo       repository.DNCRepository
	retry         *RetryScheduler
	pacing        *PacingController
	credit        services.CreditReserver
	logger        *log.Logger
}

// NewOutcomeProcessor creates a new outcome processor
func NewOutcomeProcessor(
	targetRepo repository.DialTargetRepository,
	attemptRepo repository.CallAttemptRepository,
	accountRepo repository.ProviderAccountRepository,
	broadcastRepo repository.BroadcastRepository,
	eventRepo repository.ScheduledEventRepository,
	dncRepo repository.DNCRepository,
	retry *RetryScheduler,
	pacing *PacingController,
	credit services.CreditReserver,
	logger *log.Logger,
) *OutcomeProcessor {
	if logger == nil {
		logger = log.Default()
	}
	return &OutcomeProcessor{
		targetRepo:    targetRepo,
		attemptRepo:   attemptRepo,
		accountRepo:   accountRepo,
		broadcastRepo: broadcastRepo,
		eventRepo:     eventRepo,
		dncRepo:       dncRepo,
		retry:         retry,
		pacing:        pacing,
		credit:        credit,
		logger:        logger,
	}
}

// HandleCallEvent applies one normalized provider event
func (p *OutcomeProcessor) HandleCallEvent(ctx context.Context, event *services.CallEvent) error {
	attempt, err := p.attemptRepo.ByProviderCallID(ctx, event.Provider, event.ProviderCallID)
	if err != nil {
		return fmt.Errorf("failed to look up attempt for event: %w", err)
	}
	if attempt == nil {
		staleEventsTotal.Inc()
		return businessflow.ErrStaleCall
	}

	switch event.Type {
	case services.CallEventInitiated:
		return nil

	case services.CallEventRinging:
		// Loser of the CAS means a later event already advanced the
		// attempt; nothing to do.
		_, err := p.attemptRepo.TransitionStatus(ctx, attempt.ID,
			models.CallAttemptStatusQueued, models.CallAttemptStatusRinging, nil)
		return err

	case services.CallEventAnswered:
		return p.handleAnswered(ctx, attempt, event)

	case services.CallEventDTMF:
		return p.HandleDTMF(ctx, attempt, event.Digit)

	case services.CallEventCompleted:
		outcome := models.CallOutcomeCompleted
		status := models.CallAttemptStatusCompleted
		// A completed call that machine detection flagged is a voicemail,
		// not a conversation.
		if event.AnsweredBy == services.AnsweredByMachine {
			outcome = models.CallOutcomeVoicemail
			status = models.CallAttemptStatusVoicemail
		}
		if err := p.finalize(ctx, attempt, status, outcome, event.DurationSeconds, ""); err != nil {
			return err
		}
		if outcome == models.CallOutcomeCompleted && probableVoicemail(event) {
			p.reclassifyVoicemail(ctx, attempt.ID)
		}
		return nil

	case services.CallEventBusy:
		return p.finalize(ctx, attempt, models.CallAttemptStatusNoAnswer, models.CallOutcomeBusy, nil, "")

	case services.CallEventNoAnswer:
		return p.finalize(ctx, attempt, models.CallAttemptStatusNoAnswer, models.CallOutcomeNoAnswer, nil, "")

	case services.CallEventFailed:
		return p.finalize(ctx, attempt, models.CallAttemptStatusFailed, models.CallOutcomeFailed, nil, event.ErrorMessage)

	default:
		return fmt.Errorf("unhandled call event type %q", event.Type)
	}
}

// handleAnswered advances the attempt to in_progress, or short-circuits
// straight to voicemail when machine detection fired
func (p *OutcomeProcessor) handleAnswered(ctx context.Context, attempt *models.CallAttempt, event *services.CallEvent) error {
	if event.AnsweredBy == services.AnsweredByMachine {
		return p.finalize(ctx, attempt, models.CallAttemptStatusVoicemail, models.CallOutcomeVoicemail, event.DurationSeconds, "")
	}

	now := utils.UTCNow()
	changed, err := p.attemptRepo.TransitionStatus(ctx, attempt.ID,
		attempt.Status, models.CallAttemptStatusInProgress, &now)
	if err != nil {
		return err
	}
	if !changed && attempt.Status == models.CallAttemptStatusQueued {
		// The ringing event may have landed between our read and write.
		_, err = p.attemptRepo.TransitionStatus(ctx, attempt.ID,
			models.CallAttemptStatusRinging, models.CallAttemptStatusInProgress, &now)
	}
	return err
}

// probableVoicemail applies the short-call heuristic for providers that gave
// no machine-detection verdict: a call that barely connected and still came
// back completed most likely hit a mailbox greeting.
func probableVoicemail(event *services.CallEvent) bool {
	if event.AnsweredBy == services.AnsweredByHuman || event.AnsweredBy == services.AnsweredByMachine {
		return false
	}
	return event.DurationSeconds != nil &&
		*event.DurationSeconds > 0 &&
		*event.DurationSeconds <= utils.VoicemailHeuristicMaxSeconds
}

// reclassifyVoicemail flips the recorded outcome of a finished attempt to
// voicemail. The billed duration stays what the provider reported.
func (p *OutcomeProcessor) reclassifyVoicemail(ctx context.Context, attemptID uint) {
	changed, err := p.attemptRepo.Reclassify(ctx, attemptID,
		models.CallOutcomeVoicemail, models.ReclassifiedByDurationHeuristic)
	if err != nil {
		p.logger.Printf("failed to reclassify attempt %d: %v", attemptID, err)
		return
	}
	if changed {
		outcomeReclassificationsTotal.Inc()
	}
}

// HandleDTMF records a digit press and applies the broadcast's action map.
// Digits arriving outside in_progress are dropped; they belong to a call
// that has not connected yet or already ended.
func (p *OutcomeProcessor) HandleDTMF(ctx context.Context, attempt *models.CallAttempt, digit string) error {
	if attempt.Status != models.CallAttemptStatusInProgress {
		p.logger.Printf("dropping DTMF %q on attempt %d in status %s", digit, attempt.ID, attempt.Status)
		staleEventsTotal.Inc()
		return nil
	}

	if err := p.attemptRepo.AppendDTMF(ctx, attempt.ID, digit); err != nil {
		return err
	}

	broadcast, err := p.broadcastRepo.ByID(ctx, attempt.BroadcastID)
	if err != nil {
		return err
	}
	if broadcast == nil {
		return businessflow.ErrBroadcastNotFound
	}

	action, ok := broadcast.Spec.ActionForDigit(digit)
	if !ok {
		return nil
	}
	dtmfActionsTotal.WithLabelValues(string(action)).Inc()

	switch action {
	case models.DTMFActionTransfer:
		return p.finalize(ctx, attempt, models.CallAttemptStatusCompleted, models.CallOutcomeTransferred, nil, "")

	case models.DTMFActionCallback:
		return p.finalize(ctx, attempt, models.CallAttemptStatusCompleted, models.CallOutcomeCallback, nil, "")

	case models.DTMFActionDNC:
		entry := &models.DNCEntry{
			PhoneNumber: attempt.CalleeNumber,
			Source:      models.DNCSourceDTMF,
			BroadcastID: &attempt.BroadcastID,
		}
		if err := p.dncRepo.Upsert(ctx, entry); err != nil {
			return err
		}
		return p.finalize(ctx, attempt, models.CallAttemptStatusCompleted, models.CallOutcomeDNC, nil, "")

	case models.DTMFActionReplay:
		// Replay is handled provider-side; the attempt stays in progress.
		return nil
	}

	return nil
}

// HandleStaleAttempt times out an attempt whose target sat in calling past
// the stale threshold with no provider event
func (p *OutcomeProcessor) HandleStaleAttempt(ctx context.Context, target *models.DialTarget) error {
	attempt, err := p.attemptRepo.ActiveByTarget(ctx, target.ID)
	if err != nil {
		return err
	}
	if attempt == nil {
		// The target is stuck but no attempt is live; settle the target
		// directly.
		return p.settleTarget(ctx, target.ID, models.CallOutcomeTimedOut)
	}
	msg := "no provider event before stale threshold"
	return p.finalize(ctx, attempt, models.CallAttemptStatusFailed, models.CallOutcomeTimedOut, nil, msg)
}

// finalize writes the attempt's terminal state exactly once, releases the
// provider slot and settles the dial target
func (p *OutcomeProcessor) finalize(ctx context.Context, attempt *models.CallAttempt, status models.CallAttemptStatus, outcome models.CallOutcome, duration *int, errMsg string) error {
	var lastError *string
	if errMsg != "" {
		lastError = &errMsg
	}

	changed, err := p.attemptRepo.FinalizeIfActive(ctx, attempt.ID, status, outcome, duration, utils.UTCNow(), lastError)
	if err != nil {
		return err
	}
	if !changed {
		// Already finalized by an earlier webhook or the stale sweeper.
		return nil
	}

	callOutcomesTotal.WithLabelValues(string(outcome)).Inc()
	callsInFlight.Dec()

	if err := p.accountRepo.DecrementInFlight(ctx, attempt.ProviderAccountID); err != nil {
		p.logger.Printf("failed to release provider slot for attempt %d: %v", attempt.ID, err)
	}

	if attempt.ReservationID != nil {
		units := int64(0)
		if duration != nil {
			units = int64(*duration)
		}
		if outcome.IsSuccess() || outcome == models.CallOutcomeVoicemail {
			if err := p.credit.Settle(ctx, *attempt.ReservationID, units); err != nil {
				p.logger.Printf("failed to settle reservation %s: %v", *attempt.ReservationID, err)
			}
		} else if err := p.credit.Release(ctx, *attempt.ReservationID); err != nil {
			p.logger.Printf("failed to release reservation %s: %v", *attempt.ReservationID, err)
		}
	}

	p.pacing.NoteOutcome(attempt.BroadcastID, outcome.IsSuccess())

	return p.settleTarget(ctx, attempt.DialTargetID, outcome)
}

// settleTarget moves the dial target out of calling according to the
// outcome, scheduling a redial when attempts remain
func (p *OutcomeProcessor) settleTarget(ctx context.Context, targetID uint, outcome models.CallOutcome) error {
	target, err := p.targetRepo.ByID(ctx, targetID)
	if err != nil {
		return err
	}
	if target == nil {
		return businessflow.ErrDialTargetNotFound
	}

	final := targetStatusForOutcome(outcome)
	// A requested callback is honored even on the last attempt; DNC always
	// wins over exhaustion.
	exhausted := !outcome.IsSuccess() &&
		outcome != models.CallOutcomeDNC &&
		outcome != models.CallOutcomeCallback &&
		target.AttemptsExhausted()
	if exhausted {
		final = models.DialTargetStatusExhausted
	}

	changed, err := p.targetRepo.TransitionStatus(ctx, target.ID, models.DialTargetStatusCalling, final, nil)
	if err != nil {
		return err
	}
	if !changed {
		// A broadcast stop reverted the row to pending, or the stale
		// sweeper won. The attempt itself is already settled; record the
		// collision and move on.
		p.logger.Printf("target %d transition calling->%s lost race: %v", target.ID, final, businessflow.ErrRaceCondition)
		return nil
	}

	switch {
	case exhausted:
		// No redial will ever fire; drop anything the scheduler queued.
		if _, err := p.eventRepo.DeleteForTarget(ctx, target.ID); err != nil {
			p.logger.Printf("failed to clear scheduled events for target %d: %v", target.ID, err)
		}
	case outcome == models.CallOutcomeDNC:
		if _, err := p.eventRepo.DeleteForTarget(ctx, target.ID); err != nil {
			p.logger.Printf("failed to clear scheduled events for target %d: %v", target.ID, err)
		}
	case outcome == models.CallOutcomeCallback:
		if err := p.scheduleCallback(ctx, target); err != nil {
			return err
		}
	case outcome == models.CallOutcomeVoicemail, outcome.Retryable():
		if err := p.retry.Schedule(ctx, target, outcome); err != nil {
			return err
		}
	}

	return nil
}

// scheduleCallback books the redial a callback press asked for. The delay is
// the broadcast's configured one, and a time landing outside calling hours
// moves to the next window open.
func (p *OutcomeProcessor) scheduleCallback(ctx context.Context, target *models.DialTarget) error {
	broadcast, err := p.broadcastRepo.ByID(ctx, target.BroadcastID)
	if err != nil {
		return err
	}
	if broadcast == nil {
		return p.retry.Schedule(ctx, target, models.CallOutcomeCallback)
	}
	spec := broadcast.Spec

	delay := utils.DefaultCallbackDelay
	if spec.CallbackDelayMinutes > 0 {
		delay = time.Duration(spec.CallbackDelayMinutes) * time.Minute
	}
	runAt := utils.UTCNow().Add(delay)

	clamped := false
	if loc, locErr := utils.LoadLocationCached(spec.Timezone); locErr == nil && !spec.WithinCallingHours(runAt, loc) {
		runAt = spec.NextCallingTime(runAt, loc)
		clamped = true
	}

	if clamped || spec.CallbackDelayMinutes > 0 {
		return p.retry.ScheduleAt(ctx, target, runAt)
	}
	return p.retry.Schedule(ctx, target, models.CallOutcomeCallback)
}

// targetStatusForOutcome maps a call outcome to the terminal target status
func targetStatusForOutcome(outcome models.CallOutcome) models.DialTargetStatus {
	switch outcome {
	case models.CallOutcomeCompleted:
		return models.DialTargetStatusCompleted
	case models.CallOutcomeTransferred:
		return models.DialTargetStatusTransferred
	case models.CallOutcomeVoicemail:
		return models.DialTargetStatusVoicemail
	case models.CallOutcomeCallback:
		return models.DialTargetStatusCallback
	case models.CallOutcomeDNC:
		return models.DialTargetStatusDNC
	case models.CallOutcomeBusy, models.CallOutcomeNoAnswer:
		return models.DialTargetStatusNoAnswer
	case models.CallOutcomeTimedOut:
		return models.DialTargetStatusTimedOut
	default:
		return models.DialTargetStatusFailed
	}
}
