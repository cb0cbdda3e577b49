// Package dispatcher contains the dial loop: pacing, dispatch, outcome
// processing and retry scheduling for voice broadcasts.
package dispatcher

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mkarimv/Raijin/app/services"
	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/repository"
	"github.com/mkarimv/Raijin/utils"
)

const (
	dueEventBatchSize  = 500
	staleListBatchSize = 200
)

// Dispatcher runs the dial loop. A single ticker drives all broadcasts; a
// mutex guarantees ticks never overlap, so per-tick reads of in-flight
// counts stay consistent without row locks.
type Dispatcher struct {
	broadcastRepo  repository.BroadcastRepository
	targetRepo     repository.DialTargetRepository
	attemptRepo    repository.CallAttemptRepository
	accountRepo    repository.ProviderAccountRepository
	eventRepo      repository.ScheduledEventRepository
	adapterFactory services.AdapterFactory
	pacing         *PacingController
	retry          *RetryScheduler
	outcome        *OutcomeProcessor
	credit         services.CreditReserver
	logger         *log.Logger

	interval        time.Duration
	staleThreshold  time.Duration
	callTimeout     time.Duration
	callbackBaseURL string

	tickMu sync.Mutex
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	broadcastRepo repository.BroadcastRepository,
	targetRepo repository.DialTargetRepository,
	attemptRepo repository.CallAttemptRepository,
	accountRepo repository.ProviderAccountRepository,
	eventRepo repository.ScheduledEventRepository,
	adapterFactory services.AdapterFactory,
	pacing *PacingController,
	retry *RetryScheduler,
	outcome *OutcomeProcessor,
	credit services.CreditReserver,
	interval, staleThreshold, callTimeout time.Duration,
	callbackBaseURL string,
	logDir string,
) *Dispatcher {
	if interval <= 0 {
		interval = utils.DefaultDispatchInterval
	}
	if staleThreshold <= 0 {
		staleThreshold = utils.DefaultStaleCallThreshold
	}
	if callTimeout <= 0 {
		callTimeout = utils.DefaultCallTimeout
	}
	if adapterFactory == nil {
		adapterFactory = services.NewAdapter
	}

	d := &Dispatcher{
		broadcastRepo:   broadcastRepo,
		targetRepo:      targetRepo,
		attemptRepo:     attemptRepo,
		accountRepo:     accountRepo,
		eventRepo:       eventRepo,
		adapterFactory:  adapterFactory,
		pacing:          pacing,
		retry:           retry,
		outcome:         outcome,
		credit:          credit,
		interval:        interval,
		staleThreshold:  staleThreshold,
		callTimeout:     callTimeout,
		callbackBaseURL: callbackBaseURL,
	}
	d.initLogger(logDir)
	return d
}

// initLogger configures a logger that writes to stdout and a rotating file
func (d *Dispatcher) initLogger(logDir string) {
	if logDir == "" {
		logDir = "data"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		d.logger = log.New(os.Stdout, "dispatcher ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
		d.logger.Printf("failed to create log directory %s: %v", logDir, err)
		return
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "dispatcher.log"),
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	mw := io.MultiWriter(os.Stdout, rotator)
	// log.Logger is goroutine-safe; include timestamps with microseconds and UTC
	d.logger = log.New(mw, "dispatcher ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}

// Logger exposes the dispatcher's logger so sibling components share the
// same output
func (d *Dispatcher) Logger() *log.Logger {
	return d.logger
}

// Start launches the dispatch loop in a background goroutine and returns a stop function
func (d *Dispatcher) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		d.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.runOnce(ctx)
			}
		}
	}()

	go d.startDailyResetWorker(ctx)

	return cancel
}

// runOnce performs one dispatch tick. Overlapping ticks are skipped, not
// queued: the next ticker fire will pick up whatever this one left.
func (d *Dispatcher) runOnce(ctx context.Context) {
	if !d.tickMu.TryLock() {
		ticksSkipped.Inc()
		return
	}
	defer d.tickMu.Unlock()

	start := time.Now()
	defer func() {
		tickDuration.Observe(time.Since(start).Seconds())
	}()

	d.promoteDueEvents(ctx)
	d.sweepStale(ctx)

	broadcasts, err := d.broadcastRepo.ListByStatus(ctx, models.BroadcastStatusRunning)
	if err != nil {
		d.logger.Printf("failed to list running broadcasts: %v", err)
		return
	}

	for _, broadcast := range broadcasts {
		if ctx.Err() != nil {
			return
		}
		d.dispatchBroadcast(ctx, broadcast)
	}
}

// promoteDueEvents turns due scheduled events into fresh pending dial
// targets. The original finished row is never reopened.
func (d *Dispatcher) promoteDueEvents(ctx context.Context) {
	events, err := d.eventRepo.ListDue(ctx, utils.UTCNow(), dueEventBatchSize)
	if err != nil {
		d.logger.Printf("failed to list due events: %v", err)
		return
	}

	for _, event := range events {
		origin, err := d.targetRepo.ByID(ctx, event.DialTargetID)
		if err != nil {
			d.logger.Printf("failed to load target %d for event %d: %v", event.DialTargetID, event.ID, err)
			continue
		}
		if origin == nil {
			d.deleteEvent(ctx, event.ID)
			continue
		}

		// No double-dial: if an active row for this number already exists
		// the event is redundant.
		active, err := d.targetRepo.ExistsActive(ctx, origin.BroadcastID, origin.PhoneNumber)
		if err != nil {
			d.logger.Printf("failed to check active slot for target %d: %v", origin.ID, err)
			continue
		}
		if active {
			d.deleteEvent(ctx, event.ID)
			continue
		}

		redial := &models.DialTarget{
			BroadcastID: origin.BroadcastID,
			PhoneNumber: origin.PhoneNumber,
			DisplayName: origin.DisplayName,
			Priority:    event.Payload.Priority,
			Attempts:    event.Payload.Attempts,
			MaxAttempts: origin.MaxAttempts,
			Status:      models.DialTargetStatusPending,
			ScheduledAt: utils.UTCNow(),
		}
		if err := redial.BeforeCreate(); err != nil {
			d.logger.Printf("failed to prepare redial for target %d: %v", origin.ID, err)
			continue
		}
		if err := d.targetRepo.Save(ctx, redial); err != nil {
			d.logger.Printf("failed to enqueue redial for target %d: %v", origin.ID, err)
			continue
		}

		eventPromotionsTotal.WithLabelValues(string(event.Kind)).Inc()
		d.deleteEvent(ctx, event.ID)
	}
}

func (d *Dispatcher) deleteEvent(ctx context.Context, id uint) {
	if err := d.eventRepo.Delete(ctx, id); err != nil {
		d.logger.Printf("failed to delete scheduled event %d: %v", id, err)
	}
}

// sweepStale times out targets stuck in calling past the stale threshold
func (d *Dispatcher) sweepStale(ctx context.Context) {
	cutoff := utils.UTCNow().Add(-d.staleThreshold)
	targets, err := d.targetRepo.ListStale(ctx, cutoff, staleListBatchSize)
	if err != nil {
		d.logger.Printf("failed to list stale targets: %v", err)
		return
	}

	for _, target := range targets {
		if err := d.outcome.HandleStaleAttempt(ctx, target); err != nil {
			d.logger.Printf("failed to sweep stale target %d: %v", target.ID, err)
			continue
		}
		staleSweepsTotal.Inc()
	}
}

// dispatchBroadcast places as many calls as pacing allows for one broadcast
func (d *Dispatcher) dispatchBroadcast(ctx context.Context, broadcast *models.Broadcast) {
	spec := broadcast.Spec

	loc, err := utils.LoadLocationCached(spec.Timezone)
	if err != nil {
		d.logger.Printf("broadcast %d has invalid timezone %q; skipping", broadcast.ID, spec.Timezone)
		return
	}
	if !spec.WithinCallingHours(utils.UTCNow(), loc) {
		return
	}

	inFlight, err := d.attemptRepo.CountInFlight(ctx, broadcast.ID)
	if err != nil {
		d.logger.Printf("failed to count in-flight calls for broadcast %d: %v", broadcast.ID, err)
		return
	}

	allowed := d.pacing.Authorize(broadcast, int(inFlight))
	if allowed <= 0 {
		if inFlight == 0 {
			d.maybeComplete(ctx, broadcast)
		}
		return
	}

	batch, err := d.targetRepo.SelectDispatchBatch(ctx, broadcast.ID, allowed, utils.UTCNow())
	if err != nil {
		d.logger.Printf("failed to select dispatch batch for broadcast %d: %v", broadcast.ID, err)
		return
	}
	if len(batch) == 0 {
		if inFlight == 0 {
			d.maybeComplete(ctx, broadcast)
		}
		return
	}

	// A small worker group keeps provider round-trips off the tick's
	// critical path without unbounded goroutines.
	workers := utils.DispatchBatchWorkers
	if len(batch) < workers {
		workers = len(batch)
	}

	queue := make(chan *models.DialTarget)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range queue {
				d.dispatchTarget(ctx, broadcast, target)
			}
		}()
	}
	for _, target := range batch {
		queue <- target
	}
	close(queue)
	wg.Wait()
}

// maybeComplete finishes a running broadcast that has nothing left to do
func (d *Dispatcher) maybeComplete(ctx context.Context, broadcast *models.Broadcast) {
	live, err := d.targetRepo.HasLiveTargets(ctx, broadcast.ID)
	if err != nil || live {
		return
	}

	pending, err := d.eventRepo.ByFilter(ctx, models.ScheduledEventFilter{BroadcastID: &broadcast.ID}, "", 1, 0)
	if err != nil || len(pending) > 0 {
		return
	}

	changed, err := d.broadcastRepo.TransitionStatus(ctx, broadcast.ID,
		models.BroadcastStatusRunning, models.BroadcastStatusCompleted)
	if err != nil {
		d.logger.Printf("failed to complete broadcast %d: %v", broadcast.ID, err)
		return
	}
	if changed {
		d.pacing.Reset(broadcast.ID)
		d.logger.Printf("broadcast %d completed", broadcast.ID)
	}
}

// dispatchTarget claims one target and places the call
func (d *Dispatcher) dispatchTarget(ctx context.Context, broadcast *models.Broadcast, target *models.DialTarget) {
	spec := broadcast.Spec

	claimed, err := d.targetRepo.ClaimForDispatch(ctx, target.ID)
	if err != nil {
		d.logger.Printf("failed to claim target %d: %v", target.ID, err)
		return
	}
	if !claimed {
		return
	}

	maxPerProvider := spec.MaxCallsPerProvider
	if maxPerProvider <= 0 {
		maxPerProvider = spec.MaxConcurrentCalls
	}

	account, err := d.accountRepo.PickWithCapacity(ctx, maxPerProvider)
	if err != nil || account == nil {
		if err != nil {
			d.logger.Printf("failed to pick provider account: %v", err)
		}
		d.unclaim(ctx, target.ID)
		return
	}

	taken, err := d.accountRepo.IncrementUsage(ctx, account.ID, maxPerProvider, utils.UTCNow())
	if err != nil || !taken {
		if err != nil {
			d.logger.Printf("failed to take provider slot on account %d: %v", account.ID, err)
		}
		d.unclaim(ctx, target.ID)
		return
	}

	adapter, err := d.adapterFactory(account)
	if err != nil {
		d.logger.Printf("provider account %d unusable: %v", account.ID, err)
		d.releaseSlot(ctx, account.ID)
		d.unclaim(ctx, target.ID)
		return
	}

	reservationID, err := d.credit.Reserve(ctx, broadcast.ID, int64(d.callTimeout.Seconds()))
	if err != nil {
		d.logger.Printf("credit reservation failed for broadcast %d: %v", broadcast.ID, err)
		d.releaseSlot(ctx, account.ID)
		d.unclaim(ctx, target.ID)
		return
	}

	attempt := &models.CallAttempt{
		DialTargetID:      target.ID,
		BroadcastID:       broadcast.ID,
		ProviderAccountID: account.ID,
		ProviderType:      account.ProviderType,
		CallerNumber:      account.PhoneNumber,
		CalleeNumber:      target.PhoneNumber,
		Status:            models.CallAttemptStatusQueued,
		ReservationID:     &reservationID,
	}
	if err := attempt.BeforeCreate(); err != nil {
		d.logger.Printf("failed to prepare attempt for target %d: %v", target.ID, err)
		d.releaseSlot(ctx, account.ID)
		d.unclaim(ctx, target.ID)
		return
	}
	if err := d.attemptRepo.Save(ctx, attempt); err != nil {
		d.logger.Printf("failed to save attempt for target %d: %v", target.ID, err)
		d.releaseSlot(ctx, account.ID)
		d.unclaim(ctx, target.ID)
		return
	}

	result, err := adapter.CreateCall(ctx, services.CreateCallParams{
		To:               target.PhoneNumber,
		From:             account.PhoneNumber,
		AttemptUUID:      attempt.UUID.String(),
		AgentOrScriptID:  spec.AgentOrScriptID,
		TransferNumber:   spec.TransferNumber,
		MachineDetection: true,
		TimeoutSeconds:   int(d.callTimeout.Seconds()),
		CallbackURL:      d.webhookURL(account.ProviderType),
	})
	if err != nil {
		dialAttemptsTotal.WithLabelValues(string(account.ProviderType), "error").Inc()
		d.handlePlacementFailure(ctx, attempt, err)
		return
	}

	if err := d.attemptRepo.SetProviderCallID(ctx, attempt.ID, result.ProviderCallID); err != nil {
		d.logger.Printf("failed to record provider call ID on attempt %d: %v", attempt.ID, err)
	}

	dialAttemptsTotal.WithLabelValues(string(account.ProviderType), "ok").Inc()
	callsInFlight.Inc()
	d.pacing.NoteDialed(broadcast.ID)
}

// handlePlacementFailure settles an attempt whose CreateCall never went out.
// Transient failures stay retryable; permanent and configuration failures
// burn the attempt without scheduling a redial.
func (d *Dispatcher) handlePlacementFailure(ctx context.Context, attempt *models.CallAttempt, placeErr error) {
	msg := placeErr.Error()
	changed, err := d.attemptRepo.FinalizeIfActive(ctx, attempt.ID,
		models.CallAttemptStatusFailed, models.CallOutcomeFailed, nil, utils.UTCNow(), &msg)
	if err != nil {
		d.logger.Printf("failed to finalize attempt %d after placement error: %v", attempt.ID, err)
	}
	if changed {
		callOutcomesTotal.WithLabelValues(string(models.CallOutcomeFailed)).Inc()
	}

	d.releaseSlot(ctx, attempt.ProviderAccountID)

	if attempt.ReservationID != nil {
		if err := d.credit.Release(ctx, *attempt.ReservationID); err != nil {
			d.logger.Printf("failed to release reservation %s: %v", *attempt.ReservationID, err)
		}
	}

	target, err := d.targetRepo.ByID(ctx, attempt.DialTargetID)
	if err != nil || target == nil {
		d.logger.Printf("failed to load target %d after placement error: %v", attempt.DialTargetID, err)
		return
	}

	switch {
	case services.IsTransientError(placeErr) && !target.AttemptsExhausted():
		if _, err := d.targetRepo.TransitionStatus(ctx, target.ID,
			models.DialTargetStatusCalling, models.DialTargetStatusFailed, &msg); err != nil {
			d.logger.Printf("failed to fail target %d: %v", target.ID, err)
			return
		}
		if err := d.retry.Schedule(ctx, target, models.CallOutcomeFailed); err != nil {
			d.logger.Printf("failed to schedule retry for target %d: %v", target.ID, err)
		}
	case target.AttemptsExhausted():
		if _, err := d.targetRepo.TransitionStatus(ctx, target.ID,
			models.DialTargetStatusCalling, models.DialTargetStatusExhausted, &msg); err != nil {
			d.logger.Printf("failed to exhaust target %d: %v", target.ID, err)
		}
	default:
		// Permanent rejection of this number; no redial will succeed.
		if _, err := d.targetRepo.TransitionStatus(ctx, target.ID,
			models.DialTargetStatusCalling, models.DialTargetStatusFailed, &msg); err != nil {
			d.logger.Printf("failed to fail target %d: %v", target.ID, err)
		}
	}
}

func (d *Dispatcher) unclaim(ctx context.Context, targetID uint) {
	if _, err := d.targetRepo.Unclaim(ctx, targetID); err != nil {
		d.logger.Printf("failed to unclaim target %d: %v", targetID, err)
	}
}

func (d *Dispatcher) releaseSlot(ctx context.Context, accountID uint) {
	if err := d.accountRepo.DecrementInFlight(ctx, accountID); err != nil {
		d.logger.Printf("failed to release provider slot on account %d: %v", accountID, err)
	}
}

func (d *Dispatcher) webhookURL(provider models.ProviderType) string {
	if d.callbackBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/api/v1/webhooks/%s", d.callbackBaseURL, provider)
}

// startDailyResetWorker zeroes per-account daily call counters at UTC midnight
func (d *Dispatcher) startDailyResetWorker(ctx context.Context) {
	for {
		now := utils.UTCNow()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := d.accountRepo.ResetDailyCounts(ctx); err != nil {
				d.logger.Printf("failed to reset daily call counts: %v", err)
			} else {
				d.logger.Printf("daily call counts reset")
			}
		}
	}
}
