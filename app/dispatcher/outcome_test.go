package dispatcher

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarimv/Raijin/app/services"
	businessflow "github.com/mkarimv/Raijin/business_flow"
	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/utils"
)

// fakeTargetRepo is an in-memory DialTargetRepository
type fakeTargetRepo struct {
	targets map[uint]*models.DialTarget
	lastID  uint
}

func newFakeTargetRepo(targets ...*models.DialTarget) *fakeTargetRepo {
	r := &fakeTargetRepo{targets: map[uint]*models.DialTarget{}}
	for _, t := range targets {
		r.targets[t.ID] = t
		if t.ID > r.lastID {
			r.lastID = t.ID
		}
	}
	return r
}

func (r *fakeTargetRepo) ByID(ctx context.Context, id uint) (*models.DialTarget, error) {
	return r.targets[id], nil
}

func (r *fakeTargetRepo) ByFilter(ctx context.Context, filter models.DialTargetFilter, orderBy string, limit, offset int) ([]*models.DialTarget, error) {
	return nil, nil
}

func (r *fakeTargetRepo) Save(ctx context.Context, t *models.DialTarget) error {
	if t.ID == 0 {
		r.lastID++
		t.ID = r.lastID
	}
	r.targets[t.ID] = t
	return nil
}

func (r *fakeTargetRepo) SaveBatch(ctx context.Context, ts []*models.DialTarget) error {
	for _, t := range ts {
		r.targets[t.ID] = t
	}
	return nil
}

func (r *fakeTargetRepo) ByUUID(ctx context.Context, uuid string) (*models.DialTarget, error) {
	return nil, nil
}

func (r *fakeTargetRepo) SelectDispatchBatch(ctx context.Context, broadcastID uint, limit int, now time.Time) ([]*models.DialTarget, error) {
	var out []*models.DialTarget
	for _, t := range r.targets {
		if t.BroadcastID == broadcastID && t.Status == models.DialTargetStatusPending && !t.ScheduledAt.After(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeTargetRepo) ClaimForDispatch(ctx context.Context, id uint) (bool, error) {
	t := r.targets[id]
	if t == nil || t.Status != models.DialTargetStatusPending {
		return false, nil
	}
	t.Status = models.DialTargetStatusCalling
	t.Attempts++
	return true, nil
}

func (r *fakeTargetRepo) Unclaim(ctx context.Context, id uint) (bool, error) {
	t := r.targets[id]
	if t == nil || t.Status != models.DialTargetStatusCalling {
		return false, nil
	}
	t.Status = models.DialTargetStatusPending
	if t.Attempts > 0 {
		t.Attempts--
	}
	return true, nil
}

func (r *fakeTargetRepo) TransitionStatus(ctx context.Context, id uint, from, to models.DialTargetStatus, lastError *string) (bool, error) {
	t := r.targets[id]
	if t == nil || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.LastError = lastError
	return true, nil
}

func (r *fakeTargetRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.DialTarget, error) {
	return nil, nil
}

func (r *fakeTargetRepo) RevertCallingToPending(ctx context.Context, broadcastID uint) (int64, error) {
	var n int64
	for _, t := range r.targets {
		if t.BroadcastID == broadcastID && t.Status == models.DialTargetStatusCalling {
			t.Status = models.DialTargetStatusPending
			n++
		}
	}
	return n, nil
}

func (r *fakeTargetRepo) ExistsActive(ctx context.Context, broadcastID uint, phoneNumber string) (bool, error) {
	for _, t := range r.targets {
		if t.BroadcastID == broadcastID && t.PhoneNumber == phoneNumber && t.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeTargetRepo) CountByStatus(ctx context.Context, broadcastID uint) (map[models.DialTargetStatus]int64, error) {
	out := map[models.DialTargetStatus]int64{}
	for _, t := range r.targets {
		if t.BroadcastID == broadcastID {
			out[t.Status]++
		}
	}
	return out, nil
}

func (r *fakeTargetRepo) RecentFailures(ctx context.Context, broadcastID uint, limit int) ([]*models.DialTarget, error) {
	return nil, nil
}

func (r *fakeTargetRepo) HasLiveTargets(ctx context.Context, broadcastID uint) (bool, error) {
	for _, t := range r.targets {
		if t.BroadcastID == broadcastID && t.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

// fakeAttemptRepo is an in-memory CallAttemptRepository
type fakeAttemptRepo struct {
	attempts map[uint]*models.CallAttempt
}

func newFakeAttemptRepo(attempts ...*models.CallAttempt) *fakeAttemptRepo {
	r := &fakeAttemptRepo{attempts: map[uint]*models.CallAttempt{}}
	for _, a := range attempts {
		r.attempts[a.ID] = a
	}
	return r
}

func (r *fakeAttemptRepo) ByID(ctx context.Context, id uint) (*models.CallAttempt, error) {
	return r.attempts[id], nil
}

func (r *fakeAttemptRepo) ByFilter(ctx context.Context, filter models.CallAttemptFilter, orderBy string, limit, offset int) ([]*models.CallAttempt, error) {
	return nil, nil
}

func (r *fakeAttemptRepo) Save(ctx context.Context, a *models.CallAttempt) error {
	r.attempts[a.ID] = a
	return nil
}

func (r *fakeAttemptRepo) SaveBatch(ctx context.Context, as []*models.CallAttempt) error {
	for _, a := range as {
		r.attempts[a.ID] = a
	}
	return nil
}

func (r *fakeAttemptRepo) ByProviderCallID(ctx context.Context, providerType models.ProviderType, providerCallID string) (*models.CallAttempt, error) {
	for _, a := range r.attempts {
		if a.ProviderType == providerType && a.ProviderCallID != nil && *a.ProviderCallID == providerCallID {
			return a, nil
		}
	}
	return nil, nil
}

func (r *fakeAttemptRepo) ActiveByTarget(ctx context.Context, dialTargetID uint) (*models.CallAttempt, error) {
	for _, a := range r.attempts {
		if a.DialTargetID == dialTargetID && !a.Status.IsTerminal() {
			return a, nil
		}
	}
	return nil, nil
}

func (r *fakeAttemptRepo) SetProviderCallID(ctx context.Context, id uint, providerCallID string) error {
	if a := r.attempts[id]; a != nil {
		a.ProviderCallID = &providerCallID
	}
	return nil
}

func (r *fakeAttemptRepo) TransitionStatus(ctx context.Context, id uint, from, to models.CallAttemptStatus, answeredAt *time.Time) (bool, error) {
	a := r.attempts[id]
	if a == nil || a.Status != from || a.Status.IsTerminal() {
		return false, nil
	}
	a.Status = to
	if answeredAt != nil {
		a.AnsweredAt = answeredAt
	}
	return true, nil
}

func (r *fakeAttemptRepo) FinalizeIfActive(ctx context.Context, id uint, status models.CallAttemptStatus, outcome models.CallOutcome, durationSeconds *int, endedAt time.Time, lastError *string) (bool, error) {
	a := r.attempts[id]
	if a == nil || a.Status.IsTerminal() {
		return false, nil
	}
	a.Status = status
	a.Outcome = &outcome
	a.DurationSeconds = durationSeconds
	a.EndedAt = &endedAt
	a.LastError = lastError
	return true, nil
}

func (r *fakeAttemptRepo) AppendDTMF(ctx context.Context, id uint, digit string) error {
	if a := r.attempts[id]; a != nil {
		a.DTMFPressed = append(a.DTMFPressed, digit)
	}
	return nil
}

func (r *fakeAttemptRepo) Reclassify(ctx context.Context, id uint, outcome models.CallOutcome, reclassifiedBy string) (bool, error) {
	a := r.attempts[id]
	if a == nil || !a.Status.IsTerminal() {
		return false, nil
	}
	a.Outcome = &outcome
	a.ReclassifiedBy = &reclassifiedBy
	return true, nil
}

func (r *fakeAttemptRepo) CountInFlight(ctx context.Context, broadcastID uint) (int64, error) {
	var n int64
	for _, a := range r.attempts {
		if a.BroadcastID == broadcastID && !a.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

// fakeAccountRepo is an in-memory ProviderAccountRepository
type fakeAccountRepo struct {
	accounts   map[uint]*models.ProviderAccount
	decrements int
}

func newFakeAccountRepo(accounts ...*models.ProviderAccount) *fakeAccountRepo {
	r := &fakeAccountRepo{accounts: map[uint]*models.ProviderAccount{}}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *fakeAccountRepo) ByID(ctx context.Context, id uint) (*models.ProviderAccount, error) {
	return r.accounts[id], nil
}

func (r *fakeAccountRepo) ByFilter(ctx context.Context, filter models.ProviderAccountFilter, orderBy string, limit, offset int) ([]*models.ProviderAccount, error) {
	return nil, nil
}

func (r *fakeAccountRepo) Save(ctx context.Context, a *models.ProviderAccount) error {
	r.accounts[a.ID] = a
	return nil
}

func (r *fakeAccountRepo) SaveBatch(ctx context.Context, as []*models.ProviderAccount) error {
	for _, a := range as {
		r.accounts[a.ID] = a
	}
	return nil
}

func (r *fakeAccountRepo) ByUUID(ctx context.Context, uuid string) (*models.ProviderAccount, error) {
	return nil, nil
}

func (r *fakeAccountRepo) ListActive(ctx context.Context) ([]*models.ProviderAccount, error) {
	var out []*models.ProviderAccount
	for _, a := range r.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (r *fakeAccountRepo) PickWithCapacity(ctx context.Context, maxPerProvider int) (*models.ProviderAccount, error) {
	for _, a := range r.accounts {
		if a.CurrentInFlight < maxPerProvider {
			return a, nil
		}
	}
	return nil, nil
}

func (r *fakeAccountRepo) IncrementUsage(ctx context.Context, id uint, maxPerProvider int, now time.Time) (bool, error) {
	a := r.accounts[id]
	if a == nil || a.CurrentInFlight >= maxPerProvider {
		return false, nil
	}
	a.CurrentInFlight++
	a.DailyCallCount++
	return true, nil
}

func (r *fakeAccountRepo) DecrementInFlight(ctx context.Context, id uint) error {
	r.decrements++
	if a := r.accounts[id]; a != nil && a.CurrentInFlight > 0 {
		a.CurrentInFlight--
	}
	return nil
}

func (r *fakeAccountRepo) ResetDailyCounts(ctx context.Context) error {
	for _, a := range r.accounts {
		a.DailyCallCount = 0
	}
	return nil
}

// fakeBroadcastRepo is an in-memory BroadcastRepository
type fakeBroadcastRepo struct {
	broadcasts map[uint]*models.Broadcast
}

func newFakeBroadcastRepo(broadcasts ...*models.Broadcast) *fakeBroadcastRepo {
	r := &fakeBroadcastRepo{broadcasts: map[uint]*models.Broadcast{}}
	for _, b := range broadcasts {
		r.broadcasts[b.ID] = b
	}
	return r
}

func (r *fakeBroadcastRepo) ByID(ctx context.Context, id uint) (*models.Broadcast, error) {
	return r.broadcasts[id], nil
}

func (r *fakeBroadcastRepo) ByFilter(ctx context.Context, filter models.BroadcastFilter, orderBy string, limit, offset int) ([]*models.Broadcast, error) {
	return nil, nil
}

func (r *fakeBroadcastRepo) Save(ctx context.Context, b *models.Broadcast) error {
	r.broadcasts[b.ID] = b
	return nil
}

func (r *fakeBroadcastRepo) SaveBatch(ctx context.Context, bs []*models.Broadcast) error {
	for _, b := range bs {
		r.broadcasts[b.ID] = b
	}
	return nil
}

func (r *fakeBroadcastRepo) ByUUID(ctx context.Context, uuid string) (*models.Broadcast, error) {
	return nil, nil
}

func (r *fakeBroadcastRepo) ListByStatus(ctx context.Context, status models.BroadcastStatus) ([]*models.Broadcast, error) {
	var out []*models.Broadcast
	for _, b := range r.broadcasts {
		if b.Status == status {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *fakeBroadcastRepo) TransitionStatus(ctx context.Context, id uint, from, to models.BroadcastStatus) (bool, error) {
	b := r.broadcasts[id]
	if b == nil || b.Status != from {
		return false, nil
	}
	b.Status = to
	return true, nil
}

func (r *fakeBroadcastRepo) UpdateSpec(ctx context.Context, id uint, spec models.BroadcastSpec) error {
	if b := r.broadcasts[id]; b != nil {
		b.Spec = spec
	}
	return nil
}

// fakeDNCRepo is an in-memory DNCRepository
type fakeDNCRepo struct {
	entries map[string]*models.DNCEntry
}

func newFakeDNCRepo() *fakeDNCRepo {
	return &fakeDNCRepo{entries: map[string]*models.DNCEntry{}}
}

func (r *fakeDNCRepo) Upsert(ctx context.Context, entry *models.DNCEntry) error {
	if _, ok := r.entries[entry.PhoneNumber]; !ok {
		r.entries[entry.PhoneNumber] = entry
	}
	return nil
}

func (r *fakeDNCRepo) Exists(ctx context.Context, phoneNumber string) (bool, error) {
	_, ok := r.entries[phoneNumber]
	return ok, nil
}

func (r *fakeDNCRepo) ByPhone(ctx context.Context, phoneNumber string) (*models.DNCEntry, error) {
	return r.entries[phoneNumber], nil
}

// fakeCredit records settle/release calls
type fakeCredit struct {
	settled  []string
	released []string
}

func (c *fakeCredit) Reserve(ctx context.Context, broadcastID uint, estimatedUnits int64) (string, error) {
	return "res-1", nil
}

func (c *fakeCredit) Settle(ctx context.Context, reservationID string, actualUnits int64) error {
	c.settled = append(c.settled, reservationID)
	return nil
}

func (c *fakeCredit) Release(ctx context.Context, reservationID string) error {
	c.released = append(c.released, reservationID)
	return nil
}

type outcomeFixture struct {
	processor *OutcomeProcessor
	targets   *fakeTargetRepo
	attempts  *fakeAttemptRepo
	accounts  *fakeAccountRepo
	events    *fakeEventRepo
	dnc       *fakeDNCRepo
	credit    *fakeCredit
	broadcast *models.Broadcast
	target    *models.DialTarget
	attempt   *models.CallAttempt
}

func newOutcomeFixture(attemptStatus models.CallAttemptStatus, attempts, maxAttempts int) *outcomeFixture {
	broadcast := &models.Broadcast{
		ID:     1,
		Name:   "wave one",
		Status: models.BroadcastStatusRunning,
		Spec: models.BroadcastSpec{
			CallsPerMinute:     60,
			MaxConcurrentCalls: 10,
			DTMFActionMap: map[string]models.DTMFAction{
				"1": models.DTMFActionTransfer,
				"2": models.DTMFActionCallback,
				"9": models.DTMFActionDNC,
			},
			TransferNumber: "+14155550199",
		},
	}
	target := &models.DialTarget{
		ID:          10,
		BroadcastID: broadcast.ID,
		PhoneNumber: "+14155550100",
		Status:      models.DialTargetStatusCalling,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	}
	callID := "CA-123"
	attempt := &models.CallAttempt{
		ID:                100,
		DialTargetID:      target.ID,
		BroadcastID:       broadcast.ID,
		ProviderAccountID: 5,
		ProviderType:      models.ProviderTypeTwilio,
		ProviderCallID:    &callID,
		CallerNumber:      "+14155550001",
		CalleeNumber:      target.PhoneNumber,
		Status:            attemptStatus,
	}

	f := &outcomeFixture{
		targets:   newFakeTargetRepo(target),
		attempts:  newFakeAttemptRepo(attempt),
		accounts:  newFakeAccountRepo(&models.ProviderAccount{ID: 5, CurrentInFlight: 1}),
		events:    &fakeEventRepo{},
		dnc:       newFakeDNCRepo(),
		credit:    &fakeCredit{},
		broadcast: broadcast,
		target:    target,
		attempt:   attempt,
	}
	f.processor = NewOutcomeProcessor(
		f.targets,
		f.attempts,
		f.accounts,
		newFakeBroadcastRepo(broadcast),
		f.events,
		f.dnc,
		NewRetryScheduler(f.events),
		NewPacingController(),
		f.credit,
		nil,
	)
	return f
}

func (f *outcomeFixture) event(eventType services.CallEventType) *services.CallEvent {
	return &services.CallEvent{
		Provider:       models.ProviderTypeTwilio,
		ProviderCallID: "CA-123",
		Type:           eventType,
	}
}

func TestHandleCallEventUnknownCallIsStale(t *testing.T) {
	f := newOutcomeFixture(models.CallAttemptStatusQueued, 1, 3)

	ev := f.event(services.CallEventCompleted)
	ev.ProviderCallID = "CA-unknown"
	err := f.processor.HandleCallEvent(context.Background(), ev)
	assert.ErrorIs(t, err, businessflow.ErrStaleCall)
}

func TestHandleCallEventRinging(t *testing.T) {
	f := newOutcomeFixture(models.CallAttemptStatusQueued, 1, 3)

	require.NoError(t, f.processor.HandleCallEvent(context.Background(), f.event(services.CallEventRinging)))
	assert.Equal(t, models.CallAttemptStatusRinging, f.attempt.Status)

	// a duplicate ringing event loses the CAS and is ignored
	require.NoError(t, f.processor.HandleCallEvent(context.Background(), f.event(services.CallEventRinging)))
	assert.Equal(t, models.CallAttemptStatusRinging, f.attempt.Status)
}

func TestHandleCallEventAnsweredByHuman(t *testing.T) {
	f := newOutcomeFixture(models.CallAttemptStatusRinging, 1, 3)

	ev := f.event(services.CallEventAnswered)
	ev.AnsweredBy = services.AnsweredByHuman
	require.NoError(t, f.processor.HandleCallEvent(context.Background(), ev))

	assert.Equal(t, models.CallAttemptStatusInProgress, f.attempt.Status)
	assert.NotNil(t, f.attempt.AnsweredAt)
	// the call is live, so the target stays calling
	assert.Equal(t, models.DialTargetStatusCalling, f.target.Status)
}

func TestHandleCallEventAnsweredByMachine(t *testing.T) {
	f := newOutcomeFixture(models.CallAttemptStatusRinging, 1, 3)

	ev := f.event(services.CallEventAnswered)
	ev.AnsweredBy = services.AnsweredByMachine
	require.NoError(t, f.processor.HandleCallEvent(context.Background(), ev))

	assert.Equal(t, models.CallAttemptStatusVoicemail, f.attempt.Status)
	require.NotNil(t, f.attempt.Outcome)
	assert.Equal(t, models.CallOutcomeVoicemail, *f.attempt.Outcome)
	assert.Equal(t, models.DialTargetStatusVoicemail, f.target.Status)
	assert.Equal(t, 1, f.accounts.decrements)

	// voicemail gets one delayed retry
	require.Len(t, f.events.events, 1)
	assert.Equal(t, models.ScheduledEventKindRetry, f.events.events[0].Kind)
}

func TestHandleCallEventCompleted(t *testing.T) {
	f := newOutcomeFixture(models.CallAttemptStatusInProgress, 1, 3)

	duration := 42
	ev := f.event(services.CallEventCompleted)
	ev.AnsweredBy = services.AnsweredByHuman
	ev.DurationSeconds = &duration
	require.NoError(t, f.processor.HandleCallEvent(context.Background(), ev))

	assert.Equal(t, models.CallAttemptStatusCompleted, f.attempt.Status)
	require.NotNil(t, f.attempt.Outcome)
	assert.Equal(t, models.CallOutcomeCompleted, *f.attempt.Outcome)
	assert.Equal(t, models.DialTargetStatusCompleted, f.target.Status)
	// success schedules nothing
	assert.Empty(t, f.events.events)
}

func TestShortCallWithoutVerdictReclassified(t *testing.T) {
	f := newOutcomeFixture(models.CallAttemptStatusInProgress, 1, 3)

	duration := 8
	ev := f.event(services.CallEventCompleted)
	ev.DurationSeconds = &duration
	require.NoError(t, f.processor.HandleCallEvent(context.Background(), ev))

	assert.Equal(t, models.CallAttemptStatusCompleted, f.attempt.Status)
	require.NotNil(t, f.attempt.Outcome)
	assert.Equal(t, models.CallOutcomeVoicemail, *f.attempt.Outcome)
	require.NotNil(t, f.attempt.ReclassifiedBy)
	assert.Equal(t, models.ReclassifiedByDurationHeuristic, *f.attempt.ReclassifiedBy)
	// the billed duration stays the ground truth
	require.NotNil(t, f.attempt.DurationSeconds)
	assert.Equal(t, 8, *f.attempt.DurationSeconds)
}

func TestReclassificationTrustsProviderVerdicts(t *testing.T) {
	t.Run("HumanVerdictKept", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusInProgress, 1, 3)

		duration := 5
		ev := f.event(services.CallEventCompleted)
		ev.AnsweredBy = services.AnsweredByHuman
		ev.DurationSeconds = &duration
		require.NoError(t, f.processor.HandleCallEvent(context.Background(), ev))

		require.NotNil(t, f.attempt.Outcome)
		assert.Equal(t, models.CallOutcomeCompleted, *f.attempt.Outcome)
		assert.Nil(t, f.attempt.ReclassifiedBy)
	})

	t.Run("LongCallKept", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusInProgress, 1, 3)

		duration := 40
		ev := f.event(services.CallEventCompleted)
		ev.DurationSeconds = &duration
		require.NoError(t, f.processor.HandleCallEvent(context.Background(), ev))

		require.NotNil(t, f.attempt.Outcome)
		assert.Equal(t, models.CallOutcomeCompleted, *f.attempt.Outcome)
		assert.Nil(t, f.attempt.ReclassifiedBy)
	})

	t.Run("MissingDurationKept", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusInProgress, 1, 3)

		require.NoError(t, f.processor.HandleCallEvent(context.Background(), f.event(services.CallEventCompleted)))

		require.NotNil(t, f.attempt.Outcome)
		assert.Equal(t, models.CallOutcomeCompleted, *f.attempt.Outcome)
		assert.Nil(t, f.attempt.ReclassifiedBy)
	})
}

func TestHandleCallEventDuplicateCompletionIsNoop(t *testing.T) {
	f := newOutcomeFixture(models.CallAttemptStatusInProgress, 1, 3)

	require.NoError(t, f.processor.HandleCallEvent(context.Background(), f.event(services.CallEventCompleted)))
	require.NoError(t, f.processor.HandleCallEvent(context.Background(), f.event(services.CallEventCompleted)))

	// the provider slot is released exactly once
	assert.Equal(t, 1, f.accounts.decrements)
	assert.Equal(t, models.DialTargetStatusCompleted, f.target.Status)
}

func TestHandleCallEventNoAnswerSchedulesRetry(t *testing.T) {
	f := newOutcomeFixture(models.CallAttemptStatusRinging, 1, 3)

	require.NoError(t, f.processor.HandleCallEvent(context.Background(), f.event(services.CallEventNoAnswer)))

	assert.Equal(t, models.DialTargetStatusNoAnswer, f.target.Status)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, models.ScheduledEventKindRetry, f.events.events[0].Kind)
}

func TestHandleCallEventExhaustionClearsSchedule(t *testing.T) {
	f := newOutcomeFixture(models.CallAttemptStatusRinging, 3, 3)

	// something is already queued for this target
	require.NoError(t, f.events.Save(context.Background(), &models.ScheduledEvent{
		DialTargetID: f.target.ID,
		BroadcastID:  f.broadcast.ID,
		Kind:         models.ScheduledEventKindRetry,
		RunAt:        time.Now().Add(time.Hour),
	}))

	require.NoError(t, f.processor.HandleCallEvent(context.Background(), f.event(services.CallEventBusy)))

	assert.Equal(t, models.DialTargetStatusExhausted, f.target.Status)
	assert.Empty(t, f.events.events)
}

func TestHandleCallEventFailedCarriesError(t *testing.T) {
	f := newOutcomeFixture(models.CallAttemptStatusQueued, 1, 3)

	ev := f.event(services.CallEventFailed)
	ev.ErrorMessage = "carrier rejected"
	require.NoError(t, f.processor.HandleCallEvent(context.Background(), ev))

	assert.Equal(t, models.CallAttemptStatusFailed, f.attempt.Status)
	require.NotNil(t, f.attempt.LastError)
	assert.Equal(t, "carrier rejected", *f.attempt.LastError)
	assert.Equal(t, models.DialTargetStatusFailed, f.target.Status)
}

func TestHandleDTMF(t *testing.T) {
	t.Run("DroppedOutsideInProgress", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusRinging, 1, 3)

		ev := f.event(services.CallEventDTMF)
		ev.Digit = "1"
		require.NoError(t, f.processor.HandleCallEvent(context.Background(), ev))

		assert.Empty(t, f.attempt.DTMFPressed)
		assert.Equal(t, models.CallAttemptStatusRinging, f.attempt.Status)
	})

	t.Run("TransferFinalizesAsTransferred", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusInProgress, 1, 3)

		ev := f.event(services.CallEventDTMF)
		ev.Digit = "1"
		require.NoError(t, f.processor.HandleCallEvent(context.Background(), ev))

		assert.Equal(t, []string{"1"}, []string(f.attempt.DTMFPressed))
		require.NotNil(t, f.attempt.Outcome)
		assert.Equal(t, models.CallOutcomeTransferred, *f.attempt.Outcome)
		assert.Equal(t, models.DialTargetStatusTransferred, f.target.Status)
	})

	t.Run("CallbackSchedulesBoostedEvent", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusInProgress, 3, 3)

		ev := f.event(services.CallEventDTMF)
		ev.Digit = "2"
		require.NoError(t, f.processor.HandleCallEvent(context.Background(), ev))

		// callback wins even on the final attempt
		assert.Equal(t, models.DialTargetStatusCallback, f.target.Status)
		require.Len(t, f.events.events, 1)
		assert.Equal(t, models.ScheduledEventKindCallback, f.events.events[0].Kind)
	})

	t.Run("DNCRecordsEntryAndStops", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusInProgress, 1, 3)

		ev := f.event(services.CallEventDTMF)
		ev.Digit = "9"
		require.NoError(t, f.processor.HandleCallEvent(context.Background(), ev))

		entry, err := f.dnc.ByPhone(context.Background(), f.target.PhoneNumber)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, models.DNCSourceDTMF, entry.Source)

		assert.Equal(t, models.DialTargetStatusDNC, f.target.Status)
		assert.Empty(t, f.events.events)
	})

	t.Run("UnmappedDigitOnlyRecorded", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusInProgress, 1, 3)

		ev := f.event(services.CallEventDTMF)
		ev.Digit = "7"
		require.NoError(t, f.processor.HandleCallEvent(context.Background(), ev))

		assert.Equal(t, []string{"7"}, []string(f.attempt.DTMFPressed))
		assert.Equal(t, models.CallAttemptStatusInProgress, f.attempt.Status)
		assert.Equal(t, models.DialTargetStatusCalling, f.target.Status)
	})
}

func TestCallbackScheduling(t *testing.T) {
	pressCallback := func(t *testing.T, f *outcomeFixture) {
		ev := f.event(services.CallEventDTMF)
		ev.Digit = "2"
		require.NoError(t, f.processor.HandleCallEvent(context.Background(), ev))
		assert.Equal(t, models.DialTargetStatusCallback, f.target.Status)
	}

	t.Run("ConfiguredDelayHonored", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusInProgress, 1, 3)
		f.broadcast.Spec.CallbackDelayMinutes = 120

		before := utils.UTCNow()
		pressCallback(t, f)

		require.Len(t, f.events.events, 1)
		e := f.events.events[0]
		assert.Equal(t, models.ScheduledEventKindCallback, e.Kind)
		require.NotNil(t, e.Payload.RequestedTime)
		assert.WithinDuration(t, before.Add(2*time.Hour), e.RunAt, 2*time.Second)
	})

	t.Run("OutsideHoursMovesToWindowOpen", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusInProgress, 1, 3)
		// a window hours away from now, so the default delay lands outside it
		start := (utils.UTCNow().Hour() + 6) % 24
		f.broadcast.Spec.CallingHoursStart = start
		f.broadcast.Spec.CallingHoursEnd = (start + 2) % 24

		pressCallback(t, f)

		require.Len(t, f.events.events, 1)
		e := f.events.events[0]
		assert.Equal(t, models.ScheduledEventKindCallback, e.Kind)
		require.NotNil(t, e.Payload.RequestedTime)
		assert.Equal(t, start, e.RunAt.UTC().Hour())
		assert.True(t, e.RunAt.After(utils.UTCNow()))
	})

	t.Run("DefaultDelayWithinHours", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusInProgress, 1, 3)

		before := utils.UTCNow()
		pressCallback(t, f)

		require.Len(t, f.events.events, 1)
		e := f.events.events[0]
		assert.Equal(t, models.ScheduledEventKindCallback, e.Kind)
		assert.WithinDuration(t, before.Add(utils.DefaultCallbackDelay), e.RunAt, 2*time.Second)
	})
}

func TestSettleTargetLosesRaceQuietly(t *testing.T) {
	f := newOutcomeFixture(models.CallAttemptStatusRinging, 1, 3)

	// a broadcast stop already reverted the row to pending
	f.target.Status = models.DialTargetStatusPending

	require.NoError(t, f.processor.HandleCallEvent(context.Background(), f.event(services.CallEventNoAnswer)))

	assert.Equal(t, models.DialTargetStatusPending, f.target.Status)
	// the attempt still settled normally
	require.NotNil(t, f.attempt.Outcome)
	assert.Equal(t, models.CallOutcomeNoAnswer, *f.attempt.Outcome)
}

func TestHandleStaleAttempt(t *testing.T) {
	t.Run("LiveAttemptTimesOut", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusRinging, 1, 3)

		require.NoError(t, f.processor.HandleStaleAttempt(context.Background(), f.target))

		assert.Equal(t, models.CallAttemptStatusFailed, f.attempt.Status)
		require.NotNil(t, f.attempt.Outcome)
		assert.Equal(t, models.CallOutcomeTimedOut, *f.attempt.Outcome)
		assert.Equal(t, models.DialTargetStatusTimedOut, f.target.Status)
	})

	t.Run("NoLiveAttemptSettlesTargetDirectly", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusCompleted, 1, 3)

		require.NoError(t, f.processor.HandleStaleAttempt(context.Background(), f.target))
		assert.Equal(t, models.DialTargetStatusTimedOut, f.target.Status)
	})
}

func TestFinalizeCreditSettlement(t *testing.T) {
	t.Run("SuccessSettlesActualUnits", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusInProgress, 1, 3)
		res := "res-42"
		f.attempt.ReservationID = &res

		duration := 30
		ev := f.event(services.CallEventCompleted)
		ev.DurationSeconds = &duration
		require.NoError(t, f.processor.HandleCallEvent(context.Background(), ev))

		assert.Equal(t, []string{"res-42"}, f.credit.settled)
		assert.Empty(t, f.credit.released)
	})

	t.Run("FailureReleasesHold", func(t *testing.T) {
		f := newOutcomeFixture(models.CallAttemptStatusQueued, 1, 3)
		res := "res-43"
		f.attempt.ReservationID = &res

		require.NoError(t, f.processor.HandleCallEvent(context.Background(), f.event(services.CallEventFailed)))

		assert.Equal(t, []string{"res-43"}, f.credit.released)
		assert.Empty(t, f.credit.settled)
	})
}
