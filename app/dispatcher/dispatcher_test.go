package dispatcher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarimv/Raijin/app/services"
	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/utils"
)

type dispatchFixture struct {
	dispatcher *Dispatcher
	targets    *fakeTargetRepo
	attempts   *fakeAttemptRepo
	accounts   *fakeAccountRepo
	broadcasts *fakeBroadcastRepo
	events     *fakeEventRepo
	credit     *fakeCredit
	mock       *services.MockProvider
	broadcast  *models.Broadcast
	target     *models.DialTarget
	account    *models.ProviderAccount
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()

	broadcast := &models.Broadcast{
		ID:     1,
		Name:   "wave one",
		Status: models.BroadcastStatusRunning,
		Spec: models.BroadcastSpec{
			CallsPerMinute:     60,
			MaxConcurrentCalls: 10,
			AgentOrScriptID:    "agent-7",
		},
	}
	target := &models.DialTarget{
		ID:          10,
		BroadcastID: broadcast.ID,
		PhoneNumber: "+14155550100",
		Status:      models.DialTargetStatusPending,
		MaxAttempts: 3,
	}
	account := &models.ProviderAccount{
		ID:           5,
		ProviderType: models.ProviderTypeRetell,
		PhoneNumber:  "+14155550001",
		IsActive:     utils.ToPtr(true),
	}

	f := &dispatchFixture{
		targets:    newFakeTargetRepo(target),
		attempts:   newFakeAttemptRepo(),
		accounts:   newFakeAccountRepo(account),
		broadcasts: newFakeBroadcastRepo(broadcast),
		events:     &fakeEventRepo{},
		credit:     &fakeCredit{},
		mock:       services.NewMockProvider(models.ProviderTypeRetell),
		broadcast:  broadcast,
		target:     target,
		account:    account,
	}

	pacing := NewPacingController()
	retry := NewRetryScheduler(f.events)
	outcome := NewOutcomeProcessor(
		f.targets, f.attempts, f.accounts, f.broadcasts, f.events,
		newFakeDNCRepo(), retry, pacing, f.credit, nil,
	)
	factory := func(account *models.ProviderAccount) (services.ProviderAdapter, error) {
		return f.mock, nil
	}

	f.dispatcher = NewDispatcher(
		f.broadcasts, f.targets, f.attempts, f.accounts, f.events,
		factory, pacing, retry, outcome, f.credit,
		time.Second, 10*time.Minute, 30*time.Second,
		"https://dialer.example.com", t.TempDir(),
	)
	return f
}

// singleAttempt returns the only attempt the fixture has recorded
func (f *dispatchFixture) singleAttempt(t *testing.T) *models.CallAttempt {
	t.Helper()
	require.Len(t, f.attempts.attempts, 1)
	for _, a := range f.attempts.attempts {
		return a
	}
	return nil
}

func TestDispatchBroadcastPlacesCall(t *testing.T) {
	f := newDispatchFixture(t)

	f.dispatcher.dispatchBroadcast(context.Background(), f.broadcast)

	assert.Equal(t, models.DialTargetStatusCalling, f.target.Status)
	assert.Equal(t, 1, f.target.Attempts)

	calls := f.mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, f.target.PhoneNumber, calls[0].To)
	assert.Equal(t, f.account.PhoneNumber, calls[0].From)
	assert.Equal(t, "agent-7", calls[0].AgentOrScriptID)
	assert.True(t, calls[0].MachineDetection)
	assert.Equal(t, 30, calls[0].TimeoutSeconds)
	assert.Equal(t, "https://dialer.example.com/api/v1/webhooks/retell", calls[0].CallbackURL)

	attempt := f.singleAttempt(t)
	assert.Equal(t, models.CallAttemptStatusQueued, attempt.Status)
	require.NotNil(t, attempt.ProviderCallID)
	assert.True(t, strings.HasPrefix(*attempt.ProviderCallID, "mock-"))
	require.NotNil(t, attempt.ReservationID)
	assert.Equal(t, "res-1", *attempt.ReservationID)

	assert.Equal(t, 1, f.account.CurrentInFlight)
	assert.Equal(t, 1, f.account.DailyCallCount)
}

func TestDispatchHonorsConcurrencyClamp(t *testing.T) {
	f := newDispatchFixture(t)
	f.broadcast.Spec.MaxConcurrentCalls = 2

	// two calls are already live, the clamp leaves no room
	require.NoError(t, f.attempts.Save(context.Background(), &models.CallAttempt{
		ID: 100, BroadcastID: f.broadcast.ID, Status: models.CallAttemptStatusRinging,
	}))
	require.NoError(t, f.attempts.Save(context.Background(), &models.CallAttempt{
		ID: 101, BroadcastID: f.broadcast.ID, Status: models.CallAttemptStatusInProgress,
	}))

	f.dispatcher.dispatchBroadcast(context.Background(), f.broadcast)

	assert.Empty(t, f.mock.Calls())
	assert.Equal(t, models.DialTargetStatusPending, f.target.Status)
}

func TestDispatchOutsideCallingHoursPlacesNothing(t *testing.T) {
	f := newDispatchFixture(t)

	// a one-hour window far from the current hour
	hour := utils.UTCNow().Hour()
	f.broadcast.Spec.CallingHoursStart = (hour + 6) % 24
	f.broadcast.Spec.CallingHoursEnd = (hour + 7) % 24

	f.dispatcher.dispatchBroadcast(context.Background(), f.broadcast)

	assert.Empty(t, f.mock.Calls())
	assert.Equal(t, models.DialTargetStatusPending, f.target.Status)
}

func TestDispatchTransientFailureSchedulesRetry(t *testing.T) {
	f := newDispatchFixture(t)
	f.mock.CreateCallFn = func(ctx context.Context, params services.CreateCallParams) (*services.CreateCallResult, error) {
		return nil, services.NewProviderError(models.ProviderTypeRetell, services.ProviderErrorTransient, "upstream 502", nil)
	}

	f.dispatcher.dispatchBroadcast(context.Background(), f.broadcast)

	assert.Equal(t, models.DialTargetStatusFailed, f.target.Status)

	attempt := f.singleAttempt(t)
	assert.Equal(t, models.CallAttemptStatusFailed, attempt.Status)
	require.NotNil(t, attempt.Outcome)
	assert.Equal(t, models.CallOutcomeFailed, *attempt.Outcome)

	// the hold comes back and the provider slot is freed
	assert.Equal(t, []string{"res-1"}, f.credit.released)
	assert.Equal(t, 0, f.account.CurrentInFlight)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, models.ScheduledEventKindRetry, f.events.events[0].Kind)
	assert.Equal(t, f.target.ID, f.events.events[0].DialTargetID)
}

func TestDispatchPermanentFailureBurnsTarget(t *testing.T) {
	f := newDispatchFixture(t)
	f.mock.CreateCallFn = func(ctx context.Context, params services.CreateCallParams) (*services.CreateCallResult, error) {
		return nil, services.NewProviderError(models.ProviderTypeRetell, services.ProviderErrorPermanent, "invalid number", nil)
	}

	f.dispatcher.dispatchBroadcast(context.Background(), f.broadcast)

	assert.Equal(t, models.DialTargetStatusFailed, f.target.Status)
	require.NotNil(t, f.target.LastError)
	assert.Contains(t, *f.target.LastError, "invalid number")
	// no redial for a number the carrier rejected outright
	assert.Empty(t, f.events.events)
	assert.Equal(t, []string{"res-1"}, f.credit.released)
}

func TestDispatchFailureOnFinalAttemptExhausts(t *testing.T) {
	f := newDispatchFixture(t)
	f.target.Attempts = 2
	f.mock.CreateCallFn = func(ctx context.Context, params services.CreateCallParams) (*services.CreateCallResult, error) {
		return nil, services.NewProviderError(models.ProviderTypeRetell, services.ProviderErrorTransient, "upstream 502", nil)
	}

	f.dispatcher.dispatchBroadcast(context.Background(), f.broadcast)

	assert.Equal(t, models.DialTargetStatusExhausted, f.target.Status)
	assert.Empty(t, f.events.events)
}

func TestDispatchUnclaimsWhenNoProviderCapacity(t *testing.T) {
	f := newDispatchFixture(t)
	f.broadcast.Spec.MaxCallsPerProvider = 1
	f.account.CurrentInFlight = 1

	f.dispatcher.dispatchBroadcast(context.Background(), f.broadcast)

	// the claim is rolled back so the next tick sees the row again
	assert.Equal(t, models.DialTargetStatusPending, f.target.Status)
	assert.Equal(t, 0, f.target.Attempts)
	assert.Empty(t, f.mock.Calls())
	assert.Empty(t, f.attempts.attempts)
}

func TestPromoteDueEvents(t *testing.T) {
	dueEvent := func(f *dispatchFixture, dialTargetID uint) {
		require.NoError(t, f.events.Save(context.Background(), &models.ScheduledEvent{
			DialTargetID: dialTargetID,
			BroadcastID:  f.broadcast.ID,
			Kind:         models.ScheduledEventKindRetry,
			RunAt:        utils.UTCNow().Add(-time.Minute),
			Payload:      models.ScheduledEventPayload{Attempts: 1, Priority: 110},
		}))
	}

	t.Run("DueEventCreatesFreshTarget", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.target.Status = models.DialTargetStatusNoAnswer
		f.target.Attempts = 1
		dueEvent(f, f.target.ID)

		f.dispatcher.promoteDueEvents(context.Background())

		assert.Empty(t, f.events.events)
		require.Len(t, f.targets.targets, 2)

		var redial *models.DialTarget
		for _, candidate := range f.targets.targets {
			if candidate.ID != f.target.ID {
				redial = candidate
			}
		}
		require.NotNil(t, redial)
		assert.Equal(t, models.DialTargetStatusPending, redial.Status)
		assert.Equal(t, f.target.PhoneNumber, redial.PhoneNumber)
		assert.Equal(t, 1, redial.Attempts)
		assert.Equal(t, 110, redial.Priority)
		assert.Equal(t, f.target.MaxAttempts, redial.MaxAttempts)
		// the finished row itself is never reopened
		assert.Equal(t, models.DialTargetStatusNoAnswer, f.target.Status)
	})

	t.Run("ActiveRowMakesEventRedundant", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.target.Status = models.DialTargetStatusCalling
		dueEvent(f, f.target.ID)

		f.dispatcher.promoteDueEvents(context.Background())

		assert.Empty(t, f.events.events)
		assert.Len(t, f.targets.targets, 1)
	})

	t.Run("MissingOriginDropsEvent", func(t *testing.T) {
		f := newDispatchFixture(t)
		dueEvent(f, 999)

		f.dispatcher.promoteDueEvents(context.Background())

		assert.Empty(t, f.events.events)
		assert.Len(t, f.targets.targets, 1)
	})

	t.Run("FutureEventWaits", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.target.Status = models.DialTargetStatusNoAnswer
		require.NoError(t, f.events.Save(context.Background(), &models.ScheduledEvent{
			DialTargetID: f.target.ID,
			BroadcastID:  f.broadcast.ID,
			Kind:         models.ScheduledEventKindRetry,
			RunAt:        utils.UTCNow().Add(time.Hour),
			Payload:      models.ScheduledEventPayload{Attempts: 1, Priority: 10},
		}))

		f.dispatcher.promoteDueEvents(context.Background())

		assert.Len(t, f.events.events, 1)
		assert.Len(t, f.targets.targets, 1)
	})
}

func TestDispatchCompletesDrainedBroadcast(t *testing.T) {
	t.Run("NothingLeftToDo", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.target.Status = models.DialTargetStatusCompleted

		f.dispatcher.dispatchBroadcast(context.Background(), f.broadcast)

		assert.Equal(t, models.BroadcastStatusCompleted, f.broadcast.Status)
	})

	t.Run("PendingEventKeepsBroadcastRunning", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.target.Status = models.DialTargetStatusNoAnswer
		require.NoError(t, f.events.Save(context.Background(), &models.ScheduledEvent{
			DialTargetID: f.target.ID,
			BroadcastID:  f.broadcast.ID,
			Kind:         models.ScheduledEventKindRetry,
			RunAt:        utils.UTCNow().Add(time.Hour),
			Payload:      models.ScheduledEventPayload{Attempts: 1, Priority: 10},
		}))

		f.dispatcher.dispatchBroadcast(context.Background(), f.broadcast)

		assert.Equal(t, models.BroadcastStatusRunning, f.broadcast.Status)
	})

	t.Run("LiveTargetKeepsBroadcastRunning", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.target.Status = models.DialTargetStatusCalling

		f.dispatcher.dispatchBroadcast(context.Background(), f.broadcast)

		assert.Equal(t, models.BroadcastStatusRunning, f.broadcast.Status)
	})
}

func TestRunOnceDispatchesRunningBroadcasts(t *testing.T) {
	f := newDispatchFixture(t)

	f.dispatcher.runOnce(context.Background())

	require.Len(t, f.mock.Calls(), 1)
	assert.Equal(t, models.DialTargetStatusCalling, f.target.Status)
}
