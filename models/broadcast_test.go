package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastStatusTransitions(t *testing.T) {
	cases := []struct {
		from    BroadcastStatus
		to      BroadcastStatus
		allowed bool
	}{
		{BroadcastStatusDraft, BroadcastStatusRunning, true},
		{BroadcastStatusDraft, BroadcastStatusStopped, true},
		{BroadcastStatusDraft, BroadcastStatusPaused, false},
		{BroadcastStatusRunning, BroadcastStatusPaused, true},
		{BroadcastStatusRunning, BroadcastStatusStopped, true},
		{BroadcastStatusRunning, BroadcastStatusCompleted, true},
		{BroadcastStatusRunning, BroadcastStatusDraft, false},
		{BroadcastStatusPaused, BroadcastStatusRunning, true},
		{BroadcastStatusPaused, BroadcastStatusStopped, true},
		{BroadcastStatusPaused, BroadcastStatusCompleted, false},
		{BroadcastStatusStopped, BroadcastStatusRunning, false},
		{BroadcastStatusCompleted, BroadcastStatusRunning, false},
	}

	for _, tc := range cases {
		got := tc.from.CanTransitionTo(tc.to)
		assert.Equal(t, tc.allowed, got, "%s -> %s", tc.from, tc.to)
	}
}

func TestWithinCallingHours(t *testing.T) {
	at := func(hour int) time.Time {
		return time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
	}

	t.Run("ZeroWindowMeansUnrestricted", func(t *testing.T) {
		spec := BroadcastSpec{}
		assert.True(t, spec.WithinCallingHours(at(3), time.UTC))
	})

	t.Run("NormalWindow", func(t *testing.T) {
		spec := BroadcastSpec{CallingHoursStart: 9, CallingHoursEnd: 17}
		assert.False(t, spec.WithinCallingHours(at(8), time.UTC))
		assert.True(t, spec.WithinCallingHours(at(9), time.UTC))
		assert.True(t, spec.WithinCallingHours(at(16), time.UTC))
		// end hour is exclusive
		assert.False(t, spec.WithinCallingHours(at(17), time.UTC))
	})

	t.Run("WindowWrappingMidnight", func(t *testing.T) {
		spec := BroadcastSpec{CallingHoursStart: 22, CallingHoursEnd: 6}
		assert.True(t, spec.WithinCallingHours(at(23), time.UTC))
		assert.True(t, spec.WithinCallingHours(at(2), time.UTC))
		assert.False(t, spec.WithinCallingHours(at(12), time.UTC))
	})

	t.Run("TimezoneShiftsTheWindow", func(t *testing.T) {
		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)

		spec := BroadcastSpec{CallingHoursStart: 9, CallingHoursEnd: 17}
		// 14:30 UTC is 09:30 or 10:30 in New York depending on DST, either
		// way inside the window; 02:30 UTC is the previous evening.
		assert.True(t, spec.WithinCallingHours(at(14), loc))
		assert.False(t, spec.WithinCallingHours(at(2), loc))
	})

	t.Run("BypassOverridesWindow", func(t *testing.T) {
		spec := BroadcastSpec{CallingHoursStart: 9, CallingHoursEnd: 17, BypassCallingHours: true}
		assert.True(t, spec.WithinCallingHours(at(3), time.UTC))
	})
}

func TestNextCallingTime(t *testing.T) {
	spec := BroadcastSpec{CallingHoursStart: 9, CallingHoursEnd: 17}
	at := func(hour int) time.Time {
		return time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
	}

	t.Run("InsideWindowUnchanged", func(t *testing.T) {
		assert.Equal(t, at(10), spec.NextCallingTime(at(10), time.UTC))
	})

	t.Run("BeforeWindowSameDay", func(t *testing.T) {
		next := spec.NextCallingTime(at(6), time.UTC)
		assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), next)
	})

	t.Run("AfterWindowNextDay", func(t *testing.T) {
		next := spec.NextCallingTime(at(18), time.UTC)
		assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), next)
	})

	t.Run("UnrestrictedUnchanged", func(t *testing.T) {
		empty := BroadcastSpec{}
		assert.Equal(t, at(3), empty.NextCallingTime(at(3), time.UTC))
	})

	t.Run("TimezoneRespected", func(t *testing.T) {
		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)

		// 02:30 UTC is the previous New York evening, so the next window
		// opens at 9am local later that UTC day
		next := spec.NextCallingTime(at(2), loc)
		assert.True(t, spec.WithinCallingHours(next, loc))
		assert.Equal(t, 9, next.In(loc).Hour())
		assert.True(t, next.After(at(2)))
	})
}

func TestActionForDigit(t *testing.T) {
	spec := BroadcastSpec{
		DTMFActionMap: map[string]DTMFAction{
			"1": DTMFActionTransfer,
			"2": DTMFActionCallback,
			"9": DTMFActionDNC,
			"5": DTMFAction("explode"), // unknown action must not leak out
		},
	}

	a, ok := spec.ActionForDigit("1")
	assert.True(t, ok)
	assert.Equal(t, DTMFActionTransfer, a)

	a, ok = spec.ActionForDigit("9")
	assert.True(t, ok)
	assert.Equal(t, DTMFActionDNC, a)

	_, ok = spec.ActionForDigit("5")
	assert.False(t, ok)

	_, ok = spec.ActionForDigit("7")
	assert.False(t, ok)

	empty := BroadcastSpec{}
	_, ok = empty.ActionForDigit("1")
	assert.False(t, ok)
}

func TestBroadcastBeforeCreate(t *testing.T) {
	b := &Broadcast{Name: "spring wave"}
	require.NoError(t, b.BeforeCreate())

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", b.UUID.String())
	assert.Equal(t, BroadcastStatusDraft, b.Status)
	assert.False(t, b.CreatedAt.IsZero())

	// a second call must not regenerate identity
	uuidBefore := b.UUID
	require.NoError(t, b.BeforeCreate())
	assert.Equal(t, uuidBefore, b.UUID)
}
