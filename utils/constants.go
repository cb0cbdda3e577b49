package utils

import (
	"time"
)

// Token constants
const (
	// AccessTokenTTL is the time-to-live for operator access tokens (24 hours)
	AccessTokenTTL = 24 * time.Hour
)

// Dispatch engine constants
const (
	// DefaultDispatchInterval is the default interval between dispatch ticks
	DefaultDispatchInterval = 5 * time.Second

	// DefaultStaleCallThreshold marks items stuck in calling as timed_out
	DefaultStaleCallThreshold = 5 * time.Minute

	// DefaultCallTimeout bounds a single provider CreateCall round trip
	DefaultCallTimeout = 15 * time.Second

	// DefaultMaxAttempts is the attempt ceiling when a target does not set one
	DefaultMaxAttempts = 3

	// DefaultCallbackDelay is used when a callback DTMF press carries no
	// caller-chosen time
	DefaultCallbackDelay = 30 * time.Minute

	// CallbackPriorityBoost is added to the original priority of a target
	// re-enqueued by a callback request so it outranks cold dials
	CallbackPriorityBoost = 100

	// VoicemailRetryDelay schedules the single voicemail retry well outside
	// the hour the voicemail was hit
	VoicemailRetryDelay = 4 * time.Hour

	// VoicemailHeuristicMaxSeconds is the longest a completed call may run
	// and still be reclassified as a probable voicemail when the provider
	// supplied no machine-detection verdict
	VoicemailHeuristicMaxSeconds = 12

	// DispatchBatchWorkers is the size of the per-tick submission worker group
	DispatchBatchWorkers = 4
)

// Webhook idempotency constants
const (
	// WebhookDedupTTL is how long a processed webhook event key is remembered
	WebhookDedupTTL = 24 * time.Hour
)
