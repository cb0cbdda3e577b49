package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dial attempts partitioned by provider and placement result
	dialAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_dial_attempts_total",
			Help: "Total number of outbound dial attempts placed",
		},
		[]string{"provider", "result"},
	)

	// Finished call outcomes partitioned by outcome
	callOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_call_outcomes_total",
			Help: "Total number of finished calls by outcome",
		},
		[]string{"outcome"},
	)

	// Dispatch tick duration in seconds
	tickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dialer_dispatch_tick_duration_seconds",
			Help:    "Dispatch tick latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Ticks skipped because the previous tick was still running
	ticksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dialer_dispatch_ticks_skipped_total",
			Help: "Ticks skipped due to a still-running previous tick",
		},
	)

	// Calls currently in flight across all broadcasts
	callsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dialer_calls_in_flight",
			Help: "Number of calls currently in flight",
		},
	)

	// Scheduled events promoted back into the dial queue
	eventPromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_scheduled_event_promotions_total",
			Help: "Scheduled events promoted into new pending dial targets",
		},
		[]string{"kind"},
	)

	// Targets swept out of the calling state after going stale
	staleSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dialer_stale_sweeps_total",
			Help: "Dial targets swept after exceeding the stale threshold",
		},
	)

	// DTMF digits acted upon, partitioned by mapped action
	dtmfActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_dtmf_actions_total",
			Help: "DTMF digits processed by mapped action",
		},
		[]string{"action"},
	)

	// Completed calls the duration heuristic reclassified as voicemail
	outcomeReclassificationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dialer_outcome_reclassifications_total",
			Help: "Finished calls reclassified as voicemail by the duration heuristic",
		},
	)

	// Webhook events that no longer matched a live attempt
	staleEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dialer_stale_webhook_events_total",
			Help: "Webhook events dropped because no live attempt matched",
		},
	)
)
