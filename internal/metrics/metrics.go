package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Swipe and match metrics
var (
	// SwipesTotal tracks swipe attempts by action (like/pass/undo) and outcome (ok/denied/error)
	SwipesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowatch_swipes_total",
			Help: "Swipe attempts by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// QuotaDenials tracks business-rule denials by reason
	QuotaDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowatch_quota_denials_total",
			Help: "Swipe/undo requests denied by quota rules",
		},
		[]string{"kind"},
	)

	// MatchesCreated counts mutual likes that produced a match
	MatchesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cowatch_matches_created_total",
			Help: "Mutual likes that produced a match",
		},
	)

	// RelationTransitions counts state machine transitions by kind
	RelationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowatch_relation_transitions_total",
			Help: "Relationship transitions by kind",
		},
		[]string{"kind"},
	)

	// RelationRepairs counts asymmetric pairs fixed by the reconciler
	RelationRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowatch_relation_repairs_total",
			Help: "Asymmetric relationship pairs repaired, by violation",
		},
		[]string{"violation"},
	)

	// PremiumExpirations counts users reverted to the free tier
	PremiumExpirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cowatch_premium_expirations_total",
			Help: "Premium entitlements reverted to free tier",
		},
	)
)

// Presence and aggregation metrics
var (
	// PresenceEvents tracks presence mutations by type
	PresenceEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowatch_presence_events_total",
			Help: "Presence mutations by type",
		},
		[]string{"type"},
	)

	// SessionsReaped counts stale sessions removed by the reaper
	SessionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cowatch_sessions_reaped_total",
			Help: "Stale watch sessions removed",
		},
	)

	// AggregatorRebuilds tracks full rebuilds by status
	AggregatorRebuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowatch_aggregator_rebuilds_total",
			Help: "Co-viewing snapshot rebuilds by status",
		},
		[]string{"status"},
	)

	// AggregatorRebuildDuration tracks rebuild latency in seconds
	AggregatorRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cowatch_aggregator_rebuild_duration_seconds",
			Help:    "Co-viewing snapshot rebuild duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// AggregatorPatches counts incremental snapshot patches by outcome
	AggregatorPatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowatch_aggregator_patches_total",
			Help: "Incremental snapshot patches by outcome",
		},
		[]string{"outcome"},
	)

	// ViewerGroups is the number of content groups in the current snapshot
	ViewerGroups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cowatch_viewer_groups",
			Help: "Content groups in the current co-viewing snapshot",
		},
	)

	// SkippedSessions counts sessions dropped for unusable content ids
	SkippedSessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cowatch_sessions_skipped_total",
			Help: "Sessions skipped for missing or non-numeric content ids",
		},
	)
)

// Content provider metrics
var (
	// MetadataLookups tracks metadata resolution by source (cache/provider) and status
	MetadataLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowatch_metadata_lookups_total",
			Help: "Content metadata lookups by source and status",
		},
		[]string{"source", "status"},
	)

	// CircuitBreakerState tracks breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cowatch_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)
