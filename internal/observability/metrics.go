// Package observability holds every prometheus metric the sync engine's
// components publish, registered once via promauto at package init the way
// the teacher's control plane does.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// --- WebhookReceiver ---

	WebhookIngestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crmsync_webhook_ingest_duration_seconds",
		Help:    "Time to accept and enqueue one inbound webhook request",
		Buckets: prometheus.DefBuckets,
	}, []string{"module"})

	WebhookAuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_webhook_auth_failures_total",
		Help: "Webhook requests rejected for a bad or missing signature",
	}, []string{"module"})

	DedupHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_dedup_hits_total",
		Help: "Inbound events recognized as duplicates and dropped",
	}, []string{"module"})

	// --- Bus ---

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crmsync_queue_depth",
		Help: "Pending entries in a bus stream",
	}, []string{"stream"})

	DLQDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crmsync_dlq_depth",
		Help: "Entries parked in a dead-letter stream",
	}, []string{"stream"})

	// --- SyncWorker ---

	SyncWorkerProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_syncworker_processed_total",
		Help: "Webhook events processed by outcome",
	}, []string{"module", "outcome"}) // outcome: applied, conflict, dlq, transient_error, already_claimed, claim_error

	SyncWorkerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crmsync_syncworker_apply_duration_seconds",
		Help:    "Time to apply one mirrored-record update",
		Buckets: prometheus.DefBuckets,
	}, []string{"module"})

	ConflictsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_conflicts_detected_total",
		Help: "Sync conflicts detected by kind",
	}, []string{"module", "kind"})

	// --- Poller ---

	PollerCursorLagSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crmsync_poller_cursor_lag_seconds",
		Help: "Age of a module's poll cursor relative to now",
	}, []string{"module"})

	PollerSweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crmsync_poller_sweep_duration_seconds",
		Help:    "Duration of one full-module poll sweep",
		Buckets: prometheus.DefBuckets,
	}, []string{"module"})

	// --- Scheduler / Dispatcher ---

	SubscriptionsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_subscriptions_claimed_total",
		Help: "Subscriptions claimed for delivery by the scheduler",
	}, []string{"cadence"})

	DeliveryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_delivery_outcomes_total",
		Help: "Artifact deliveries by transport and outcome",
	}, []string{"transport", "outcome"}) // outcome: sent, retried, failed

	DeliveryRetryCount = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crmsync_delivery_retry_count",
		Help:    "Number of retries a delivery required before its terminal state",
		Buckets: []float64{0, 1, 2, 3, 5, 8},
	}, []string{"transport"})

	// --- Coordination ---

	LeadershipEpoch = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crmsync_leader_epoch",
		Help: "Current fencing epoch held by this node for a lock key",
	}, []string{"node_id", "lock_key"})

	LeadershipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_leader_transitions_total",
		Help: "Leadership acquisition and loss events",
	}, []string{"node_id", "lock_key", "event"})

	// --- ConversationCore ---

	IntentClassifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_intent_classifications_total",
		Help: "Classified conversation turns by resolved intent kind",
	}, []string{"intent_kind"})

	IntentConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crmsync_intent_confidence",
		Help:    "Classifier confidence score distribution",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	ClarificationSessionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_clarification_sessions_opened_total",
		Help: "Clarification sessions opened by ambiguity kind",
	}, []string{"ambiguity_kind"})

	ClarificationSessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crmsync_clarification_sessions_expired_total",
		Help: "Clarification sessions reaped without resolution",
	})

	// --- Circuit breaker ---

	VendorCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crmsync_vendor_circuit_state",
		Help: "Vendor client circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"breaker"})
)
