package store

import (
	"encoding/json"
	"time"

	"github.com/romiteld/crm-sync-engine/internal/module"
)

// MirroredRecord is the local mirror of one vendor record. All four modules
// (leads, deals, contacts, accounts) share the one mirrored_records table,
// keyed by (module, external_id).
type MirroredRecord struct {
	Module           module.Kind     `json:"module" db:"module"`
	ExternalID       string          `json:"external_id" db:"external_id"`
	OwnerEmail       string          `json:"owner_email" db:"owner_email"`
	OwnerName        string          `json:"owner_name" db:"owner_name"`
	CreatedTime      time.Time       `json:"created_time" db:"created_time"`
	ModifiedTime     time.Time       `json:"modified_time" db:"modified_time"`
	LastSynced       time.Time       `json:"last_synced" db:"last_synced"`
	Payload          json.RawMessage `json:"payload" db:"payload"`
	SyncVersion      int64           `json:"sync_version" db:"sync_version"`
	Tombstoned       bool            `json:"tombstoned" db:"tombstoned"`
}

// WebhookProcessingState tracks a WebhookEvent through its lifecycle.
type WebhookProcessingState string

const (
	WebhookPending    WebhookProcessingState = "pending"
	WebhookProcessing WebhookProcessingState = "processing"
	WebhookSuccess    WebhookProcessingState = "success"
	WebhookFailed     WebhookProcessingState = "failed"
	WebhookConflict   WebhookProcessingState = "conflict"
)

// EventKind is the vendor's classification of what happened to a record.
type EventKind string

const (
	EventCreate EventKind = "create"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
	EventEdit   EventKind = "edit"
)

// WebhookEvent is the durable audit row for one inbound webhook delivery.
type WebhookEvent struct {
	EventID        string                 `json:"event_id" db:"event_id"`
	Module         module.Kind            `json:"module" db:"module"`
	Kind           EventKind              `json:"kind" db:"kind"`
	ExternalID     string                 `json:"external_id" db:"external_id"`
	RawPayload     json.RawMessage        `json:"raw_payload" db:"raw_payload"`
	Fingerprint    string                 `json:"fingerprint" db:"fingerprint"`
	ReceivedAt     time.Time              `json:"received_at" db:"received_at"`
	ProcessedAt    *time.Time             `json:"processed_at" db:"processed_at"`
	State          WebhookProcessingState `json:"state" db:"state"`
	RetryCount     int                    `json:"retry_count" db:"retry_count"`
	WrapperMeta    map[string]string      `json:"wrapper_meta" db:"wrapper_meta"`
	ErrorMessage   string                 `json:"error_message" db:"error_message"`
}

// ConflictKind enumerates why SyncWorker could not apply an update cleanly.
type ConflictKind string

const (
	ConflictStaleUpdate     ConflictKind = "stale_update"
	ConflictConcurrentWrite ConflictKind = "concurrent_write"
	ConflictMissingRecord   ConflictKind = "missing_record"
)

// ResolutionStrategy records how a SyncConflict was (or will be) resolved.
type ResolutionStrategy string

const (
	ResolutionLastWriteWins ResolutionStrategy = "last_write_wins"
	ResolutionManualReview  ResolutionStrategy = "manual_review"
	ResolutionDiscard       ResolutionStrategy = "discard"
)

// SyncConflict is the durable audit row for contention SyncWorker detected.
type SyncConflict struct {
	ConflictID           string                 `json:"conflict_id" db:"conflict_id"`
	Module               module.Kind            `json:"module" db:"module"`
	ExternalID           string                 `json:"external_id" db:"external_id"`
	Kind                 ConflictKind           `json:"kind" db:"kind"`
	IncomingModifiedTime time.Time              `json:"incoming_modified_time" db:"incoming_modified_time"`
	ExistingModifiedTime time.Time              `json:"existing_modified_time" db:"existing_modified_time"`
	PreviousSnapshot     json.RawMessage        `json:"previous_snapshot" db:"previous_snapshot"`
	IncomingPayload      json.RawMessage        `json:"incoming_payload" db:"incoming_payload"`
	Resolution           ResolutionStrategy     `json:"resolution" db:"resolution"`
	DetectedAt           time.Time              `json:"detected_at" db:"detected_at"`
	ResolvedAt           *time.Time             `json:"resolved_at" db:"resolved_at"`
	ResolverIdentity     string                 `json:"resolver_identity" db:"resolver_identity"`
	Notes                string                 `json:"notes" db:"notes"`
}

// SyncStatus summarizes a module's pipeline health for the admin API.
type SyncStatus string

const (
	SyncStatusHealthy  SyncStatus = "healthy"
	SyncStatusDegraded SyncStatus = "degraded"
	SyncStatusStalled  SyncStatus = "stalled"
)

// SyncMetadata is the one-row-per-module health and counter snapshot.
type SyncMetadata struct {
	Module            module.Kind `json:"module" db:"module"`
	LastSuccessfulSync time.Time  `json:"last_successful_sync" db:"last_successful_sync"`
	NextScheduledSweep time.Time  `json:"next_scheduled_sweep" db:"next_scheduled_sweep"`
	Status             SyncStatus `json:"status" db:"status"`
	WebhooksReceived24h int64     `json:"webhooks_received_24h" db:"-"`
	ConflictsDetected24h int64    `json:"conflicts_detected_24h" db:"-"`
	DedupHits24h        int64     `json:"dedup_hits_24h" db:"-"`
	LastError          string     `json:"last_error" db:"last_error"`
}

// Cadence is the delivery frequency a subscriber chose.
type Cadence string

const (
	CadenceDaily     Cadence = "daily"
	CadenceWeekly    Cadence = "weekly"
	CadenceBiweekly  Cadence = "biweekly"
	CadenceMonthly   Cadence = "monthly"
)

// Subscription is one recipient's standing digest configuration.
type Subscription struct {
	SubscriptionID   string            `json:"subscription_id" db:"subscription_id"`
	UserID           string            `json:"user_id" db:"user_id"`
	RecipientAddress string            `json:"recipient_address" db:"recipient_address"`
	AudienceTag      string            `json:"audience_tag" db:"audience_tag"`
	Cadence          Cadence           `json:"cadence" db:"cadence"`
	MaxItems         int               `json:"max_items" db:"max_items"`
	Timezone         string            `json:"timezone" db:"timezone"`
	Active           bool              `json:"active" db:"active"`
	LastDelivery     *time.Time        `json:"last_delivery" db:"last_delivery"`
	NextDelivery     *time.Time        `json:"next_delivery" db:"next_delivery"`
	LastAttempt      *time.Time        `json:"last_attempt" db:"last_attempt"`
	Filters          SubscriptionFilters `json:"filters" db:"filters"`
}

// ClaimedSubscription pairs a claimed Subscription with the due anchor it
// was claimed under — the subscription's next_delivery value as it stood
// immediately before ClaimDueSubscriptions nulled it out. Dispatcher and
// InsertDelivery key idempotency off this anchor (§3/§4.6), so it has to
// survive the claim, not be reconstructed from the tick's wall-clock time.
type ClaimedSubscription struct {
	*Subscription
	DueAnchor time.Time
}

// SubscriptionFilters is the per-audience filter set named in spec.md's
// MirroredRecord/Subscription relationship — an explicit struct rather than
// a free-form map, per §9's "any-shape options" redesign note.
type SubscriptionFilters struct {
	Locations       []string `json:"locations,omitempty"`
	Credentials     []string `json:"credentials,omitempty"`
	Availability    string   `json:"availability,omitempty"`
	MinCompensation int      `json:"min_compensation,omitempty"`
	MaxCompensation int      `json:"max_compensation,omitempty"`
}

// DeliveryState tracks a Delivery row through Dispatcher's retry loop.
type DeliveryState string

const (
	DeliveryScheduled  DeliveryState = "scheduled"
	DeliveryInProgress DeliveryState = "in_progress"
	DeliverySent       DeliveryState = "sent"
	DeliveryFailed     DeliveryState = "failed"
)

// Delivery is the durable record of one artifact dispatch attempt.
type Delivery struct {
	DeliveryID       string          `json:"delivery_id" db:"delivery_id"`
	SubscriptionID   string          `json:"subscription_id" db:"subscription_id"`
	ScheduledAnchor  time.Time       `json:"scheduled_anchor" db:"scheduled_anchor"`
	ParametersSnapshot json.RawMessage `json:"parameters_snapshot" db:"parameters_snapshot"`
	State            DeliveryState   `json:"state" db:"state"`
	ItemCount        int             `json:"item_count" db:"item_count"`
	TransportMessageID string        `json:"transport_message_id" db:"transport_message_id"`
	Error            string          `json:"error" db:"error"`
	ArtifactBody     string          `json:"artifact_body" db:"artifact_body"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	SentAt           *time.Time      `json:"sent_at" db:"sent_at"`
	RetryCount       int             `json:"retry_count" db:"retry_count"`
}

// ConversationRole distinguishes a ConversationMemory turn's speaker.
type ConversationRole string

const (
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

// ConversationTurn is one chronological message in a user's conversation.
type ConversationTurn struct {
	TurnID     string           `json:"turn_id" db:"turn_id"`
	UserID     string           `json:"user_id" db:"user_id"`
	Role       ConversationRole `json:"role" db:"role"`
	Text       string           `json:"text" db:"text"`
	IntentKind string           `json:"intent_kind" db:"intent_kind"`
	Confidence float64          `json:"confidence" db:"confidence"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}

// AmbiguityKind enumerates the reasons ConversationCore cannot answer directly.
type AmbiguityKind string

const (
	AmbiguityMissingTimeframe AmbiguityKind = "missing_timeframe"
	AmbiguityMissingEntity    AmbiguityKind = "missing_entity"
	AmbiguityVagueSearch      AmbiguityKind = "vague_search"
	AmbiguityMultipleMatches  AmbiguityKind = "multiple_matches"
	AmbiguityAmbiguousQuery   AmbiguityKind = "ambiguous_query"
	AmbiguityMultipleIntents  AmbiguityKind = "multiple_intents"
)

// ClarificationSession is a short-lived multi-turn disambiguation dialogue.
type ClarificationSession struct {
	SessionID      string          `json:"session_id" db:"session_id"`
	UserID         string          `json:"user_id" db:"user_id"`
	OriginalQuery  string          `json:"original_query" db:"original_query"`
	Ambiguity      AmbiguityKind   `json:"ambiguity_kind" db:"ambiguity_kind"`
	Options        []string        `json:"options" db:"options"`
	PartialIntent  json.RawMessage `json:"partial_intent" db:"partial_intent"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at" db:"expires_at"`
	ResolvedAt     *time.Time      `json:"resolved_at" db:"resolved_at"`
	ResolutionText string          `json:"resolution_text" db:"resolution_text"`
}

// Role is a user's access level, used to gate privileged audiences.
type Role string

const (
	RoleExecutive Role = "executive"
	RoleRecruiter Role = "recruiter"
	RoleAdmin     Role = "admin"
)

// MostRestrictiveRole is returned for emails with no role_map entry.
const MostRestrictiveRole Role = RoleRecruiter
