package store

import (
	"context"
	"time"

	"github.com/romiteld/crm-sync-engine/internal/module"
)

// Store is the relational persistence boundary every core component talks
// to. SyncWorker and Poller hold exclusive write access to MirroredRecord
// tables; Scheduler/Dispatcher own Delivery rows; ConversationCore owns
// ClarificationSession and ConversationMemory rows. ArtifactBuilder and
// ConversationCore only ever read MirroredRecord tables.
type Store interface {
	// --- MirroredRecord ---

	// GetMirroredRecord returns ErrNotFound if no row exists for (module, externalID).
	GetMirroredRecord(ctx context.Context, mod module.Kind, externalID string) (*MirroredRecord, error)

	// InsertMirroredRecord creates a brand-new record at sync_version=1.
	// Returns ErrOptimisticConflict if a row already exists (a racing create).
	InsertMirroredRecord(ctx context.Context, rec *MirroredRecord) error

	// UpdateMirroredRecord applies rec under an optimistic version check:
	// the UPDATE only succeeds WHERE sync_version = expectedVersion. Returns
	// ErrOptimisticConflict (zero rows affected) on a lost race.
	UpdateMirroredRecord(ctx context.Context, rec *MirroredRecord, expectedVersion int64) error

	// ListModifiedSince returns mod's rows modified after cursor, oldest
	// first, at most limit. The Poller sweeps through
	// vendorclient.Client.ListModifiedSince, not this method.
	ListModifiedSince(ctx context.Context, mod module.Kind, cursor time.Time, limit int) ([]*MirroredRecord, error)

	// QueryRecords services ArtifactBuilder's reads: non-tombstoned rows of
	// mod modified after q.ModifiedAfter, newest first, at most q.Limit (500
	// when unset). q.Locations and q.MinAUM are not applied as filters.
	QueryRecords(ctx context.Context, mod module.Kind, q RecordQuery) ([]*MirroredRecord, error)

	// --- WebhookEvent ---

	// InsertWebhookEvent returns ErrDuplicateWebhookEvent on a
	// (module, external_id, fingerprint) collision — the dedup-hit path.
	InsertWebhookEvent(ctx context.Context, evt *WebhookEvent) error
	GetWebhookEvent(ctx context.Context, eventID string) (*WebhookEvent, error)

	// ClaimWebhookEvent transitions pending -> processing under a row lock
	// and returns the claimed row, or ErrOptimisticConflict if another
	// worker already claimed (or finished) it.
	ClaimWebhookEvent(ctx context.Context, eventID string) (*WebhookEvent, error)
	FinishWebhookEvent(ctx context.Context, eventID string, state WebhookProcessingState, errMsg string) error
	GCSuccessfulWebhookEvents(ctx context.Context, olderThan time.Duration) (int64, error)
	ListPendingWebhookEvents(ctx context.Context, limit int) ([]*WebhookEvent, error)

	// --- SyncConflict ---

	InsertSyncConflict(ctx context.Context, c *SyncConflict) error
	ListSyncConflicts(ctx context.Context, mod module.Kind, unresolvedOnly bool, offset, limit int) ([]*SyncConflict, error)
	ResolveSyncConflict(ctx context.Context, conflictID string, strategy ResolutionStrategy, resolver, notes string) error

	// --- SyncMetadata ---

	GetSyncMetadata(ctx context.Context, mod module.Kind) (*SyncMetadata, error)
	UpsertSyncMetadataCursor(ctx context.Context, mod module.Kind, lastSuccess, nextSweep time.Time, status SyncStatus, lastErr string) error
	IncrCounter(ctx context.Context, mod module.Kind, counter CounterKind) error
	ListAllSyncMetadata(ctx context.Context) ([]*SyncMetadata, error)

	// --- Subscription ---

	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID string) ([]*Subscription, error)
	UpsertSubscription(ctx context.Context, sub *Subscription) error
	// ClaimDueSubscriptions atomically sets next_delivery = NULL for every row
	// where active AND next_delivery <= asOf, returning the claimed rows
	// alongside each one's pre-claim next_delivery (its due anchor). This is
	// the Scheduler's anti-double-claim primitive from §4.4; the due anchor
	// is what Dispatcher keys delivery idempotency on, so it must come back
	// from the claim itself rather than the tick's wall-clock time.
	ClaimDueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]*ClaimedSubscription, error)
	SetNextDelivery(ctx context.Context, subscriptionID string, next *time.Time) error

	// --- Delivery ---

	// InsertDelivery returns ErrOptimisticConflict if a Delivery in any state
	// already exists for (subscription_id, scheduled_anchor) — the idempotency
	// invariant from §3.
	InsertDelivery(ctx context.Context, d *Delivery) error
	UpdateDeliveryState(ctx context.Context, deliveryID string, state DeliveryState, transportMsgID, errMsg string) error
	GetDeliveryByAnchor(ctx context.Context, subscriptionID string, anchor time.Time) (*Delivery, error)

	// --- ConversationMemory ---

	AppendConversationTurn(ctx context.Context, t *ConversationTurn) error
	ListRecentConversationTurns(ctx context.Context, userID string, limit int) ([]*ConversationTurn, error)
	GCConversationTurns(ctx context.Context, olderThan time.Duration) (int64, error)

	// --- ClarificationSession ---

	CreateClarificationSession(ctx context.Context, s *ClarificationSession) error
	GetClarificationSession(ctx context.Context, sessionID string) (*ClarificationSession, error)
	ResolveClarificationSession(ctx context.Context, sessionID, resolutionText string) error
	ReapExpiredClarificationSessions(ctx context.Context, olderThan time.Duration) (int64, error)

	// --- UserRole ---

	GetUserRole(ctx context.Context, email string) (Role, error)
	BootstrapRoleMap(ctx context.Context, roles map[string]Role) error

	// --- Durable fencing ---

	// IncrementDurableEpoch returns a monotonically increasing token for
	// resourceID, persisted in Postgres so it survives a Redis restart.
	// Used by the Coordinator's leader-election fencing (§4.4, §5).
	IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error)
}

// CounterKind identifies one of SyncMetadata's rolling 24h counters.
type CounterKind string

const (
	CounterWebhooksReceived CounterKind = "webhooks_received"
	CounterConflictsDetected CounterKind = "conflicts_detected"
	CounterDedupHits        CounterKind = "dedup_hits"
)

// RecordQuery is ArtifactBuilder's explicit filter struct — enumerated
// fields rather than a free-form predicate map, per §9's redesign note on
// "per-request any-shape options".
type RecordQuery struct {
	ModifiedAfter time.Time
	Locations     []string
	MinAUM        int64
	Limit         int
}
