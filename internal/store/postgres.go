package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/romiteld/crm-sync-engine/internal/module"
)

// PostgresStore implements Store on top of a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens and pings a pool sized for the worker/poller/
// scheduler concurrency this process runs (see SPEC_FULL.md §A concurrency
// model).
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 30
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// --- MirroredRecord ---

func (s *PostgresStore) GetMirroredRecord(ctx context.Context, mod module.Kind, externalID string) (*MirroredRecord, error) {
	const q = `
		SELECT module, external_id, owner_email, owner_name, created_time, modified_time,
		       last_synced, payload, sync_version, tombstoned
		FROM mirrored_records WHERE module = $1 AND external_id = $2
	`
	var r MirroredRecord
	err := s.pool.QueryRow(ctx, q, mod, externalID).Scan(
		&r.Module, &r.ExternalID, &r.OwnerEmail, &r.OwnerName, &r.CreatedTime, &r.ModifiedTime,
		&r.LastSynced, &r.Payload, &r.SyncVersion, &r.Tombstoned,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) InsertMirroredRecord(ctx context.Context, rec *MirroredRecord) error {
	const q = `
		INSERT INTO mirrored_records
			(module, external_id, owner_email, owner_name, created_time, modified_time,
			 last_synced, payload, sync_version, tombstoned)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9)
		ON CONFLICT (module, external_id) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, q,
		rec.Module, rec.ExternalID, rec.OwnerEmail, rec.OwnerName, rec.CreatedTime, rec.ModifiedTime,
		rec.LastSynced, rec.Payload, rec.Tombstoned,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOptimisticConflict
	}
	rec.SyncVersion = 1
	return nil
}

func (s *PostgresStore) UpdateMirroredRecord(ctx context.Context, rec *MirroredRecord, expectedVersion int64) error {
	const q = `
		UPDATE mirrored_records
		SET owner_email = $3, owner_name = $4, modified_time = $5, last_synced = $6,
		    payload = $7, tombstoned = $8, sync_version = sync_version + 1
		WHERE module = $1 AND external_id = $2 AND sync_version = $9
	`
	tag, err := s.pool.Exec(ctx, q,
		rec.Module, rec.ExternalID, rec.OwnerEmail, rec.OwnerName, rec.ModifiedTime, rec.LastSynced,
		rec.Payload, rec.Tombstoned, expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOptimisticConflict
	}
	rec.SyncVersion = expectedVersion + 1
	return nil
}

func (s *PostgresStore) ListModifiedSince(ctx context.Context, mod module.Kind, cursor time.Time, limit int) ([]*MirroredRecord, error) {
	const q = `
		SELECT module, external_id, owner_email, owner_name, created_time, modified_time,
		       last_synced, payload, sync_version, tombstoned
		FROM mirrored_records
		WHERE module = $1 AND modified_time > $2
		ORDER BY modified_time ASC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, q, mod, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMirroredRecords(rows)
}

func (s *PostgresStore) QueryRecords(ctx context.Context, mod module.Kind, qr RecordQuery) ([]*MirroredRecord, error) {
	q := `
		SELECT module, external_id, owner_email, owner_name, created_time, modified_time,
		       last_synced, payload, sync_version, tombstoned
		FROM mirrored_records
		WHERE module = $1 AND tombstoned = false AND modified_time > $2
		ORDER BY modified_time DESC
		LIMIT $3
	`
	limit := qr.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, q, mod, qr.ModifiedAfter, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMirroredRecords(rows)
}

func scanMirroredRecords(rows pgx.Rows) ([]*MirroredRecord, error) {
	var out []*MirroredRecord
	for rows.Next() {
		var r MirroredRecord
		if err := rows.Scan(
			&r.Module, &r.ExternalID, &r.OwnerEmail, &r.OwnerName, &r.CreatedTime, &r.ModifiedTime,
			&r.LastSynced, &r.Payload, &r.SyncVersion, &r.Tombstoned,
		); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- WebhookEvent ---

func (s *PostgresStore) InsertWebhookEvent(ctx context.Context, evt *WebhookEvent) error {
	const q = `
		INSERT INTO webhook_events
			(event_id, module, kind, external_id, raw_payload, fingerprint, received_at,
			 state, retry_count, wrapper_meta, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, '')
		ON CONFLICT (module, external_id, fingerprint) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, q,
		evt.EventID, evt.Module, evt.Kind, evt.ExternalID, evt.RawPayload, evt.Fingerprint,
		evt.ReceivedAt, WebhookPending, evt.WrapperMeta,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateWebhookEvent
	}
	return nil
}

func (s *PostgresStore) GetWebhookEvent(ctx context.Context, eventID string) (*WebhookEvent, error) {
	const q = `
		SELECT event_id, module, kind, external_id, raw_payload, fingerprint, received_at,
		       processed_at, state, retry_count, wrapper_meta, error_message
		FROM webhook_events WHERE event_id = $1
	`
	var e WebhookEvent
	err := s.pool.QueryRow(ctx, q, eventID).Scan(
		&e.EventID, &e.Module, &e.Kind, &e.ExternalID, &e.RawPayload, &e.Fingerprint, &e.ReceivedAt,
		&e.ProcessedAt, &e.State, &e.RetryCount, &e.WrapperMeta, &e.ErrorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) ClaimWebhookEvent(ctx context.Context, eventID string) (*WebhookEvent, error) {
	const q = `
		UPDATE webhook_events SET state = $2
		WHERE event_id = $1 AND state = $3
		RETURNING event_id, module, kind, external_id, raw_payload, fingerprint, received_at,
		          processed_at, state, retry_count, wrapper_meta, error_message
	`
	var e WebhookEvent
	err := s.pool.QueryRow(ctx, q, eventID, WebhookProcessing, WebhookPending).Scan(
		&e.EventID, &e.Module, &e.Kind, &e.ExternalID, &e.RawPayload, &e.Fingerprint, &e.ReceivedAt,
		&e.ProcessedAt, &e.State, &e.RetryCount, &e.WrapperMeta, &e.ErrorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOptimisticConflict
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) FinishWebhookEvent(ctx context.Context, eventID string, state WebhookProcessingState, errMsg string) error {
	const q = `
		UPDATE webhook_events
		SET state = $2, processed_at = NOW(), error_message = $3,
		    retry_count = CASE WHEN $2 = $4 THEN retry_count + 1 ELSE retry_count END
		WHERE event_id = $1
	`
	tag, err := s.pool.Exec(ctx, q, eventID, state, errMsg, WebhookFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GCSuccessfulWebhookEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	const q = `DELETE FROM webhook_events WHERE state = $1 AND processed_at < $2`
	tag, err := s.pool.Exec(ctx, q, WebhookSuccess, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListPendingWebhookEvents(ctx context.Context, limit int) ([]*WebhookEvent, error) {
	const q = `
		SELECT event_id, module, kind, external_id, raw_payload, fingerprint, received_at,
		       processed_at, state, retry_count, wrapper_meta, error_message
		FROM webhook_events WHERE state = $1 ORDER BY received_at ASC LIMIT $2
	`
	rows, err := s.pool.Query(ctx, q, WebhookPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*WebhookEvent
	for rows.Next() {
		var e WebhookEvent
		if err := rows.Scan(
			&e.EventID, &e.Module, &e.Kind, &e.ExternalID, &e.RawPayload, &e.Fingerprint, &e.ReceivedAt,
			&e.ProcessedAt, &e.State, &e.RetryCount, &e.WrapperMeta, &e.ErrorMessage,
		); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- SyncConflict ---

func (s *PostgresStore) InsertSyncConflict(ctx context.Context, c *SyncConflict) error {
	const q = `
		INSERT INTO sync_conflicts
			(conflict_id, module, external_id, kind, incoming_modified_time, existing_modified_time,
			 previous_snapshot, incoming_payload, resolution, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.pool.Exec(ctx, q,
		c.ConflictID, c.Module, c.ExternalID, c.Kind, c.IncomingModifiedTime, c.ExistingModifiedTime,
		c.PreviousSnapshot, c.IncomingPayload, c.Resolution, c.DetectedAt,
	)
	return err
}

func (s *PostgresStore) ListSyncConflicts(ctx context.Context, mod module.Kind, unresolvedOnly bool, offset, limit int) ([]*SyncConflict, error) {
	q := `
		SELECT conflict_id, module, external_id, kind, incoming_modified_time, existing_modified_time,
		       previous_snapshot, incoming_payload, resolution, detected_at, resolved_at,
		       resolver_identity, notes
		FROM sync_conflicts WHERE module = $1
	`
	args := []any{mod}
	if unresolvedOnly {
		q += ` AND resolved_at IS NULL`
	}
	q += ` ORDER BY detected_at DESC OFFSET $2 LIMIT $3`
	args = append(args, offset, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*SyncConflict
	for rows.Next() {
		var c SyncConflict
		if err := rows.Scan(
			&c.ConflictID, &c.Module, &c.ExternalID, &c.Kind, &c.IncomingModifiedTime, &c.ExistingModifiedTime,
			&c.PreviousSnapshot, &c.IncomingPayload, &c.Resolution, &c.DetectedAt, &c.ResolvedAt,
			&c.ResolverIdentity, &c.Notes,
		); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ResolveSyncConflict(ctx context.Context, conflictID string, strategy ResolutionStrategy, resolver, notes string) error {
	const q = `
		UPDATE sync_conflicts
		SET resolution = $2, resolved_at = NOW(), resolver_identity = $3, notes = $4
		WHERE conflict_id = $1
	`
	tag, err := s.pool.Exec(ctx, q, conflictID, strategy, resolver, notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- SyncMetadata ---

func (s *PostgresStore) GetSyncMetadata(ctx context.Context, mod module.Kind) (*SyncMetadata, error) {
	q := `
		SELECT sm.module, sm.last_successful_sync, sm.next_scheduled_sweep, sm.status, sm.last_error,
		       ` + counter24h("webhooks_received") + `,
		       ` + counter24h("conflicts_detected") + `,
		       ` + counter24h("dedup_hits") + `
		FROM sync_metadata sm WHERE sm.module = $1
	`
	var m SyncMetadata
	err := s.pool.QueryRow(ctx, q, mod).Scan(
		&m.Module, &m.LastSuccessfulSync, &m.NextScheduledSweep, &m.Status, &m.LastError,
		&m.WebhooksReceived24h, &m.ConflictsDetected24h, &m.DedupHits24h,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func counter24h(name string) string {
	return `(SELECT COALESCE(SUM(count), 0) FROM sync_metadata_counters
	         WHERE module = sm.module AND counter = '` + name + `' AND bucket > NOW() - INTERVAL '24 hours')`
}

func (s *PostgresStore) UpsertSyncMetadataCursor(ctx context.Context, mod module.Kind, lastSuccess, nextSweep time.Time, status SyncStatus, lastErr string) error {
	const q = `
		INSERT INTO sync_metadata (module, last_successful_sync, next_scheduled_sweep, status, last_error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (module) DO UPDATE SET
			last_successful_sync = EXCLUDED.last_successful_sync,
			next_scheduled_sweep = EXCLUDED.next_scheduled_sweep,
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error
	`
	_, err := s.pool.Exec(ctx, q, mod, lastSuccess, nextSweep, status, lastErr)
	return err
}

func (s *PostgresStore) IncrCounter(ctx context.Context, mod module.Kind, counter CounterKind) error {
	q := `UPDATE sync_metadata_counters SET count = count + 1
	      WHERE module = $1 AND counter = $2 AND bucket = date_trunc('hour', NOW())`
	tag, err := s.pool.Exec(ctx, q, mod, counter)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO sync_metadata_counters (module, counter, count, bucket) VALUES ($1, $2, 1, date_trunc('hour', NOW()))
			 ON CONFLICT (module, counter, bucket) DO UPDATE SET count = sync_metadata_counters.count + 1`,
			mod, counter,
		)
	}
	return err
}

func (s *PostgresStore) ListAllSyncMetadata(ctx context.Context) ([]*SyncMetadata, error) {
	q := `
		SELECT sm.module, sm.last_successful_sync, sm.next_scheduled_sweep, sm.status, sm.last_error,
		       ` + counter24h("webhooks_received") + `,
		       ` + counter24h("conflicts_detected") + `,
		       ` + counter24h("dedup_hits") + `
		FROM sync_metadata sm
	`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*SyncMetadata
	for rows.Next() {
		var m SyncMetadata
		if err := rows.Scan(
			&m.Module, &m.LastSuccessfulSync, &m.NextScheduledSweep, &m.Status, &m.LastError,
			&m.WebhooksReceived24h, &m.ConflictsDetected24h, &m.DedupHits24h,
		); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- Subscription ---

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	const q = `
		SELECT subscription_id, user_id, recipient_address, audience_tag, cadence, max_items,
		       timezone, active, last_delivery, next_delivery, last_attempt, filters
		FROM subscriptions WHERE subscription_id = $1
	`
	var sub Subscription
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sub.SubscriptionID, &sub.UserID, &sub.RecipientAddress, &sub.AudienceTag, &sub.Cadence,
		&sub.MaxItems, &sub.Timezone, &sub.Active, &sub.LastDelivery, &sub.NextDelivery,
		&sub.LastAttempt, &sub.Filters,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *PostgresStore) ListSubscriptionsByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	const q = `
		SELECT subscription_id, user_id, recipient_address, audience_tag, cadence, max_items,
		       timezone, active, last_delivery, next_delivery, last_attempt, filters
		FROM subscriptions WHERE user_id = $1
		ORDER BY subscription_id
	`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(
			&sub.SubscriptionID, &sub.UserID, &sub.RecipientAddress, &sub.AudienceTag, &sub.Cadence,
			&sub.MaxItems, &sub.Timezone, &sub.Active, &sub.LastDelivery, &sub.NextDelivery,
			&sub.LastAttempt, &sub.Filters,
		); err != nil {
			return nil, err
		}
		out = append(out, &sub)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	const q = `
		INSERT INTO subscriptions
			(subscription_id, user_id, recipient_address, audience_tag, cadence, max_items,
			 timezone, active, last_delivery, next_delivery, last_attempt, filters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (subscription_id) DO UPDATE SET
			recipient_address = EXCLUDED.recipient_address,
			audience_tag = EXCLUDED.audience_tag,
			cadence = EXCLUDED.cadence,
			max_items = EXCLUDED.max_items,
			timezone = EXCLUDED.timezone,
			active = EXCLUDED.active,
			filters = EXCLUDED.filters
	`
	_, err := s.pool.Exec(ctx, q,
		sub.SubscriptionID, sub.UserID, sub.RecipientAddress, sub.AudienceTag, sub.Cadence, sub.MaxItems,
		sub.Timezone, sub.Active, sub.LastDelivery, sub.NextDelivery, sub.LastAttempt, sub.Filters,
	)
	return err
}

// ClaimDueSubscriptions claims via a SELECT ... FOR UPDATE SKIP LOCKED CTE
// joined into the UPDATE, so the RETURNING clause can carry back each row's
// due_anchor (the next_delivery value as it stood before this statement
// nulled it out) alongside the rest of the subscription. A plain
// "UPDATE ... RETURNING next_delivery" would hand back the post-update NULL
// and silently destroy the anchor the idempotency key depends on.
func (s *PostgresStore) ClaimDueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]*ClaimedSubscription, error) {
	const q = `
		WITH due AS (
			SELECT subscription_id, next_delivery AS due_anchor
			FROM subscriptions
			WHERE active = true AND next_delivery IS NOT NULL AND next_delivery <= $1
			ORDER BY next_delivery ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		),
		claimed AS (
			UPDATE subscriptions SET next_delivery = NULL, last_attempt = $1
			FROM due
			WHERE subscriptions.subscription_id = due.subscription_id
			RETURNING subscriptions.subscription_id, subscriptions.user_id, subscriptions.recipient_address,
			          subscriptions.audience_tag, subscriptions.cadence, subscriptions.max_items,
			          subscriptions.timezone, subscriptions.active, subscriptions.last_delivery,
			          subscriptions.last_attempt, subscriptions.filters
		)
		SELECT claimed.subscription_id, claimed.user_id, claimed.recipient_address, claimed.audience_tag,
		       claimed.cadence, claimed.max_items, claimed.timezone, claimed.active, claimed.last_delivery,
		       claimed.last_attempt, claimed.filters, due.due_anchor
		FROM claimed JOIN due ON due.subscription_id = claimed.subscription_id
	`
	rows, err := s.pool.Query(ctx, q, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ClaimedSubscription
	for rows.Next() {
		var sub Subscription
		var dueAnchor time.Time
		if err := rows.Scan(
			&sub.SubscriptionID, &sub.UserID, &sub.RecipientAddress, &sub.AudienceTag, &sub.Cadence,
			&sub.MaxItems, &sub.Timezone, &sub.Active, &sub.LastDelivery,
			&sub.LastAttempt, &sub.Filters, &dueAnchor,
		); err != nil {
			return nil, err
		}
		out = append(out, &ClaimedSubscription{Subscription: &sub, DueAnchor: dueAnchor})
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetNextDelivery(ctx context.Context, subscriptionID string, next *time.Time) error {
	const q = `UPDATE subscriptions SET next_delivery = $2, last_delivery = NOW() WHERE subscription_id = $1`
	tag, err := s.pool.Exec(ctx, q, subscriptionID, next)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Delivery ---

func (s *PostgresStore) InsertDelivery(ctx context.Context, d *Delivery) error {
	const q = `
		INSERT INTO deliveries
			(delivery_id, subscription_id, scheduled_anchor, parameters_snapshot, state, item_count,
			 transport_message_id, error, artifact_body, created_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), 0)
		ON CONFLICT (subscription_id, scheduled_anchor) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, q,
		d.DeliveryID, d.SubscriptionID, d.ScheduledAnchor, d.ParametersSnapshot, d.State, d.ItemCount,
		d.TransportMessageID, d.Error, d.ArtifactBody,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOptimisticConflict
	}
	return nil
}

func (s *PostgresStore) UpdateDeliveryState(ctx context.Context, deliveryID string, state DeliveryState, transportMsgID, errMsg string) error {
	const q = `
		UPDATE deliveries
		SET state = $2, transport_message_id = $3, error = $4,
		    sent_at = CASE WHEN $2 = $5 THEN NOW() ELSE sent_at END,
		    retry_count = CASE WHEN $2 = $6 THEN retry_count + 1 ELSE retry_count END
		WHERE delivery_id = $1
	`
	tag, err := s.pool.Exec(ctx, q, deliveryID, state, transportMsgID, errMsg, DeliverySent, DeliveryFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetDeliveryByAnchor(ctx context.Context, subscriptionID string, anchor time.Time) (*Delivery, error) {
	const q = `
		SELECT delivery_id, subscription_id, scheduled_anchor, parameters_snapshot, state, item_count,
		       transport_message_id, error, artifact_body, created_at, sent_at, retry_count
		FROM deliveries WHERE subscription_id = $1 AND scheduled_anchor = $2
	`
	var d Delivery
	err := s.pool.QueryRow(ctx, q, subscriptionID, anchor).Scan(
		&d.DeliveryID, &d.SubscriptionID, &d.ScheduledAnchor, &d.ParametersSnapshot, &d.State, &d.ItemCount,
		&d.TransportMessageID, &d.Error, &d.ArtifactBody, &d.CreatedAt, &d.SentAt, &d.RetryCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// --- ConversationMemory ---

func (s *PostgresStore) AppendConversationTurn(ctx context.Context, t *ConversationTurn) error {
	const q = `
		INSERT INTO conversation_turns (turn_id, user_id, role, text, intent_kind, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.pool.Exec(ctx, q, t.TurnID, t.UserID, t.Role, t.Text, t.IntentKind, t.Confidence, t.CreatedAt)
	return err
}

func (s *PostgresStore) ListRecentConversationTurns(ctx context.Context, userID string, limit int) ([]*ConversationTurn, error) {
	const q = `
		SELECT turn_id, user_id, role, text, intent_kind, confidence, created_at
		FROM conversation_turns WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`
	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ConversationTurn
	for rows.Next() {
		var t ConversationTurn
		if err := rows.Scan(&t.TurnID, &t.UserID, &t.Role, &t.Text, &t.IntentKind, &t.Confidence, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GCConversationTurns(ctx context.Context, olderThan time.Duration) (int64, error) {
	const q = `DELETE FROM conversation_turns WHERE created_at < $1`
	tag, err := s.pool.Exec(ctx, q, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- ClarificationSession ---

func (s *PostgresStore) CreateClarificationSession(ctx context.Context, sess *ClarificationSession) error {
	const q = `
		INSERT INTO clarification_sessions
			(session_id, user_id, original_query, ambiguity_kind, options, partial_intent, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, q,
		sess.SessionID, sess.UserID, sess.OriginalQuery, sess.Ambiguity, sess.Options, sess.PartialIntent,
		sess.CreatedAt, sess.ExpiresAt,
	)
	return err
}

func (s *PostgresStore) GetClarificationSession(ctx context.Context, sessionID string) (*ClarificationSession, error) {
	const q = `
		SELECT session_id, user_id, original_query, ambiguity_kind, options, partial_intent,
		       created_at, expires_at, resolved_at, resolution_text
		FROM clarification_sessions WHERE session_id = $1
	`
	var s2 ClarificationSession
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&s2.SessionID, &s2.UserID, &s2.OriginalQuery, &s2.Ambiguity, &s2.Options, &s2.PartialIntent,
		&s2.CreatedAt, &s2.ExpiresAt, &s2.ResolvedAt, &s2.ResolutionText,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s2, nil
}

func (s *PostgresStore) ResolveClarificationSession(ctx context.Context, sessionID, resolutionText string) error {
	const q = `
		UPDATE clarification_sessions SET resolved_at = NOW(), resolution_text = $2
		WHERE session_id = $1 AND resolved_at IS NULL
	`
	tag, err := s.pool.Exec(ctx, q, sessionID, resolutionText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOptimisticConflict
	}
	return nil
}

func (s *PostgresStore) ReapExpiredClarificationSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	const q = `
		UPDATE clarification_sessions SET resolved_at = NOW(), resolution_text = 'expired'
		WHERE resolved_at IS NULL AND expires_at < $1
	`
	tag, err := s.pool.Exec(ctx, q, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- UserRole ---

func (s *PostgresStore) GetUserRole(ctx context.Context, email string) (Role, error) {
	const q = `SELECT role FROM user_roles WHERE email = $1`
	var r Role
	err := s.pool.QueryRow(ctx, q, email).Scan(&r)
	if errors.Is(err, pgx.ErrNoRows) {
		return MostRestrictiveRole, nil
	}
	if err != nil {
		return "", err
	}
	return r, nil
}

// IncrementDurableEpoch implements the fencing counter used by Coordinator.
func (s *PostgresStore) IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	const q = `
		INSERT INTO durable_epochs (resource_id, epoch) VALUES ($1, 1)
		ON CONFLICT (resource_id) DO UPDATE SET epoch = durable_epochs.epoch + 1
		RETURNING epoch
	`
	var epoch int64
	err := s.pool.QueryRow(ctx, q, resourceID).Scan(&epoch)
	return epoch, err
}

func (s *PostgresStore) BootstrapRoleMap(ctx context.Context, roles map[string]Role) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for email, role := range roles {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_roles (email, role) VALUES ($1, $2)
			 ON CONFLICT (email) DO UPDATE SET role = EXCLUDED.role`,
			email, role,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
