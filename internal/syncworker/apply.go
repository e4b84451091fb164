package syncworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/module"
	"github.com/romiteld/crm-sync-engine/internal/observability"
	"github.com/romiteld/crm-sync-engine/internal/payload"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

// Applier holds the shared upsert-with-optimistic-check logic that both
// SyncWorker (consuming WebhookEvent rows) and Poller (consuming vendor
// sweep results) drive through the identical code path required by
// spec.md §4.3 ("same version check, same conflict handling").
type Applier struct {
	store store.Store
	log   *zap.Logger
}

func NewApplier(st store.Store, log *zap.Logger) *Applier {
	return &Applier{store: st, log: log}
}

// ApplyResult summarizes what Apply did, for the caller's metrics/state update.
type ApplyResult struct {
	Conflict *store.SyncConflict
	Applied  bool
}

// Apply runs the §4.2 steps 2-3 algorithm for one (module, external_id,
// kind, rawPayload) tuple: create/update/tombstone under the optimistic
// sync_version check, recording a SyncConflict on contention. Apply reads
// the owner email and name out of raw itself through the
// payload.OwnerEmail/OwnerName accessors, for webhook and poller payloads alike.
func (a *Applier) Apply(ctx context.Context, mod module.Kind, externalID string, kind store.EventKind, raw []byte) (ApplyResult, error) {
	if kind == store.EventDelete {
		return a.applyTombstone(ctx, mod, externalID, raw)
	}

	incomingModified, err := payload.ModifiedTime(raw)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %v", ErrPoisonedPayload, err)
	}

	existing, err := a.store.GetMirroredRecord(ctx, mod, externalID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return a.applyCreate(ctx, mod, externalID, raw, incomingModified)
	case err != nil:
		return ApplyResult{}, fmt.Errorf("syncworker: load existing record: %w", err)
	}

	if !incomingModified.After(existing.ModifiedTime) {
		conflict := a.buildConflict(mod, externalID, store.ConflictStaleUpdate, incomingModified, existing.ModifiedTime, existing.Payload, raw)
		if err := a.store.InsertSyncConflict(ctx, conflict); err != nil {
			return ApplyResult{}, fmt.Errorf("syncworker: record stale_update conflict: %w", err)
		}
		observability.ConflictsDetected.WithLabelValues(mod.String(), string(store.ConflictStaleUpdate)).Inc()
		return ApplyResult{Conflict: conflict}, nil
	}

	rec := &store.MirroredRecord{
		Module:       mod,
		ExternalID:   externalID,
		OwnerEmail:   payload.OwnerEmail(raw),
		OwnerName:    payload.OwnerName(raw),
		CreatedTime:  existing.CreatedTime,
		ModifiedTime: incomingModified,
		LastSynced:   time.Now().UTC(),
		Payload:      raw,
		Tombstoned:   false,
	}

	err = a.store.UpdateMirroredRecord(ctx, rec, existing.SyncVersion)
	if errors.Is(err, store.ErrOptimisticConflict) {
		// Retry once by reloading, per §4.2 step 2d.
		reloaded, reloadErr := a.store.GetMirroredRecord(ctx, mod, externalID)
		if reloadErr != nil {
			return ApplyResult{}, fmt.Errorf("syncworker: reload after optimistic conflict: %w", reloadErr)
		}
		if !incomingModified.After(reloaded.ModifiedTime) {
			conflict := a.buildConflict(mod, externalID, store.ConflictStaleUpdate, incomingModified, reloaded.ModifiedTime, reloaded.Payload, raw)
			_ = a.store.InsertSyncConflict(ctx, conflict)
			observability.ConflictsDetected.WithLabelValues(mod.String(), string(store.ConflictStaleUpdate)).Inc()
			return ApplyResult{Conflict: conflict}, nil
		}
		rec.CreatedTime = reloaded.CreatedTime
		if err := a.store.UpdateMirroredRecord(ctx, rec, reloaded.SyncVersion); err != nil {
			if errors.Is(err, store.ErrOptimisticConflict) {
				conflict := a.buildConflict(mod, externalID, store.ConflictConcurrentWrite, incomingModified, reloaded.ModifiedTime, reloaded.Payload, raw)
				if insErr := a.store.InsertSyncConflict(ctx, conflict); insErr != nil {
					return ApplyResult{}, fmt.Errorf("syncworker: record concurrent_write conflict: %w", insErr)
				}
				observability.ConflictsDetected.WithLabelValues(mod.String(), string(store.ConflictConcurrentWrite)).Inc()
				return ApplyResult{Conflict: conflict}, nil
			}
			return ApplyResult{}, fmt.Errorf("syncworker: retry update: %w", err)
		}
		return ApplyResult{Applied: true}, nil
	}
	if err != nil {
		return ApplyResult{}, fmt.Errorf("syncworker: update mirrored record: %w", err)
	}
	return ApplyResult{Applied: true}, nil
}

func (a *Applier) applyCreate(ctx context.Context, mod module.Kind, externalID string, raw []byte, modifiedTime time.Time) (ApplyResult, error) {
	now := time.Now().UTC()
	rec := &store.MirroredRecord{
		Module:       mod,
		ExternalID:   externalID,
		OwnerEmail:   payload.OwnerEmail(raw),
		OwnerName:    payload.OwnerName(raw),
		CreatedTime:  modifiedTime,
		ModifiedTime: modifiedTime,
		LastSynced:   now,
		Payload:      raw,
	}
	if err := a.store.InsertMirroredRecord(ctx, rec); err != nil {
		if errors.Is(err, store.ErrOptimisticConflict) {
			// Lost a create race; treat the winner's row as authoritative
			// and fall through to the normal update path on retry.
			existing, loadErr := a.store.GetMirroredRecord(ctx, mod, externalID)
			if loadErr != nil {
				return ApplyResult{}, fmt.Errorf("syncworker: load after lost create race: %w", loadErr)
			}
			if !modifiedTime.After(existing.ModifiedTime) {
				return ApplyResult{}, nil
			}
			rec.CreatedTime = existing.CreatedTime
			if updErr := a.store.UpdateMirroredRecord(ctx, rec, existing.SyncVersion); updErr != nil {
				return ApplyResult{}, fmt.Errorf("syncworker: apply after lost create race: %w", updErr)
			}
			return ApplyResult{Applied: true}, nil
		}
		return ApplyResult{}, fmt.Errorf("syncworker: insert mirrored record: %w", err)
	}
	return ApplyResult{Applied: true}, nil
}

func (a *Applier) applyTombstone(ctx context.Context, mod module.Kind, externalID string, raw []byte) (ApplyResult, error) {
	existing, err := a.store.GetMirroredRecord(ctx, mod, externalID)
	if errors.Is(err, store.ErrNotFound) {
		conflict := a.buildConflict(mod, externalID, store.ConflictMissingRecord, time.Now().UTC(), time.Time{}, nil, raw)
		if insErr := a.store.InsertSyncConflict(ctx, conflict); insErr != nil {
			return ApplyResult{}, fmt.Errorf("syncworker: record missing_record conflict: %w", insErr)
		}
		observability.ConflictsDetected.WithLabelValues(mod.String(), string(store.ConflictMissingRecord)).Inc()
		return ApplyResult{Conflict: conflict}, nil
	}
	if err != nil {
		return ApplyResult{}, fmt.Errorf("syncworker: load existing record for tombstone: %w", err)
	}

	tombstoned, err := payload.WithTombstone(existing.Payload)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %v", ErrPoisonedPayload, err)
	}

	existing.Payload = tombstoned
	existing.Tombstoned = true
	existing.LastSynced = time.Now().UTC()
	if err := a.store.UpdateMirroredRecord(ctx, existing, existing.SyncVersion); err != nil {
		return ApplyResult{}, fmt.Errorf("syncworker: tombstone update: %w", err)
	}
	return ApplyResult{Applied: true}, nil
}

func (a *Applier) buildConflict(mod module.Kind, externalID string, kind store.ConflictKind, incomingModified, existingModified time.Time, previousSnapshot, incomingPayload []byte) *store.SyncConflict {
	return &store.SyncConflict{
		ConflictID:           uuid.NewString(),
		Module:               mod,
		ExternalID:           externalID,
		Kind:                 kind,
		IncomingModifiedTime: incomingModified,
		ExistingModifiedTime: existingModified,
		PreviousSnapshot:     previousSnapshot,
		IncomingPayload:      incomingPayload,
		Resolution:           store.ResolutionLastWriteWins,
		DetectedAt:           time.Now().UTC(),
	}
}
