// Package poller implements the periodic cursor-based sweep that fills
// webhook gaps: missed events, lost vendor retries, DLQ'd events
// (spec.md §4.3).
package poller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/module"
	"github.com/romiteld/crm-sync-engine/internal/observability"
	"github.com/romiteld/crm-sync-engine/internal/store"
	"github.com/romiteld/crm-sync-engine/internal/syncworker"
	"github.com/romiteld/crm-sync-engine/internal/vendorclient"
)

// Poller runs one fixed-interval sweep per module, only while this process
// holds the Poller's leader lease (the coordination.LeaderElector drives
// Run's lifetime through the leader context it hands its onElected callback).
type Poller struct {
	store    store.Store
	vendor   vendorclient.Client
	applier  *syncworker.Applier
	interval time.Duration
	pageSize int
	log      *zap.Logger
}

func New(st store.Store, vendor vendorclient.Client, applier *syncworker.Applier, interval time.Duration, pageSize int, log *zap.Logger) *Poller {
	return &Poller{store: st, vendor: vendor, applier: applier, interval: interval, pageSize: pageSize, log: log}
}

// Run sweeps every module on a ticker until ctx is cancelled (ctx is
// expected to be the LeaderElector's leader context: losing leadership cancels it
// and this loop stops without any extra coordination).
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.sweepAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepAll(ctx)
		}
	}
}

func (p *Poller) sweepAll(ctx context.Context) {
	for _, mod := range module.All {
		if err := p.sweepModule(ctx, mod); err != nil {
			p.log.Error("poll sweep failed", zap.String("module", mod.String()), zap.Error(err))
			lastSuccess := time.Time{}
			if meta, getErr := p.store.GetSyncMetadata(ctx, mod); getErr == nil {
				lastSuccess = meta.LastSuccessfulSync
			}
			_ = p.store.UpsertSyncMetadataCursor(ctx, mod, lastSuccess, time.Now().Add(p.interval), store.SyncStatusDegraded, err.Error())
		}
	}
}

func (p *Poller) sweepModule(ctx context.Context, mod module.Kind) error {
	start := time.Now()
	defer func() {
		observability.PollerSweepDuration.WithLabelValues(mod.String()).Observe(time.Since(start).Seconds())
	}()

	meta, err := p.store.GetSyncMetadata(ctx, mod)
	cursor := time.Time{}
	if err == nil {
		cursor = meta.LastSuccessfulSync
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	observability.PollerCursorLagSeconds.WithLabelValues(mod.String()).Set(time.Since(cursor).Seconds())

	records, err := p.vendor.ListModifiedSince(ctx, mod, cursor, p.pageSize)
	if err != nil {
		return err
	}

	latestModified := cursor
	for _, rec := range records {
		result, applyErr := p.applier.Apply(ctx, mod, rec.ExternalID, store.EventUpdate, rec.Payload)
		if applyErr != nil {
			p.log.Warn("poller apply failed for record, continuing sweep",
				zap.String("module", mod.String()), zap.String("external_id", rec.ExternalID), zap.Error(applyErr))
			continue
		}
		if result.Conflict != nil {
			_ = p.store.IncrCounter(ctx, mod, store.CounterConflictsDetected)
			if result.Conflict.IncomingModifiedTime.After(latestModified) {
				latestModified = result.Conflict.IncomingModifiedTime
			}
			continue
		}
		if updated, getErr := p.store.GetMirroredRecord(ctx, mod, rec.ExternalID); getErr == nil && updated.ModifiedTime.After(latestModified) {
			latestModified = updated.ModifiedTime
		}
	}

	// Advance the cursor only on a fully successful sweep, per §4.3.
	return p.store.UpsertSyncMetadataCursor(ctx, mod, latestModified, time.Now().Add(p.interval), store.SyncStatusHealthy, "")
}
