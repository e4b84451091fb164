// Package webhook implements the HTTP ingestion pipeline: authenticate,
// canonicalize, fingerprint, dedup-probe, persist, enqueue (spec.md §4.1).
package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/bus"
	"github.com/romiteld/crm-sync-engine/internal/dedup"
	"github.com/romiteld/crm-sync-engine/internal/fingerprint"
	"github.com/romiteld/crm-sync-engine/internal/module"
	"github.com/romiteld/crm-sync-engine/internal/observability"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

const maxBodyBytes = 2 << 20 // 2 MiB; the vendor's payloads are small documents

// QueueEntry is the Bus wire format from spec.md §6: a small pointer, never
// the full payload, so queue size stays bounded.
type QueueEntry struct {
	EventID    string    `json:"event_id"`
	Module     module.Kind `json:"module"`
	ExternalID string    `json:"external_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Receiver is the chi handler for POST /webhooks/{module}.
type Receiver struct {
	store        store.Store
	dedup        *dedup.Cache
	bus          bus.Bus
	streamName   string
	sharedSecret string
	dedupTTL     time.Duration
	log          *zap.Logger
}

func NewReceiver(st store.Store, dc *dedup.Cache, b bus.Bus, streamName, sharedSecret string, dedupTTL time.Duration, log *zap.Logger) *Receiver {
	return &Receiver{
		store: st, dedup: dc, bus: b, streamName: streamName,
		sharedSecret: sharedSecret, dedupTTL: dedupTTL, log: log,
	}
}

// Routes mounts the receiver on a chi router.
func (r *Receiver) Routes(router chi.Router) {
	router.Post("/webhooks/{module}", r.handle)
}

func (r *Receiver) handle(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	modStr := chi.URLParam(req, "module")

	if !authenticate(req.Header.Get("X-Webhook-Auth"), r.sharedSecret) {
		observability.WebhookAuthFailures.WithLabelValues(modStr).Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	mod, err := module.Parse(modStr)
	if err != nil {
		http.Error(w, "unknown module", http.StatusBadRequest)
		return
	}
	defer func() {
		observability.WebhookIngestLatency.WithLabelValues(mod.String()).Observe(time.Since(start).Seconds())
	}()

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "body too large or unreadable", http.StatusBadRequest)
		return
	}

	var envelope struct {
		Kind       store.EventKind `json:"event_kind"`
		ExternalID string          `json:"external_id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.ExternalID == "" {
		http.Error(w, "unparseable payload", http.StatusBadRequest)
		return
	}
	if envelope.Kind == "" {
		envelope.Kind = store.EventUpdate
	}

	fp, err := fingerprint.Compute(body)
	if err != nil {
		http.Error(w, "unparseable payload", http.StatusBadRequest)
		return
	}

	ctx := req.Context()

	seen, err := r.dedup.Seen(ctx, dedupKey(mod, envelope.ExternalID, fp))
	if err != nil {
		r.log.Warn("dedup probe failed, proceeding without cache", zap.Error(err))
	} else if seen {
		observability.DedupHits.WithLabelValues(mod.String()).Inc()
		_ = r.store.IncrCounter(ctx, mod, store.CounterDedupHits)
		writeAccepted(w, "dedup")
		return
	}

	evt := &store.WebhookEvent{
		EventID:     uuid.NewString(),
		Module:      mod,
		Kind:        envelope.Kind,
		ExternalID:  envelope.ExternalID,
		RawPayload:  body,
		Fingerprint: fp,
		ReceivedAt:  time.Now().UTC(),
		WrapperMeta: map[string]string{"remote_addr": req.RemoteAddr},
	}

	if err := r.store.InsertWebhookEvent(ctx, evt); err != nil {
		if errors.Is(err, store.ErrDuplicateWebhookEvent) {
			observability.DedupHits.WithLabelValues(mod.String()).Inc()
			_ = r.store.IncrCounter(ctx, mod, store.CounterDedupHits)
			writeAccepted(w, "dedup")
			return
		}
		r.log.Error("webhook event insert failed", zap.Error(err))
		if relErr := r.dedup.Release(ctx, dedupKey(mod, envelope.ExternalID, fp)); relErr != nil {
			r.log.Warn("dedup release failed", zap.Error(relErr))
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	_ = r.store.IncrCounter(ctx, mod, store.CounterWebhooksReceived)

	entry := QueueEntry{EventID: evt.EventID, Module: mod, ExternalID: evt.ExternalID, EnqueuedAt: time.Now().UTC()}
	entryBytes, _ := json.Marshal(entry)
	if _, err := r.bus.Publish(ctx, r.streamName, entryBytes); err != nil {
		// Per §4.1 failure handling: the audit row stays pending; the
		// reaper/poller heals it later. The receiver never rolls back.
		r.log.Error("bus publish failed, event remains pending for reaper", zap.String("event_id", evt.EventID), zap.Error(err))
		writeAccepted(w, "accepted")
		return
	}

	writeAccepted(w, "accepted")
}

func dedupKey(mod module.Kind, externalID, fp string) string {
	return mod.String() + ":" + externalID + ":" + fp
}

func writeAccepted(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
