package syncworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	busv1 "github.com/romiteld/crm-sync-engine/internal/bus"
	"github.com/romiteld/crm-sync-engine/internal/observability"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

// Bus is the subset of bus.Bus the pool needs, kept narrow so tests can
// supply a fake without pulling in a real Redis client.
type Bus interface {
	Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error)
	Ack(ctx context.Context, stream, group string, msg Message) error
	Nack(ctx context.Context, stream, group string, msg Message, toDLQ bool) error
	ReclaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Message, error)
	EnsureGroup(ctx context.Context, stream, group string) error
}

// Message mirrors bus.Message structurally.
type Message = busv1.Message

// Pool runs N concurrent consumers draining stream via group, applying each
// message's WebhookEvent through Applier (spec.md §4.2, §5's "separate pool
// from WebhookReceiver" requirement).
type Pool struct {
	store        store.Store
	bus          Bus
	applier      *Applier
	stream       string
	group        string
	nodeID       string
	concurrency  int
	maxAttempts  int64
	limiter      *rate.Limiter
	log          *zap.Logger
}

func NewPool(st store.Store, b Bus, applier *Applier, stream, group, nodeID string, concurrency int, maxAttempts int64, log *zap.Logger) *Pool {
	return &Pool{
		store: st, bus: b, applier: applier, stream: stream, group: group, nodeID: nodeID,
		concurrency: concurrency, maxAttempts: maxAttempts,
		limiter: rate.NewLimiter(rate.Limit(concurrency*50), concurrency*50),
		log:     log,
	}
}

// Run blocks, draining the stream with `concurrency` goroutines until ctx
// is cancelled. Each goroutine is an independent consumer identity so
// Redis Streams' pending-entries list attributes ownership correctly.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.bus.EnsureGroup(ctx, p.stream, p.group); err != nil {
		return fmt.Errorf("syncworker: ensure consumer group: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		consumerID := fmt.Sprintf("%s-%d", p.nodeID, i)
		g.Go(func() error {
			p.consumeLoop(gctx, consumerID)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) consumeLoop(ctx context.Context, consumerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		msgs, err := p.bus.Consume(ctx, p.stream, p.group, consumerID, 10, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("bus consume failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		reclaimed, err := p.bus.ReclaimStale(ctx, p.stream, p.group, consumerID, 5*time.Minute, 10)
		if err == nil {
			msgs = append(msgs, reclaimed...)
		}

		for _, m := range msgs {
			p.handle(ctx, m)
		}
	}
}

func (p *Pool) handle(ctx context.Context, msg Message) {
	var entry struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(msg.Payload, &entry); err != nil {
		p.log.Error("poisoned queue entry, sending to DLQ", zap.Error(err))
		_ = p.bus.Nack(ctx, p.stream, p.group, Message{ID: msg.ID}, true)
		return
	}

	start := time.Now()
	outcome, modLabel := p.process(ctx, entry.EventID, msg)
	observability.SyncWorkerLatency.WithLabelValues(modLabel).Observe(time.Since(start).Seconds())
	observability.SyncWorkerProcessed.WithLabelValues(modLabel, outcome).Inc()
}

func (p *Pool) process(ctx context.Context, eventID string, msg Message) (outcome, modLabel string) {
	evt, err := p.store.ClaimWebhookEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, store.ErrOptimisticConflict) {
			// Already claimed or finished by another worker; ack and move on.
			_ = p.bus.Ack(ctx, p.stream, p.group, msg)
			return "already_claimed", "unknown"
		}
		p.log.Error("claim webhook event failed", zap.String("event_id", eventID), zap.Error(err))
		p.nackOrDLQ(ctx, msg)
		return "claim_error", "unknown"
	}
	modLabel = evt.Module.String()

	result, applyErr := p.applier.Apply(ctx, evt.Module, evt.ExternalID, evt.Kind, evt.RawPayload)
	switch {
	case errors.Is(applyErr, ErrPoisonedPayload):
		_ = p.store.FinishWebhookEvent(ctx, eventID, store.WebhookFailed, applyErr.Error())
		_ = p.bus.Nack(ctx, p.stream, p.group, msg, true)
		return "dlq", modLabel
	case applyErr != nil:
		_ = p.store.FinishWebhookEvent(ctx, eventID, store.WebhookFailed, applyErr.Error())
		p.nackOrDLQ(ctx, msg)
		return "transient_error", modLabel
	case result.Conflict != nil:
		_ = p.store.FinishWebhookEvent(ctx, eventID, store.WebhookConflict, "")
		_ = p.store.IncrCounter(ctx, evt.Module, store.CounterConflictsDetected)
		_ = p.bus.Ack(ctx, p.stream, p.group, msg)
		return "conflict", modLabel
	default:
		_ = p.store.FinishWebhookEvent(ctx, eventID, store.WebhookSuccess, "")
		_ = p.bus.Ack(ctx, p.stream, p.group, msg)
		return "applied", modLabel
	}
}

func (p *Pool) nackOrDLQ(ctx context.Context, msg Message) {
	toDLQ := msg.DeliveryAttempt >= p.maxAttempts
	_ = p.bus.Nack(ctx, p.stream, p.group, msg, toDLQ)
}
