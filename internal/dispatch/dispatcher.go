package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/artifact"
	"github.com/romiteld/crm-sync-engine/internal/idempotency"
	"github.com/romiteld/crm-sync-engine/internal/observability"
	"github.com/romiteld/crm-sync-engine/internal/role"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

// Dispatcher builds and transmits one subscription's digest, implementing
// scheduler.JobRunner. It owns Delivery row writes exclusively (together
// with the Scheduler, per the Store interface doc comment).
type Dispatcher struct {
	store      store.Store
	roles      *role.Resolver
	builder    *artifact.Builder
	idem       *idempotency.Store
	transports map[string]Transport
	breakers   map[string]*gobreaker.CircuitBreaker
	maxRetries int
	log        *zap.Logger
}

func New(st store.Store, roles *role.Resolver, builder *artifact.Builder, idem *idempotency.Store, transports []Transport, maxRetries int, log *zap.Logger) *Dispatcher {
	byName := make(map[string]Transport, len(transports))
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(transports))
	for _, t := range transports {
		byName[t.Name()] = t
		breakers[t.Name()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "dispatch-" + t.Name(),
			MaxRequests: 2,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		})
	}
	return &Dispatcher{store: st, roles: roles, builder: builder, idem: idem, transports: byName, breakers: breakers, maxRetries: maxRetries, log: log}
}

// RunDelivery implements scheduler.JobRunner: build the artifact, record the
// Delivery row, and send it via the subscription's transport with retry and
// backoff, enforcing the (subscription, scheduled_anchor) idempotency
// invariant from §3.
func (d *Dispatcher) RunDelivery(ctx context.Context, sub *store.Subscription, anchor time.Time) error {
	idemKey := fmt.Sprintf("%s:%d", sub.SubscriptionID, anchor.Unix())
	rec, claimed, err := d.idem.Claim(ctx, idemKey)
	if err != nil {
		return fmt.Errorf("dispatch: idempotency claim: %w", err)
	}
	if !claimed {
		if rec != nil {
			d.log.Info("delivery already completed, skipping redelivery",
				zap.String("subscription_id", sub.SubscriptionID), zap.String("outcome", rec.Outcome))
			return nil
		}
		return fmt.Errorf("dispatch: delivery %s already in flight", idemKey)
	}

	subscriberRole, err := d.roles.Resolve(ctx, sub.UserID)
	if err != nil {
		_ = d.idem.Release(ctx, idemKey)
		return fmt.Errorf("dispatch: resolve subscriber role: %w", err)
	}

	art, err := d.builder.Build(ctx, sub, anchor, subscriberRole)
	if err != nil {
		_ = d.idem.Release(ctx, idemKey)
		return fmt.Errorf("dispatch: build artifact: %w", err)
	}

	existing, err := d.store.GetDeliveryByAnchor(ctx, sub.SubscriptionID, anchor)
	var deliveryID string
	if err == nil {
		deliveryID = existing.DeliveryID
	} else if errors.Is(err, store.ErrNotFound) {
		deliveryID = uuid.NewString()
		delivery := &store.Delivery{
			DeliveryID:      deliveryID,
			SubscriptionID:  sub.SubscriptionID,
			ScheduledAnchor: anchor,
			State:           store.DeliveryScheduled,
			ItemCount:       len(art.Items),
			ArtifactBody:    art.Body,
			CreatedAt:       anchor,
		}
		if insertErr := d.store.InsertDelivery(ctx, delivery); insertErr != nil {
			_ = d.idem.Release(ctx, idemKey)
			return fmt.Errorf("dispatch: insert delivery: %w", insertErr)
		}
	} else {
		_ = d.idem.Release(ctx, idemKey)
		return fmt.Errorf("dispatch: lookup existing delivery: %w", err)
	}

	transport, ok := d.transports[transportFor(sub)]
	if !ok {
		_ = d.idem.Release(ctx, idemKey)
		return fmt.Errorf("dispatch: no transport registered for subscription %s", sub.SubscriptionID)
	}

	msgID, sendErr := d.sendWithRetry(ctx, transport, sub.RecipientAddress, art.Body, deliveryID)
	if sendErr != nil {
		_ = d.store.UpdateDeliveryState(ctx, deliveryID, store.DeliveryFailed, "", sendErr.Error())
		observability.DeliveryOutcomes.WithLabelValues(transport.Name(), "failed").Inc()
		_ = d.idem.Complete(ctx, idemKey, idempotency.Record{Outcome: "failed"})
		return sendErr
	}

	_ = d.store.UpdateDeliveryState(ctx, deliveryID, store.DeliverySent, msgID, "")
	observability.DeliveryOutcomes.WithLabelValues(transport.Name(), "sent").Inc()
	return d.idem.Complete(ctx, idemKey, idempotency.Record{Outcome: "sent", Reference: msgID})
}

// sendWithRetry retries up to maxRetries times with exponential backoff on
// a transient transport failure (§4.6), wrapping every attempt in the
// transport's circuit breaker.
func (d *Dispatcher) sendWithRetry(ctx context.Context, t Transport, recipient, body, deliveryID string) (string, error) {
	breaker := d.breakers[t.Name()]
	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		result, err := breaker.Execute(func() (any, error) {
			return t.Send(ctx, recipient, body)
		})
		if err == nil {
			observability.DeliveryRetryCount.WithLabelValues(t.Name()).Observe(float64(attempt))
			return result.(string), nil
		}

		lastErr = err
		var transientErr *ErrTransientTransportFailure
		if !errors.As(err, &transientErr) || attempt == d.maxRetries {
			break
		}

		observability.DeliveryOutcomes.WithLabelValues(t.Name(), "retried").Inc()
		backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("dispatch: send to %s for delivery %s: %w", t.Name(), deliveryID, lastErr)
}

// transportFor picks the delivery transport by the recipient address's
// scheme: a Slack channel/user ID starts with U/C/D, everything else is
// routed to the generic webhook transport.
func transportFor(sub *store.Subscription) string {
	if len(sub.RecipientAddress) > 0 {
		switch sub.RecipientAddress[0] {
		case 'U', 'C', 'D':
			return "slack"
		}
	}
	return "webhook"
}
