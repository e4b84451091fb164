package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/store"
)

// fakeSchedulerStore claims the seeded due subscription exactly once and
// records the due anchor it handed back, mirroring the real Postgres CTE's
// claim-once semantics without a live database.
type fakeSchedulerStore struct {
	store.Store
	due    *store.ClaimedSubscription
	claimed bool
}

func (f *fakeSchedulerStore) ClaimDueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]*store.ClaimedSubscription, error) {
	if f.due == nil || f.claimed {
		return nil, nil
	}
	f.claimed = true
	return []*store.ClaimedSubscription{f.due}, nil
}

func (f *fakeSchedulerStore) SetNextDelivery(ctx context.Context, subscriptionID string, next *time.Time) error {
	return nil
}

type fakeJobRunner struct {
	mu       sync.Mutex
	anchors  []time.Time
}

func (f *fakeJobRunner) RunDelivery(ctx context.Context, sub *store.Subscription, anchor time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anchors = append(f.anchors, anchor)
	return nil
}

// TestScheduler_RunTickUsesClaimedDueAnchorNotWallClock is the regression
// test for the claim losing its due anchor: the subscription's next_delivery
// was due well before the tick fired, and RunDelivery must see that original
// due time, not the tick's now(), since Dispatcher keys delivery idempotency
// off (subscription_id, scheduled_anchor).
func TestScheduler_RunTickUsesClaimedDueAnchorNotWallClock(t *testing.T) {
	dueAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	now := dueAt.Add(5 * time.Minute) // the tick fires a bit after the due time

	st := &fakeSchedulerStore{
		due: &store.ClaimedSubscription{
			Subscription: &store.Subscription{SubscriptionID: "sub-1", Cadence: store.CadenceDaily},
			DueAnchor:    dueAt,
		},
	}
	jobs := &fakeJobRunner{}
	s := New(st, jobs, time.Second, 10, 4, zap.NewNop())

	sem := make(chan struct{}, 4)
	s.runTick(context.Background(), now, sem)

	// runJob is dispatched on its own goroutine; give it a moment to run.
	require.Eventually(t, func() bool {
		jobs.mu.Lock()
		defer jobs.mu.Unlock()
		return len(jobs.anchors) == 1
	}, time.Second, time.Millisecond)

	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	assert.Equal(t, dueAt, jobs.anchors[0], "RunDelivery must receive the claimed due anchor, not the tick's wall-clock time")
	assert.NotEqual(t, now, jobs.anchors[0])
}

// TestScheduler_RunTickClaimsEachSubscriptionOnlyOnce guards against a
// regression where a second tick re-claims a subscription whose delivery is
// still in flight (the real FOR UPDATE SKIP LOCKED claim can only happen
// once per row until next_delivery is set again).
func TestScheduler_RunTickClaimsEachSubscriptionOnlyOnce(t *testing.T) {
	dueAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	st := &fakeSchedulerStore{
		due: &store.ClaimedSubscription{
			Subscription: &store.Subscription{SubscriptionID: "sub-1", Cadence: store.CadenceDaily},
			DueAnchor:    dueAt,
		},
	}
	jobs := &fakeJobRunner{}
	s := New(st, jobs, time.Second, 10, 4, zap.NewNop())

	sem := make(chan struct{}, 4)
	s.runTick(context.Background(), dueAt, sem)
	s.runTick(context.Background(), dueAt.Add(time.Minute), sem)

	require.Eventually(t, func() bool {
		jobs.mu.Lock()
		defer jobs.mu.Unlock()
		return len(jobs.anchors) == 1
	}, time.Second, time.Millisecond)
}
