// Package scheduler runs the clock-driven digest loop (spec.md §4.4): on
// each tick it claims due subscriptions, hands each to a build-and-send job,
// and recomputes the subscriber's next delivery anchor on completion.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/observability"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

// JobRunner builds and sends one subscription's artifact. Implemented by the
// artifact/dispatch wiring in cmd/syncengine; kept as a narrow interface here
// so the scheduler has no direct dependency on either package.
type JobRunner interface {
	RunDelivery(ctx context.Context, sub *store.Subscription, anchor time.Time) error
}

// Scheduler is a single-leader cooperative loop. Run is meant to be invoked
// from a coordination.LeaderElector's onElected callback, so ctx is already
// fenced: losing leadership cancels ctx and Scheduler.Run returns without
// any extra coordination of its own.
type Scheduler struct {
	store       store.Store
	jobs        JobRunner
	tick        time.Duration
	claimLimit  int
	concurrency int
	admission   *AdmissionGate
	log         *zap.Logger
}

func New(st store.Store, jobs JobRunner, tick time.Duration, claimLimit, concurrency int, log *zap.Logger) *Scheduler {
	return &Scheduler{
		store: st, jobs: jobs, tick: tick, claimLimit: claimLimit, concurrency: concurrency,
		admission: NewAdmissionGate(0.9, 30*time.Second),
		log:       log,
	}
}

// Run blocks, ticking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	sem := make(chan struct{}, s.concurrency)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runTick(ctx, now, sem)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context, now time.Time, sem chan struct{}) {
	saturation := float64(len(sem)) / float64(cap(sem))
	if !s.admission.ShouldAdmit(saturation) {
		s.log.Warn("scheduler admission gate open, skipping tick", zap.Float64("saturation", saturation))
		return
	}

	due, err := s.store.ClaimDueSubscriptions(ctx, now, s.claimLimit)
	if err != nil {
		s.log.Error("claim due subscriptions failed", zap.Error(err))
		return
	}

	for _, claimed := range due {
		observability.SubscriptionsClaimed.WithLabelValues(string(claimed.Cadence)).Inc()
		sub := claimed.Subscription
		anchor := claimed.DueAnchor
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func() {
			defer func() { <-sem }()
			s.runJob(ctx, sub, anchor)
		}()
	}
}

func (s *Scheduler) runJob(ctx context.Context, sub *store.Subscription, anchor time.Time) {
	if err := s.jobs.RunDelivery(ctx, sub, anchor); err != nil {
		s.log.Error("delivery job failed", zap.String("subscription_id", sub.SubscriptionID), zap.Error(err))
		// Leave next_delivery unset (claimed to nil by ClaimDueSubscriptions);
		// the subscription is picked up again once a human resolves the
		// underlying failure and re-primes it, per §4.6's Dispatcher owning
		// the retry loop — the scheduler itself does not re-anchor on failure.
		return
	}

	next, err := NextAnchor(sub.Cadence, sub.Timezone, anchor)
	if err != nil {
		s.log.Error("compute next anchor failed", zap.String("subscription_id", sub.SubscriptionID), zap.Error(err))
		return
	}
	if err := s.store.SetNextDelivery(ctx, sub.SubscriptionID, &next); err != nil {
		s.log.Error("set next delivery failed", zap.String("subscription_id", sub.SubscriptionID), zap.Error(err))
	}
}
