package coordination

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/store"
)

// leaseMetadata is the JSON value stored under the lease key, used to prove
// ownership on renew/release and to record the fencing epoch it was
// acquired under.
type leaseMetadata struct {
	OwnerNode string    `json:"owner_node"`
	Epoch     int64     `json:"epoch"`
	ReqID     string    `json:"req_id"`
	CreatedAt time.Time `json:"created_at"`
}

type fencingKey struct{}

// GetEpoch extracts the fencing epoch stamped on the leader context a
// LeaderElector passes to its onElected callback.
func GetEpoch(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(fencingKey{}).(int64)
	return v, ok
}

// LeaderElector runs a single-leader election loop over one lock key,
// shared by the Scheduler and Poller (each uses its own lockKey so the two
// roles elect independently). Only the elected node executes the guarded
// loop; all others idle until they win.
type LeaderElector struct {
	coordinator store.Coordinator
	durable     store.Store
	nodeID      string
	lockKey     string
	ttl         time.Duration
	log         *zap.Logger

	onElected func(ctx context.Context)
	onLost    func()

	mu           sync.RWMutex
	isLeader     bool
	currentValue string
	currentEpoch int64
	leaderCtx    context.Context
	leaderCancel context.CancelFunc
}

func NewLeaderElector(c store.Coordinator, durable store.Store, nodeID, lockKey string, ttl time.Duration, log *zap.Logger) *LeaderElector {
	return &LeaderElector{
		coordinator: c,
		durable:     durable,
		nodeID:      nodeID,
		lockKey:     lockKey,
		ttl:         ttl,
		log:         log,
	}
}

func (l *LeaderElector) SetCallbacks(onElected func(ctx context.Context), onLost func()) {
	l.onElected = onElected
	l.onLost = onLost
}

func (l *LeaderElector) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}

// Run blocks, driving the acquire/renew loop until ctx is cancelled.
func (l *LeaderElector) Run(ctx context.Context) {
	minInterval := l.ttl / 3
	maxInterval := 10 * l.ttl
	interval := minInterval

	renewFailures := 0
	const maxRenewFailures = 3

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if l.IsLeader() {
				l.stepDown()
			}
			return
		case <-timer.C:
			var err error
			if l.IsLeader() {
				var renewed bool
				renewed, err = l.renew(ctx)
				switch {
				case err != nil:
					renewFailures++
					l.log.Warn("lease renew failed", zap.Int("attempt", renewFailures), zap.Error(err))
					if renewFailures >= maxRenewFailures {
						l.log.Warn("too many renew failures, stepping down", zap.String("lock_key", l.lockKey))
						l.stepDown()
						renewFailures = 0
					}
				case !renewed:
					l.stepDown()
				default:
					renewFailures = 0
				}
			} else {
				var acquired bool
				acquired, err = l.acquire(ctx)
				if err == nil && acquired {
					l.becomeLeader(ctx)
					renewFailures = 0
				}
			}

			if err != nil {
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
			} else {
				interval = minInterval
			}
			timer.Reset(interval)
		}
	}
}

func (l *LeaderElector) acquire(ctx context.Context) (bool, error) {
	epoch, err := l.durable.IncrementDurableEpoch(ctx, l.lockKey)
	if err != nil {
		return false, err
	}

	meta := leaseMetadata{
		OwnerNode: l.nodeID,
		Epoch:     epoch,
		ReqID:     uuid.NewString(),
		CreatedAt: time.Now(),
	}
	valBytes, err := json.Marshal(meta)
	if err != nil {
		return false, err
	}
	val := string(valBytes)

	acquired, err := l.coordinator.AcquireLease(ctx, l.lockKey, val, l.ttl)
	if err != nil {
		return false, err
	}
	if acquired {
		l.mu.Lock()
		l.currentValue = val
		l.currentEpoch = epoch
		l.mu.Unlock()
	}
	return acquired, nil
}

func (l *LeaderElector) renew(ctx context.Context) (bool, error) {
	l.mu.RLock()
	val := l.currentValue
	l.mu.RUnlock()
	if val == "" {
		return false, nil
	}
	return l.coordinator.RenewLease(ctx, l.lockKey, val, l.ttl)
}

func (l *LeaderElector) becomeLeader(parent context.Context) {
	l.mu.Lock()
	l.isLeader = true
	l.leaderCtx, l.leaderCancel = context.WithCancel(context.WithValue(parent, fencingKey{}, l.currentEpoch))
	epoch := l.currentEpoch
	leaderCtx := l.leaderCtx
	l.mu.Unlock()

	l.log.Info("acquired leadership", zap.String("lock_key", l.lockKey), zap.Int64("epoch", epoch))
	if l.onElected != nil {
		go l.onElected(leaderCtx)
	}
}

func (l *LeaderElector) stepDown() {
	l.mu.Lock()
	wasLeader := l.isLeader
	val := l.currentValue
	cancel := l.leaderCancel
	l.isLeader = false
	l.currentValue = ""
	l.leaderCancel = nil
	l.mu.Unlock()

	if !wasLeader {
		return
	}
	if cancel != nil {
		cancel()
	}
	if val != "" {
		releaseCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = l.coordinator.ReleaseLease(releaseCtx, l.lockKey, val)
	}
	l.log.Info("stepped down from leadership", zap.String("lock_key", l.lockKey))
	if l.onLost != nil {
		l.onLost()
	}
}
