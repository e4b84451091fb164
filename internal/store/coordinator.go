package store

import (
	"context"
	"time"
)

// Coordinator is the distributed-locking boundary used for the Scheduler and
// Poller's single-leader loops (§4.4, §5). It is deliberately separate from
// Store: Store is the durable Postgres mirror, Coordinator is the fast,
// ephemeral Redis lease/epoch backend.
type Coordinator interface {
	// AcquireLease attempts to take ownership of key with value (opaque
	// owner/epoch metadata) for ttl. Returns false if already held.
	AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// RenewLease extends ttl only if value still matches the current holder.
	RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// ReleaseLease drops the lease only if value still matches.
	ReleaseLease(ctx context.Context, key, value string) error

	// IncrementDurableEpoch returns a monotonically increasing fencing token
	// for resourceID, durable across Redis restarts (stored in Postgres).
	IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error)
}
