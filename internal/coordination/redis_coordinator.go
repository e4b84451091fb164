// Package coordination implements the distributed-locking boundary
// (store.Coordinator) and the leader election loop that the Scheduler and
// Poller use to guarantee a single active owner per process role
// (SPEC_FULL.md §A, spec.md §4.4/§5).
package coordination

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/romiteld/crm-sync-engine/internal/store"
)

const renewScript = `
local val = redis.call("get", KEYS[1])
if not val then
	return -1
end
if val == ARGV[1] then
	return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
else
	return -2
end
`

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisCoordinator implements store.Coordinator on top of go-redis,
// combining a SET NX lease for ownership with a durable Postgres-backed
// fencing counter so epochs survive a Redis flush.
type RedisCoordinator struct {
	client *redis.Client
	store  store.Store
}

func NewRedisCoordinator(client *redis.Client, durable store.Store) *RedisCoordinator {
	return &RedisCoordinator{client: client, store: durable}
}

func (c *RedisCoordinator) AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

func (c *RedisCoordinator) RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := c.client.Eval(ctx, renewScript, []string{key}, value, int64(ttl/time.Millisecond)).Result()
	if err != nil {
		return false, err
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}

func (c *RedisCoordinator) ReleaseLease(ctx context.Context, key, value string) error {
	_, err := c.client.Eval(ctx, releaseScript, []string{key}, value).Result()
	return err
}

// IncrementDurableEpoch delegates to the Postgres fencing counter so the
// token survives a Redis restart.
func (c *RedisCoordinator) IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	return c.store.IncrementDurableEpoch(ctx, resourceID)
}
