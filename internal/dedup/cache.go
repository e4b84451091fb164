// Package dedup implements the fingerprint probe WebhookReceiver consults
// before ever touching Postgres, keeping the dedup-hit path fast and off
// the durable store (spec.md §4.1).
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a Redis SETNX-backed seen-fingerprint probe with a bounded TTL.
// A true return from Seen means "already processed or in flight"; a false
// return both answers the question and claims the fingerprint atomically,
// so two racing webhook deliveries for the same event can't both proceed.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func New(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

// Seen reports whether fingerprint was already claimed within the TTL
// window. The claim itself happens inside this call via SETNX.
func (c *Cache) Seen(ctx context.Context, fingerprint string) (bool, error) {
	key := c.key(fingerprint)
	claimed, err := c.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: claim %s: %w", fingerprint, err)
	}
	return !claimed, nil
}

// Release removes a claim, used when the webhook is subsequently rejected
// for an unrelated reason (e.g. the audit-row insert fails after Seen
// already claimed the fingerprint) and must not block a legitimate retry.
func (c *Cache) Release(ctx context.Context, fingerprint string) error {
	return c.client.Del(ctx, c.key(fingerprint)).Err()
}

func (c *Cache) key(fingerprint string) string {
	return c.prefix + ":dedup:" + fingerprint
}
