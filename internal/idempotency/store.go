// Package idempotency adapts the teacher's Redis-backed idempotency cache
// to guard the Dispatcher's retry loop against duplicate processing.
package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Record is the cached outcome of one idempotency-guarded operation.
type Record struct {
	Outcome   string `json:"outcome"`
	Reference string `json:"reference"`
}

// Store is a Redis-backed claim-and-cache: Claim atomically reserves a key
// so only the first caller proceeds, and later callers observe the cached
// Record once the first caller finishes with Complete.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

func New(client *redis.Client, prefix string, ttl time.Duration, log *zap.Logger) *Store {
	return &Store{client: client, prefix: prefix, ttl: ttl, log: log}
}

func (s *Store) key(id string) string { return s.prefix + ":idem:" + id }

// Claim reserves id for the caller. claimed is true if this call won the race
// and should proceed; false means another caller holds id, and rec is its
// cached Record, or nil while that caller is still in flight (callers should
// treat a nil rec with claimed=false as "retry later").
func (s *Store) Claim(ctx context.Context, id string) (rec *Record, claimed bool, err error) {
	claimed, err = s.client.SetNX(ctx, s.key(id), "", s.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if claimed {
		return nil, true, nil
	}

	val, err := s.client.Get(ctx, s.key(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	if val == "" {
		return nil, false, nil // claimed by another caller, not yet completed
	}
	var r Record
	if err := json.Unmarshal([]byte(val), &r); err != nil {
		return nil, false, err
	}
	return &r, false, nil
}

// Complete records the final outcome for id so future Claim calls return it
// directly instead of re-running the operation.
func (s *Store) Complete(ctx context.Context, id string, rec Record) error {
	bytes, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(id), string(bytes), s.ttl).Err()
}

// Release abandons a claim without recording an outcome, letting the next
// caller retry — used when the guarded operation fails before completion.
func (s *Store) Release(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}
