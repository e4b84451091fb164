package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/romiteld/crm-sync-engine/internal/store"
)

// hotWindowSize is K, the number of most-recent turns kept in the Redis hot
// window before a read has to fall back to Store (spec.md §4.7).
const hotWindowSize = 20

// Memory is ConversationMemory: every turn is appended durably to Store and
// also pushed onto a capped Redis list so recent-turn reads for an active
// conversation never hit Postgres. This is the same Redis-backed cache
// layer DedupCache itself runs on, just a different key shape — DedupCache's
// own Seen/Release API is fingerprint-specific and doesn't fit an ordered
// recent-N read, so the hot window gets its own small set of list commands
// against the same client (see DESIGN.md).
type Memory struct {
	store  store.Store
	client *redis.Client
	prefix string
}

func NewMemory(st store.Store, client *redis.Client, prefix string) *Memory {
	return &Memory{store: st, client: client, prefix: prefix}
}

func (m *Memory) hotKey(userID string) string { return m.prefix + ":convmem:" + userID }

// Append durably persists one turn and pushes it onto the hot window.
func (m *Memory) Append(ctx context.Context, t *store.ConversationTurn) error {
	if err := m.store.AppendConversationTurn(ctx, t); err != nil {
		return fmt.Errorf("conversation: append turn: %w", err)
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("conversation: marshal turn for hot window: %w", err)
	}
	pipe := m.client.TxPipeline()
	pipe.LPush(ctx, m.hotKey(t.UserID), raw)
	pipe.LTrim(ctx, m.hotKey(t.UserID), 0, hotWindowSize-1)
	pipe.Expire(ctx, m.hotKey(t.UserID), 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conversation: update hot window: %w", err)
	}
	return nil
}

// Recent returns the most recent limit turns, newest first, served from the
// hot window when it holds enough entries and falling back to Store
// otherwise (a cold start, or limit > hotWindowSize).
func (m *Memory) Recent(ctx context.Context, userID string, limit int) ([]*store.ConversationTurn, error) {
	if limit <= hotWindowSize {
		raw, err := m.client.LRange(ctx, m.hotKey(userID), 0, int64(limit-1)).Result()
		if err == nil && len(raw) >= limit {
			turns := make([]*store.ConversationTurn, 0, len(raw))
			ok := true
			for _, r := range raw {
				var t store.ConversationTurn
				if jsonErr := json.Unmarshal([]byte(r), &t); jsonErr != nil {
					ok = false
					break
				}
				turns = append(turns, &t)
			}
			if ok {
				return turns, nil
			}
		}
	}

	return m.store.ListRecentConversationTurns(ctx, userID, limit)
}

// GCOlderThan reaps durable turns past retention, per §4.7's 30-day window.
func (m *Memory) GCOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	return m.store.GCConversationTurns(ctx, retention)
}
