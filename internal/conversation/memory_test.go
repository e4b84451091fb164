package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romiteld/crm-sync-engine/internal/store"
)

type fakeMemoryStore struct {
	store.Store
	appended []*store.ConversationTurn
	gcCalls  int
}

func (f *fakeMemoryStore) AppendConversationTurn(ctx context.Context, t *store.ConversationTurn) error {
	f.appended = append(f.appended, t)
	return nil
}

func (f *fakeMemoryStore) ListRecentConversationTurns(ctx context.Context, userID string, limit int) ([]*store.ConversationTurn, error) {
	var out []*store.ConversationTurn
	for i := len(f.appended) - 1; i >= 0 && len(out) < limit; i-- {
		if f.appended[i].UserID == userID {
			out = append(out, f.appended[i])
		}
	}
	return out, nil
}

func (f *fakeMemoryStore) GCConversationTurns(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.gcCalls++
	return 0, nil
}

func newTestMemory(t *testing.T) (*Memory, *fakeMemoryStore) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fs := &fakeMemoryStore{}
	return NewMemory(fs, client, "test"), fs
}

func TestMemory_RecentServesFromHotWindow(t *testing.T) {
	m, fs := newTestMemory(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Append(ctx, &store.ConversationTurn{UserID: "u1", Role: store.RoleUser, Text: "msg"}))
	}
	assert.Len(t, fs.appended, 3)

	turns, err := m.Recent(ctx, "u1", 3)
	require.NoError(t, err)
	assert.Len(t, turns, 3)
}

func TestMemory_RecentFallsBackToStoreWhenHotWindowShort(t *testing.T) {
	m, fs := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, &store.ConversationTurn{UserID: "u1", Role: store.RoleUser, Text: "only one"}))
	_ = fs

	turns, err := m.Recent(ctx, "u1", 5)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestMemory_GCDelegatesToStore(t *testing.T) {
	m, fs := newTestMemory(t)
	_, err := m.GCOlderThan(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, fs.gcCalls)
}
