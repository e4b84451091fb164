package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romiteld/crm-sync-engine/internal/store"
)

type fakeClarificationStore struct {
	store.Store
	sessions map[string]*store.ClarificationSession
}

func newFakeClarificationStore() *fakeClarificationStore {
	return &fakeClarificationStore{sessions: map[string]*store.ClarificationSession{}}
}

func (f *fakeClarificationStore) CreateClarificationSession(ctx context.Context, s *store.ClarificationSession) error {
	f.sessions[s.SessionID] = s
	return nil
}

func (f *fakeClarificationStore) ResolveClarificationSession(ctx context.Context, sessionID, resolutionText string) error {
	if s, ok := f.sessions[sessionID]; ok {
		now := time.Now()
		s.ResolvedAt = &now
		s.ResolutionText = resolutionText
	}
	return nil
}

func (f *fakeClarificationStore) ReapExpiredClarificationSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func TestClarifier_OpenTruncatesToMaxOptions(t *testing.T) {
	fs := newFakeClarificationStore()
	c := NewClarifier(fs, 5*time.Minute, 0.8)

	opts := []string{"a", "b", "c", "d", "e", "f", "g"}
	session, err := c.Open(context.Background(), "u1", "find candidates", store.AmbiguityVagueSearch, opts, nil)
	require.NoError(t, err)
	assert.Len(t, session.Options, maxClarificationOptions)
}

func TestClarifier_ResolveByExactNumber(t *testing.T) {
	fs := newFakeClarificationStore()
	c := NewClarifier(fs, 5*time.Minute, 0.8)
	session, _ := c.Open(context.Background(), "u1", "q", store.AmbiguityVagueSearch, []string{"leads", "deals", "contacts"}, nil)

	resolved, ok := c.Resolve(context.Background(), session, "2")
	assert.True(t, ok)
	assert.Equal(t, "deals", resolved)
}

func TestClarifier_ResolveByHashToken(t *testing.T) {
	fs := newFakeClarificationStore()
	c := NewClarifier(fs, 5*time.Minute, 0.8)
	session, _ := c.Open(context.Background(), "u1", "q", store.AmbiguityVagueSearch, []string{"leads", "deals", "contacts"}, nil)

	resolved, ok := c.Resolve(context.Background(), session, "#3")
	assert.True(t, ok)
	assert.Equal(t, "contacts", resolved)
}

func TestClarifier_ResolveByFuzzyMatch(t *testing.T) {
	fs := newFakeClarificationStore()
	c := NewClarifier(fs, 5*time.Minute, 0.6)
	session, _ := c.Open(context.Background(), "u1", "q", store.AmbiguityVagueSearch, []string{"leads", "deals", "contacts"}, nil)

	resolved, ok := c.Resolve(context.Background(), session, "delas")
	assert.True(t, ok)
	assert.Equal(t, "deals", resolved)
}

func TestClarifier_ResolveNoMatchBelowThreshold(t *testing.T) {
	fs := newFakeClarificationStore()
	c := NewClarifier(fs, 5*time.Minute, 0.95)
	session, _ := c.Open(context.Background(), "u1", "q", store.AmbiguityVagueSearch, []string{"leads", "deals", "contacts"}, nil)

	_, ok := c.Resolve(context.Background(), session, "something else entirely")
	assert.False(t, ok)
}
