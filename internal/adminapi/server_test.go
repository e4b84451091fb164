package adminapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/bus"
	"github.com/romiteld/crm-sync-engine/internal/module"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

type fakeAdminStore struct {
	store.Store
	metadata        []*store.SyncMetadata
	conflicts       []*store.SyncConflict
	resolvedID      string
	resolvedBy      string
	resolvedStrategy store.ResolutionStrategy
}

func (f *fakeAdminStore) ListAllSyncMetadata(ctx context.Context) ([]*store.SyncMetadata, error) {
	return f.metadata, nil
}

func (f *fakeAdminStore) ListSyncConflicts(ctx context.Context, mod module.Kind, unresolvedOnly bool, offset, limit int) ([]*store.SyncConflict, error) {
	return f.conflicts, nil
}

func (f *fakeAdminStore) ResolveSyncConflict(ctx context.Context, conflictID string, strategy store.ResolutionStrategy, resolver, notes string) error {
	f.resolvedID = conflictID
	f.resolvedBy = resolver
	f.resolvedStrategy = strategy
	return nil
}

type fakeAdminBus struct {
	bus.Bus
	dlq        []bus.Message
	replayedN  int
	purged     bool
}

func (f *fakeAdminBus) ListDLQ(ctx context.Context, stream string, limit int64) ([]bus.Message, error) {
	return f.dlq, nil
}

func (f *fakeAdminBus) ReplayDLQ(ctx context.Context, stream string, limit int64) (int, error) {
	f.replayedN = len(f.dlq)
	return f.replayedN, nil
}

func (f *fakeAdminBus) PurgeDLQ(ctx context.Context, stream string) (int64, error) {
	f.purged = true
	return int64(len(f.dlq)), nil
}

func newTestServer(st *fakeAdminStore, b *fakeAdminBus) (*Server, *TokenIssuer, *chi.Mux) {
	tokens := NewTokenIssuer("test-secret-at-least-32-bytes-long", time.Hour)
	hub := NewStreamHub(zap.NewNop())
	srv := NewServer(st, b, tokens, hub, zap.NewNop())
	router := chi.NewRouter()
	srv.Routes(router)
	return srv, tokens, router
}

func authedRequest(t *testing.T, tokens *TokenIssuer, method, path, body string) *http.Request {
	t.Helper()
	token, err := tokens.Issue("ops@firm.com", "operator")
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestAdminAPI_SyncStatusRequiresBearerToken(t *testing.T) {
	_, _, router := newTestServer(&fakeAdminStore{}, &fakeAdminBus{})

	req := httptest.NewRequest(http.MethodGet, "/admin/sync-status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAPI_SyncStatusReturnsMetadata(t *testing.T) {
	st := &fakeAdminStore{metadata: []*store.SyncMetadata{{Module: module.Leads, Status: store.SyncStatusHealthy}}}
	_, tokens, router := newTestServer(st, &fakeAdminBus{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, tokens, http.MethodGet, "/admin/sync-status", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Leads")
}

func TestAdminAPI_ResolveConflictAttributesBearerIdentityNotClientBody(t *testing.T) {
	st := &fakeAdminStore{}
	_, tokens, router := newTestServer(st, &fakeAdminBus{})

	body := `{"strategy":"last_write_wins","notes":"confirmed with the vendor","resolver":"attacker@example.com"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPost, "/admin/conflicts/conflict-1/resolve", body))

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "conflict-1", st.resolvedID)
	assert.Equal(t, "ops@firm.com", st.resolvedBy, "resolver identity must come from the bearer token, not the request body")
	assert.Equal(t, store.ResolutionLastWriteWins, st.resolvedStrategy)
}

func TestAdminAPI_ResolveConflictRejectsUnknownStrategy(t *testing.T) {
	_, tokens, router := newTestServer(&fakeAdminStore{}, &fakeAdminBus{})

	body := `{"strategy":"flip_a_coin"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPost, "/admin/conflicts/conflict-1/resolve", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminAPI_ReplayDLQReturnsCount(t *testing.T) {
	b := &fakeAdminBus{dlq: []bus.Message{{ID: "m1"}, {ID: "m2"}}}
	_, tokens, router := newTestServer(&fakeAdminStore{}, b)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPost, "/admin/dlq/leads/replay", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"replayed":2`)
}

func TestAdminAPI_PurgeDLQ(t *testing.T) {
	b := &fakeAdminBus{dlq: []bus.Message{{ID: "m1"}}}
	_, tokens, router := newTestServer(&fakeAdminStore{}, b)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPost, "/admin/dlq/leads/purge", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, b.purged)
}

func TestTokenIssuer_RejectsExpiredToken(t *testing.T) {
	tokens := NewTokenIssuer("test-secret-at-least-32-bytes-long", -time.Minute)
	token, err := tokens.Issue("ops@firm.com", "operator")
	require.NoError(t, err)

	_, err = tokens.parse(token)
	assert.Error(t, err)
}
