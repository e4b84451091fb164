package syncworker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/module"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

// fakeStore is a minimal in-memory store.Store covering only what Applier
// exercises; every other method panics if called, the way the teacher's
// scheduler_test.go MockStore only implements the methods its subject uses.
type fakeStore struct {
	store.Store
	records   map[string]*store.MirroredRecord
	conflicts []*store.SyncConflict
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]*store.MirroredRecord{}}
}

func recKey(mod module.Kind, externalID string) string { return string(mod) + ":" + externalID }

func (f *fakeStore) GetMirroredRecord(ctx context.Context, mod module.Kind, externalID string) (*store.MirroredRecord, error) {
	r, ok := f.records[recKey(mod, externalID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) InsertMirroredRecord(ctx context.Context, rec *store.MirroredRecord) error {
	key := recKey(rec.Module, rec.ExternalID)
	if _, exists := f.records[key]; exists {
		return store.ErrOptimisticConflict
	}
	cp := *rec
	cp.SyncVersion = 1
	f.records[key] = &cp
	rec.SyncVersion = 1
	return nil
}

func (f *fakeStore) UpdateMirroredRecord(ctx context.Context, rec *store.MirroredRecord, expectedVersion int64) error {
	key := recKey(rec.Module, rec.ExternalID)
	existing, ok := f.records[key]
	if !ok || existing.SyncVersion != expectedVersion {
		return store.ErrOptimisticConflict
	}
	cp := *rec
	cp.SyncVersion = expectedVersion + 1
	f.records[key] = &cp
	rec.SyncVersion = cp.SyncVersion
	return nil
}

func (f *fakeStore) InsertSyncConflict(ctx context.Context, c *store.SyncConflict) error {
	f.conflicts = append(f.conflicts, c)
	return nil
}

func testLogger() *zap.Logger { return zap.NewNop() }

func TestApplier_CreateOnMissingRecord(t *testing.T) {
	fs := newFakeStore()
	a := NewApplier(fs, testLogger())

	raw := []byte(`{"Modified_Time":"2025-10-20T12:00:00Z","Owner_Email":"a@b.com"}`)
	res, err := a.Apply(context.Background(), module.Leads, "100200300", store.EventCreate, raw)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Nil(t, res.Conflict)

	rec := fs.records[recKey(module.Leads, "100200300")]
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.SyncVersion)
}

func TestApplier_StaleUpdateRecordsConflict(t *testing.T) {
	fs := newFakeStore()
	a := NewApplier(fs, testLogger())
	ctx := context.Background()

	existingModified, _ := time.Parse(time.RFC3339, "2025-10-20T12:00:00Z")
	fs.records[recKey(module.Deals, "900")] = &store.MirroredRecord{
		Module: module.Deals, ExternalID: "900", ModifiedTime: existingModified, SyncVersion: 3,
		Payload: []byte(`{}`),
	}

	raw := []byte(`{"Modified_Time":"2025-10-20T11:59:59Z"}`)
	res, err := a.Apply(ctx, module.Deals, "900", store.EventUpdate, raw)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, store.ConflictStaleUpdate, res.Conflict.Kind)

	rec := fs.records[recKey(module.Deals, "900")]
	assert.Equal(t, int64(3), rec.SyncVersion, "stale update must not mutate the existing record")
}

func TestApplier_NewerUpdateAppliesAndIncrementsVersion(t *testing.T) {
	fs := newFakeStore()
	a := NewApplier(fs, testLogger())
	ctx := context.Background()

	existingModified, _ := time.Parse(time.RFC3339, "2025-10-20T12:00:00Z")
	fs.records[recKey(module.Contacts, "42")] = &store.MirroredRecord{
		Module: module.Contacts, ExternalID: "42", ModifiedTime: existingModified, SyncVersion: 1,
		Payload: []byte(`{}`),
	}

	raw := []byte(`{"Modified_Time":"2025-10-20T13:00:00Z"}`)
	res, err := a.Apply(ctx, module.Contacts, "42", store.EventUpdate, raw)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	rec := fs.records[recKey(module.Contacts, "42")]
	assert.Equal(t, int64(2), rec.SyncVersion)
}

func TestApplier_DeleteTombstonesWithoutPhysicalDelete(t *testing.T) {
	fs := newFakeStore()
	a := NewApplier(fs, testLogger())
	ctx := context.Background()

	fs.records[recKey(module.Leads, "7")] = &store.MirroredRecord{
		Module: module.Leads, ExternalID: "7", SyncVersion: 1, Payload: []byte(`{"Owner_Email":"x@y.com"}`),
	}

	res, err := a.Apply(ctx, module.Leads, "7", store.EventDelete, nil)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	rec := fs.records[recKey(module.Leads, "7")]
	require.NotNil(t, rec, "tombstone must not physically delete the row")
	assert.True(t, rec.Tombstoned)
}

func TestApplier_DeleteOfMissingRecordIsConflict(t *testing.T) {
	fs := newFakeStore()
	a := NewApplier(fs, testLogger())

	res, err := a.Apply(context.Background(), module.Leads, "does-not-exist", store.EventDelete, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, store.ConflictMissingRecord, res.Conflict.Kind)
}

func TestApplier_PoisonedPayloadIsRejected(t *testing.T) {
	fs := newFakeStore()
	a := NewApplier(fs, testLogger())

	_, err := a.Apply(context.Background(), module.Leads, "1", store.EventCreate, []byte(`{"no_modified_time":true}`))
	require.ErrorIs(t, err, ErrPoisonedPayload)
}
