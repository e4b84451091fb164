package conversation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romiteld/crm-sync-engine/internal/module"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

type fakeAnswerStore struct {
	store.Store
	records       map[module.Kind][]*store.MirroredRecord
	subscriptions []*store.Subscription
	syncMetadata  []*store.SyncMetadata
}

func (f *fakeAnswerStore) QueryRecords(ctx context.Context, mod module.Kind, q store.RecordQuery) ([]*store.MirroredRecord, error) {
	return f.records[mod], nil
}

func (f *fakeAnswerStore) ListSubscriptionsByUser(ctx context.Context, userID string) ([]*store.Subscription, error) {
	return f.subscriptions, nil
}

func (f *fakeAnswerStore) ListAllSyncMetadata(ctx context.Context) ([]*store.SyncMetadata, error) {
	return f.syncMetadata, nil
}

func (f *fakeAnswerStore) GetMirroredRecord(ctx context.Context, mod module.Kind, externalID string) (*store.MirroredRecord, error) {
	for _, r := range f.records[mod] {
		if r.ExternalID == externalID {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func TestStoreAnswerer_FindCandidatesRendersMatches(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"employer": "Acme Wealth", "location": "Dallas, TX"})
	fs := &fakeAnswerStore{records: map[module.Kind][]*store.MirroredRecord{
		module.Leads: {{ExternalID: "1", OwnerName: "Jane Doe", Payload: payload}},
	}}
	a := NewStoreAnswerer(fs)

	reply, err := a.Answer(context.Background(), "u1", Intent{Kind: "find_candidates", ExtractedEntities: map[string]string{"location": "Dallas"}})
	require.NoError(t, err)
	assert.Contains(t, reply, "Jane Doe")
	assert.Contains(t, reply, "Acme Wealth")
}

func TestStoreAnswerer_FindCandidatesTooManyUnfilteredMatchesIsAmbiguous(t *testing.T) {
	var recs []*store.MirroredRecord
	for i := 0; i < recordQueryLimit+1; i++ {
		payload, _ := json.Marshal(map[string]string{"employer": "Acme Wealth", "location": "Dallas, TX"})
		recs = append(recs, &store.MirroredRecord{ExternalID: string(rune('a' + i)), OwnerName: "Candidate", Payload: payload})
	}
	fs := &fakeAnswerStore{records: map[module.Kind][]*store.MirroredRecord{module.Leads: recs}}
	a := NewStoreAnswerer(fs)

	_, err := a.Answer(context.Background(), "u1", Intent{Kind: "find_candidates"})
	require.Error(t, err)
	var ambiguous *AmbiguousCandidatesError
	require.ErrorAs(t, err, &ambiguous)
	assert.Len(t, ambiguous.Options, recordQueryLimit)
}

func TestStoreAnswerer_FindCandidatesTooManyMatchesButLocationFilteredIsNotAmbiguous(t *testing.T) {
	var recs []*store.MirroredRecord
	for i := 0; i < recordQueryLimit+1; i++ {
		payload, _ := json.Marshal(map[string]string{"employer": "Acme Wealth", "location": "Dallas, TX"})
		recs = append(recs, &store.MirroredRecord{ExternalID: string(rune('a' + i)), OwnerName: "Candidate", Payload: payload})
	}
	fs := &fakeAnswerStore{records: map[module.Kind][]*store.MirroredRecord{module.Leads: recs}}
	a := NewStoreAnswerer(fs)

	reply, err := a.Answer(context.Background(), "u1", Intent{Kind: "find_candidates", ExtractedEntities: map[string]string{"location": "Dallas"}})
	require.NoError(t, err)
	assert.Contains(t, reply, "Candidate")
}

func TestStoreAnswerer_FindCandidatesNoMatches(t *testing.T) {
	fs := &fakeAnswerStore{records: map[module.Kind][]*store.MirroredRecord{}}
	a := NewStoreAnswerer(fs)

	reply, err := a.Answer(context.Background(), "u1", Intent{Kind: "find_candidates"})
	require.NoError(t, err)
	assert.Contains(t, reply, "didn't find")
}

func TestStoreAnswerer_DigestStatusReportsNextDelivery(t *testing.T) {
	next := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	fs := &fakeAnswerStore{subscriptions: []*store.Subscription{
		{SubscriptionID: "s1", Active: true, Cadence: store.CadenceWeekly, AudienceTag: "recruiter-digest", NextDelivery: &next},
	}}
	a := NewStoreAnswerer(fs)

	reply, err := a.Answer(context.Background(), "u1", Intent{Kind: "digest_status"})
	require.NoError(t, err)
	assert.Contains(t, reply, "weekly")
}

func TestStoreAnswerer_DigestStatusNoSubscriptions(t *testing.T) {
	fs := &fakeAnswerStore{}
	a := NewStoreAnswerer(fs)

	reply, err := a.Answer(context.Background(), "u1", Intent{Kind: "digest_status"})
	require.NoError(t, err)
	assert.Contains(t, reply, "don't have any digest")
}

func TestStoreAnswerer_ConflictStatusAllHealthy(t *testing.T) {
	fs := &fakeAnswerStore{syncMetadata: []*store.SyncMetadata{
		{Module: module.Leads, Status: store.SyncStatusHealthy},
	}}
	a := NewStoreAnswerer(fs)

	reply, err := a.Answer(context.Background(), "u1", Intent{Kind: "conflict_status"})
	require.NoError(t, err)
	assert.Contains(t, reply, "syncing cleanly")
}

func TestStoreAnswerer_ConflictStatusFlagsDegraded(t *testing.T) {
	fs := &fakeAnswerStore{syncMetadata: []*store.SyncMetadata{
		{Module: module.Deals, Status: store.SyncStatusDegraded, ConflictsDetected24h: 3},
	}}
	a := NewStoreAnswerer(fs)

	reply, err := a.Answer(context.Background(), "u1", Intent{Kind: "conflict_status"})
	require.NoError(t, err)
	assert.Contains(t, reply, "Deals")
	assert.Contains(t, reply, "3 conflicts")
}

func TestStoreAnswerer_RecordLookupFound(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"employer": "Acme Wealth", "location": "Dallas, TX"})
	fs := &fakeAnswerStore{records: map[module.Kind][]*store.MirroredRecord{
		module.Deals: {{ExternalID: "42", OwnerName: "Jane Doe", Payload: payload, LastSynced: time.Now()}},
	}}
	a := NewStoreAnswerer(fs)

	reply, err := a.Answer(context.Background(), "u1", Intent{Kind: "record_lookup", ExtractedEntities: map[string]string{"module": "deals", "external_id": "42"}})
	require.NoError(t, err)
	assert.Contains(t, reply, "Jane Doe")
}

func TestStoreAnswerer_RecordLookupMissingSlots(t *testing.T) {
	fs := &fakeAnswerStore{}
	a := NewStoreAnswerer(fs)

	reply, err := a.Answer(context.Background(), "u1", Intent{Kind: "record_lookup"})
	require.NoError(t, err)
	assert.Contains(t, reply, "Tell me which record")
}

func TestStoreAnswerer_UnknownIntentFallsBackGracefully(t *testing.T) {
	fs := &fakeAnswerStore{}
	a := NewStoreAnswerer(fs)

	reply, err := a.Answer(context.Background(), "u1", Intent{Kind: "unknown"})
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
}
