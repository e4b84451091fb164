package artifact

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/module"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

type fakeQueryStore struct {
	store.Store
	records map[module.Kind][]*store.MirroredRecord
}

func (f *fakeQueryStore) QueryRecords(ctx context.Context, mod module.Kind, q store.RecordQuery) ([]*store.MirroredRecord, error) {
	return f.records[mod], nil
}

func newTestLookupSet(t *testing.T) *LookupSet {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "lookup.json")
	doc := lookupFile{
		Version:             1,
		EmployerEquivalence: map[string]string{"Acme Wealth Partners LLC": "National Bank"},
		AUMBucketsUSD:       []int64{1_000_000, 10_000_000, 100_000_000},
		LocationMetro:       map[string]string{"Manhattan, NY": "NYC Metro"},
		InternalPatterns:    []string{`(?i)internal only`},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	ls, err := NewLookupSet(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { ls.Close() })
	return ls
}

func TestBuilder_PrivilegedAudienceEmptyForNonPrivilegedRole(t *testing.T) {
	fs := &fakeQueryStore{records: map[module.Kind][]*store.MirroredRecord{
		module.Leads: {{ExternalID: "1", Payload: []byte(`{"Employer":"Acme","AUM":5000000}`)}},
	}}
	b := NewBuilder(fs, newTestLookupSet(t), 90*24*time.Hour, zap.NewNop())

	sub := &store.Subscription{SubscriptionID: "s1", AudienceTag: "executive-digest", MaxItems: 10}
	art, err := b.Build(context.Background(), sub, time.Now(), store.RoleRecruiter)
	require.NoError(t, err)
	assert.Empty(t, art.Items)
}

func TestBuilder_AnonymizesAndTruncates(t *testing.T) {
	fs := &fakeQueryStore{records: map[module.Kind][]*store.MirroredRecord{
		module.Leads: {
			{ExternalID: "1", Payload: []byte(`{"Employer":"Acme Wealth Partners LLC","Location":"Manhattan, NY","AUM":5000000,"Growth_Rate_Pct":12}`)},
			{ExternalID: "2", Payload: []byte(`{"Employer":"Beta Capital","Location":"Chicago, IL","AUM":2000000,"Growth_Rate_Pct":3}`)},
		},
	}}
	b := NewBuilder(fs, newTestLookupSet(t), 90*24*time.Hour, zap.NewNop())

	sub := &store.Subscription{SubscriptionID: "s1", AudienceTag: "recruiter-digest", MaxItems: 1}
	art, err := b.Build(context.Background(), sub, time.Now(), store.RoleRecruiter)
	require.NoError(t, err)
	require.Len(t, art.Items, 1, "truncated to MaxItems")
	assert.Equal(t, "National Bank", art.Items[0].Employer, "employer mapped through equivalence table")
	assert.Equal(t, "NYC Metro", art.Items[0].Location, "location mapped through metro table")
}

func TestBuilder_DropsInternalAnnotations(t *testing.T) {
	fs := &fakeQueryStore{records: map[module.Kind][]*store.MirroredRecord{
		module.Leads: {
			{ExternalID: "1", Payload: []byte(`{"Employer":"Acme","Achievements":["Internal only: do not forward","Certified CFP 2024"]}`)},
		},
	}}
	b := NewBuilder(fs, newTestLookupSet(t), 90*24*time.Hour, zap.NewNop())

	sub := &store.Subscription{SubscriptionID: "s1", AudienceTag: "recruiter-digest", MaxItems: 5}
	art, err := b.Build(context.Background(), sub, time.Now(), store.RoleRecruiter)
	require.NoError(t, err)
	require.Len(t, art.Items, 1)
	assert.Equal(t, []string{"Certified CFP 2024"}, art.Items[0].Achievements)
}
