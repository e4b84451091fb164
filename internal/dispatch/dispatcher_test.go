package dispatch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/artifact"
	"github.com/romiteld/crm-sync-engine/internal/idempotency"
	"github.com/romiteld/crm-sync-engine/internal/module"
	"github.com/romiteld/crm-sync-engine/internal/role"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

type fakeDispatchStore struct {
	store.Store
	deliveries map[string]*store.Delivery
	role       store.Role
}

func newFakeDispatchStore() *fakeDispatchStore {
	return &fakeDispatchStore{deliveries: map[string]*store.Delivery{}, role: store.RoleRecruiter}
}

func deliveryKey(subID string, anchor time.Time) string { return subID + ":" + anchor.String() }

func (f *fakeDispatchStore) GetUserRole(ctx context.Context, email string) (store.Role, error) {
	return f.role, nil
}

func (f *fakeDispatchStore) QueryRecords(ctx context.Context, mod module.Kind, q store.RecordQuery) ([]*store.MirroredRecord, error) {
	return nil, nil
}

func (f *fakeDispatchStore) GetDeliveryByAnchor(ctx context.Context, subscriptionID string, anchor time.Time) (*store.Delivery, error) {
	d, ok := f.deliveries[deliveryKey(subscriptionID, anchor)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeDispatchStore) InsertDelivery(ctx context.Context, d *store.Delivery) error {
	f.deliveries[deliveryKey(d.SubscriptionID, d.ScheduledAnchor)] = d
	return nil
}

func (f *fakeDispatchStore) UpdateDeliveryState(ctx context.Context, deliveryID string, state store.DeliveryState, transportMsgID, errMsg string) error {
	for _, d := range f.deliveries {
		if d.DeliveryID == deliveryID {
			d.State = state
			d.TransportMessageID = transportMsgID
			d.Error = errMsg
		}
	}
	return nil
}

type fakeTransport struct {
	name       string
	calls      int
	failTimes  int
	transient  bool
	sentBodies []string
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Send(ctx context.Context, recipient, body string) (string, error) {
	f.calls++
	f.sentBodies = append(f.sentBodies, body)
	if f.calls <= f.failTimes {
		if f.transient {
			return "", &ErrTransientTransportFailure{Cause: context.DeadlineExceeded}
		}
		return "", context.DeadlineExceeded
	}
	return "msg-" + recipient, nil
}

func newTestIdempotency(t *testing.T) *idempotency.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return idempotency.New(client, "test", time.Hour, zap.NewNop())
}

func newTestRoles(st store.Store) *role.Resolver {
	return role.NewResolver(st, zap.NewNop())
}

func newTestLookupSet(t *testing.T) *artifact.LookupSet {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "lookup.json")
	raw, err := json.Marshal(map[string]any{
		"version":                       1,
		"employer_equivalence":          map[string]string{},
		"aum_buckets_usd":               []int64{1_000_000},
		"location_metro":                map[string]string{},
		"internal_annotation_patterns":  []string{},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	ls, err := artifact.NewLookupSet(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { ls.Close() })
	return ls
}

func TestDispatcher_SendsAndMarksDeliverySent(t *testing.T) {
	fs := newFakeDispatchStore()
	builder := artifact.NewBuilder(fs, newTestLookupSet(t), 90*24*time.Hour, zap.NewNop())
	transport := &fakeTransport{name: "webhook"}
	d := New(fs, newTestRoles(fs), builder, newTestIdempotency(t), []Transport{transport}, 3, zap.NewNop())

	sub := &store.Subscription{SubscriptionID: "sub1", UserID: "u1", RecipientAddress: "https://example.com/hook", MaxItems: 5, Cadence: store.CadenceDaily, Timezone: "UTC"}
	anchor := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

	err := d.RunDelivery(context.Background(), sub, anchor)
	require.NoError(t, err)
	assert.Equal(t, 1, transport.calls)

	delivery, err := fs.GetDeliveryByAnchor(context.Background(), "sub1", anchor)
	require.NoError(t, err)
	assert.Equal(t, store.DeliverySent, delivery.State)
}

func TestDispatcher_RetriesTransientFailure(t *testing.T) {
	fs := newFakeDispatchStore()
	builder := artifact.NewBuilder(fs, newTestLookupSet(t), 90*24*time.Hour, zap.NewNop())
	transport := &fakeTransport{name: "webhook", failTimes: 2, transient: true}
	d := New(fs, newTestRoles(fs), builder, newTestIdempotency(t), []Transport{transport}, 3, zap.NewNop())

	sub := &store.Subscription{SubscriptionID: "sub2", UserID: "u1", RecipientAddress: "https://example.com/hook", MaxItems: 5}
	anchor := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

	err := d.RunDelivery(context.Background(), sub, anchor)
	require.NoError(t, err)
	assert.Equal(t, 3, transport.calls, "two failures then a success")
}

func TestDispatcher_IdempotentRedeliveryIsSkipped(t *testing.T) {
	fs := newFakeDispatchStore()
	builder := artifact.NewBuilder(fs, newTestLookupSet(t), 90*24*time.Hour, zap.NewNop())
	transport := &fakeTransport{name: "webhook"}
	idem := newTestIdempotency(t)
	d := New(fs, newTestRoles(fs), builder, idem, []Transport{transport}, 3, zap.NewNop())

	sub := &store.Subscription{SubscriptionID: "sub3", UserID: "u1", RecipientAddress: "https://example.com/hook", MaxItems: 5}
	anchor := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

	require.NoError(t, d.RunDelivery(context.Background(), sub, anchor))
	require.NoError(t, d.RunDelivery(context.Background(), sub, anchor))

	assert.Equal(t, 1, transport.calls, "second delivery for the same anchor must not re-send")
}
