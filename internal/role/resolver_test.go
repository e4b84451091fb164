package role

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/store"
)

type fakeRoleStore struct {
	store.Store
	roles     map[string]store.Role
	lookups   int
	bootstrap map[string]store.Role
}

func (f *fakeRoleStore) GetUserRole(ctx context.Context, email string) (store.Role, error) {
	f.lookups++
	if r, ok := f.roles[email]; ok {
		return r, nil
	}
	return store.MostRestrictiveRole, nil
}

func (f *fakeRoleStore) BootstrapRoleMap(ctx context.Context, roles map[string]store.Role) error {
	f.bootstrap = roles
	return nil
}

func TestResolver_CachesAfterFirstLookup(t *testing.T) {
	fs := &fakeRoleStore{roles: map[string]store.Role{"exec@firm.com": store.RoleExecutive}}
	r := NewResolver(fs, zap.NewNop())

	role1, err := r.Resolve(context.Background(), "exec@firm.com")
	require.NoError(t, err)
	assert.Equal(t, store.RoleExecutive, role1)

	role2, err := r.Resolve(context.Background(), "exec@firm.com")
	require.NoError(t, err)
	assert.Equal(t, store.RoleExecutive, role2)
	assert.Equal(t, 1, fs.lookups, "second resolve should be served from cache")
}

func TestResolver_UnknownEmailFallsBackToMostRestrictive(t *testing.T) {
	fs := &fakeRoleStore{roles: map[string]store.Role{}}
	r := NewResolver(fs, zap.NewNop())

	role, err := r.Resolve(context.Background(), "nobody@firm.com")
	require.NoError(t, err)
	assert.Equal(t, store.MostRestrictiveRole, role)
}

func TestResolver_BootstrapSeedsCache(t *testing.T) {
	fs := &fakeRoleStore{roles: map[string]store.Role{}}
	r := NewResolver(fs, zap.NewNop())

	require.NoError(t, r.Bootstrap(context.Background(), map[string]store.Role{"admin@firm.com": store.RoleAdmin}))
	assert.Equal(t, store.RoleAdmin, fs.bootstrap["admin@firm.com"])

	role, err := r.Resolve(context.Background(), "admin@firm.com")
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, role)
	assert.Equal(t, 0, fs.lookups, "bootstrap should have pre-warmed the cache")
}
