// Package role resolves a user's UserRole for audience gating, caching
// Store lookups in-process per §6's "role map bootstrap" config note.
package role

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/store"
)

// cacheTTL bounds how long a resolved role is trusted before the next
// lookup re-checks Store — long enough to absorb a chat burst, short
// enough that a role_map edit takes effect without a restart.
const cacheTTL = 5 * time.Minute

type cacheEntry struct {
	role    store.Role
	fetched time.Time
}

// Resolver wraps Store.GetUserRole with an in-process cache and
// Store.BootstrapRoleMap for startup seeding from config.
type Resolver struct {
	store store.Store
	log   *zap.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func NewResolver(st store.Store, log *zap.Logger) *Resolver {
	return &Resolver{store: st, log: log, cache: map[string]cacheEntry{}}
}

// Bootstrap seeds Postgres's user_roles table from config-provided entries. Safe to
// call on every startup; BootstrapRoleMap is an upsert.
func (r *Resolver) Bootstrap(ctx context.Context, roles map[string]store.Role) error {
	if len(roles) == 0 {
		return nil
	}
	if err := r.store.BootstrapRoleMap(ctx, roles); err != nil {
		return fmt.Errorf("role: bootstrap role map: %w", err)
	}
	r.mu.Lock()
	for email, role := range roles {
		r.cache[email] = cacheEntry{role: role, fetched: time.Now()}
	}
	r.mu.Unlock()
	return nil
}

// Resolve returns email's role, falling back to store.MostRestrictiveRole
// for any email with no role_map entry (GetUserRole's own contract).
func (r *Resolver) Resolve(ctx context.Context, email string) (store.Role, error) {
	if role, ok := r.cached(email); ok {
		return role, nil
	}

	role, err := r.store.GetUserRole(ctx, email)
	if err != nil {
		return "", fmt.Errorf("role: resolve %q: %w", email, err)
	}

	r.mu.Lock()
	r.cache[email] = cacheEntry{role: role, fetched: time.Now()}
	r.mu.Unlock()
	return role, nil
}

func (r *Resolver) cached(email string) (store.Role, bool) {
	r.mu.RLock()
	entry, ok := r.cache[email]
	r.mu.RUnlock()
	if !ok || time.Since(entry.fetched) > cacheTTL {
		return "", false
	}
	return entry.role, true
}
