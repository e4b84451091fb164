package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, "crmsync", 10*time.Minute)
}

func TestCache_FirstSeenClaims(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	seen, err := c.Seen(ctx, "Leads:100200300:abc123")
	require.NoError(t, err)
	require.False(t, seen, "first probe should claim the fingerprint, not report it seen")
}

func TestCache_SecondProbeIsDedupHit(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.Seen(ctx, "Leads:100200300:abc123")
	require.NoError(t, err)

	seen, err := c.Seen(ctx, "Leads:100200300:abc123")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestCache_ReleaseAllowsReclaim(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.Seen(ctx, "Leads:1:fp")
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, "Leads:1:fp"))

	seen, err := c.Seen(ctx, "Leads:1:fp")
	require.NoError(t, err)
	require.False(t, seen)
}
