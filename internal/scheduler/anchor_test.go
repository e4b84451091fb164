package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romiteld/crm-sync-engine/internal/store"
)

func TestNextAnchor_Daily(t *testing.T) {
	from := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC) // Tuesday
	next, err := NextAnchor(store.CadenceDaily, "UTC", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), next)
}

func TestNextAnchor_Weekly(t *testing.T) {
	// Wednesday 2026-03-11 -> next Monday is 2026-03-16.
	from := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	next, err := NextAnchor(store.CadenceWeekly, "UTC", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC), next)
}

func TestNextAnchor_WeeklyFromMonday(t *testing.T) {
	// "next Monday" always means the upcoming week, never today even if
	// today already is Monday.
	monday := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	next, err := NextAnchor(store.CadenceWeekly, "UTC", monday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC), next)
}

func TestNextAnchor_Biweekly(t *testing.T) {
	from := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	next, err := NextAnchor(store.CadenceBiweekly, "UTC", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 30, 9, 0, 0, 0, time.UTC), next)
}

func TestNextAnchor_Monthly(t *testing.T) {
	from := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	next, err := NextAnchor(store.CadenceMonthly, "UTC", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC), next)
}

func TestNextAnchor_MonthlyYearRollover(t *testing.T) {
	from := time.Date(2026, 12, 15, 8, 0, 0, 0, time.UTC)
	next, err := NextAnchor(store.CadenceMonthly, "UTC", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 1, 1, 9, 0, 0, 0, time.UTC), next)
}

func TestNextAnchor_RespectsTimezone(t *testing.T) {
	from := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	next, err := NextAnchor(store.CadenceDaily, "America/New_York", from)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", next.Location().String())
	assert.Equal(t, 9, next.Hour())
}

func TestNextAnchor_UnknownCadence(t *testing.T) {
	_, err := NextAnchor(store.Cadence("hourly"), "UTC", time.Now())
	assert.Error(t, err)
}

func TestNextAnchor_UnknownTimezone(t *testing.T) {
	_, err := NextAnchor(store.CadenceDaily, "Mars/Olympus_Mons", time.Now())
	assert.Error(t, err)
}
