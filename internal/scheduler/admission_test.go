package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdmissionGate_AdmitsUnderThreshold(t *testing.T) {
	g := NewAdmissionGate(0.9, time.Minute)
	assert.True(t, g.ShouldAdmit(0.2))
	assert.Equal(t, "closed", g.State())
}

func TestAdmissionGate_TripsOverThreshold(t *testing.T) {
	g := NewAdmissionGate(0.9, time.Minute)
	assert.False(t, g.ShouldAdmit(0.95))
	assert.Equal(t, "open", g.State())
	assert.False(t, g.ShouldAdmit(0.1), "stays open until the cooldown elapses")
}

func TestAdmissionGate_HalfOpensAfterCooldownAndRecloses(t *testing.T) {
	g := NewAdmissionGate(0.9, time.Millisecond)
	require := assert.New(t)
	require.False(g.ShouldAdmit(0.95))

	time.Sleep(5 * time.Millisecond)

	for i := 0; i < 5; i++ {
		require.True(g.ShouldAdmit(0.1), "test traffic admitted during half-open")
	}
	require.Equal("half_open", g.State())

	require.True(g.ShouldAdmit(0.1), "low saturation after test window closes the circuit")
	require.Equal("closed", g.State())
}
