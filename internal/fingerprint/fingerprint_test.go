package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_KeyOrderInvariant(t *testing.T) {
	a, err := Compute([]byte(`{"b":2,"a":1,"nested":{"y":2,"x":1}}`))
	require.NoError(t, err)

	b, err := Compute([]byte(`{"a":1,"nested":{"x":1,"y":2},"b":2}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestCompute_DifferentPayloadsDiffer(t *testing.T) {
	a, err := Compute([]byte(`{"a":1}`))
	require.NoError(t, err)
	b, err := Compute([]byte(`{"a":2}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCompute_ArraysPreserveOrder(t *testing.T) {
	a, err := Compute([]byte(`{"list":[1,2,3]}`))
	require.NoError(t, err)
	b, err := Compute([]byte(`{"list":[3,2,1]}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCompute_Deterministic(t *testing.T) {
	raw := []byte(`{"z":1,"a":{"d":4,"c":3}}`)
	a, err := Compute(raw)
	require.NoError(t, err)
	b, err := Compute(raw)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
