package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordClassifier_MatchesKnownTrigger(t *testing.T) {
	k := NewKeywordClassifier()
	intent, err := k.Classify(context.Background(), "Can you show me candidates in Dallas?", nil)
	require.NoError(t, err)
	assert.Equal(t, "find_candidates", intent.Kind)
}

func TestKeywordClassifier_UnmatchedTextIsLowConfidenceUnknown(t *testing.T) {
	k := NewKeywordClassifier()
	intent, err := k.Classify(context.Background(), "blorp flim flam", nil)
	require.NoError(t, err)
	assert.Equal(t, "unknown", intent.Kind)
	assert.Less(t, intent.Confidence, 0.5)
}

func TestKeywordClassifier_NeverErrors(t *testing.T) {
	k := NewKeywordClassifier()
	_, err := k.Classify(context.Background(), "", map[string]string{})
	assert.NoError(t, err)
}

func TestCompoundIntentKinds_DetectsConjunctiveCompoundQuery(t *testing.T) {
	kinds := compoundIntentKinds("find candidates in Dallas and check my digest status")
	assert.ElementsMatch(t, []string{"find_candidates", "digest_status"}, kinds)
}

func TestCompoundIntentKinds_CoincidentalKeywordsWithoutConjunctionAreNotCompound(t *testing.T) {
	kinds := compoundIntentKinds("tell me about my next digest")
	assert.Nil(t, kinds)
}

func TestCompoundIntentKinds_SingleIntentWithConjunctionIsNotCompound(t *testing.T) {
	kinds := compoundIntentKinds("find candidates in Dallas and Fort Worth")
	assert.Nil(t, kinds)
}
