package conversation

import (
	"context"
	"strings"
)

// keywordRule maps a set of trigger words to an intent kind and the slot it
// requires, in priority order.
type keywordRule struct {
	kind         string
	triggers     []string
	requiresSlot string
	slotKeywords []string
}

var keywordRules = []keywordRule{
	{kind: "find_candidates", triggers: []string{"find", "search", "looking for", "show me"}, requiresSlot: "location", slotKeywords: []string{"in", "near", "located"}},
	{kind: "digest_status", triggers: []string{"digest", "subscription", "when is my next"}},
	{kind: "conflict_status", triggers: []string{"conflict", "sync error", "sync issue"}},
	{kind: "record_lookup", triggers: []string{"who is", "tell me about", "details on"}},
}

// KeywordClassifier is the always-available fallback required by §4.7/§7
// when the pluggable classifier backend fails. It never returns an error:
// an unmatched message degrades to low-confidence "unknown" rather than a
// failure, so ConversationCore's classifying state always has somewhere to
// go.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier { return &KeywordClassifier{} }

func (k *KeywordClassifier) Classify(ctx context.Context, text string, partialIntent map[string]string) (Intent, error) {
	lower := strings.ToLower(text)

	for _, rule := range keywordRules {
		for _, trigger := range rule.triggers {
			if !strings.Contains(lower, trigger) {
				continue
			}
			intent := Intent{Kind: rule.kind, Confidence: 0.8, ExtractedEntities: map[string]string{}}
			if rule.requiresSlot != "" && !hasSlotValue(lower, rule.slotKeywords) && partialIntent[rule.requiresSlot] == "" {
				intent.MissingSlot = rule.requiresSlot
				intent.Confidence = 0.4
			}
			return intent, nil
		}
	}

	return Intent{Kind: "unknown", Confidence: 0.1, ExtractedEntities: map[string]string{}}, nil
}

func hasSlotValue(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw+" ") {
			return true
		}
	}
	return false
}

// compoundMarkers are the conjunctive words that turn two coincidentally
// matched intent keywords into a genuine compound query.
var compoundMarkers = []string{" and ", " also ", " then "}

// compoundIntentKinds returns every distinct keywordRule kind whose trigger
// appears in text, but only when text also contains a conjunctive marker —
// "tell me about my next digest" matches two rules' words by coincidence
// and isn't compound, but "find candidates in Boston and check my digest"
// is asking for two separate things in one message.
func compoundIntentKinds(text string) []string {
	lower := strings.ToLower(text)

	hasMarker := false
	for _, marker := range compoundMarkers {
		if strings.Contains(lower, marker) {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		return nil
	}

	seen := map[string]bool{}
	var kinds []string
	for _, rule := range keywordRules {
		for _, trigger := range rule.triggers {
			if strings.Contains(lower, trigger) {
				if !seen[rule.kind] {
					seen[rule.kind] = true
					kinds = append(kinds, rule.kind)
				}
				break
			}
		}
	}
	if len(kinds) < 2 {
		return nil
	}
	return kinds
}
