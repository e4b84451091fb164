// Package conversation implements ConversationCore (spec.md §4.7): the
// per-user classify/clarify/answer state machine.
package conversation

import "context"

// Intent is the classifier's structured read of one user message.
type Intent struct {
	Kind             string
	Confidence       float64
	ExtractedEntities map[string]string
	MissingSlot      string // name of a required-but-unfilled slot, if any
}

// Classifier is the pluggable, swappable intent-classification backend the
// core treats as a black box (spec.md §1/§4.7).
type Classifier interface {
	Classify(ctx context.Context, text string, partialIntent map[string]string) (Intent, error)
}
