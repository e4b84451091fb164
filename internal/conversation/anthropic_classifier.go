package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const classifierSystemPrompt = `You classify one CRM-assistant user message into JSON:
{"kind": "find_candidates|digest_status|conflict_status|record_lookup|unknown", "confidence": 0.0-1.0, "entities": {"slot_name": "value"}, "missing_slot": "slot_name or empty"}
Respond with only the JSON object, nothing else.`

// AnthropicClassifier is the pluggable, out-of-core-scope intent backend
// (SPEC_FULL.md §B): the core depends only on the Classifier interface, this
// is one concrete implementation behind it.
type AnthropicClassifier struct {
	client *anthropic.Client
	model  anthropic.Model
}

func NewAnthropicClassifier(apiKey string) *AnthropicClassifier {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClassifier{client: &client, model: anthropic.ModelClaude3_5HaikuLatest}
}

type classifierResponse struct {
	Kind        string            `json:"kind"`
	Confidence  float64           `json:"confidence"`
	Entities    map[string]string `json:"entities"`
	MissingSlot string            `json:"missing_slot"`
}

func (c *AnthropicClassifier) Classify(ctx context.Context, text string, partialIntent map[string]string) (Intent, error) {
	partialJSON, _ := json.Marshal(partialIntent)
	userMsg := fmt.Sprintf("Message: %s\nPartial intent so far: %s", text, string(partialJSON))

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 256,
		System:    []anthropic.TextBlockParam{{Text: classifierSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMsg)),
		},
	})
	if err != nil {
		return Intent{}, fmt.Errorf("conversation: anthropic classify: %w", err)
	}

	var raw string
	for _, block := range resp.Content {
		if block.Type == "text" {
			raw += block.Text
		}
	}
	raw = strings.TrimSpace(raw)

	var parsed classifierResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Intent{}, fmt.Errorf("conversation: parse classifier response %q: %w", raw, err)
	}

	return Intent{
		Kind:              parsed.Kind,
		Confidence:        parsed.Confidence,
		ExtractedEntities: parsed.Entities,
		MissingSlot:       parsed.MissingSlot,
	}, nil
}
