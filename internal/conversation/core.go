package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/observability"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

// State is one user's position in the §4.7 state machine.
type State string

const (
	StateIdle        State = "idle"
	StateClassifying State = "classifying"
	StateClarifying  State = "clarifying"
	StateAnswering   State = "answering"
)

const fallbackReply = "Sorry, I couldn't process that right now — please try rephrasing or try again shortly."

// Answerer renders a final response for a resolved intent; implemented by
// the wiring layer so Core has no direct Store-query dependency of its own
// beyond ClarificationSession/ConversationMemory.
type Answerer interface {
	Answer(ctx context.Context, userID string, intent Intent) (string, error)
}

// userSession tracks one user's in-flight clarification, kept in-process
// since ConversationCore's state machine lives for the duration of one
// process (a restart simply starts the user back at idle — the durable
// ClarificationSession row still exists for audit/reaping, just without
// fast lookup-by-user across a restart).
type userSession struct {
	state         State
	session       *store.ClarificationSession
	partialIntent map[string]string
}

// Core drives the idle -> classifying -> (clarifying <-> classifying) ->
// answering -> idle state machine for every user.
type Core struct {
	classifier        Classifier
	fallback          Classifier
	clarifier         *Clarifier
	memory            *Memory
	answerer          Answerer
	confidenceThresh  float64
	log               *zap.Logger

	mu       sync.Mutex
	sessions map[string]*userSession
}

func NewCore(classifier, fallback Classifier, clarifier *Clarifier, memory *Memory, answerer Answerer, confidenceThreshold float64, log *zap.Logger) *Core {
	return &Core{
		classifier:       classifier,
		fallback:         fallback,
		clarifier:        clarifier,
		memory:           memory,
		answerer:         answerer,
		confidenceThresh: confidenceThreshold,
		log:              log,
		sessions:         map[string]*userSession{},
	}
}

// HandleMessage processes one inbound user message end to end, returning
// the reply text.
func (c *Core) HandleMessage(ctx context.Context, userID, text string) (string, error) {
	if err := c.memory.Append(ctx, &store.ConversationTurn{
		UserID: userID, Role: store.RoleUser, Text: text, CreatedAt: time.Now(),
	}); err != nil {
		c.log.Warn("append user turn failed", zap.Error(err))
	}

	reply, err := c.step(ctx, userID, text)
	if err != nil {
		c.log.Error("conversation step failed, falling back", zap.String("user_id", userID), zap.Error(err))
		reply = fallbackReply
	}

	if appendErr := c.memory.Append(ctx, &store.ConversationTurn{
		UserID: userID, Role: store.RoleAssistant, Text: reply, CreatedAt: time.Now(),
	}); appendErr != nil {
		c.log.Warn("append assistant turn failed", zap.Error(appendErr))
	}
	return reply, nil
}

func (c *Core) step(ctx context.Context, userID, text string) (string, error) {
	us := c.sessionFor(userID)

	if us.state == StateClarifying && us.session != nil {
		if time.Now().After(us.session.ExpiresAt) {
			c.resetSession(userID)
			us = c.sessionFor(userID)
			us.state = StateClassifying
			return c.classifyAndRespond(ctx, userID, text, us)
		}
		if resolved, ok := c.clarifier.Resolve(ctx, us.session, text); ok {
			if err := c.clarifier.Finish(ctx, us.session, resolved); err != nil {
				c.log.Warn("finish clarification session failed", zap.Error(err))
			}
			us.partialIntent[slotNameForAmbiguity(us.session.Ambiguity)] = resolved
			us.state = StateClassifying
			us.session = nil
			return c.classifyAndRespond(ctx, userID, text, us)
		}
		// No match: stay in clarifying, re-present the same options.
		return presentOptions(us.session), nil
	}

	us.state = StateClassifying
	return c.classifyAndRespond(ctx, userID, text, us)
}

func (c *Core) classifyAndRespond(ctx context.Context, userID, text string, us *userSession) (string, error) {
	if kinds := compoundIntentKinds(text); len(kinds) > 0 {
		return c.openClarification(ctx, userID, text, store.AmbiguityMultipleIntents, kinds, us)
	}

	intent, err := c.classifier.Classify(ctx, text, us.partialIntent)
	if err != nil {
		c.log.Warn("primary classifier failed, falling back to keyword heuristic", zap.Error(err))
		intent, err = c.fallback.Classify(ctx, text, us.partialIntent)
		if err != nil {
			c.resetSession(userID)
			return "", fmt.Errorf("conversation: keyword fallback also failed: %w", err)
		}
	}
	observability.IntentClassifications.WithLabelValues(intent.Kind).Inc()
	observability.IntentConfidence.Observe(intent.Confidence)

	if intent.Confidence >= c.confidenceThresh && intent.MissingSlot == "" {
		us.state = StateAnswering
		reply, err := c.answerer.Answer(ctx, userID, intent)
		if err != nil {
			var ambiguous *AmbiguousCandidatesError
			if errors.As(err, &ambiguous) {
				return c.openClarification(ctx, userID, text, store.AmbiguityMultipleMatches, ambiguous.Options, us)
			}
			c.resetSession(userID)
			return "", fmt.Errorf("conversation: answer: %w", err)
		}
		c.resetSession(userID)
		return reply, nil
	}

	ambiguity, options := classifyAmbiguity(intent)
	return c.openClarification(ctx, userID, text, ambiguity, options, us)
}

func (c *Core) openClarification(ctx context.Context, userID, text string, ambiguity store.AmbiguityKind, options []string, us *userSession) (string, error) {
	session, err := c.clarifier.Open(ctx, userID, text, ambiguity, options, us.partialIntent)
	if err != nil {
		return "", fmt.Errorf("conversation: open clarification: %w", err)
	}
	us.state = StateClarifying
	us.session = session
	return presentOptions(session), nil
}

func (c *Core) sessionFor(userID string) *userSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	us, ok := c.sessions[userID]
	if !ok {
		us = &userSession{state: StateIdle, partialIntent: map[string]string{}}
		c.sessions[userID] = us
	}
	return us
}

func (c *Core) resetSession(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[userID] = &userSession{state: StateIdle, partialIntent: map[string]string{}}
}

// classifyAmbiguity picks one of the six ambiguity kinds for a
// classifying -> clarifying transition and builds its option list.
func classifyAmbiguity(intent Intent) (store.AmbiguityKind, []string) {
	if intent.MissingSlot == "timeframe" {
		return store.AmbiguityMissingTimeframe, []string{"today", "this week", "this month", "this quarter"}
	}
	if intent.MissingSlot != "" {
		return store.AmbiguityMissingEntity, []string{"leads", "deals", "contacts", "accounts"}
	}
	if intent.Kind == "unknown" {
		return store.AmbiguityVagueSearch, []string{"find candidates", "check digest status", "review conflicts", "look up a record"}
	}
	return store.AmbiguityAmbiguousQuery, []string{"yes", "no"}
}

// slotNameForAmbiguity maps an ambiguity kind back to the partial-intent
// slot its resolution fills, the inverse of classifyAmbiguity's dispatch.
func slotNameForAmbiguity(ambiguity store.AmbiguityKind) string {
	switch ambiguity {
	case store.AmbiguityMissingTimeframe:
		return "timeframe"
	case store.AmbiguityMissingEntity:
		return "entity"
	default:
		return "clarification"
	}
}

func presentOptions(session *store.ClarificationSession) string {
	raw, _ := json.Marshal(session.Options)
	return fmt.Sprintf("I need a bit more information. Did you mean one of: %s? Reply with the number or text.", string(raw))
}
