package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"github.com/romiteld/crm-sync-engine/internal/observability"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

func marshalPartialIntent(partialIntent map[string]string) (json.RawMessage, error) {
	if partialIntent == nil {
		partialIntent = map[string]string{}
	}
	raw, err := json.Marshal(partialIntent)
	if err != nil {
		return nil, fmt.Errorf("conversation: marshal partial intent: %w", err)
	}
	return raw, nil
}

// maxClarificationOptions is K, the presentation cap from §4.7.
const maxClarificationOptions = 5

var hashTokenPattern = regexp.MustCompile(`^#\s*(\d+)$`)

// Clarifier owns ClarificationSession lifecycle: opening a session with a
// bounded option list, and resolving a user's free-text reply against it.
type Clarifier struct {
	store           store.Store
	ttl             time.Duration
	fuzzyThreshold  float64
}

func NewClarifier(st store.Store, ttl time.Duration, fuzzyThreshold float64) *Clarifier {
	return &Clarifier{store: st, ttl: ttl, fuzzyThreshold: fuzzyThreshold}
}

// Open creates a new session, truncating options to the presentation cap.
func (c *Clarifier) Open(ctx context.Context, userID, originalQuery string, ambiguity store.AmbiguityKind, options []string, partialIntent map[string]string) (*store.ClarificationSession, error) {
	if len(options) > maxClarificationOptions {
		options = options[:maxClarificationOptions]
	}
	partialJSON, err := marshalPartialIntent(partialIntent)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &store.ClarificationSession{
		SessionID:     uuid.NewString(),
		UserID:        userID,
		OriginalQuery: originalQuery,
		Ambiguity:     ambiguity,
		Options:       options,
		PartialIntent: partialJSON,
		CreatedAt:     now,
		ExpiresAt:     now.Add(c.ttl),
	}
	if err := c.store.CreateClarificationSession(ctx, session); err != nil {
		return nil, fmt.Errorf("conversation: open clarification session: %w", err)
	}
	observability.ClarificationSessionsOpened.WithLabelValues(string(ambiguity)).Inc()
	return session, nil
}

// Resolve matches a user's reply against the session's options using, in
// priority order, an exact number, a "#n" token, or a free-text fuzzy match
// above the configured similarity threshold (§4.7's three resolution
// mechanisms). ok is false if none matched and the session should stay open.
func (c *Clarifier) Resolve(ctx context.Context, session *store.ClarificationSession, reply string) (option string, ok bool) {
	trimmed := strings.TrimSpace(reply)

	if n, err := strconv.Atoi(trimmed); err == nil {
		if idx := n - 1; idx >= 0 && idx < len(session.Options) {
			return session.Options[idx], true
		}
	}

	if m := hashTokenPattern.FindStringSubmatch(trimmed); m != nil {
		n, _ := strconv.Atoi(m[1])
		if idx := n - 1; idx >= 0 && idx < len(session.Options) {
			return session.Options[idx], true
		}
	}

	best, bestSim := "", 0.0
	for _, opt := range session.Options {
		sim := similarity(trimmed, opt)
		if sim > bestSim {
			best, bestSim = opt, sim
		}
	}
	if bestSim >= c.fuzzyThreshold {
		return best, true
	}
	return "", false
}

// Finish records resolvedOption as the session's resolution text.
func (c *Clarifier) Finish(ctx context.Context, session *store.ClarificationSession, resolvedOption string) error {
	if err := c.store.ResolveClarificationSession(ctx, session.SessionID, resolvedOption); err != nil {
		return fmt.Errorf("conversation: resolve clarification session: %w", err)
	}
	return nil
}

// ReapExpired is the 24-hour maintenance task from §4.7.
func (c *Clarifier) ReapExpired(ctx context.Context) (int64, error) {
	n, err := c.store.ReapExpiredClarificationSessions(ctx, 24*time.Hour)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.ClarificationSessionsExpired.Add(float64(n))
	}
	return n, nil
}

// similarity returns a 0..1 normalized similarity using Levenshtein edit
// distance over the longer string's length.
func similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}
