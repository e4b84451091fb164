package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/romiteld/crm-sync-engine/internal/module"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

// recordQueryLimit bounds how many rows a single chat answer inspects —
// this is a live lookup, not a digest, so it stays small.
const recordQueryLimit = 5

// AmbiguousCandidatesError signals that a find_candidates query matched
// more than recordQueryLimit equally-relevant records with no location
// filter to narrow them down. Core catches this and opens a
// multiple_matches clarification instead of silently truncating to an
// arbitrary five.
type AmbiguousCandidatesError struct {
	Options []string
}

func (e *AmbiguousCandidatesError) Error() string {
	return "conversation: ambiguous candidate match, too many results to narrow automatically"
}

// StoreAnswerer renders ConversationCore's final replies by querying Store
// directly, one branch per intent.Kind the classifiers recognize.
type StoreAnswerer struct {
	store store.Store
}

func NewStoreAnswerer(st store.Store) *StoreAnswerer {
	return &StoreAnswerer{store: st}
}

func (a *StoreAnswerer) Answer(ctx context.Context, userID string, intent Intent) (string, error) {
	switch intent.Kind {
	case "find_candidates":
		return a.answerFindCandidates(ctx, intent)
	case "digest_status":
		return a.answerDigestStatus(ctx, userID)
	case "conflict_status":
		return a.answerConflictStatus(ctx)
	case "record_lookup":
		return a.answerRecordLookup(ctx, intent)
	default:
		return "I'm not able to help with that yet — try asking about candidates, your digest, or sync conflicts.", nil
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

type recordFields struct {
	Employer string `json:"employer"`
	Location string `json:"location"`
}

func (a *StoreAnswerer) answerFindCandidates(ctx context.Context, intent Intent) (string, error) {
	loc := intent.ExtractedEntities["location"]
	// Fetch one past the limit so an unfiltered query that overflows it can
	// be told apart from one that happens to land on exactly the limit.
	q := store.RecordQuery{Limit: recordQueryLimit + 1}
	if loc != "" {
		q.Locations = []string{loc}
	}

	var lines []string
	var names []string
	for _, mod := range []module.Kind{module.Leads, module.Deals} {
		recs, err := a.store.QueryRecords(ctx, mod, q)
		if err != nil {
			return "", fmt.Errorf("conversation: query %s records: %w", mod, err)
		}
		for _, rec := range recs {
			if rec.Tombstoned {
				continue
			}
			var f recordFields
			_ = json.Unmarshal(rec.Payload, &f)
			lines = append(lines, fmt.Sprintf("- %s (%s, %s)", rec.OwnerName, f.Employer, f.Location))
			names = append(names, rec.OwnerName)
		}
	}

	if loc == "" && len(lines) > recordQueryLimit {
		return "", &AmbiguousCandidatesError{Options: names[:recordQueryLimit]}
	}
	if len(lines) > recordQueryLimit {
		lines = lines[:recordQueryLimit]
	}
	if len(lines) == 0 {
		return "I didn't find any matching candidates for that search.", nil
	}
	return "Here's what I found:\n" + strings.Join(lines, "\n"), nil
}

func (a *StoreAnswerer) answerDigestStatus(ctx context.Context, userID string) (string, error) {
	subs, err := a.store.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("conversation: list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return "You don't have any digest subscriptions set up yet.", nil
	}

	var lines []string
	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		next := "not yet scheduled"
		if sub.NextDelivery != nil {
			next = sub.NextDelivery.Format("Mon Jan 2 15:04 MST")
		}
		lines = append(lines, fmt.Sprintf("- %s digest (%s): next delivery %s", sub.Cadence, sub.AudienceTag, next))
	}
	if len(lines) == 0 {
		return "You don't have any active digest subscriptions right now.", nil
	}
	return strings.Join(lines, "\n"), nil
}

func (a *StoreAnswerer) answerConflictStatus(ctx context.Context) (string, error) {
	all, err := a.store.ListAllSyncMetadata(ctx)
	if err != nil {
		return "", fmt.Errorf("conversation: list sync metadata: %w", err)
	}

	var lines []string
	for _, m := range all {
		if m.Status == store.SyncStatusHealthy && m.ConflictsDetected24h == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s, %d conflicts in the last 24h", m.Module, m.Status, m.ConflictsDetected24h))
	}
	if len(lines) == 0 {
		return "All modules are syncing cleanly with no conflicts in the last 24 hours.", nil
	}
	return "Here's what needs attention:\n" + strings.Join(lines, "\n"), nil
}

func (a *StoreAnswerer) answerRecordLookup(ctx context.Context, intent Intent) (string, error) {
	modName := intent.ExtractedEntities["module"]
	externalID := intent.ExtractedEntities["external_id"]
	if modName == "" || externalID == "" {
		return "Tell me which record you mean — I need a module (leads, deals, contacts, accounts) and an ID.", nil
	}

	mod, err := module.Parse(capitalize(strings.ToLower(modName)))
	if err != nil {
		return "I don't recognize that module — try leads, deals, contacts, or accounts.", nil
	}

	rec, err := a.store.GetMirroredRecord(ctx, mod, externalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "I couldn't find a record with that ID.", nil
		}
		return "", fmt.Errorf("conversation: get mirrored record: %w", err)
	}
	if rec.Tombstoned {
		return "That record has been deleted upstream.", nil
	}

	var f recordFields
	_ = json.Unmarshal(rec.Payload, &f)
	return fmt.Sprintf("%s — %s, %s. Last synced %s.", rec.OwnerName, f.Employer, f.Location, rec.LastSynced.Format("Jan 2 15:04 MST")), nil
}
