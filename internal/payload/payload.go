// Package payload exposes the only typed accessors SyncWorker and Poller
// (through syncworker.Applier) pull out of a vendor record's opaque JSON
// document, per spec.md §9's "avoid eager decoding" design note. Everything
// else in the payload stays untouched bytes. ArtifactBuilder reads its
// display fields with its own extractor in internal/artifact/extract.go.
package payload

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

var (
	modifiedTimeQuery = mustParse(".Modified_Time // .modified_time")
	ownerEmailQuery    = mustParse(".Owner.email // .owner_email // .Owner_Email")
	ownerNameQuery     = mustParse(".Owner.name // .owner_name // .Owner_Name")
	tombstoneQuery     = mustParse(".__tombstoned // false")
)

func mustParse(src string) *gojq.Code {
	q, err := gojq.Parse(src)
	if err != nil {
		panic(fmt.Sprintf("payload: invalid builtin query %q: %v", src, err))
	}
	code, err := gojq.Compile(q)
	if err != nil {
		panic(fmt.Sprintf("payload: compile builtin query %q: %v", src, err))
	}
	return code
}

func runFirst(code *gojq.Code, raw json.RawMessage) (any, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("payload: unmarshal: %w", err)
	}
	iter := code.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("payload: query produced no result")
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("payload: query error: %w", err)
	}
	return v, nil
}

// ModifiedTime extracts and parses the vendor's last-modified timestamp.
func ModifiedTime(raw json.RawMessage) (time.Time, error) {
	v, err := runFirst(modifiedTimeQuery, raw)
	if err != nil {
		return time.Time{}, err
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("payload: Modified_Time is not a string")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("payload: parse Modified_Time %q: %w", s, err)
	}
	return t, nil
}

// OwnerEmail extracts the record owner's email address, or "" if absent.
func OwnerEmail(raw json.RawMessage) string {
	v, err := runFirst(ownerEmailQuery, raw)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// OwnerName extracts the record owner's display name, or "" if absent.
func OwnerName(raw json.RawMessage) string {
	v, err := runFirst(ownerNameQuery, raw)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// IsTombstoned reports whether the payload carries the delete-tombstone
// marker SyncWorker sets on vendor delete events (§4.2 step 3).
func IsTombstoned(raw json.RawMessage) bool {
	v, err := runFirst(tombstoneQuery, raw)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

// WithTombstone returns a copy of raw with the tombstone marker set, used
// by SyncWorker on delete events rather than physically deleting the row.
func WithTombstone(raw json.RawMessage) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("payload: unmarshal for tombstone: %w", err)
	}
	doc["__tombstoned"] = true
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return out, nil
}
