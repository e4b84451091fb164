package store

import "errors"

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// ErrOptimisticConflict is returned when a version-guarded UPDATE affects
// zero rows because sync_version (or a subscription's next_delivery claim)
// moved under the caller.
var ErrOptimisticConflict = errors.New("store: optimistic concurrency conflict")

// ErrDuplicateWebhookEvent is returned by InsertWebhookEvent when the
// (module, external_id, fingerprint) unique constraint already holds a row —
// the dedup-hit path, not a failure.
var ErrDuplicateWebhookEvent = errors.New("store: duplicate webhook event")
