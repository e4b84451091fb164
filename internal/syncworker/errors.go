package syncworker

import "errors"

// ErrPoisonedPayload is returned when a message's WebhookEvent cannot be
// structurally validated (missing external id, unparseable Modified_Time)
// — an immediate DLQ condition, never blindly retried (spec.md §7).
var ErrPoisonedPayload = errors.New("syncworker: poisoned payload")

// ErrAlreadyProcessed names the dedup-after-delivery case from §4.2 step 1.
// Nothing in this package returns it: Pool recognizes an event that is
// already claimed or finished by ClaimWebhookEvent's
// store.ErrOptimisticConflict and acks the message.
var ErrAlreadyProcessed = errors.New("syncworker: event already processed")
