// Package vendorclient abstracts the CRM vendor's REST API — explicitly
// out of scope per spec.md §1 ("the CRM vendor's REST API shape" is an
// external collaborator specified only at its interface) — behind a small
// interface the Poller drives.
package vendorclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/romiteld/crm-sync-engine/internal/module"
)

// Record is one raw record as returned by the vendor's list-modified-since
// endpoint: an opaque payload plus the identity fields the core needs to
// route it through the same apply path as a webhook event.
type Record struct {
	ExternalID string
	Payload    json.RawMessage
}

// Client is the Poller's view of the vendor: a cursor-paginated sweep per
// module. Implementations are responsible for their own auth, pagination,
// and rate limits; the core only sees records and a cursor to persist.
type Client interface {
	ListModifiedSince(ctx context.Context, mod module.Kind, cursor time.Time, pageSize int) ([]Record, error)
}
