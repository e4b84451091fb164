package artifact

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/romiteld/crm-sync-engine/internal/module"
	"github.com/romiteld/crm-sync-engine/internal/store"
)

// privilegedAudienceTags names the Subscription.AudienceTag values that
// require a privileged Role to see any content at all (§4.5 step 1).
var privilegedAudienceTags = map[string]bool{
	"executive-digest": true,
	"leadership":       true,
}

func isPrivileged(role store.Role) bool {
	return role == store.RoleExecutive || role == store.RoleAdmin
}

// Builder implements ArtifactBuilder. modules lists the MirroredRecord
// tables it reads candidates from, in priority order (§4.5: "primarily
// Leads + Deals").
type Builder struct {
	store        store.Store
	tables       *LookupSet
	modules      []module.Kind
	lookupWindow time.Duration
	log          *zap.Logger
}

func NewBuilder(st store.Store, tables *LookupSet, lookupWindow time.Duration, log *zap.Logger) *Builder {
	return &Builder{
		store:        st,
		tables:       tables,
		modules:      []module.Kind{module.Leads, module.Deals},
		lookupWindow: lookupWindow,
		log:          log,
	}
}

// Build runs the full §4.5 algorithm for one subscription as of asOf.
func (b *Builder) Build(ctx context.Context, sub *store.Subscription, asOf time.Time, role store.Role) (*Artifact, error) {
	if privilegedAudienceTags[sub.AudienceTag] && !isPrivileged(role) {
		return &Artifact{SubscriptionID: sub.SubscriptionID, AsOf: asOf, Body: render(sub.SubscriptionID, nil)}, nil
	}

	q := store.RecordQuery{
		ModifiedAfter: asOf.Add(-b.lookupWindow),
		Locations:     sub.Filters.Locations,
		MinAUM:        int64(sub.Filters.MinCompensation),
		Limit:         sub.MaxItems * 5, // over-fetch; ranking/dedup trims down.
	}

	tables := b.tables.Current()
	var candidates []candidate
	for _, mod := range b.modules {
		records, err := b.store.QueryRecords(ctx, mod, q)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if rec.Tombstoned {
				continue
			}
			f := extractFields(rec.Payload)
			item := anonymize(rec.ExternalID, f, tables)
			item.score = score(f)
			candidates = append(candidates, candidate{rawEmployer: f.Employer, rawLocation: f.Location, item: item})
		}
	}

	items := rankAndDedup(candidates)
	if sub.MaxItems > 0 && len(items) > sub.MaxItems {
		items = items[:sub.MaxItems] // truncate; never synthesize filler (§4.5 step 5).
	}

	return &Artifact{
		SubscriptionID: sub.SubscriptionID,
		AsOf:           asOf,
		Items:          items,
		Body:           render(sub.SubscriptionID, items),
	}, nil
}
