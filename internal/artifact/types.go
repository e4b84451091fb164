// Package artifact implements ArtifactBuilder (spec.md §4.5): role-scoped,
// filtered, anonymized digest construction over MirroredRecord tables.
package artifact

import "time"

// Item is one anonymized, rendered candidate bullet.
type Item struct {
	ExternalID      string
	Employer        string
	Location        string
	AUMBucket       string
	CompensationTxt string
	Achievements    []string
	Credentials     []string
	GrowthRatePct   float64
	score           float64
}

// Artifact is the finished, byte-identical-for-fixed-inputs digest document.
type Artifact struct {
	SubscriptionID string
	AsOf           time.Time
	Items          []Item
	Body           string
}
