package artifact

import (
	"fmt"
	"regexp"
)

var internalAnnotationFallback = regexp.MustCompile(`(?i)\b(internal|confidential|do not share)\b`)

// anonymize runs the §4.5 step-3 pipeline over one record's raw fields,
// producing the Item fields that survive rendering. Annotations matching an
// internal-only pattern are dropped from Achievements entirely rather than
// redacted in place.
func anonymize(externalID string, f rawFields, tables *Tables) Item {
	achievements := make([]string, 0, len(f.Achievements))
	for _, a := range f.Achievements {
		if isInternal(a, tables) {
			continue
		}
		achievements = append(achievements, a)
	}

	return Item{
		ExternalID:      externalID,
		Employer:        tables.EquivalentEmployer(f.Employer),
		Location:        tables.MetroClass(f.Location),
		AUMBucket:       tables.BucketAUM(f.AUM),
		CompensationTxt: normalizeCompensation(f.CompensationMin, f.CompensationMax),
		Achievements:    achievements,
		Credentials:     f.Credentials,
		GrowthRatePct:   f.GrowthRatePct,
	}
}

func isInternal(text string, tables *Tables) bool {
	if tables != nil && tables.IsInternalAnnotation(text) {
		return true
	}
	return internalAnnotationFallback.MatchString(text)
}

// normalizeCompensation renders the canonical "Target comp: $Xk–$Yk OTE"
// form (§4.5 step 3). A zero range renders nothing so callers can omit the
// line rather than print a misleading "$0k–$0k".
func normalizeCompensation(minUSD, maxUSD int) string {
	if minUSD <= 0 && maxUSD <= 0 {
		return ""
	}
	if maxUSD < minUSD {
		minUSD, maxUSD = maxUSD, minUSD
	}
	return fmt.Sprintf("Target comp: $%dk–$%dk OTE", minUSD/1000, maxUSD/1000)
}
