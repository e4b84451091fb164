package artifact

import (
	"fmt"
	"strings"
)

// render produces the byte-identical-for-fixed-inputs document body (§4.5
// "Determinism"): plain text, one item per block, fields in a fixed order.
func render(subscriptionID string, items []Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Digest for %s\n", subscriptionID)
	fmt.Fprintf(&b, "%d item(s)\n\n", len(items))

	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, item.Employer, item.Location)
		fmt.Fprintf(&b, "   AUM: %s\n", item.AUMBucket)
		if item.CompensationTxt != "" {
			fmt.Fprintf(&b, "   %s\n", item.CompensationTxt)
		}
		if item.GrowthRatePct != 0 {
			fmt.Fprintf(&b, "   Growth: %.1f%%\n", item.GrowthRatePct)
		}
		if len(item.Credentials) > 0 {
			fmt.Fprintf(&b, "   Credentials: %s\n", strings.Join(item.Credentials, ", "))
		}
		for _, a := range item.Achievements {
			fmt.Fprintf(&b, "   - %s\n", a)
		}
		b.WriteString("\n")
	}
	return b.String()
}
