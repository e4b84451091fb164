package artifact

import (
	"math"
	"strings"
)

var achievementKeywords = []string{"award", "promoted", "certified", "recognized", "published", "top producer"}

const maxAchievementBonus = 3

// candidate pairs one record's raw fields with its anonymized rendering so
// ranking can see both the presentation item and the numbers behind it.
type candidate struct {
	rawEmployer string
	rawLocation string
	item        Item
}

// score implements §4.5 step 4's rubric: growth outranks static financial
// magnitude, which outranks credential enumeration; achievement keywords add
// a capped bonus so a long list of buzzwords cannot dominate real metrics.
func score(f rawFields) float64 {
	growth := f.GrowthRatePct * 100
	financial := math.Log10(float64(f.AUM)+1) * 10
	bonus := math.Min(float64(countAchievementKeywords(f.Achievements)), maxAchievementBonus) * 2
	credentials := float64(len(f.Credentials)) * 0.1
	return growth + financial + bonus + credentials
}

func countAchievementKeywords(achievements []string) int {
	n := 0
	for _, a := range achievements {
		lower := strings.ToLower(a)
		for _, kw := range achievementKeywords {
			if strings.Contains(lower, kw) {
				n++
				break
			}
		}
	}
	return n
}

// rankAndDedup collapses candidates sharing (rawLocation, rawEmployer),
// keeping the higher-scoring instance, then sorts by score descending.
func rankAndDedup(candidates []candidate) []Item {
	best := make(map[string]candidate, len(candidates))
	order := make([]string, 0, len(candidates))
	for _, c := range candidates {
		key := c.rawLocation + "\x00" + c.rawEmployer
		if existing, ok := best[key]; !ok || c.item.score > existing.item.score {
			if !ok {
				order = append(order, key)
			}
			best[key] = c
		}
	}

	items := make([]Item, 0, len(order))
	for _, key := range order {
		items = append(items, best[key].item)
	}
	sortByScoreDesc(items)
	return items
}

func sortByScoreDesc(items []Item) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].score > items[j-1].score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
