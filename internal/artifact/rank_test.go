package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRankAndDedup_CollapsesSameLocationAndEmployer(t *testing.T) {
	low := candidate{rawEmployer: "Acme Wealth", rawLocation: "NYC", item: Item{ExternalID: "1", score: 10}}
	high := candidate{rawEmployer: "Acme Wealth", rawLocation: "NYC", item: Item{ExternalID: "2", score: 50}}
	other := candidate{rawEmployer: "Beta Capital", rawLocation: "SF", item: Item{ExternalID: "3", score: 5}}

	items := rankAndDedup([]candidate{low, high, other})

	assert.Len(t, items, 2)
	assert.Equal(t, "2", items[0].ExternalID, "higher-scoring duplicate survives, sorted first")
	assert.Equal(t, "3", items[1].ExternalID)
}

func TestScore_GrowthOutranksCredentials(t *testing.T) {
	growthHeavy := rawFields{GrowthRatePct: 50, Credentials: nil}
	credentialHeavy := rawFields{GrowthRatePct: 0, Credentials: []string{"CFA", "CFP", "Series 7"}}

	assert.Greater(t, score(growthHeavy), score(credentialHeavy))
}

func TestScore_AchievementBonusIsBounded(t *testing.T) {
	few := rawFields{Achievements: []string{"received an award"}}
	many := rawFields{Achievements: []string{"received an award", "promoted twice", "certified", "published", "recognized"}}

	assert.LessOrEqual(t, score(many)-score(few), float64(maxAchievementBonus)*2)
}

func TestNormalizeCompensation(t *testing.T) {
	assert.Equal(t, "Target comp: $120k–$150k OTE", normalizeCompensation(120000, 150000))
	assert.Equal(t, "", normalizeCompensation(0, 0))
}
