package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestUnlockedDepth(t *testing.T) {
	p := Default()
	cases := map[int]int{0: 0, 1: 1, 2: 2, 3: 5, 4: 5, 5: 10, 12: 10}
	for directs, want := range cases {
		assert.Equal(t, want, p.UnlockedDepth(directs), "directs=%d", directs)
	}

	p.LevelUnlocks = nil
	assert.Equal(t, 10, p.UnlockedDepth(0))
}

func TestLevelAmount(t *testing.T) {
	p := Default()
	p.Levels = append(p.Levels, LevelRule{Level: 11, Type: Fixed, Value: decimal.NewFromInt(7)})

	amount, pct := p.LevelAmount(1, decimal.NewFromInt(1000))
	assert.True(t, amount.Equal(decimal.NewFromInt(50)))
	assert.True(t, pct.Equal(decimal.NewFromInt(5)))

	amount, pct = p.LevelAmount(11, decimal.NewFromInt(1000))
	assert.True(t, amount.Equal(decimal.NewFromInt(7)))
	assert.True(t, pct.IsZero())

	amount, _ = p.LevelAmount(12, decimal.NewFromInt(1000))
	assert.True(t, amount.IsZero())
	assert.Equal(t, 11, p.LevelCap())
}

func TestRoundingIsHalfAwayFromZero(t *testing.T) {
	p := Default()
	assert.Equal(t, "0.13", p.Round(decimal.RequireFromString("0.125")).StringFixed(2))
	assert.Equal(t, "-0.13", p.Round(decimal.RequireFromString("-0.125")).StringFixed(2))
	assert.Equal(t, "0.33", p.Percent(decimal.NewFromInt(1), decimal.RequireFromString("33.333")).StringFixed(2))
}

func TestBoost(t *testing.T) {
	p := Default()
	assert.True(t, p.Boost(decimal.NewFromInt(100), "GOLD").Equal(decimal.NewFromInt(105)))
	assert.True(t, p.Boost(decimal.NewFromInt(100), "SILVER").Equal(decimal.NewFromInt(100)))
	assert.True(t, p.Boost(decimal.NewFromInt(100), "").Equal(decimal.NewFromInt(100)))
}

func TestSortedRanksAndMatching(t *testing.T) {
	p := Default()
	p.Ranks[0], p.Ranks[2] = p.Ranks[2], p.Ranks[0]

	ranks := p.SortedRanks()
	require.Len(t, ranks, 3)
	assert.Equal(t, "SILVER", ranks[0].Code)
	assert.Equal(t, "DIAMOND", ranks[2].Code)
	assert.Equal(t, "DIAMOND", p.Ranks[0].Code, "SortedRanks must not reorder the plan")

	gold := p.MatchingFor("GOLD")
	assert.True(t, gold.Percent(2).Equal(decimal.NewFromInt(5)))
	assert.True(t, gold.Percent(3).IsZero())
	assert.Equal(t, 0, p.MatchingFor("").Depth)
	assert.Equal(t, 3, p.MaxMatchingDepth())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Plan)
	}{
		{"missing version", func(p *Plan) { p.Version = "" }},
		{"duplicate level", func(p *Plan) { p.Levels = append(p.Levels, p.Levels[0]) }},
		{"unknown value type", func(p *Plan) { p.Levels[0].Type = "BOTH" }},
		{"descending unlocks", func(p *Plan) { p.LevelUnlocks[1].MinDirects = 0 }},
		{"duplicate rank", func(p *Plan) { p.Ranks[1].Code = p.Ranks[0].Code }},
		{"duplicate order", func(p *Plan) { p.Ranks[1].DisplayOrder = p.Ranks[0].DisplayOrder }},
		{"matching unknown rank", func(p *Plan) { p.Matching[0].Rank = "BRONZE" }},
		{"matching depth without percents", func(p *Plan) { p.Matching[0].Depth = 4 }},
		{"payout over 100", func(p *Plan) { p.Binary.PayoutPercent = decimal.NewFromInt(101) }},
		{"tds of 100", func(p *Plan) { p.TDSPercent = decimal.NewFromInt(100) }},
		{"duplicate club", func(p *Plan) { p.ClubTiers[1].Code = p.ClubTiers[0].Code }},
		{"club without requirement", func(p *Plan) { p.ClubTiers[0].RequiredTeamBusiness = decimal.Zero }},
		{"club leg percent over 100", func(p *Plan) { p.ClubTiers[0].StrongLegMaxPercent = decimal.NewFromInt(150) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestClubTiers(t *testing.T) {
	p := Default()
	p.ClubTiers[0], p.ClubTiers[2] = p.ClubTiers[2], p.ClubTiers[0]

	sorted := p.SortedClubTiers()
	require.Len(t, sorted, 3)
	assert.Equal(t, "MILLIONAIRE", sorted[0].Code)
	assert.Equal(t, "BUSINESS_LEADERS", sorted[2].Code)

	tier, ok := p.ClubTierByCode("RISING_STARS")
	require.True(t, ok)
	assert.True(t, tier.RequiredTeamBusiness.Equal(decimal.NewFromInt(25000000)))
	_, ok = p.ClubTierByCode("NONE")
	assert.False(t, ok)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	content := `
version: "2024-07"
holdCommissions: true
directReferralPercent: 6
binary:
  payoutPercent: 8
  dailyCap: "2500.00"
levels:
  - level: 1
    type: PERCENTAGE
    value: 4.5
  - level: 2
    type: FIXED
    value: 10
levelUnlocks:
  - minDirects: 1
    depth: 1
  - minDirects: 3
    depth: 2
ranks:
  - code: STAR
    name: Star
    displayOrder: 1
    requiredDirectReferrals: 1
    oneTimeBonus: 50
matching:
  - rank: STAR
    depth: 1
    percents: [10]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-07", p.Version)
	assert.True(t, p.HoldCommissions)
	assert.Equal(t, int32(2), p.Places)
	assert.Equal(t, 200, p.TreeDepthCeiling)
	assert.True(t, p.DirectReferralPercent.Equal(decimal.NewFromInt(6)))
	assert.True(t, p.Binary.DailyCap.Equal(decimal.NewFromInt(2500)))
	require.Len(t, p.Levels, 2)
	assert.Equal(t, Fixed, p.Levels[1].Type)
	assert.True(t, p.Levels[0].Value.Equal(decimal.RequireFromString("4.5")))
	assert.Equal(t, 2, p.UnlockedDepth(3))
	assert.True(t, p.Ranks[0].OneTimeBonus.Equal(decimal.NewFromInt(50)))
}

func TestLoadRejectsInvalidPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"x","levels":[{"level":1,"type":"NOPE","value":1}]}`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestHolderSwap(t *testing.T) {
	h := NewHolder(Default())
	next := Default()
	next.Version = "next"
	require.NoError(t, h.Swap(next))
	assert.Equal(t, "next", h.Current().Version)

	bad := Default()
	bad.Version = ""
	assert.Error(t, h.Swap(bad))
	assert.Equal(t, "next", h.Current().Version)
}
