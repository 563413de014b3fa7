package commission

import (
	"testing"

	"compensation-engine/internal/genealogy"
	"compensation-engine/internal/model"
	"compensation-engine/internal/plan"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func ptr(v uint) *uint { return &v }

func node(id uint, sponsor *uint) *Node {
	return &Node{User: model.User{ID: id, Status: model.StatusActive, SponsorID: sponsor}}
}

func byType(entries []Entry, t model.IncomeType) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.IncomeType == t {
			out = append(out, e)
		}
	}
	return out
}

func invest(id uint, amount string) model.Event {
	return model.Event{EventID: "evt", UserID: id, Amount: dec(amount), Type: model.EventInvestment}
}

// A (1) is the root; B (2) is sponsored by A and placed LEFT of A.
func TestDirectReferralWithoutPairing(t *testing.T) {
	a := node(1, nil)
	a.LeftBV = dec("1000")
	a.ActiveDirects = 1
	b := node(2, ptr(1))
	b.PersonalInvestment = dec("1000")

	snap := &Snapshot{
		Nodes:        map[uint]*Node{1: a, 2: b},
		BinaryPath:   []genealogy.PathRef{{UserID: 1, Side: model.SideLeft}},
		SponsorChain: []genealogy.SponsorRef{{UserID: 1, Level: 1}},
	}

	out := Propose(invest(2, "1000"), snap, plan.Default())

	direct := byType(out.Entries, model.IncomeDirectReferral)
	require.Len(t, direct, 1)
	assert.Equal(t, uint(1), direct[0].UserID)
	assert.Equal(t, "50.00", direct[0].Amount.StringFixed(2))
	assert.Equal(t, "evt:DIRECT_REFERRAL:1:L1", direct[0].Key)

	assert.Empty(t, out.Pairings)
	assert.Empty(t, byType(out.Entries, model.IncomeBinaryPairing))
	assert.Empty(t, out.RankUps)
}

// C (3) is sponsored by A and placed RIGHT of A; both legs now hold 1000.
func TestPairingConsumesBothLegs(t *testing.T) {
	a := node(1, nil)
	a.LeftBV = dec("1000")
	a.RightBV = dec("1000")
	a.ActiveDirects = 2
	c := node(3, ptr(1))

	snap := &Snapshot{
		Nodes:        map[uint]*Node{1: a, 3: c},
		BinaryPath:   []genealogy.PathRef{{UserID: 1, Side: model.SideRight}},
		SponsorChain: []genealogy.SponsorRef{{UserID: 1, Level: 1}},
	}

	out := Propose(invest(3, "1000"), snap, plan.Default())

	require.Len(t, out.Pairings, 1)
	pair := out.Pairings[0]
	assert.Equal(t, "1000", pair.Matched.String())
	assert.True(t, pair.LeftBV.IsZero())
	assert.True(t, pair.RightBV.IsZero())
	assert.True(t, pair.CarryForwardLeft.IsZero())
	assert.True(t, pair.CarryForwardRight.IsZero())

	paid := byType(out.Entries, model.IncomeBinaryPairing)
	require.Len(t, paid, 1)
	assert.Equal(t, "100.00", paid[0].Amount.StringFixed(2))
	assert.Equal(t, "1000", paid[0].BaseAmount.String())
}

func TestPairingCarryForwardAndCaps(t *testing.T) {
	tests := []struct {
		name                  string
		left, right           string
		carryLeft, carryRight string
		capPerEvent, daily    string
		pairedToday           string
		matched               string
		wantCarryL            string
		wantCarryR            string
	}{
		{"uneven legs", "1500", "1000", "0", "0", "0", "0", "0", "1000", "500", "0"},
		{"carry joins the next match", "0", "800", "500", "0", "0", "0", "0", "500", "0", "300"},
		{"per event cap", "1500", "1000", "0", "0", "400", "0", "0", "400", "1100", "600"},
		{"daily cap remainder", "1000", "1000", "0", "0", "0", "1000", "900", "100", "900", "900"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := plan.Default()
			p.Binary.CapPerEvent = dec(tt.capPerEvent)
			p.Binary.DailyCap = dec(tt.daily)

			a := node(1, nil)
			a.LeftBV, a.RightBV = dec(tt.left), dec(tt.right)
			a.CarryForwardLeft, a.CarryForwardRight = dec(tt.carryLeft), dec(tt.carryRight)
			a.PairedToday = dec(tt.pairedToday)

			snap := &Snapshot{
				Nodes:      map[uint]*Node{1: a, 5: node(5, nil)},
				BinaryPath: []genealogy.PathRef{{UserID: 1, Side: model.SideRight}},
			}
			out := Propose(invest(5, "100"), snap, p)

			require.Len(t, out.Pairings, 1)
			pair := out.Pairings[0]
			assert.Equal(t, dec(tt.matched).String(), pair.Matched.String())
			assert.Equal(t, dec(tt.wantCarryL).String(), pair.CarryForwardLeft.String())
			assert.Equal(t, dec(tt.wantCarryR).String(), pair.CarryForwardRight.String())
			assert.False(t, pair.CarryForwardLeft.IsNegative())
			assert.False(t, pair.CarryForwardRight.IsNegative())
			assert.True(t, pair.Matched.LessThanOrEqual(decimal.Min(a.LeftBV.Add(a.CarryForwardLeft), a.RightBV.Add(a.CarryForwardRight))))
		})
	}
}

func TestDailyCapReachedSkipsPairing(t *testing.T) {
	p := plan.Default()
	p.Binary.DailyCap = dec("1000")
	a := node(1, nil)
	a.LeftBV, a.RightBV = dec("500"), dec("500")
	a.PairedToday = dec("1000")

	snap := &Snapshot{
		Nodes:      map[uint]*Node{1: a, 5: node(5, nil)},
		BinaryPath: []genealogy.PathRef{{UserID: 1, Side: model.SideLeft}},
	}
	out := Propose(invest(5, "100"), snap, p)
	assert.Empty(t, out.Pairings)
}

func TestInactiveNodesEarnNothing(t *testing.T) {
	a := node(1, nil)
	a.Status = model.StatusInactive
	a.LeftBV, a.RightBV = dec("1000"), dec("1000")
	a.ActiveDirects = 5
	b := node(2, ptr(1))

	snap := &Snapshot{
		Nodes:        map[uint]*Node{1: a, 2: b},
		BinaryPath:   []genealogy.PathRef{{UserID: 1, Side: model.SideLeft}},
		SponsorChain: []genealogy.SponsorRef{{UserID: 1, Level: 1}},
	}
	out := Propose(invest(2, "1000"), snap, plan.Default())
	assert.Empty(t, out.Entries)
	assert.Empty(t, out.Pairings)
}

func TestLevelCommissionUnlocks(t *testing.T) {
	// 4 -> 3 -> 2 -> 1 on the sponsor tree. 3 has one direct, 2 has one
	// direct, 1 has three.
	n1, n2, n3, n4 := node(1, nil), node(2, ptr(1)), node(3, ptr(2)), node(4, ptr(3))
	n1.ActiveDirects = 3
	n2.ActiveDirects = 1
	n3.ActiveDirects = 1

	snap := &Snapshot{
		Nodes: map[uint]*Node{1: n1, 2: n2, 3: n3, 4: n4},
		SponsorChain: []genealogy.SponsorRef{
			{UserID: 3, Level: 1},
			{UserID: 2, Level: 2},
			{UserID: 1, Level: 3},
		},
	}
	out := Propose(invest(4, "1000"), snap, plan.Default())

	levels := byType(out.Entries, model.IncomeLevelCommission)
	require.Len(t, levels, 3)

	assert.Equal(t, uint(3), levels[0].UserID)
	assert.Equal(t, "50.00", levels[0].Amount.StringFixed(2))
	assert.False(t, levels[0].Blocked)

	assert.Equal(t, uint(2), levels[1].UserID)
	assert.True(t, levels[1].Blocked, "one direct unlocks only level 1")
	assert.Equal(t, "30.00", levels[1].Amount.StringFixed(2))

	assert.Equal(t, uint(1), levels[2].UserID)
	assert.False(t, levels[2].Blocked)
	assert.Equal(t, "20.00", levels[2].Amount.StringFixed(2))
	assert.Equal(t, "evt:LEVEL_COMMISSION:1:L3", levels[2].Key)

	for _, e := range out.Credited() {
		assert.False(t, e.Blocked)
	}
}

func TestMatchingBonusAndBoost(t *testing.T) {
	// 2 invests; 1 sponsored 2; 9 (GOLD) sponsored 1.
	gold := node(9, nil)
	gold.RankCode, gold.RankOrder = "GOLD", 2
	gold.ActiveDirects = 4
	a := node(1, ptr(9))
	a.ActiveDirects = 1
	b := node(2, ptr(1))

	snap := &Snapshot{
		Nodes: map[uint]*Node{1: a, 2: b, 9: gold},
		SponsorChain: []genealogy.SponsorRef{
			{UserID: 1, Level: 1},
			{UserID: 9, Level: 2},
		},
	}
	out := Propose(invest(2, "1000"), snap, plan.Default())

	levels := byType(out.Entries, model.IncomeLevelCommission)
	require.Len(t, levels, 2)
	// 3% of 1000 boosted by GOLD's 5%.
	assert.Equal(t, "31.50", levels[1].Amount.StringFixed(2))

	matching := byType(out.Entries, model.IncomeMatchingBonus)
	require.Len(t, matching, 2, "matches both of A's commissions")
	for _, m := range matching {
		assert.Equal(t, uint(9), m.UserID)
		assert.Equal(t, uint(1), m.FromUserID)
		assert.Equal(t, 1, m.Level)
		assert.Equal(t, "5.00", m.Amount.StringFixed(2))
	}
	assert.NotEqual(t, matching[0].Key, matching[1].Key)
}

func TestMatchingRespectsMinDirects(t *testing.T) {
	diamond := node(9, nil)
	diamond.RankCode, diamond.RankOrder = "DIAMOND", 3
	diamond.ActiveDirects = 2
	a := node(1, ptr(9))
	a.ActiveDirects = 1
	b := node(2, ptr(1))

	snap := &Snapshot{
		Nodes:        map[uint]*Node{1: a, 2: b, 9: diamond},
		SponsorChain: []genealogy.SponsorRef{{UserID: 1, Level: 1}, {UserID: 9, Level: 2}},
	}
	out := Propose(invest(2, "1000"), snap, plan.Default())
	assert.Empty(t, byType(out.Entries, model.IncomeMatchingBonus))
}

func TestRankBonusOncePerRank(t *testing.T) {
	d := node(4, nil)
	d.ActiveDirects = 2
	d.TeamInvestment = dec("2000")
	d.PersonalInvestment = dec("1000")

	ups, bonuses := RankRule(d, plan.Default())
	require.Len(t, ups, 1)
	assert.Equal(t, "SILVER", ups[0].Rank.Code)
	require.Len(t, bonuses, 1)
	assert.Equal(t, model.IncomeRankBonus, bonuses[0].IncomeType)
	assert.Equal(t, "100.00", bonuses[0].Amount.StringFixed(2))
	assert.Equal(t, RankBonusKey(4, "SILVER"), bonuses[0].Key)

	// Same qualifying state evaluated again yields the same key.
	_, again := RankRule(d, plan.Default())
	assert.Equal(t, bonuses[0].Key, again[0].Key)

	// Once the rank is recorded nothing is proposed.
	d.RankCode, d.RankOrder = "SILVER", 1
	ups, bonuses = RankRule(d, plan.Default())
	assert.Empty(t, ups)
	assert.Empty(t, bonuses)
}

func TestProposeEvaluatesRanksOfTouchedNodes(t *testing.T) {
	a := node(1, nil)
	a.LeftBV, a.RightBV = dec("1000"), dec("1000")
	a.ActiveDirects = 2
	a.TeamInvestment = dec("2000")
	a.PersonalInvestment = dec("1000")
	c := node(3, ptr(1))

	snap := &Snapshot{
		Nodes:        map[uint]*Node{1: a, 3: c},
		BinaryPath:   []genealogy.PathRef{{UserID: 1, Side: model.SideRight}},
		SponsorChain: []genealogy.SponsorRef{{UserID: 1, Level: 1}},
	}
	out := Propose(invest(3, "1000"), snap, plan.Default())

	require.Len(t, out.RankUps, 1)
	assert.Equal(t, uint(1), out.RankUps[0].UserID)
	assert.Len(t, byType(out.Entries, model.IncomeRankBonus), 1)

	// Rule order: rank bonuses come after the commissions.
	last := out.Entries[len(out.Entries)-1]
	assert.Equal(t, model.IncomeRankBonus, last.IncomeType)
}

func TestProposeIgnoresNonPositiveAmounts(t *testing.T) {
	snap := &Snapshot{Nodes: map[uint]*Node{1: node(1, nil)}}
	assert.Empty(t, Propose(invest(1, "0"), snap, plan.Default()).Entries)
	assert.Empty(t, Propose(invest(2, "10"), snap, plan.Default()).Entries)
}
