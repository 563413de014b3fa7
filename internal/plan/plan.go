// Package plan holds the versioned compensation plan: commission rates,
// level unlock table, rank ladder and matching depths. A plan is read-only
// once loaded; every income and ledger row records the version it was
// computed under.
package plan

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type ValueType string

const (
	Percentage ValueType = "PERCENTAGE"
	Fixed      ValueType = "FIXED"
)

type Plan struct {
	Version               string          `json:"version"`
	Places                int32           `json:"places"`
	TreeDepthCeiling      int             `json:"treeDepthCeiling"`
	HoldCommissions       bool            `json:"holdCommissions"`
	DirectReferralPercent decimal.Decimal `json:"directReferralPercent"`
	Binary                BinaryRule      `json:"binary"`
	Levels                []LevelRule     `json:"levels"`
	LevelUnlocks          []LevelUnlock   `json:"levelUnlocks"`
	Matching              []MatchingRule  `json:"matching"`
	Ranks                 []Rank          `json:"ranks"`
	ClubTiers             []ClubTier      `json:"clubTiers"`
	// TDSPercent is withheld from club bonuses at source.
	TDSPercent            decimal.Decimal `json:"tdsPercent"`
}

// BinaryRule configures pairing. A zero cap means unlimited.
type BinaryRule struct {
	PayoutPercent decimal.Decimal `json:"payoutPercent"`
	CapPerEvent   decimal.Decimal `json:"capPerEvent"`
	DailyCap      decimal.Decimal `json:"dailyCap"`
}

type LevelRule struct {
	Level int             `json:"level"`
	Type  ValueType       `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// LevelUnlock opens Depth sponsor levels once a member has MinDirects
// active direct referrals.
type LevelUnlock struct {
	MinDirects int `json:"minDirects"`
	Depth      int `json:"depth"`
}

// MatchingRule grants Percents[d-1] of a downline commission earned d
// sponsor levels below a member holding Rank.
type MatchingRule struct {
	Rank       string            `json:"rank"`
	Depth      int               `json:"depth"`
	MinDirects int               `json:"minDirects"`
	Percents   []decimal.Decimal `json:"percents"`
}

type Rank struct {
	Code                       string          `json:"code"`
	Name                       string          `json:"name"`
	DisplayOrder               int             `json:"displayOrder"`
	RequiredDirectReferrals    int             `json:"requiredDirectReferrals"`
	RequiredTeamInvestment     decimal.Decimal `json:"requiredTeamInvestment"`
	RequiredPersonalInvestment decimal.Decimal `json:"requiredPersonalInvestment"`
	RequireActiveLegs          bool            `json:"requireActiveLegs"`
	OneTimeBonus               decimal.Decimal `json:"oneTimeBonus"`
	MonthlyBonus               decimal.Decimal `json:"monthlyBonus"`
	CommissionBoostPercent     decimal.Decimal `json:"commissionBoostPercent"`
	Benefits                   []string        `json:"benefits"`
}

// ClubTier is a monthly club incentive on total team business. A member
// qualifies when the team business reaches RequiredTeamBusiness, the new
// business of the month reaches NewSalesPercent of it, and no single
// sponsor leg carries more than StrongLegMaxPercent of the requirement
// while the other legs bring at least WeakLegsMinPercent.
type ClubTier struct {
	Code                 string          `json:"code"`
	Name                 string          `json:"name"`
	DisplayOrder         int             `json:"displayOrder"`
	RequiredTeamBusiness decimal.Decimal `json:"requiredTeamBusiness"`
	NewSalesPercent      decimal.Decimal `json:"newSalesPercent"`
	StrongLegMaxPercent  decimal.Decimal `json:"strongLegMaxPercent"`
	WeakLegsMinPercent   decimal.Decimal `json:"weakLegsMinPercent"`
	BonusPercent         decimal.Decimal `json:"bonusPercent"`
}

func (p *Plan) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("plan version is required")
	}
	if p.Places < 0 || p.Places > 8 {
		return fmt.Errorf("places must be within 0..8, got %d", p.Places)
	}
	if p.TreeDepthCeiling <= 0 {
		return fmt.Errorf("tree depth ceiling must be positive")
	}
	if p.DirectReferralPercent.IsNegative() || p.DirectReferralPercent.GreaterThan(hundred) {
		return fmt.Errorf("direct referral percent out of range: %s", p.DirectReferralPercent)
	}
	if p.Binary.PayoutPercent.IsNegative() || p.Binary.PayoutPercent.GreaterThan(hundred) {
		return fmt.Errorf("binary payout percent out of range: %s", p.Binary.PayoutPercent)
	}
	if p.Binary.CapPerEvent.IsNegative() || p.Binary.DailyCap.IsNegative() {
		return fmt.Errorf("binary caps must not be negative")
	}

	seen := make(map[int]bool, len(p.Levels))
	for _, l := range p.Levels {
		if l.Level <= 0 || l.Level > p.TreeDepthCeiling {
			return fmt.Errorf("level %d out of range", l.Level)
		}
		if seen[l.Level] {
			return fmt.Errorf("level %d configured twice", l.Level)
		}
		seen[l.Level] = true
		if l.Type != Percentage && l.Type != Fixed {
			return fmt.Errorf("level %d: unknown value type %q", l.Level, l.Type)
		}
		if l.Value.IsNegative() {
			return fmt.Errorf("level %d: negative value", l.Level)
		}
	}

	for i, u := range p.LevelUnlocks {
		if u.MinDirects < 0 || u.Depth < 0 {
			return fmt.Errorf("level unlock %d: negative threshold", i)
		}
		if i > 0 {
			prev := p.LevelUnlocks[i-1]
			if u.MinDirects <= prev.MinDirects || u.Depth < prev.Depth {
				return fmt.Errorf("level unlocks must be strictly ascending by directs with non-decreasing depth")
			}
		}
	}

	codes := make(map[string]bool, len(p.Ranks))
	orders := make(map[int]bool, len(p.Ranks))
	for _, r := range p.Ranks {
		if r.Code == "" {
			return fmt.Errorf("rank code is required")
		}
		if codes[r.Code] {
			return fmt.Errorf("rank %s configured twice", r.Code)
		}
		if r.DisplayOrder <= 0 || orders[r.DisplayOrder] {
			return fmt.Errorf("rank %s: display order must be positive and unique", r.Code)
		}
		codes[r.Code] = true
		orders[r.DisplayOrder] = true
		if r.OneTimeBonus.IsNegative() || r.MonthlyBonus.IsNegative() || r.CommissionBoostPercent.IsNegative() {
			return fmt.Errorf("rank %s: negative reward", r.Code)
		}
	}

	for _, m := range p.Matching {
		if !codes[m.Rank] {
			return fmt.Errorf("matching rule references unknown rank %s", m.Rank)
		}
		if m.Depth < 0 || m.Depth > len(m.Percents) {
			return fmt.Errorf("matching rule %s: depth %d needs as many percents", m.Rank, m.Depth)
		}
	}

	if p.TDSPercent.IsNegative() || p.TDSPercent.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("tds percent out of range: %s", p.TDSPercent)
	}
	clubs := make(map[string]bool, len(p.ClubTiers))
	for _, c := range p.ClubTiers {
		if c.Code == "" {
			return fmt.Errorf("club tier code is required")
		}
		if clubs[c.Code] {
			return fmt.Errorf("club tier %s configured twice", c.Code)
		}
		clubs[c.Code] = true
		if !c.RequiredTeamBusiness.IsPositive() {
			return fmt.Errorf("club tier %s: required team business must be positive", c.Code)
		}
		for _, pct := range []decimal.Decimal{c.NewSalesPercent, c.StrongLegMaxPercent, c.WeakLegsMinPercent, c.BonusPercent} {
			if pct.IsNegative() || pct.GreaterThan(hundred) {
				return fmt.Errorf("club tier %s: percent out of range: %s", c.Code, pct)
			}
		}
	}
	return nil
}

// Round applies the plan's monetary precision.
func (p *Plan) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(p.Places)
}

// Percent returns pct percent of base, rounded.
func (p *Plan) Percent(base, pct decimal.Decimal) decimal.Decimal {
	return p.Round(base.Mul(pct).Div(hundred))
}

// Boost scales amount by a rank's commission boost.
func (p *Plan) Boost(amount decimal.Decimal, rankCode string) decimal.Decimal {
	r, ok := p.RankByCode(rankCode)
	if !ok || !r.CommissionBoostPercent.IsPositive() {
		return amount
	}
	return p.Round(amount.Mul(hundred.Add(r.CommissionBoostPercent)).Div(hundred))
}

// LevelCap is the deepest sponsor level with a configured rule.
func (p *Plan) LevelCap() int {
	deepest := 0
	for _, l := range p.Levels {
		if l.Level > deepest {
			deepest = l.Level
		}
	}
	return deepest
}

func (p *Plan) Level(level int) (LevelRule, bool) {
	for _, l := range p.Levels {
		if l.Level == level {
			return l, true
		}
	}
	return LevelRule{}, false
}

// LevelAmount is the unboosted commission for level on base. The second
// return value is the percent applied, zero for fixed rules.
func (p *Plan) LevelAmount(level int, base decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	rule, ok := p.Level(level)
	if !ok {
		return decimal.Zero, decimal.Zero
	}
	if rule.Type == Fixed {
		return p.Round(rule.Value), decimal.Zero
	}
	return p.Percent(base, rule.Value), rule.Value
}

// UnlockedDepth maps an active direct referral count to the number of
// sponsor levels a member is paid on. An empty table unlocks every level.
func (p *Plan) UnlockedDepth(directs int) int {
	if len(p.LevelUnlocks) == 0 {
		return p.LevelCap()
	}
	depth := 0
	for _, u := range p.LevelUnlocks {
		if directs >= u.MinDirects && u.Depth > depth {
			depth = u.Depth
		}
	}
	return depth
}

// SortedRanks returns the ranks in ascending display order.
func (p *Plan) SortedRanks() []Rank {
	ranks := make([]Rank, len(p.Ranks))
	copy(ranks, p.Ranks)
	sort.Slice(ranks, func(i, j int) bool {
		return ranks[i].DisplayOrder < ranks[j].DisplayOrder
	})
	return ranks
}

func (p *Plan) RankByCode(code string) (Rank, bool) {
	if code == "" {
		return Rank{}, false
	}
	for _, r := range p.Ranks {
		if r.Code == code {
			return r, true
		}
	}
	return Rank{}, false
}

// MatchingFor returns the matching rule of a rank; unranked members and
// ranks without a rule match nothing.
func (p *Plan) MatchingFor(rankCode string) MatchingRule {
	for _, m := range p.Matching {
		if m.Rank == rankCode {
			return m
		}
	}
	return MatchingRule{Rank: rankCode}
}

func (p *Plan) MaxMatchingDepth() int {
	deepest := 0
	for _, m := range p.Matching {
		if m.Depth > deepest {
			deepest = m.Depth
		}
	}
	return deepest
}

// Percent returns the matching percent at depth, zero outside the rule.
func (m MatchingRule) Percent(depth int) decimal.Decimal {
	if depth <= 0 || depth > m.Depth || depth > len(m.Percents) {
		return decimal.Zero
	}
	return m.Percents[depth-1]
}

// SortedClubTiers returns the club tiers by ascending display order.
func (p *Plan) SortedClubTiers() []ClubTier {
	out := append([]ClubTier(nil), p.ClubTiers...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out
}

// ClubTierByCode looks a club tier up by code.
func (p *Plan) ClubTierByCode(code string) (ClubTier, bool) {
	for _, c := range p.ClubTiers {
		if c.Code == code {
			return c, true
		}
	}
	return ClubTier{}, false
}
