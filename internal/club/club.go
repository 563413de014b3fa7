// Package club evaluates the monthly club incentive. Qualification looks at
// the whole sponsor team's business, the new business of the month and
// how evenly it is spread over the member's direct legs.
package club

import (
	"fmt"
	"sort"

	"compensation-engine/internal/plan"
	"github.com/shopspring/decimal"
)

type Status string

const (
	Qualified                Status = "QUALIFIED"
	DisqualifiedTeamBusiness Status = "DISQUALIFIED_TEAM_BUSINESS"
	DisqualifiedNewSales     Status = "DISQUALIFIED_NEW_SALES"
	DisqualifiedBalancing    Status = "DISQUALIFIED_BALANCING"
)

// Volume is a member's team business for one month.
type Volume struct {
	// Total is the business of the member and the whole sponsor team up to
	// the end of the month.
	Total decimal.Decimal
	// NewSales is the part of Total booked within the month.
	NewSales decimal.Decimal
	// Legs holds, per direct referral, the business of that referral's
	// team up to the end of the month. The member's own business is in no
	// leg.
	Legs []decimal.Decimal
}

type Balance struct {
	StrongestLeg decimal.Decimal `json:"strongest_leg"`
	OtherLegs    decimal.Decimal `json:"other_legs"`
	Passed       bool            `json:"passed"`
}

// CheckBalance applies the strong/weak leg rule against the tier
// requirement: the strongest leg may bring at most strongMax percent of
// required and the remaining legs together at least weakMin percent.
func CheckBalance(legs []decimal.Decimal, required, strongMax, weakMin decimal.Decimal) Balance {
	if len(legs) == 0 {
		return Balance{}
	}
	sorted := append([]decimal.Decimal(nil), legs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].GreaterThan(sorted[j]) })

	b := Balance{StrongestLeg: sorted[0], OtherLegs: decimal.Sum(decimal.Zero, sorted[1:]...)}
	hundred := decimal.NewFromInt(100)
	maxStrong := required.Mul(strongMax).Div(hundred)
	minWeak := required.Mul(weakMin).Div(hundred)
	b.Passed = b.StrongestLeg.LessThanOrEqual(maxStrong) && b.OtherLegs.GreaterThanOrEqual(minWeak)
	return b
}

type Result struct {
	Tier             string          `json:"tier"`
	Status           Status          `json:"status"`
	Reason           string          `json:"reason,omitempty"`
	RequiredNewSales decimal.Decimal `json:"required_new_sales"`
	Balance          Balance         `json:"balance"`
	Gross            decimal.Decimal `json:"gross"`
	TDS              decimal.Decimal `json:"tds"`
	Net              decimal.Decimal `json:"net"`
}

func (r Result) Qualified() bool {
	return r.Status == Qualified
}

// Evaluate checks one tier. A qualified member earns the tier's bonus
// percent of the total team business, less the plan's TDS.
func Evaluate(p *plan.Plan, tier plan.ClubTier, v Volume) Result {
	res := Result{
		Tier:             tier.Code,
		RequiredNewSales: p.Percent(tier.RequiredTeamBusiness, tier.NewSalesPercent),
	}

	if v.Total.LessThan(tier.RequiredTeamBusiness) {
		res.Status = DisqualifiedTeamBusiness
		res.Reason = fmt.Sprintf("team business %s below %s", v.Total.StringFixed(p.Places), tier.RequiredTeamBusiness.StringFixed(p.Places))
		return res
	}
	if v.NewSales.LessThan(res.RequiredNewSales) {
		res.Status = DisqualifiedNewSales
		res.Reason = fmt.Sprintf("new sales %s below %s", v.NewSales.StringFixed(p.Places), res.RequiredNewSales.StringFixed(p.Places))
		return res
	}
	res.Balance = CheckBalance(v.Legs, tier.RequiredTeamBusiness, tier.StrongLegMaxPercent, tier.WeakLegsMinPercent)
	if !res.Balance.Passed {
		res.Status = DisqualifiedBalancing
		res.Reason = fmt.Sprintf("strongest leg %s, other legs %s", res.Balance.StrongestLeg.StringFixed(p.Places), res.Balance.OtherLegs.StringFixed(p.Places))
		if len(v.Legs) == 0 {
			res.Reason = "no direct referrals"
		}
		return res
	}

	res.Status = Qualified
	res.Gross = p.Percent(v.Total, tier.BonusPercent)
	res.TDS, res.Net = Withhold(p, res.Gross)
	return res
}

// Withhold splits gross into the tax deducted at source and the net
// amount credited.
func Withhold(p *plan.Plan, gross decimal.Decimal) (tds, net decimal.Decimal) {
	tds = p.Percent(gross, p.TDSPercent)
	return tds, gross.Sub(tds)
}
