// Package rank evaluates rank qualification. Ranks only move forward here;
// demotion is a manual operation handled by the engine.
package rank

import (
	"compensation-engine/internal/model"
	"compensation-engine/internal/plan"
	"github.com/shopspring/decimal"
)

// Metrics are the values a rank guard compares against its thresholds.
type Metrics struct {
	DirectReferrals    int             `json:"direct_referrals"`
	TeamInvestment     decimal.Decimal `json:"team_investment"`
	PersonalInvestment decimal.Decimal `json:"personal_investment"`
	BothLegsActive     bool            `json:"both_legs_active"`
}

func MetricsOf(u *model.User, activeDirects int) Metrics {
	return Metrics{
		DirectReferrals:    activeDirects,
		TeamInvestment:     u.TeamInvestment,
		PersonalInvestment: u.PersonalInvestment,
		BothLegsActive:     u.BothLegsActive(),
	}
}

func Qualifies(r plan.Rank, m Metrics) bool {
	return m.DirectReferrals >= r.RequiredDirectReferrals &&
		m.TeamInvestment.GreaterThanOrEqual(r.RequiredTeamInvestment) &&
		m.PersonalInvestment.GreaterThanOrEqual(r.RequiredPersonalInvestment) &&
		(!r.RequireActiveLegs || m.BothLegsActive)
}

// Evaluate walks ranks (ascending display order) above currentOrder and
// returns every rank reached in this pass. It stops at the first rank
// whose guard fails.
func Evaluate(currentOrder int, ranks []plan.Rank, m Metrics) []plan.Rank {
	var reached []plan.Rank
	for _, r := range ranks {
		if r.DisplayOrder <= currentOrder {
			continue
		}
		if !Qualifies(r, m) {
			break
		}
		reached = append(reached, r)
	}
	return reached
}

type Requirement struct {
	Name     string          `json:"name"`
	Required decimal.Decimal `json:"required"`
	Current  decimal.Decimal `json:"current"`
	Met      bool            `json:"met"`
}

type Progress struct {
	CurrentRank  string        `json:"current_rank"`
	CurrentOrder int           `json:"current_order"`
	NextRank     string        `json:"next_rank,omitempty"`
	NextName     string        `json:"next_name,omitempty"`
	Requirements []Requirement `json:"requirements"`
	Metrics      Metrics       `json:"metrics"`
	// Percent is the mean completion of the next rank's requirements.
	Percent decimal.Decimal `json:"percent"`
}

// ProgressOf describes how far a user is from the next rank. At the top
// rank NextRank is empty and Percent is 100.
func ProgressOf(currentCode string, currentOrder int, ranks []plan.Rank, m Metrics) Progress {
	p := Progress{
		CurrentRank:  currentCode,
		CurrentOrder: currentOrder,
		Metrics:      m,
		Percent:      decimal.NewFromInt(100),
	}

	var next *plan.Rank
	for i := range ranks {
		if ranks[i].DisplayOrder > currentOrder {
			next = &ranks[i]
			break
		}
	}
	if next == nil {
		return p
	}
	p.NextRank = next.Code
	p.NextName = next.Name

	legs := decimal.Zero
	if m.BothLegsActive {
		legs = decimal.NewFromInt(1)
	}
	p.Requirements = []Requirement{
		requirement("direct_referrals", decimal.NewFromInt(int64(next.RequiredDirectReferrals)), decimal.NewFromInt(int64(m.DirectReferrals))),
		requirement("team_investment", next.RequiredTeamInvestment, m.TeamInvestment),
		requirement("personal_investment", next.RequiredPersonalInvestment, m.PersonalInvestment),
	}
	if next.RequireActiveLegs {
		p.Requirements = append(p.Requirements, requirement("active_legs", decimal.NewFromInt(1), legs))
	}

	total := decimal.Zero
	for _, req := range p.Requirements {
		total = total.Add(completion(req))
	}
	p.Percent = total.Div(decimal.NewFromInt(int64(len(p.Requirements)))).Round(2)
	return p
}

func requirement(name string, required, current decimal.Decimal) Requirement {
	return Requirement{
		Name:     name,
		Required: required,
		Current:  current,
		Met:      current.GreaterThanOrEqual(required),
	}
}

func completion(req Requirement) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	if req.Met || !req.Required.IsPositive() {
		return hundred
	}
	return req.Current.Mul(hundred).Div(req.Required)
}
