// Package volume computes how a BV-bearing event changes the aggregates
// of every ancestor. It reads nothing and writes nothing; the caller
// applies the deltas inside the event's transaction.
package volume

import (
	"compensation-engine/internal/genealogy"
	"compensation-engine/internal/model"
	"github.com/shopspring/decimal"
)

// Push describes one investment and the ancestry it travels through.
type Push struct {
	UserID       uint
	Amount       decimal.Decimal
	BinaryPath   []genealogy.PathRef
	SponsorChain []genealogy.SponsorRef
	// LevelCap limits the sponsor levels that record a contribution.
	LevelCap int
}

type NodeDelta struct {
	LeftBV             decimal.Decimal
	RightBV            decimal.Decimal
	TeamInvestment     decimal.Decimal
	PersonalInvestment decimal.Decimal
}

type Deltas struct {
	Nodes         map[uint]*NodeDelta
	Contributions []model.VolumeContribution
}

// Accumulate returns the aggregate changes of p.
func Accumulate(eventID string, p Push) Deltas {
	d := Deltas{Nodes: make(map[uint]*NodeDelta, len(p.BinaryPath)+len(p.SponsorChain)+1)}
	node := func(id uint) *NodeDelta {
		n, ok := d.Nodes[id]
		if !ok {
			n = &NodeDelta{}
			d.Nodes[id] = n
		}
		return n
	}

	node(p.UserID).PersonalInvestment = p.Amount

	for i, ref := range p.BinaryPath {
		n := node(ref.UserID)
		if ref.Side == model.SideLeft {
			n.LeftBV = n.LeftBV.Add(p.Amount)
		} else {
			n.RightBV = n.RightBV.Add(p.Amount)
		}
		d.Contributions = append(d.Contributions, model.VolumeContribution{
			EventID:       eventID,
			BeneficiaryID: ref.UserID,
			Tree:          model.TreeBinary,
			FromUserID:    p.UserID,
			Level:         i + 1,
			Side:          string(ref.Side),
			Amount:        p.Amount,
		})
	}

	for _, ref := range p.SponsorChain {
		n := node(ref.UserID)
		n.TeamInvestment = n.TeamInvestment.Add(p.Amount)
		if ref.Level > p.LevelCap {
			continue
		}
		d.Contributions = append(d.Contributions, model.VolumeContribution{
			EventID:       eventID,
			BeneficiaryID: ref.UserID,
			Tree:          model.TreeSponsor,
			FromUserID:    p.UserID,
			Level:         ref.Level,
			Amount:        p.Amount,
		})
	}
	return d
}

// Apply adds the deltas to the matching users. Lifetime leg totals grow
// with the un-matched leg volume.
func (d Deltas) Apply(users map[uint]*model.User) {
	for id, delta := range d.Nodes {
		u, ok := users[id]
		if !ok {
			continue
		}
		u.LeftBV = u.LeftBV.Add(delta.LeftBV)
		u.RightBV = u.RightBV.Add(delta.RightBV)
		u.TotalLeftBV = u.TotalLeftBV.Add(delta.LeftBV)
		u.TotalRightBV = u.TotalRightBV.Add(delta.RightBV)
		u.TeamInvestment = u.TeamInvestment.Add(delta.TeamInvestment)
		u.PersonalInvestment = u.PersonalInvestment.Add(delta.PersonalInvestment)
	}
}

// IDs lists every user the deltas touch.
func (d Deltas) IDs() []uint {
	ids := make([]uint, 0, len(d.Nodes))
	for id := range d.Nodes {
		ids = append(ids, id)
	}
	return ids
}
