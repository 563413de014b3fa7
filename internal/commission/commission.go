// Package commission maps an event and a snapshot of the affected part of
// the network to the commissions it earns. Propose is pure: it reads the
// snapshot and plan and returns entries and state changes for the caller
// to commit atomically.
package commission

import (
	"fmt"

	"compensation-engine/internal/genealogy"
	"compensation-engine/internal/model"
	"compensation-engine/internal/plan"
	"compensation-engine/internal/rank"
	"github.com/shopspring/decimal"
)

// Node is a user as seen after the event's volume was accumulated.
type Node struct {
	model.User
	// ActiveDirects counts ACTIVE users this node sponsored.
	ActiveDirects int
	// PairedToday is the BV already matched today, for the daily cap.
	PairedToday decimal.Decimal
}

// Snapshot holds every node Propose may read: the event user, its sponsor
// chain and binary path, and the sponsor chains of those nodes up to the
// deepest matching rule.
type Snapshot struct {
	Nodes        map[uint]*Node
	BinaryPath   []genealogy.PathRef
	SponsorChain []genealogy.SponsorRef
}

func (s *Snapshot) node(id uint) *Node {
	if s == nil || s.Nodes == nil {
		return nil
	}
	return s.Nodes[id]
}

// Entry is a proposed income. Blocked entries are recorded for visibility
// and never posted.
type Entry struct {
	Key        string
	UserID     uint
	FromUserID uint
	IncomeType model.IncomeType
	Amount     decimal.Decimal
	BaseAmount decimal.Decimal
	Percent    decimal.Decimal
	Level      int
	Side       string
	Blocked    bool
	Remarks    string
}

// Pairing is the leg state of a node after a pairing match.
type Pairing struct {
	UserID            uint
	Matched           decimal.Decimal
	LeftBV            decimal.Decimal
	RightBV           decimal.Decimal
	CarryForwardLeft  decimal.Decimal
	CarryForwardRight decimal.Decimal
}

// RankUp is a rank newly reached by a node.
type RankUp struct {
	UserID  uint
	Rank    plan.Rank
	Metrics rank.Metrics
}

type Proposal struct {
	Entries  []Entry
	Pairings []Pairing
	RankUps  []RankUp
}

// Credited returns the entries that will reach the ledger.
func (p Proposal) Credited() []Entry {
	var out []Entry
	for _, e := range p.Entries {
		if !e.Blocked {
			out = append(out, e)
		}
	}
	return out
}

// Propose runs the commission rules in their fixed order: direct referral,
// binary pairing, level commission, matching bonus, rank bonus.
func Propose(ev model.Event, snap *Snapshot, p *plan.Plan) Proposal {
	var out Proposal
	if !ev.Amount.IsPositive() || snap.node(ev.UserID) == nil {
		return out
	}

	out.Entries = append(out.Entries, directReferral(ev, snap, p)...)

	pairs, pairings := binaryPairing(ev, snap, p)
	out.Entries = append(out.Entries, pairs...)
	out.Pairings = pairings

	out.Entries = append(out.Entries, levelCommission(ev, snap, p)...)

	out.Entries = append(out.Entries, matchingBonus(ev, snap, p, out.Credited())...)

	for _, id := range touched(ev, snap) {
		ups, bonuses := RankRule(snap.node(id), p)
		out.RankUps = append(out.RankUps, ups...)
		out.Entries = append(out.Entries, bonuses...)
	}
	return out
}

func active(n *Node) bool {
	return n != nil && n.Status == model.StatusActive
}

func directReferral(ev model.Event, snap *Snapshot, p *plan.Plan) []Entry {
	user := snap.node(ev.UserID)
	if user.SponsorID == nil || !p.DirectReferralPercent.IsPositive() {
		return nil
	}
	sponsor := snap.node(*user.SponsorID)
	if !active(sponsor) {
		return nil
	}

	amount := p.Boost(p.Percent(ev.Amount, p.DirectReferralPercent), sponsor.RankCode)
	if !amount.IsPositive() {
		return nil
	}
	return []Entry{{
		Key:        model.IdempotencyKey(ev.EventID, string(model.IncomeDirectReferral), sponsor.ID, "L1"),
		UserID:     sponsor.ID,
		FromUserID: ev.UserID,
		IncomeType: model.IncomeDirectReferral,
		Amount:     amount,
		BaseAmount: ev.Amount,
		Percent:    p.DirectReferralPercent,
		Level:      1,
		Remarks:    fmt.Sprintf("Direct referral from user %d", ev.UserID),
	}}
}

// binaryPairing matches the effective legs (un-matched BV plus carry
// forward) of every ACTIVE node on the placement path.
func binaryPairing(ev model.Event, snap *Snapshot, p *plan.Plan) ([]Entry, []Pairing) {
	var (
		entries  []Entry
		pairings []Pairing
	)
	for _, ref := range snap.BinaryPath {
		n := snap.node(ref.UserID)
		if !active(n) {
			continue
		}

		effLeft := n.LeftBV.Add(n.CarryForwardLeft)
		effRight := n.RightBV.Add(n.CarryForwardRight)
		matched := decimal.Min(effLeft, effRight)
		if p.Binary.CapPerEvent.IsPositive() {
			matched = decimal.Min(matched, p.Binary.CapPerEvent)
		}
		if p.Binary.DailyCap.IsPositive() {
			matched = decimal.Min(matched, p.Binary.DailyCap.Sub(n.PairedToday))
		}
		if !matched.IsPositive() {
			continue
		}

		pairings = append(pairings, Pairing{
			UserID:            n.ID,
			Matched:           matched,
			LeftBV:            decimal.Zero,
			RightBV:           decimal.Zero,
			CarryForwardLeft:  effLeft.Sub(matched),
			CarryForwardRight: effRight.Sub(matched),
		})

		payout := p.Percent(matched, p.Binary.PayoutPercent)
		if !payout.IsPositive() {
			continue
		}
		entries = append(entries, Entry{
			Key:        model.IdempotencyKey(ev.EventID, string(model.IncomeBinaryPairing), n.ID, "pair"),
			UserID:     n.ID,
			FromUserID: ev.UserID,
			IncomeType: model.IncomeBinaryPairing,
			Amount:     payout,
			BaseAmount: matched,
			Percent:    p.Binary.PayoutPercent,
			Side:       string(ref.Side),
			Remarks:    fmt.Sprintf("Binary pairing of %s BV", matched.StringFixed(p.Places)),
		})
	}
	return entries, pairings
}

// levelCommission pays each sponsor ancestor up to the plan's level cap.
// Levels beyond an ancestor's unlocked depth produce blocked entries.
func levelCommission(ev model.Event, snap *Snapshot, p *plan.Plan) []Entry {
	var entries []Entry
	levelCap := p.LevelCap()
	for _, ref := range snap.SponsorChain {
		if ref.Level > levelCap {
			break
		}
		n := snap.node(ref.UserID)
		if !active(n) {
			continue
		}

		amount, pct := p.LevelAmount(ref.Level, ev.Amount)
		if !amount.IsPositive() {
			continue
		}

		e := Entry{
			Key:        model.IdempotencyKey(ev.EventID, string(model.IncomeLevelCommission), n.ID, fmt.Sprintf("L%d", ref.Level)),
			UserID:     n.ID,
			FromUserID: ev.UserID,
			IncomeType: model.IncomeLevelCommission,
			BaseAmount: ev.Amount,
			Percent:    pct,
			Level:      ref.Level,
		}
		if unlocked := p.UnlockedDepth(n.ActiveDirects); ref.Level > unlocked {
			e.Amount = amount
			e.Blocked = true
			e.Remarks = fmt.Sprintf("Level %d locked: %d active directs unlock %d levels", ref.Level, n.ActiveDirects, unlocked)
		} else {
			e.Amount = p.Boost(amount, n.RankCode)
			e.Remarks = fmt.Sprintf("Level %d commission from user %d", ref.Level, ev.UserID)
		}
		entries = append(entries, e)
	}
	return entries
}

// matchingBonus pays sponsors of each credited beneficiary a share of its
// commission, as deep as the sponsor's rank allows.
func matchingBonus(ev model.Event, snap *Snapshot, p *plan.Plan, credited []Entry) []Entry {
	maxDepth := p.MaxMatchingDepth()
	if maxDepth == 0 {
		return nil
	}

	var entries []Entry
	for _, src := range credited {
		cur := snap.node(src.UserID)
		for depth := 1; depth <= maxDepth && cur != nil && cur.SponsorID != nil; depth++ {
			up := snap.node(*cur.SponsorID)
			if up == nil {
				break
			}
			cur = up
			if !active(up) {
				continue
			}

			rule := p.MatchingFor(up.RankCode)
			if depth > rule.Depth || up.ActiveDirects < rule.MinDirects {
				continue
			}
			pct := rule.Percent(depth)
			amount := p.Percent(src.Amount, pct)
			if !amount.IsPositive() {
				continue
			}
			entries = append(entries, Entry{
				Key:        model.IdempotencyKey(ev.EventID, string(model.IncomeMatchingBonus), up.ID, fmt.Sprintf("%s-%d", src.IncomeType, src.UserID)),
				UserID:     up.ID,
				FromUserID: src.UserID,
				IncomeType: model.IncomeMatchingBonus,
				Amount:     amount,
				BaseAmount: src.Amount,
				Percent:    pct,
				Level:      depth,
				Remarks:    fmt.Sprintf("Matching %s of user %d at depth %d", src.IncomeType, src.UserID, depth),
			})
		}
	}
	return entries
}

// touched lists the event user, its sponsor chain and its binary path,
// each once, in that order.
func touched(ev model.Event, snap *Snapshot) []uint {
	seen := make(map[uint]bool)
	var ids []uint
	add := func(id uint) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(ev.UserID)
	for _, ref := range snap.SponsorChain {
		add(ref.UserID)
	}
	for _, ref := range snap.BinaryPath {
		add(ref.UserID)
	}
	return ids
}

// RankBonusKey identifies the one-time bonus of a rank. It does not
// depend on the event so the bonus is paid once however the rank is
// reached.
func RankBonusKey(userID uint, rankCode string) string {
	return model.IdempotencyKey("rank-bonus", string(model.IncomeRankBonus), userID, rankCode)
}

// RankRule evaluates n against the ranks above its current one and
// proposes a one-time bonus for every rank reached.
func RankRule(n *Node, p *plan.Plan) ([]RankUp, []Entry) {
	if !active(n) {
		return nil, nil
	}

	metrics := rank.MetricsOf(&n.User, n.ActiveDirects)
	var (
		ups     []RankUp
		entries []Entry
	)
	for _, r := range rank.Evaluate(n.RankOrder, p.SortedRanks(), metrics) {
		ups = append(ups, RankUp{UserID: n.ID, Rank: r, Metrics: metrics})
		bonus := p.Round(r.OneTimeBonus)
		if !bonus.IsPositive() {
			continue
		}
		entries = append(entries, Entry{
			Key:        RankBonusKey(n.ID, r.Code),
			UserID:     n.ID,
			FromUserID: n.ID,
			IncomeType: model.IncomeRankBonus,
			Amount:     bonus,
			BaseAmount: bonus,
			Remarks:    fmt.Sprintf("One-time bonus for reaching %s", r.Name),
		})
	}
	return ups, entries
}
