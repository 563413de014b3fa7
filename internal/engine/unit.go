package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/commission"
	"compensation-engine/internal/genealogy"
	"compensation-engine/internal/ledger"
	"compensation-engine/internal/metrics"
	"compensation-engine/internal/model"
	"compensation-engine/internal/notify"
	"compensation-engine/internal/plan"
	"compensation-engine/internal/repository"
	"compensation-engine/internal/volume"
	"github.com/sirupsen/logrus"
)

// unit is the state of one transaction. Postings are queued and committed
// to the ledger together by flush.
type unit struct {
	e        *Engine
	rs       *repository.Set
	plan     *plan.Plan
	ev       model.Event
	res      *Result
	postings []ledger.Posting
}

func (e *Engine) newUnit(rs *repository.Set, p *plan.Plan, ev model.Event) *unit {
	ev.Amount = p.Round(ev.Amount)
	return &unit{
		e:    e,
		rs:   rs,
		plan: p,
		ev:   ev,
		res:  &Result{EventID: ev.EventID},
	}
}

func (u *unit) run(ctx context.Context) error {
	var err error
	switch u.ev.Type {
	case model.EventRegistration:
		err = u.register(ctx)
	case model.EventInvestment, model.EventEPinActivation:
		err = u.invest(ctx)
	case model.EventDeposit:
		err = u.deposit(ctx)
	case model.EventWithdrawal:
		err = u.withdraw(ctx)
	case model.EventROI, model.EventRentalIncome, model.EventPropertyAppreciation:
		err = u.earn(ctx)
	default:
		err = fmt.Errorf("event %s: unknown type %q: %w", u.ev.EventID, u.ev.Type, apperr.ErrInvalidEvent)
	}
	if err != nil {
		return err
	}
	return u.flush(ctx)
}

func (u *unit) graph() *genealogy.Graph {
	return genealogy.New(u.rs.Users, u.plan.TreeDepthCeiling)
}

func (u *unit) post(p ledger.Posting) {
	if p.EventID == "" {
		p.EventID = u.ev.EventID
	}
	u.postings = append(u.postings, p)
}

func (u *unit) flush(ctx context.Context) error {
	if len(u.postings) == 0 {
		return nil
	}
	written, err := u.e.ledger.Commit(ctx, u.rs, u.plan.Version, u.postings)
	if err != nil {
		return err
	}
	u.postings = nil
	u.res.Transactions = append(u.res.Transactions, written...)
	return nil
}

func (u *unit) key(kind string, qualifier string) string {
	return model.IdempotencyKey(u.ev.EventID, kind, u.ev.UserID, qualifier)
}

// register seats a new, not yet active member in both trees.
func (u *unit) register(ctx context.Context) error {
	ev := u.ev
	child := &model.User{
		ID:       ev.UserID,
		Username: ev.Username,
		Status:   model.StatusInactive,
	}
	var side model.Side
	if ev.PlacementUserID != nil {
		side = ev.PlacementSide
	}
	return u.graph().Attach(ctx, child, ev.SponsorID, ev.PlacementUserID, side)
}

func (u *unit) deposit(ctx context.Context) error {
	if _, err := u.rs.Users.GetUser(ctx, u.ev.UserID); err != nil {
		return err
	}
	u.post(ledger.Posting{
		Key:         u.key(string(model.EventDeposit), "principal"),
		UserID:      u.ev.UserID,
		Type:        model.Credit,
		Category:    model.CategoryInvestment,
		Purpose:     model.PurposeDeposit,
		Amount:      u.ev.Amount,
		Description: "Deposit",
	})
	return nil
}

func (u *unit) withdraw(ctx context.Context) error {
	if _, err := u.rs.Users.GetUser(ctx, u.ev.UserID); err != nil {
		return err
	}
	u.post(ledger.Posting{
		Key:         u.key(string(model.EventWithdrawal), string(u.ev.Category)),
		UserID:      u.ev.UserID,
		Type:        model.Debit,
		Category:    u.ev.Category,
		Purpose:     model.PurposeWithdrawal,
		Amount:      u.ev.Amount,
		Description: fmt.Sprintf("Withdrawal from %s balance", u.ev.Category),
	})
	return nil
}

var earningTypes = map[model.EventType]model.IncomeType{
	model.EventROI:                  model.IncomeROI,
	model.EventRentalIncome:         model.IncomeRentalIncome,
	model.EventPropertyAppreciation: model.IncomePropertyAppreciation,
}

// earn credits the user's own return on an investment.
func (u *unit) earn(ctx context.Context) error {
	if _, err := u.rs.Users.GetUser(ctx, u.ev.UserID); err != nil {
		return err
	}
	incomeType := earningTypes[u.ev.Type]
	return u.record(ctx, []commission.Entry{{
		Key:        u.key(string(incomeType), "self"),
		UserID:     u.ev.UserID,
		FromUserID: u.ev.UserID,
		IncomeType: incomeType,
		Amount:     u.ev.Amount,
		BaseAmount: u.ev.Amount,
		Remarks:    fmt.Sprintf("%s credit", incomeType),
	}})
}

// invest pushes BV up both trees, runs the commission rules over the
// locked ancestry and locks the principal.
func (u *unit) invest(ctx context.Context) error {
	ev := u.ev
	user, err := u.rs.Users.GetUser(ctx, ev.UserID)
	if err != nil {
		return err
	}
	switch user.Status {
	case model.StatusBlocked, model.StatusSuspended:
		return fmt.Errorf("user %d is %s: %w", user.ID, user.Status, apperr.ErrInvalidEvent)
	case model.StatusInactive:
		if err := u.rs.Users.SetStatus(ctx, user.ID, model.StatusActive); err != nil {
			return err
		}
	}

	g := u.graph()
	path, err := g.BinaryPath(ctx, user.ID)
	if err != nil {
		return err
	}
	chain, err := g.SponsorChain(ctx, user.ID, 0)
	if err != nil {
		return err
	}

	ids := []uint{user.ID}
	pathIDs := make([]uint, 0, len(path))
	for _, ref := range path {
		ids = append(ids, ref.UserID)
		pathIDs = append(pathIDs, ref.UserID)
	}
	for _, ref := range chain {
		ids = append(ids, ref.UserID)
	}
	// Pairing beneficiaries need their own upline for the matching bonus.
	if depth := u.plan.MaxMatchingDepth(); depth > 0 {
		for _, ref := range path {
			upline, err := g.SponsorChain(ctx, ref.UserID, depth)
			if err != nil {
				return err
			}
			for _, up := range upline {
				ids = append(ids, up.UserID)
			}
		}
	}

	users, err := u.rs.Users.LockUsers(ctx, ids)
	if err != nil {
		return err
	}
	directs, err := u.rs.Users.CountActiveDirects(ctx, ids)
	if err != nil {
		return err
	}
	paired, err := u.rs.Incomes.PairedVolumeSince(ctx, pathIDs, startOfDay(u.e.now()))
	if err != nil {
		return err
	}

	deltas := volume.Accumulate(ev.EventID, volume.Push{
		UserID:       user.ID,
		Amount:       ev.Amount,
		BinaryPath:   path,
		SponsorChain: chain,
		LevelCap:     u.plan.LevelCap(),
	})
	deltas.Apply(users)

	snap := &commission.Snapshot{
		Nodes:        make(map[uint]*commission.Node, len(users)),
		BinaryPath:   path,
		SponsorChain: chain,
	}
	for id, usr := range users {
		snap.Nodes[id] = &commission.Node{
			User:          *usr,
			ActiveDirects: directs[id],
			PairedToday:   paired[id],
		}
	}
	proposal := commission.Propose(ev, snap, u.plan)

	changed := make(map[uint]bool, len(deltas.Nodes))
	for _, id := range deltas.IDs() {
		changed[id] = true
	}
	for _, pr := range proposal.Pairings {
		usr := users[pr.UserID]
		usr.LeftBV = pr.LeftBV
		usr.RightBV = pr.RightBV
		usr.CarryForwardLeft = pr.CarryForwardLeft
		usr.CarryForwardRight = pr.CarryForwardRight
		changed[pr.UserID] = true
	}
	entries, err := u.applyRankUps(ctx, users, proposal.RankUps, proposal.Entries)
	if err != nil {
		return err
	}
	for _, up := range proposal.RankUps {
		changed[up.UserID] = true
	}

	for _, id := range sortedKeys(changed) {
		if err := u.rs.Users.SaveAggregates(ctx, users[id]); err != nil {
			return err
		}
	}
	if err := u.rs.Contributions.SaveBatch(ctx, deltas.Contributions); err != nil {
		return fmt.Errorf("failed to save contributions: %w", err)
	}

	if ev.FromWallet {
		u.post(ledger.Posting{
			Key:         u.key(string(ev.Type), "transfer"),
			UserID:      user.ID,
			Type:        model.Debit,
			Category:    model.CategoryInvestment,
			Purpose:     model.PurposeTransfer,
			Amount:      ev.Amount,
			Description: "Investment paid from wallet",
		})
	}
	u.post(ledger.Posting{
		Key:         u.key(string(ev.Type), "principal"),
		UserID:      user.ID,
		Type:        model.Credit,
		Category:    model.CategoryLocked,
		Purpose:     model.PurposeInvestment,
		Amount:      ev.Amount,
		Description: "Investment principal",
	})

	return u.record(ctx, entries)
}

// holdable income types wait for approval when the plan holds
// commissions.
func holdable(t model.IncomeType) bool {
	switch t {
	case model.IncomeDirectReferral, model.IncomeBinaryPairing, model.IncomeLevelCommission, model.IncomeMatchingBonus:
		return true
	}
	return false
}

// record writes an income row per entry and queues the credit of every
// posted one. Entries recorded before are skipped.
func (u *unit) record(ctx context.Context, entries []commission.Entry) error {
	for _, en := range entries {
		status := model.IncomeApproved
		switch {
		case en.Blocked:
			status = model.IncomeBlocked
		case u.plan.HoldCommissions && holdable(en.IncomeType):
			status = model.IncomePending
		}

		from := en.FromUserID
		income := model.Income{
			IdempotencyKey: en.Key,
			EventID:        u.ev.EventID,
			UserID:         en.UserID,
			FromUserID:     &from,
			IncomeType:     en.IncomeType,
			Amount:         en.Amount,
			BaseAmount:     en.BaseAmount,
			Percent:        en.Percent,
			Level:          en.Level,
			Side:           en.Side,
			Status:         status,
			Remarks:        truncate(en.Remarks, 255),
			PlanVersion:    u.plan.Version,
		}
		inserted, err := u.rs.Incomes.Insert(ctx, &income)
		if err != nil {
			return fmt.Errorf("failed to record income %s: %w", en.Key, err)
		}
		if !inserted {
			u.e.log.WithFields(logrus.Fields{
				"key":      en.Key,
				"event_id": u.ev.EventID,
			}).Debug("income already recorded")
			continue
		}

		metrics.RecordIncome(string(income.IncomeType), string(income.Status))
		u.res.Incomes = append(u.res.Incomes, income)
		if status.Posted() {
			u.post(creditFor(&income))
		}
	}
	return nil
}

func creditFor(income *model.Income) ledger.Posting {
	return ledger.Posting{
		Key:         income.IdempotencyKey,
		EventID:     income.EventID,
		UserID:      income.UserID,
		Type:        model.Credit,
		Category:    income.IncomeType.Category(),
		Purpose:     model.PurposeEarning,
		Amount:      income.Amount,
		IncomeType:  income.IncomeType,
		Description: income.Remarks,
	}
}

// applyRankUps records achievements and moves current ranks forward. It
// returns entries without the bonuses of ranks achieved before.
func (u *unit) applyRankUps(ctx context.Context, users map[uint]*model.User, ups []commission.RankUp, entries []commission.Entry) ([]commission.Entry, error) {
	if len(ups) == 0 {
		return entries, nil
	}

	skip := make(map[string]bool)
	for _, up := range ups {
		usr := users[up.UserID]
		granted, err := u.achieve(ctx, usr, up.Rank, up.Metrics.DirectReferrals, false, true)
		if err != nil {
			return nil, err
		}
		if !granted {
			skip[commission.RankBonusKey(usr.ID, up.Rank.Code)] = true
		}
		if up.Rank.DisplayOrder > usr.RankOrder {
			if err := u.changeRank(ctx, usr, up.Rank.Code, up.Rank.DisplayOrder, false, "", "qualified"); err != nil {
				return nil, err
			}
		}
	}

	out := entries[:0:0]
	for _, en := range entries {
		if en.IncomeType == model.IncomeRankBonus && skip[en.Key] {
			continue
		}
		out = append(out, en)
	}
	return out, nil
}

// achieve inserts the achievement of r for usr and, when the bonus is
// paid, its ONE_TIME reward row. It reports whether the achievement is
// new. An automatic re-achievement without any manual rank change means
// the stored rank lost track of the achievements.
func (u *unit) achieve(ctx context.Context, usr *model.User, r plan.Rank, directs int, manual, payBonus bool) (bool, error) {
	now := u.e.now()
	bonus := u.plan.Round(r.OneTimeBonus)
	paid := payBonus && bonus.IsPositive()

	a := &model.RankAchievement{
		UserID:             usr.ID,
		RankCode:           r.Code,
		RankName:           r.Name,
		DisplayOrder:       r.DisplayOrder,
		AchievedAt:         now,
		OneTimeBonus:       bonus,
		BonusPaid:          paid,
		DirectReferrals:    directs,
		TeamInvestment:     usr.TeamInvestment,
		PersonalInvestment: usr.PersonalInvestment,
		ManualAssignment:   manual,
		EventID:            u.ev.EventID,
		PlanVersion:        u.plan.Version,
	}
	if paid {
		a.BonusPaidAt = &now
	}
	inserted, err := u.rs.Ranks.InsertAchievement(ctx, a)
	if err != nil {
		return false, fmt.Errorf("failed to record achievement: %w", err)
	}

	if !inserted {
		if manual {
			return false, nil
		}
		existing, err := u.rs.Ranks.GetAchievement(ctx, usr.ID, r.Code)
		if err != nil {
			return false, err
		}
		overridden, err := u.rs.Ranks.HasManualChange(ctx, usr.ID)
		if err != nil {
			return false, err
		}
		if !existing.ManualAssignment && !overridden {
			return false, fmt.Errorf("user %d already holds %s from event %s: %w",
				usr.ID, r.Code, existing.EventID, apperr.ErrDuplicateAchievement)
		}
		return false, nil
	}

	if !paid {
		return true, nil
	}
	reward := &model.RankReward{
		UserID:         usr.ID,
		RankCode:       r.Code,
		RewardType:     model.RewardOneTime,
		PeriodMonth:    int(now.Month()),
		PeriodYear:     now.Year(),
		Amount:         bonus,
		Status:         model.RewardPaid,
		TransactionKey: commission.RankBonusKey(usr.ID, r.Code),
		ProcessedAt:    &now,
		Notes:          "paid on achievement",
		PlanVersion:    u.plan.Version,
	}
	if _, err := u.rs.Rewards.Insert(ctx, reward); err != nil {
		return false, fmt.Errorf("failed to record one-time reward: %w", err)
	}
	u.res.facts = append(u.res.facts, notify.NewFact(notify.KindRewardPaid, usr.ID, map[string]interface{}{
		"rank":        r.Code,
		"reward_type": model.RewardOneTime,
		"amount":      bonus.StringFixed(u.plan.Places),
	}))
	return true, nil
}

func (u *unit) changeRank(ctx context.Context, usr *model.User, code string, order int, manual bool, actor, reason string) error {
	change := model.RankChange{
		UserID:    usr.ID,
		FromCode:  usr.RankCode,
		FromOrder: usr.RankOrder,
		ToCode:    code,
		ToOrder:   order,
		Manual:    manual,
		Actor:     actor,
		Reason:    truncate(reason, 255),
		EventID:   u.ev.EventID,
	}
	if err := u.rs.Ranks.RecordChange(ctx, &change); err != nil {
		return fmt.Errorf("failed to record rank change: %w", err)
	}
	usr.RankCode = code
	usr.RankOrder = order

	metrics.RecordRankChange(manual)
	u.res.RankChanges = append(u.res.RankChanges, change)
	u.res.facts = append(u.res.facts, notify.NewFact(notify.KindRankChanged, usr.ID, map[string]interface{}{
		"from":     change.FromCode,
		"to":       change.ToCode,
		"manual":   manual,
		"event_id": u.ev.EventID,
	}))
	return nil
}

// evaluateRanks runs the rank rule for users outside of an investment.
func (u *unit) evaluateRanks(ctx context.Context, ids []uint) error {
	users, err := u.rs.Users.LockUsers(ctx, ids)
	if err != nil {
		return err
	}
	directs, err := u.rs.Users.CountActiveDirects(ctx, ids)
	if err != nil {
		return err
	}

	var (
		ups     []commission.RankUp
		entries []commission.Entry
	)
	for _, id := range sortedKeys(users) {
		node := &commission.Node{User: *users[id], ActiveDirects: directs[id]}
		up, bonus := commission.RankRule(node, u.plan)
		ups = append(ups, up...)
		entries = append(entries, bonus...)
	}

	entries, err = u.applyRankUps(ctx, users, ups, entries)
	if err != nil {
		return err
	}
	saved := make(map[uint]bool)
	for _, up := range ups {
		if saved[up.UserID] {
			continue
		}
		saved[up.UserID] = true
		if err := u.rs.Users.SaveAggregates(ctx, users[up.UserID]); err != nil {
			return err
		}
	}
	return u.record(ctx, entries)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sortedKeys[V any](m map[uint]V) []uint {
	keys := make([]uint, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
