package engine

import (
	"context"
	"errors"
	"fmt"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/commission"
	"compensation-engine/internal/metrics"
	"compensation-engine/internal/model"
	"compensation-engine/internal/repository"
	"github.com/sirupsen/logrus"
)

// withUnit runs fn in a transaction under the retry policy and publishes
// its facts once committed.
func (e *Engine) withUnit(ctx context.Context, ev model.Event, fn func(ctx context.Context, u *unit) error) (*Result, error) {
	var res *Result
	err := e.retry(ctx, logrus.Fields{"operation": ev.EventID}, func(ctx context.Context) error {
		p := e.plans.Current()
		return e.store.InTx(ctx, func(rs *repository.Set) error {
			u := e.newUnit(rs, p, ev)
			if err := fn(ctx, u); err != nil {
				return err
			}
			if err := u.flush(ctx); err != nil {
				return err
			}
			res = u.res
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.notifier.Notify(ctx, res.facts...)
	return res, nil
}

// ApproveIncome posts a PENDING income to the ledger.
func (e *Engine) ApproveIncome(ctx context.Context, id uint) (*model.Income, error) {
	var out *model.Income
	_, err := e.withUnit(ctx, model.Event{EventID: fmt.Sprintf("income-approve:%d", id)}, func(ctx context.Context, u *unit) error {
		income, err := u.rs.Incomes.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if income.Status != model.IncomePending {
			return fmt.Errorf("income %d is %s: %w", id, income.Status, apperr.ErrInvalidTransition)
		}
		if err := u.rs.Incomes.UpdateStatus(ctx, id, model.IncomePending, model.IncomeApproved, ""); err != nil {
			return err
		}
		income.Status = model.IncomeApproved
		u.post(creditFor(income))
		metrics.RecordIncome(string(income.IncomeType), string(income.Status))
		out = income
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"income_id": id,
		"user_id":   out.UserID,
		"amount":    out.Amount,
	}).Info("income approved")
	return out, nil
}

// RejectIncome rejects a PENDING income, or an APPROVED one by reversing
// its credit. Paid incomes cannot be rejected.
func (e *Engine) RejectIncome(ctx context.Context, id uint, reason string) (*model.Income, error) {
	var out *model.Income
	_, err := e.withUnit(ctx, model.Event{EventID: fmt.Sprintf("income-reject:%d", id)}, func(ctx context.Context, u *unit) error {
		income, err := u.rs.Incomes.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch income.Status {
		case model.IncomePending:
		case model.IncomeApproved:
			reversal, err := u.e.ledger.Reverse(ctx, u.rs, income.IdempotencyKey, truncate("Income rejected: "+reason, 255), u.plan.Version)
			if err != nil {
				return err
			}
			u.res.Transactions = append(u.res.Transactions, *reversal)
		default:
			return fmt.Errorf("income %d is %s: %w", id, income.Status, apperr.ErrInvalidTransition)
		}
		if err := u.rs.Incomes.UpdateStatus(ctx, id, income.Status, model.IncomeRejected, truncate(reason, 255)); err != nil {
			return err
		}
		income.Status = model.IncomeRejected
		income.Remarks = truncate(reason, 255)
		metrics.RecordIncome(string(income.IncomeType), string(income.Status))
		out = income
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"income_id": id,
		"user_id":   out.UserID,
		"reason":    reason,
	}).Warn("income rejected")
	return out, nil
}

// MarkIncomePaid records that an APPROVED income left the platform.
func (e *Engine) MarkIncomePaid(ctx context.Context, id uint) (*model.Income, error) {
	var out *model.Income
	_, err := e.withUnit(ctx, model.Event{EventID: fmt.Sprintf("income-paid:%d", id)}, func(ctx context.Context, u *unit) error {
		income, err := u.rs.Incomes.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if income.Status != model.IncomeApproved {
			return fmt.Errorf("income %d is %s: %w", id, income.Status, apperr.ErrInvalidTransition)
		}
		if err := u.rs.Incomes.UpdateStatus(ctx, id, model.IncomeApproved, model.IncomePaid, ""); err != nil {
			return err
		}
		income.Status = model.IncomePaid
		out = income
		return nil
	})
	return out, err
}

// RejectDeposit reverses the credit of an applied DEPOSIT event.
func (e *Engine) RejectDeposit(ctx context.Context, eventID, reason string) (*model.Transaction, error) {
	var out *model.Transaction
	_, err := e.withUnit(ctx, model.Event{EventID: "deposit-reject:" + eventID}, func(ctx context.Context, u *unit) error {
		applied, err := u.rs.Events.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if applied.EventType != model.EventDeposit {
			return fmt.Errorf("event %s is %s: %w", eventID, applied.EventType, apperr.ErrInvalidTransition)
		}
		key := model.IdempotencyKey(eventID, string(model.EventDeposit), applied.UserID, "principal")
		out, err = u.e.ledger.Reverse(ctx, u.rs, key, truncate("Deposit rejected: "+reason, 255), u.plan.Version)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"event_id": eventID,
		"user_id":  out.UserID,
		"amount":   out.Amount,
		"reason":   reason,
	}).Warn("deposit rejected")
	return out, nil
}

// RankAssignment is an admin rank override request.
type RankAssignment struct {
	UserID   uint
	RankCode string
	Actor    string
	Reason   string
	PayBonus bool
}

// AssignRank sets a user's rank. It may demote; an empty code clears the
// rank. A first achievement of the rank pays its one-time bonus only when
// PayBonus is set.
func (e *Engine) AssignRank(ctx context.Context, req RankAssignment) (*Result, error) {
	if req.Actor == "" {
		return nil, fmt.Errorf("rank assignment needs an actor: %w", apperr.ErrInvalidEvent)
	}
	ev := model.Event{
		EventID: fmt.Sprintf("rank-assign:%d:%s:%d", req.UserID, req.RankCode, e.now().UnixNano()),
		UserID:  req.UserID,
	}
	res, err := e.withUnit(ctx, ev, func(ctx context.Context, u *unit) error {
		users, err := u.rs.Users.LockUsers(ctx, []uint{req.UserID})
		if err != nil {
			return err
		}
		usr := users[req.UserID]
		if usr.RankCode == req.RankCode {
			return nil
		}

		order := 0
		if req.RankCode != "" {
			r, ok := u.plan.RankByCode(req.RankCode)
			if !ok {
				return fmt.Errorf("rank %q: %w", req.RankCode, apperr.ErrNotFound)
			}
			order = r.DisplayOrder
			directs, err := u.rs.Users.CountActiveDirects(ctx, []uint{usr.ID})
			if err != nil {
				return err
			}
			granted, err := u.achieve(ctx, usr, r, directs[usr.ID], true, req.PayBonus)
			if err != nil {
				return err
			}
			bonus := u.plan.Round(r.OneTimeBonus)
			if granted && req.PayBonus && bonus.IsPositive() {
				err := u.record(ctx, []commission.Entry{{
					Key:        commission.RankBonusKey(usr.ID, r.Code),
					UserID:     usr.ID,
					FromUserID: usr.ID,
					IncomeType: model.IncomeRankBonus,
					Amount:     bonus,
					BaseAmount: bonus,
					Remarks:    fmt.Sprintf("One-time bonus for %s (assigned by %s)", r.Name, req.Actor),
				}})
				if err != nil {
					return err
				}
			}
		}

		if err := u.changeRank(ctx, usr, req.RankCode, order, true, req.Actor, req.Reason); err != nil {
			return err
		}
		return u.rs.Users.SaveAggregates(ctx, usr)
	})
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"user_id": req.UserID,
		"rank":    req.RankCode,
		"actor":   req.Actor,
		"changes": len(res.RankChanges),
	}).Info("rank assigned")
	return res, nil
}

// SweepRanks re-evaluates every ACTIVE user. It catches ranks that became
// reachable without an investment, such as a new active direct referral.
// Each user is its own transaction; failures are logged and reported
// together.
func (e *Engine) SweepRanks(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	day := e.now().Format("2006-01-02")
	repos := e.store.Repos()

	var (
		changed int
		errs    []error
	)
	for offset := 0; ; {
		users, err := repos.Users.ListActive(ctx, batchSize, offset)
		if err != nil {
			return changed, fmt.Errorf("failed to list active users: %w", err)
		}
		for i := range users {
			id := users[i].ID
			ev := model.Event{EventID: fmt.Sprintf("rank-sweep:%s:%d", day, id), UserID: id}
			res, err := e.withUnit(ctx, ev, func(ctx context.Context, u *unit) error {
				return u.evaluateRanks(ctx, []uint{id})
			})
			if err != nil {
				if ctx.Err() != nil {
					return changed, ctx.Err()
				}
				e.log.WithFields(logrus.Fields{
					"user_id": id,
					"error":   err,
				}).Error("rank sweep failed for user")
				errs = append(errs, fmt.Errorf("user %d: %w", id, err))
				continue
			}
			changed += len(res.RankChanges)
		}
		if len(users) < batchSize {
			break
		}
		offset += len(users)
	}

	e.log.WithFields(logrus.Fields{
		"changed": changed,
		"failed":  len(errs),
	}).Info("rank sweep finished")
	return changed, errors.Join(errs...)
}
