package engine

import (
	"context"
	"fmt"

	"compensation-engine/internal/commission"
	"compensation-engine/internal/model"
	"compensation-engine/internal/notify"
)

// RewardKey identifies the ledger credit of a monthly reward.
func RewardKey(r *model.RankReward) string {
	return model.IdempotencyKey("reward", string(r.RewardType.IncomeType()), r.UserID,
		fmt.Sprintf("%s-%04d-%02d", r.RankCode, r.PeriodYear, r.PeriodMonth))
}

// PayReward credits a PENDING monthly reward and moves it to PROCESSED.
// It reports false when the reward had already left PENDING.
func (e *Engine) PayReward(ctx context.Context, id uint) (bool, error) {
	paid := false
	_, err := e.withUnit(ctx, model.Event{EventID: fmt.Sprintf("reward:%d", id)}, func(ctx context.Context, u *unit) error {
		paid = false
		reward, err := u.rs.Rewards.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if reward.Status != model.RewardPending {
			return nil
		}

		key := RewardKey(reward)
		u.ev.UserID = reward.UserID
		err = u.record(ctx, []commission.Entry{rewardEntry(key, reward, u.plan.Places)})
		if err != nil {
			return err
		}

		now := u.e.now()
		reward.Status = model.RewardProcessed
		reward.TransactionKey = key
		reward.ProcessedAt = &now
		if err := u.rs.Rewards.Save(ctx, reward); err != nil {
			return fmt.Errorf("failed to save reward %d: %w", id, err)
		}
		u.res.facts = append(u.res.facts, notify.NewFact(notify.KindRewardPaid, reward.UserID, map[string]interface{}{
			"rank":        reward.RankCode,
			"reward_type": reward.RewardType,
			"amount":      reward.Amount.StringFixed(u.plan.Places),
			"period":      fmt.Sprintf("%04d-%02d", reward.PeriodYear, reward.PeriodMonth),
		}))
		paid = true
		return nil
	})
	return paid, err
}

func rewardEntry(key string, r *model.RankReward, places int32) commission.Entry {
	entry := commission.Entry{
		Key:        key,
		UserID:     r.UserID,
		FromUserID: r.UserID,
		IncomeType: r.RewardType.IncomeType(),
		Amount:     r.Amount,
		BaseAmount: r.Amount,
		Remarks:    fmt.Sprintf("Monthly leadership bonus %s %04d-%02d", r.RankCode, r.PeriodYear, r.PeriodMonth),
	}
	if r.RewardType == model.RewardClub {
		entry.BaseAmount = r.BaseAmount
		entry.Percent = r.Percent
		entry.Remarks = fmt.Sprintf("Club bonus %s %04d-%02d, gross %s less TDS %s", r.RankCode, r.PeriodYear, r.PeriodMonth,
			r.GrossAmount.StringFixed(places), r.TDSAmount.StringFixed(places))
	}
	return entry
}
