// Package wallet projects ledger rows onto per-user wallet balances.
package wallet

import (
	"context"
	"fmt"
	"sort"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/model"
	"compensation-engine/internal/repository"
	"github.com/sirupsen/logrus"
)

// Project folds txs, in commit order, into w.
func Project(w *model.Wallet, txs []model.Transaction) error {
	for i := range txs {
		if err := apply(w, &txs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Fold rebuilds a wallet from scratch.
func Fold(userID uint, txs []model.Transaction) (model.Wallet, error) {
	w := model.Wallet{UserID: userID}
	err := Project(&w, txs)
	return w, err
}

func apply(w *model.Wallet, tx *model.Transaction) error {
	balance := w.Balance(tx.Category)
	if balance == nil {
		return fmt.Errorf("transaction %s: unknown category %q: %w", tx.IdempotencyKey, tx.Category, apperr.ErrInvalidEvent)
	}

	switch tx.Type {
	case model.Credit:
		*balance = balance.Add(tx.Amount)
		switch tx.Purpose {
		case model.PurposeEarning:
			w.TotalEarned = w.TotalEarned.Add(tx.Amount)
		case model.PurposeInvestment:
			w.TotalInvested = w.TotalInvested.Add(tx.Amount)
		case model.PurposeReversal:
			if tx.ReversedPurpose == model.PurposeWithdrawal {
				w.TotalWithdrawn = w.TotalWithdrawn.Sub(tx.Amount)
			}
		}
	case model.Debit:
		if (tx.Purpose == model.PurposeWithdrawal || tx.Purpose == model.PurposeTransfer) && balance.LessThan(tx.Amount) {
			return fmt.Errorf("user %d %s balance %s below %s: %w",
				tx.UserID, tx.Category, balance.StringFixed(2), tx.Amount.StringFixed(2), apperr.ErrInsufficientFunds)
		}
		*balance = balance.Sub(tx.Amount)
		switch tx.Purpose {
		case model.PurposeWithdrawal:
			w.TotalWithdrawn = w.TotalWithdrawn.Add(tx.Amount)
		case model.PurposeReversal:
			switch tx.ReversedPurpose {
			case model.PurposeEarning:
				w.TotalEarned = w.TotalEarned.Sub(tx.Amount)
			case model.PurposeInvestment:
				w.TotalInvested = w.TotalInvested.Sub(tx.Amount)
			}
		}
	default:
		return fmt.Errorf("transaction %s: unknown type %q: %w", tx.IdempotencyKey, tx.Type, apperr.ErrInvalidEvent)
	}

	if tx.ID > w.LastTransactionID {
		w.LastTransactionID = tx.ID
	}
	return nil
}

// Projector keeps stored wallets in step with newly committed ledger rows.
// It runs inside the committing transaction.
type Projector struct {
	log *logrus.Logger
}

func NewProjector(log *logrus.Logger) *Projector {
	return &Projector{log: log}
}

// Apply locks the wallets of the affected users in ascending user order,
// folds in their new rows and saves them.
func (p *Projector) Apply(ctx context.Context, rs *repository.Set, txs []model.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	byUser := make(map[uint][]model.Transaction)
	for _, tx := range txs {
		byUser[tx.UserID] = append(byUser[tx.UserID], tx)
	}
	ids := make([]uint, 0, len(byUser))
	for id := range byUser {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	wallets, err := rs.Wallets.GetForUpdate(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to lock wallets: %w", err)
	}

	for _, id := range ids {
		w, ok := wallets[id]
		if !ok {
			return fmt.Errorf("wallet of user %d missing after create: %w", id, apperr.ErrConflict)
		}
		rows := byUser[id]
		sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
		if err := Project(w, rows); err != nil {
			return err
		}
		if err := rs.Wallets.Save(ctx, w); err != nil {
			return err
		}

		p.log.WithFields(logrus.Fields{
			"user_id":      id,
			"transactions": len(rows),
			"last_tx":      w.LastTransactionID,
		}).Debug("wallet projected")
	}
	return nil
}
