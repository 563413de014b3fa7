// Package ledger appends immutable, idempotent rows to the transaction
// table and hands newly written rows to the wallet projection in the same
// database transaction.
package ledger

import (
	"context"
	"fmt"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/model"
	"compensation-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Posting is a ledger row before commit.
type Posting struct {
	Key             string
	EventID         string
	UserID          uint
	Type            model.TxType
	Category        model.Category
	Purpose         model.Purpose
	Amount          decimal.Decimal
	IncomeType      model.IncomeType
	ReversesKey     string
	ReversedPurpose model.Purpose
	Description     string
}

func (p Posting) validate() error {
	switch {
	case p.Key == "":
		return fmt.Errorf("posting without idempotency key: %w", apperr.ErrInvalidEvent)
	case p.UserID == 0:
		return fmt.Errorf("posting %s without user: %w", p.Key, apperr.ErrInvalidEvent)
	case p.Type != model.Credit && p.Type != model.Debit:
		return fmt.Errorf("posting %s: type %q: %w", p.Key, p.Type, apperr.ErrInvalidEvent)
	case !p.Category.Valid():
		return fmt.Errorf("posting %s: category %q: %w", p.Key, p.Category, apperr.ErrInvalidEvent)
	case !p.Amount.IsPositive():
		return fmt.Errorf("posting %s: amount %s: %w", p.Key, p.Amount, apperr.ErrInvalidEvent)
	}
	return nil
}

// Projector folds newly written rows into derived state.
type Projector interface {
	Apply(ctx context.Context, rs *repository.Set, txs []model.Transaction) error
}

type Store struct {
	projector Projector
	log       *logrus.Logger
}

func NewStore(projector Projector, log *logrus.Logger) *Store {
	return &Store{
		projector: projector,
		log:       log,
	}
}

// Commit appends postings within rs's transaction. A posting whose key is
// already in the ledger was applied before and is skipped. The returned
// rows are the ones written by this call.
func (s *Store) Commit(ctx context.Context, rs *repository.Set, planVersion string, postings []Posting) ([]model.Transaction, error) {
	for _, p := range postings {
		if err := p.validate(); err != nil {
			return nil, err
		}
	}

	written := make([]model.Transaction, 0, len(postings))
	for _, p := range postings {
		txn := model.Transaction{
			TxnID:           uuid.New(),
			IdempotencyKey:  p.Key,
			EventID:         p.EventID,
			UserID:          p.UserID,
			Type:            p.Type,
			Category:        p.Category,
			Purpose:         p.Purpose,
			Amount:          p.Amount,
			IncomeType:      p.IncomeType,
			ReversesKey:     p.ReversesKey,
			ReversedPurpose: p.ReversedPurpose,
			Description:     p.Description,
			PlanVersion:     planVersion,
		}
		inserted, err := rs.Transactions.Insert(ctx, &txn)
		if err != nil {
			return nil, fmt.Errorf("failed to append %s: %w", p.Key, err)
		}
		if !inserted {
			s.log.WithFields(logrus.Fields{
				"key":     p.Key,
				"user_id": p.UserID,
			}).Debug("ledger key already applied")
			continue
		}
		written = append(written, txn)
	}

	if err := s.projector.Apply(ctx, rs, written); err != nil {
		return nil, err
	}
	return written, nil
}

// ReversalKey is the key of the row compensating the row with key.
func ReversalKey(key string) string {
	return "reversal:" + key
}

// Reverse appends the compensating row for the ledger row with key. It is
// idempotent: reversing twice returns the existing compensation.
func (s *Store) Reverse(ctx context.Context, rs *repository.Set, key, reason, planVersion string) (*model.Transaction, error) {
	original, err := rs.Transactions.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if original.Purpose == model.PurposeReversal {
		return nil, fmt.Errorf("transaction %s is a reversal: %w", key, apperr.ErrInvalidTransition)
	}

	opposite := model.Debit
	if original.Type == model.Debit {
		opposite = model.Credit
	}
	written, err := s.Commit(ctx, rs, planVersion, []Posting{{
		Key:             ReversalKey(key),
		EventID:         original.EventID,
		UserID:          original.UserID,
		Type:            opposite,
		Category:        original.Category,
		Purpose:         model.PurposeReversal,
		Amount:          original.Amount,
		IncomeType:      original.IncomeType,
		ReversesKey:     key,
		ReversedPurpose: original.Purpose,
		Description:     reason,
	}})
	if err != nil {
		return nil, err
	}
	if len(written) == 1 {
		return &written[0], nil
	}
	return rs.Transactions.GetByKey(ctx, ReversalKey(key))
}
