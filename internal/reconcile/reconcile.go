// Package reconcile periodically checks the conservation law between the
// stored wallets and the ledger. Drift is reported, never corrected.
package reconcile

import (
	"context"
	"time"

	"compensation-engine/internal/config"
	"compensation-engine/internal/metrics"
	"compensation-engine/internal/model"
	"compensation-engine/internal/repository"
	"compensation-engine/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const runTimeout = 2 * time.Minute

// Drift is one wallet field that disagrees with the ledger.
type Drift struct {
	UserID uint
	Field  string
	Stored decimal.Decimal
	Ledger decimal.Decimal
}

type Reconciler struct {
	store     *repository.Store
	batchSize int
	interval  time.Duration
	log       *logrus.Logger
}

func New(store *repository.Store, cfg config.ReconcileConfig, log *logrus.Logger) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Reconciler{
		store:     store,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		log:       log,
	}
}

// Run reconciles once at start and then on every interval until ctx is
// done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("stopping reconciler")
			return nil
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	if _, err := r.Check(ctx); err != nil && ctx.Err() == nil {
		r.log.WithError(err).Error("wallet reconciliation failed")
	}
}

// Check compares every wallet with the fold of its ledger rows up to the
// last row the wallet has applied.
func (r *Reconciler) Check(ctx context.Context) ([]Drift, error) {
	repos := r.store.Repos()
	total, err := repos.Wallets.Count(ctx)
	if err != nil {
		metrics.RecordReconcile("error", 0)
		return nil, err
	}
	if total == 0 {
		metrics.RecordReconcile("ok", 0)
		r.log.Debug("no wallets to reconcile")
		return nil, nil
	}

	var (
		drifts  []Drift
		checked int
	)
	for offset := 0; ; {
		wallets, err := repos.Wallets.List(ctx, r.batchSize, offset)
		if err != nil {
			metrics.RecordReconcile("error", len(drifts))
			return drifts, err
		}
		if len(wallets) == 0 {
			break
		}

		for i := range wallets {
			found, err := r.checkWallet(ctx, repos, &wallets[i])
			if err != nil {
				metrics.RecordReconcile("error", len(drifts))
				return drifts, err
			}
			drifts = append(drifts, found...)
			checked++
		}

		offset += len(wallets)
		if len(wallets) < r.batchSize {
			break
		}
		if ctx.Err() != nil {
			metrics.RecordReconcile("error", len(drifts))
			return drifts, ctx.Err()
		}
	}

	result := "ok"
	if len(drifts) > 0 {
		result = "drift"
	}
	metrics.RecordReconcile(result, len(drifts))
	r.log.WithFields(logrus.Fields{
		"checked": checked,
		"total":   total,
		"drifts":  len(drifts),
	}).Info("wallet reconciliation completed")
	return drifts, nil
}

func (r *Reconciler) checkWallet(ctx context.Context, repos *repository.Set, stored *model.Wallet) ([]Drift, error) {
	txs, err := repos.Transactions.ListByUser(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}
	applied := txs[:0]
	for _, tx := range txs {
		if tx.ID <= stored.LastTransactionID {
			applied = append(applied, tx)
		}
	}

	folded, err := wallet.Fold(stored.UserID, applied)
	if err != nil {
		return []Drift{{UserID: stored.UserID, Field: "ledger: " + err.Error()}}, nil
	}

	fields := []struct {
		name           string
		stored, ledger decimal.Decimal
	}{
		{"investment_balance", stored.InvestmentBalance, folded.InvestmentBalance},
		{"commission_balance", stored.CommissionBalance, folded.CommissionBalance},
		{"rental_income_balance", stored.RentalIncomeBalance, folded.RentalIncomeBalance},
		{"roi_balance", stored.ROIBalance, folded.ROIBalance},
		{"locked_balance", stored.LockedBalance, folded.LockedBalance},
		{"total_earned", stored.TotalEarned, folded.TotalEarned},
		{"total_withdrawn", stored.TotalWithdrawn, folded.TotalWithdrawn},
		{"total_invested", stored.TotalInvested, folded.TotalInvested},
	}

	var drifts []Drift
	for _, f := range fields {
		if f.stored.Equal(f.ledger) {
			continue
		}
		d := Drift{UserID: stored.UserID, Field: f.name, Stored: f.stored, Ledger: f.ledger}
		drifts = append(drifts, d)
		r.log.WithFields(logrus.Fields{
			"user_id": d.UserID,
			"field":   d.Field,
			"stored":  d.Stored.String(),
			"ledger":  d.Ledger.String(),
		}).Warn("wallet drifted from ledger")
	}
	return drifts, nil
}
