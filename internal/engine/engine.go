// Package engine runs one event as one unit of work: graph and volume
// changes, commission rules, income rows, ledger postings and wallet
// projection commit together or not at all.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/config"
	"compensation-engine/internal/ledger"
	"compensation-engine/internal/metrics"
	"compensation-engine/internal/model"
	"compensation-engine/internal/notify"
	"compensation-engine/internal/plan"
	"compensation-engine/internal/repository"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

type Engine struct {
	store    *repository.Store
	ledger   *ledger.Store
	plans    *plan.Holder
	notifier notify.Notifier
	cfg      config.WorkerConfig
	log      *logrus.Logger
	now      func() time.Time
}

func New(
	store *repository.Store,
	ledgerStore *ledger.Store,
	plans *plan.Holder,
	notifier notify.Notifier,
	cfg config.WorkerConfig,
	log *logrus.Logger,
) *Engine {
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 10 * time.Second
	}
	return &Engine{
		store:    store,
		ledger:   ledgerStore,
		plans:    plans,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Result is what an event produced. A replayed event reports Duplicate
// and the rows written when it was first applied.
type Result struct {
	EventID      string
	Duplicate    bool
	Incomes      []model.Income
	Transactions []model.Transaction
	RankChanges  []model.RankChange

	facts []notify.Fact
}

// Process applies ev exactly once. Contention is retried with exponential
// backoff; integrity failures and exhausted retries park the event.
func (e *Engine) Process(ctx context.Context, ev model.Event) (*Result, error) {
	started := time.Now()
	if err := validate(&ev); err != nil {
		metrics.RecordEvent(string(ev.Type), "rejected", started)
		return nil, err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}

	var result *Result
	err := e.retry(ctx, logrus.Fields{"event_id": ev.EventID, "event_type": ev.Type}, func(ctx context.Context) error {
		res, err := e.processOnce(ctx, ev)
		if err == nil {
			result = res
		}
		return err
	})
	if err != nil {
		outcome := "failed"
		if apperr.Parkable(err) {
			outcome = "parked"
			e.park(ctx, ev, err)
		} else if apperr.KindOf(err) == apperr.KindValidation {
			outcome = "rejected"
		}
		metrics.RecordEvent(string(ev.Type), outcome, started)
		return nil, err
	}

	if result.Duplicate {
		metrics.RecordEvent(string(ev.Type), "duplicate", started)
		if err := e.loadApplied(ctx, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	metrics.RecordEvent(string(ev.Type), "ok", started)
	e.notifier.Notify(ctx, result.facts...)
	e.log.WithFields(logrus.Fields{
		"event_id":     ev.EventID,
		"event_type":   ev.Type,
		"user_id":      ev.UserID,
		"incomes":      len(result.Incomes),
		"transactions": len(result.Transactions),
	}).Info("event applied")
	return result, nil
}

// retry runs op with a per-attempt timeout until it succeeds, fails with
// a non-contention error, or the retry budget is spent.
func (e *Engine) retry(ctx context.Context, fields logrus.Fields, op func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, e.cfg.EventTimeout)
		defer cancel()

		err := op(actx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !apperr.Retryable(err) {
			return backoff.Permanent(err)
		}

		metrics.RecordRetry()
		e.log.WithFields(fields).WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Warn("contention, retrying")
		return err
	}

	b := backoff.NewExponentialBackOff()
	if e.cfg.InitialBackoff > 0 {
		b.InitialInterval = e.cfg.InitialBackoff
	}
	if e.cfg.MaxBackoff > 0 {
		b.MaxInterval = e.cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.MaxRetries)), ctx))
	if err != nil && ctx.Err() == nil && apperr.Retryable(err) {
		return fmt.Errorf("%w after %d attempts: %w", apperr.ErrRetriesExhausted, attempt, err)
	}
	return err
}

func (e *Engine) processOnce(ctx context.Context, ev model.Event) (*Result, error) {
	p := e.plans.Current()
	var u *unit
	err := e.store.InTx(ctx, func(rs *repository.Set) error {
		fresh, err := rs.Events.SaveEvent(ctx, &model.ProcessedEvent{
			EventID:     ev.EventID,
			UserID:      ev.UserID,
			EventType:   ev.Type,
			Amount:      ev.Amount,
			OccurredAt:  ev.Timestamp,
			PlanVersion: p.Version,
		})
		if err != nil {
			return fmt.Errorf("failed to record event: %w", err)
		}

		u = e.newUnit(rs, p, ev)
		if !fresh {
			u.res.Duplicate = true
			return nil
		}
		return u.run(ctx)
	})
	if err != nil {
		return nil, err
	}
	return u.res, nil
}

func (e *Engine) loadApplied(ctx context.Context, res *Result) error {
	repos := e.store.Repos()
	incomes, err := repos.Incomes.ListByEvent(ctx, res.EventID)
	if err != nil {
		return fmt.Errorf("failed to load incomes of %s: %w", res.EventID, err)
	}
	txns, err := repos.Transactions.ListByEvent(ctx, res.EventID)
	if err != nil {
		return fmt.Errorf("failed to load transactions of %s: %w", res.EventID, err)
	}
	res.Incomes = incomes
	res.Transactions = txns
	return nil
}

// park records ev for manual review outside the failed transaction.
func (e *Engine) park(ctx context.Context, ev model.Event, cause error) {
	kind := apperr.KindOf(cause).String()
	if errors.Is(cause, apperr.ErrRetriesExhausted) {
		kind = "exhausted"
	}
	payload, _ := json.Marshal(ev)

	err := e.store.Repos().Events.Park(context.WithoutCancel(ctx), &model.ParkedEvent{
		EventID: ev.EventID,
		UserID:  ev.UserID,
		Kind:    kind,
		Error:   truncate(cause.Error(), 1024),
		Payload: string(payload),
	})
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"event_id": ev.EventID,
			"error":    err,
		}).Error("failed to park event")
		return
	}

	metrics.RecordParked(kind)
	e.log.WithFields(logrus.Fields{
		"event_id": ev.EventID,
		"user_id":  ev.UserID,
		"kind":     kind,
		"error":    cause,
	}).Error("event parked for manual review")
	e.notifier.Notify(ctx, notify.NewFact(notify.KindEventParked, ev.UserID, map[string]interface{}{
		"event_id": ev.EventID,
		"kind":     kind,
		"error":    cause.Error(),
	}))
}

func validate(ev *model.Event) error {
	switch {
	case ev.EventID == "":
		return fmt.Errorf("missing event_id: %w", apperr.ErrInvalidEvent)
	case len(ev.EventID) > 128:
		return fmt.Errorf("event_id longer than 128: %w", apperr.ErrInvalidEvent)
	case ev.UserID == 0:
		return fmt.Errorf("event %s: missing user_id: %w", ev.EventID, apperr.ErrInvalidEvent)
	}

	switch ev.Type {
	case model.EventRegistration:
		if ev.PlacementUserID != nil && !ev.PlacementSide.Valid() {
			return fmt.Errorf("event %s: placement side %q: %w", ev.EventID, ev.PlacementSide, apperr.ErrInvalidPlacement)
		}
		return nil
	case model.EventWithdrawal:
		if ev.Category == "" {
			ev.Category = model.CategoryCommission
		}
		if !ev.Category.Valid() || ev.Category == model.CategoryLocked {
			return fmt.Errorf("event %s: cannot withdraw from %q: %w", ev.EventID, ev.Category, apperr.ErrInvalidEvent)
		}
	case model.EventInvestment, model.EventEPinActivation, model.EventDeposit,
		model.EventROI, model.EventRentalIncome, model.EventPropertyAppreciation:
	default:
		return fmt.Errorf("event %s: unknown type %q: %w", ev.EventID, ev.Type, apperr.ErrInvalidEvent)
	}

	if !ev.Amount.IsPositive() {
		return fmt.Errorf("event %s: amount must be positive: %w", ev.EventID, apperr.ErrInvalidEvent)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
