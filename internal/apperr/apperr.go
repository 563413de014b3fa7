// Package apperr classifies engine failures into the validation, integrity
// and contention families that decide whether an event is rejected, parked
// or retried.
package apperr

import (
	"context"
	"errors"
	"strings"
)

// Kind is the handling class of an error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindIntegrity
	KindContention
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindIntegrity:
		return "integrity"
	case KindContention:
		return "contention"
	}
	return "internal"
}

// Validation errors are rejected before any ledger effect.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidPlacement  = errors.New("invalid placement")
	ErrCycleDetected     = errors.New("cycle detected")
	ErrInvalidEvent      = errors.New("invalid event")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Integrity errors park the event for manual review.
var (
	ErrGraphIntegrity       = errors.New("graph integrity violation")
	ErrDuplicateAchievement = errors.New("duplicate rank achievement")
)

// Contention errors are retried with backoff.
var (
	ErrConflict         = errors.New("concurrent modification")
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// driver messages for lock and serialization failures: MySQL 1213/1205,
// PostgreSQL 40001/40P01/55P03, SQLite busy.
var contentionMarkers = []string{
	"1213",
	"Deadlock",
	"deadlock",
	"1205",
	"Lock wait timeout",
	"40001",
	"40P01",
	"55P03",
	"could not serialize",
	"database is locked",
	"database table is locked",
	"SQLITE_BUSY",
}

// KindOf classifies err.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidPlacement),
		errors.Is(err, ErrCycleDetected),
		errors.Is(err, ErrInvalidEvent),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidTransition):
		return KindValidation
	case errors.Is(err, ErrGraphIntegrity), errors.Is(err, ErrDuplicateAchievement):
		return KindIntegrity
	case errors.Is(err, ErrConflict), errors.Is(err, ErrRetriesExhausted), errors.Is(err, context.DeadlineExceeded):
		return KindContention
	}

	msg := err.Error()
	for _, marker := range contentionMarkers {
		if strings.Contains(msg, marker) {
			return KindContention
		}
	}
	return KindInternal
}

// Retryable reports whether another attempt may succeed.
func Retryable(err error) bool {
	return KindOf(err) == KindContention && !errors.Is(err, ErrRetriesExhausted)
}

// Parkable reports whether a failed event must be kept for manual review.
func Parkable(err error) bool {
	return KindOf(err) == KindIntegrity || errors.Is(err, ErrRetriesExhausted)
}
