package repository

import (
	"context"
	"errors"
	"sort"

	"compensation-engine/internal/apperr"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store owns the database handle and opens units of work over it.
type Store struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewStore(db *gorm.DB, log *logrus.Logger) *Store {
	return &Store{
		db:  db,
		log: log,
	}
}

// Set groups repositories bound to one connection or transaction.
type Set struct {
	Users         *UserRepository
	Contributions *ContributionRepository
	Transactions  *TransactionRepository
	Wallets       *WalletRepository
	Incomes       *IncomeRepository
	Ranks         *RankRepository
	Rewards       *RewardRepository
	Events        *EventRepository
}

func newSet(db *gorm.DB, log *logrus.Logger) *Set {
	return &Set{
		Users:         NewUserRepository(db, log),
		Contributions: NewContributionRepository(db, log),
		Transactions:  NewTransactionRepository(db, log),
		Wallets:       NewWalletRepository(db, log),
		Incomes:       NewIncomeRepository(db, log),
		Ranks:         NewRankRepository(db, log),
		Rewards:       NewRewardRepository(db, log),
		Events:        NewEventRepository(db, log),
	}
}

// Repos returns repositories outside of any transaction, for reads.
func (s *Store) Repos() *Set {
	return newSet(s.db, s.log)
}

// InTx runs fn in one database transaction. Any error rolls back every
// write made through the Set.
func (s *Store) InTx(ctx context.Context, fn func(rs *Set) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newSet(tx, s.log))
	})
}

// forUpdate adds a row lock. SQLite serializes writers on its own and has
// no FOR UPDATE clause.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// sortedIDs dedups ids and orders them ascending so concurrent lockers
// acquire rows in the same order.
// inChunk bounds the size of IN lists sent to the database.
const inChunk = 500

// chunks splits sorted unique ids into IN-list sized slices.
func chunks(ids []uint) [][]uint {
	ids = sortedIDs(ids)
	var out [][]uint
	for len(ids) > inChunk {
		out = append(out, ids[:inChunk])
		ids = ids[inChunk:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func sortedIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrNotFound
	}
	return err
}
