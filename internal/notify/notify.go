// Package notify emits the facts other systems react to: rank changes,
// paid rewards and parked events. Delivery and formatting are theirs.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	KindRankChanged = "rank.changed"
	KindRewardPaid  = "reward.paid"
	KindEventParked = "event.parked"
)

type Fact struct {
	ID         uuid.UUID              `json:"id"`
	Kind       string                 `json:"kind"`
	UserID     uint                   `json:"user_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data"`
}

func NewFact(kind string, userID uint, data map[string]interface{}) Fact {
	return Fact{
		ID:         uuid.New(),
		Kind:       kind,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Notifier delivers facts after the state they describe was committed.
// Delivery is best effort and never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, facts ...Fact)
}

// LogNotifier writes facts to the log.
type LogNotifier struct {
	log *logrus.Logger
}

func NewLogNotifier(log *logrus.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, facts ...Fact) {
	for _, f := range facts {
		n.log.WithFields(logrus.Fields{
			"fact_id": f.ID.String(),
			"kind":    f.Kind,
			"user_id": f.UserID,
			"data":    f.Data,
		}).Info("notification")
	}
}

// Recorder keeps facts in memory. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	Facts []Fact
}

func (r *Recorder) Notify(_ context.Context, facts ...Fact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Facts = append(r.Facts, facts...)
}

// OfKind returns the recorded facts of one kind.
func (r *Recorder) OfKind(kind string) []Fact {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Fact
	for _, f := range r.Facts {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}
