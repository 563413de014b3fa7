package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNotifierWritesFacts(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	f := NewFact(KindRankChanged, 7, map[string]interface{}{"to": "GOLD"})
	NewLogNotifier(log).Notify(context.Background(), f)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, KindRankChanged, entry["kind"])
	assert.Equal(t, f.ID.String(), entry["fact_id"])
	assert.EqualValues(t, 7, entry["user_id"])
}

func TestRecorderFiltersByKind(t *testing.T) {
	r := &Recorder{}
	r.Notify(context.Background(),
		NewFact(KindRankChanged, 1, nil),
		NewFact(KindRewardPaid, 1, nil),
		NewFact(KindRankChanged, 2, nil),
	)

	assert.Len(t, r.Facts, 3)
	assert.Len(t, r.OfKind(KindRankChanged), 2)
	assert.Empty(t, r.OfKind(KindEventParked))
}

func TestFactsHaveDistinctIDs(t *testing.T) {
	a := NewFact(KindRewardPaid, 1, nil)
	b := NewFact(KindRewardPaid, 1, nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.OccurredAt.IsZero())
}
