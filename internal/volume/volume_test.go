package volume

import (
	"testing"

	"compensation-engine/internal/genealogy"
	"compensation-engine/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestAccumulate(t *testing.T) {
	// 4 sits LEFT under 2, which sits RIGHT under 1. 4 was sponsored by 3,
	// 3 by 1.
	p := Push{
		UserID: 4,
		Amount: dec(1000),
		BinaryPath: []genealogy.PathRef{
			{UserID: 2, Side: model.SideLeft},
			{UserID: 1, Side: model.SideRight},
		},
		SponsorChain: []genealogy.SponsorRef{
			{UserID: 3, Level: 1},
			{UserID: 1, Level: 2},
		},
		LevelCap: 1,
	}

	d := Accumulate("evt-1", p)

	require.Contains(t, d.Nodes, uint(4))
	assert.True(t, d.Nodes[4].PersonalInvestment.Equal(dec(1000)))
	assert.True(t, d.Nodes[2].LeftBV.Equal(dec(1000)))
	assert.True(t, d.Nodes[2].RightBV.IsZero())
	assert.True(t, d.Nodes[1].RightBV.Equal(dec(1000)))
	assert.True(t, d.Nodes[1].TeamInvestment.Equal(dec(1000)))
	assert.True(t, d.Nodes[3].TeamInvestment.Equal(dec(1000)))
	assert.ElementsMatch(t, []uint{1, 2, 3, 4}, d.IDs())

	// Two binary rows plus one sponsor row; level 2 is beyond the cap.
	require.Len(t, d.Contributions, 3)
	assert.Equal(t, model.TreeBinary, d.Contributions[0].Tree)
	assert.Equal(t, 1, d.Contributions[0].Level)
	assert.Equal(t, "LEFT", d.Contributions[0].Side)
	assert.Equal(t, model.TreeSponsor, d.Contributions[2].Tree)
	assert.Equal(t, uint(3), d.Contributions[2].BeneficiaryID)
	for _, c := range d.Contributions {
		assert.Equal(t, "evt-1", c.EventID)
		assert.Equal(t, uint(4), c.FromUserID)
	}
}

func TestApply(t *testing.T) {
	users := map[uint]*model.User{
		1: {ID: 1, LeftBV: dec(300), TotalLeftBV: dec(500), TeamInvestment: dec(300)},
		4: {ID: 4},
	}
	d := Accumulate("evt-2", Push{
		UserID:       4,
		Amount:       dec(200),
		BinaryPath:   []genealogy.PathRef{{UserID: 1, Side: model.SideLeft}},
		SponsorChain: []genealogy.SponsorRef{{UserID: 1, Level: 1}},
		LevelCap:     10,
	})
	d.Apply(users)

	assert.True(t, users[1].LeftBV.Equal(dec(500)))
	assert.True(t, users[1].TotalLeftBV.Equal(dec(700)))
	assert.True(t, users[1].TeamInvestment.Equal(dec(500)))
	assert.True(t, users[4].PersonalInvestment.Equal(dec(200)))
	assert.True(t, users[1].RightBV.IsZero())
}

func TestRootInvestmentOnlyMovesPersonalVolume(t *testing.T) {
	d := Accumulate("evt-3", Push{UserID: 1, Amount: dec(50), LevelCap: 10})
	assert.Len(t, d.Nodes, 1)
	assert.Empty(t, d.Contributions)
}
