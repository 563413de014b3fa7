package club

import (
	"testing"

	"compensation-engine/internal/plan"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func legs(v ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(v))
	for i := range v {
		out[i] = dec(v[i])
	}
	return out
}

func TestCheckBalance(t *testing.T) {
	required := dec(1000)
	tests := []struct {
		name   string
		legs   []decimal.Decimal
		passed bool
	}{
		{"no legs", nil, false},
		{"single leg", legs(1000), false},
		{"sixty forty", legs(400, 600), true},
		{"strong leg over sixty", legs(601, 600), false},
		{"weak legs under forty", legs(500, 200, 150), false},
		{"many small legs", legs(300, 300, 300, 300), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.passed, CheckBalance(tt.legs, required, dec(60), dec(40)).Passed)
		})
	}

	b := CheckBalance(legs(200, 600, 300), required, dec(60), dec(40))
	assert.True(t, b.StrongestLeg.Equal(dec(600)))
	assert.True(t, b.OtherLegs.Equal(dec(500)))
}

func TestEvaluate(t *testing.T) {
	p := plan.Default()
	tier, ok := p.ClubTierByCode("MILLIONAIRE")
	require.True(t, ok)

	qualified := Volume{
		Total:    dec(12000000),
		NewSales: dec(1000000),
		Legs:     legs(6000000, 4000000, 1500000),
	}
	res := Evaluate(p, tier, qualified)
	require.True(t, res.Qualified(), res.Reason)
	assert.True(t, res.Gross.Equal(dec(120000)))
	assert.True(t, res.TDS.Equal(dec(6000)))
	assert.True(t, res.Net.Equal(dec(114000)))

	tests := []struct {
		name   string
		mutate func(v *Volume)
		status Status
	}{
		{"team business", func(v *Volume) { v.Total = dec(9999999) }, DisqualifiedTeamBusiness},
		{"new sales", func(v *Volume) { v.NewSales = dec(999999) }, DisqualifiedNewSales},
		{"strong leg", func(v *Volume) { v.Legs = legs(8000000, 4000000) }, DisqualifiedBalancing},
		{"no legs", func(v *Volume) { v.Legs = nil }, DisqualifiedBalancing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := qualified
			tt.mutate(&v)
			res := Evaluate(p, tier, v)
			assert.Equal(t, tt.status, res.Status)
			assert.NotEmpty(t, res.Reason)
			assert.True(t, res.Net.IsZero())
		})
	}
}

func TestWithholdRounds(t *testing.T) {
	p := plan.Default()
	tds, net := Withhold(p, decimal.RequireFromString("100.05"))
	assert.Equal(t, "5.00", tds.StringFixed(2))
	assert.Equal(t, "95.05", net.StringFixed(2))
}
