package plan

import "github.com/shopspring/decimal"

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// Default is the development plan. The unlock thresholds mirror the
// values shown to members in the user panel and are meant to be replaced
// by a plan file in production.
func Default() *Plan {
	return &Plan{
		Version:               "default-1",
		Places:                2,
		TreeDepthCeiling:      200,
		DirectReferralPercent: d("5"),
		TDSPercent:            d("5"),
		Binary: BinaryRule{
			PayoutPercent: d("10"),
		},
		Levels: []LevelRule{
			{Level: 1, Type: Percentage, Value: d("5")},
			{Level: 2, Type: Percentage, Value: d("3")},
			{Level: 3, Type: Percentage, Value: d("2")},
			{Level: 4, Type: Percentage, Value: d("1")},
			{Level: 5, Type: Percentage, Value: d("1")},
			{Level: 6, Type: Percentage, Value: d("0.5")},
			{Level: 7, Type: Percentage, Value: d("0.5")},
			{Level: 8, Type: Percentage, Value: d("0.5")},
			{Level: 9, Type: Percentage, Value: d("0.25")},
			{Level: 10, Type: Percentage, Value: d("0.25")},
		},
		LevelUnlocks: []LevelUnlock{
			{MinDirects: 1, Depth: 1},
			{MinDirects: 2, Depth: 2},
			{MinDirects: 3, Depth: 5},
			{MinDirects: 5, Depth: 10},
		},
		Matching: []MatchingRule{
			{Rank: "SILVER", Depth: 1, Percents: []decimal.Decimal{d("10")}},
			{Rank: "GOLD", Depth: 2, Percents: []decimal.Decimal{d("10"), d("5")}},
			{Rank: "DIAMOND", Depth: 3, MinDirects: 3, Percents: []decimal.Decimal{d("15"), d("10"), d("5")}},
		},
		Ranks: []Rank{
			{
				Code:                       "SILVER",
				Name:                       "Silver",
				DisplayOrder:               1,
				RequiredDirectReferrals:    2,
				RequiredTeamInvestment:     d("2000"),
				RequiredPersonalInvestment: d("1000"),
				OneTimeBonus:               d("100"),
				MonthlyBonus:               d("25"),
				Benefits:                   []string{"Matching bonus on level 1"},
			},
			{
				Code:                       "GOLD",
				Name:                       "Gold",
				DisplayOrder:               2,
				RequiredDirectReferrals:    4,
				RequiredTeamInvestment:     d("10000"),
				RequiredPersonalInvestment: d("2500"),
				RequireActiveLegs:          true,
				OneTimeBonus:               d("500"),
				MonthlyBonus:               d("100"),
				CommissionBoostPercent:     d("5"),
				Benefits:                   []string{"Matching bonus on levels 1-2", "5% commission boost"},
			},
			{
				Code:                       "DIAMOND",
				Name:                       "Diamond",
				DisplayOrder:               3,
				RequiredDirectReferrals:    8,
				RequiredTeamInvestment:     d("100000"),
				RequiredPersonalInvestment: d("10000"),
				RequireActiveLegs:          true,
				OneTimeBonus:               d("5000"),
				MonthlyBonus:               d("1000"),
				CommissionBoostPercent:     d("10"),
				Benefits:                   []string{"Matching bonus on levels 1-3", "10% commission boost"},
			},
		},
		ClubTiers: []ClubTier{
			{
				Code:                 "MILLIONAIRE",
				Name:                 "Millionaire Club",
				DisplayOrder:         1,
				RequiredTeamBusiness: d("10000000"),
				NewSalesPercent:      d("10"),
				StrongLegMaxPercent:  d("60"),
				WeakLegsMinPercent:   d("40"),
				BonusPercent:         d("1"),
			},
			{
				Code:                 "RISING_STARS",
				Name:                 "Rising Stars Club",
				DisplayOrder:         2,
				RequiredTeamBusiness: d("25000000"),
				NewSalesPercent:      d("10"),
				StrongLegMaxPercent:  d("60"),
				WeakLegsMinPercent:   d("40"),
				BonusPercent:         d("1"),
			},
			{
				Code:                 "BUSINESS_LEADERS",
				Name:                 "Business Leaders Club",
				DisplayOrder:         3,
				RequiredTeamBusiness: d("50000000"),
				NewSalesPercent:      d("10"),
				StrongLegMaxPercent:  d("60"),
				WeakLegsMinPercent:   d("40"),
				BonusPercent:         d("1"),
			},
		},
	}
}
