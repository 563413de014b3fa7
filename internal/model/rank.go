package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RankAchievement is the append-only fact that a user reached a rank.
type RankAchievement struct {
	ID                 uint            `gorm:"primarykey" json:"id"`
	CreatedAt          time.Time       `json:"created_at"`
	UserID             uint            `gorm:"uniqueIndex:idx_user_rank;not null" json:"user_id"`
	RankCode           string          `gorm:"size:32;uniqueIndex:idx_user_rank;not null" json:"rank_code"`
	RankName           string          `gorm:"size:64" json:"rank_name"`
	DisplayOrder       int             `gorm:"not null" json:"display_order"`
	AchievedAt         time.Time       `json:"achieved_at"`
	OneTimeBonus       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"one_time_bonus"`
	BonusPaid          bool            `gorm:"not null;default:false" json:"bonus_paid"`
	BonusPaidAt        *time.Time      `json:"bonus_paid_at"`
	DirectReferrals    int             `json:"direct_referrals"`
	TeamInvestment     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"team_investment"`
	PersonalInvestment decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"personal_investment"`
	ManualAssignment   bool            `gorm:"not null;default:false" json:"manual_assignment"`
	EventID            string          `gorm:"size:128" json:"event_id"`
	PlanVersion        string          `gorm:"size:32" json:"plan_version"`
}

// TableName specifies the table name
func (RankAchievement) TableName() string {
	return "rank_achievements"
}

// RankChange is the audit trail of a user's current rank. Manual rows are
// the only ones allowed to lower DisplayOrder.
type RankChange struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	FromCode  string    `gorm:"size:32" json:"from_code"`
	FromOrder int       `json:"from_order"`
	ToCode    string    `gorm:"size:32;not null" json:"to_code"`
	ToOrder   int       `json:"to_order"`
	Manual    bool      `gorm:"not null;default:false" json:"manual"`
	Actor     string    `gorm:"size:64" json:"actor"`
	Reason    string    `gorm:"size:255" json:"reason"`
	EventID   string    `gorm:"size:128" json:"event_id"`
}

// TableName specifies the table name
func (RankChange) TableName() string {
	return "rank_changes"
}

type RewardType string

const (
	RewardOneTime           RewardType = "ONE_TIME"
	RewardMonthlyLeadership RewardType = "MONTHLY_LEADERSHIP"
	// RewardClub rows carry the club tier code in RankCode.
	RewardClub RewardType = "CLUB_BONUS"
)

// ScheduledRewardTypes are the reward types paid by the monthly batches.
var ScheduledRewardTypes = []RewardType{RewardMonthlyLeadership, RewardClub}

// IncomeType is the income a paid reward is recorded as.
func (t RewardType) IncomeType() IncomeType {
	if t == RewardClub {
		return IncomeClub
	}
	return IncomeLeadershipBonus
}

type RewardStatus string

const (
	RewardPending   RewardStatus = "PENDING"
	RewardProcessed RewardStatus = "PROCESSED"
	RewardPaid      RewardStatus = "PAID"
	RewardFailed    RewardStatus = "FAILED"
)

// RankReward is a scheduled distribution for one (user, rank, period).
type RankReward struct {
	ID             uint            `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	UserID         uint            `gorm:"uniqueIndex:idx_reward_period;not null" json:"user_id"`
	RankCode       string          `gorm:"size:32;uniqueIndex:idx_reward_period;not null" json:"rank_code"`
	RewardType     RewardType      `gorm:"size:24;uniqueIndex:idx_reward_period;not null" json:"reward_type"`
	PeriodMonth    int             `gorm:"uniqueIndex:idx_reward_period;not null" json:"period_month"`
	PeriodYear     int             `gorm:"uniqueIndex:idx_reward_period;not null;index:idx_reward_status" json:"period_year"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	BaseAmount     decimal.Decimal `gorm:"type:decimal(20,2)" json:"base_amount"`
	Percent        decimal.Decimal `gorm:"type:decimal(7,4)" json:"percent"`
	GrossAmount    decimal.Decimal `gorm:"type:decimal(20,2)" json:"gross_amount"`
	TDSAmount      decimal.Decimal `gorm:"type:decimal(20,2)" json:"tds_amount"`
	Status         RewardStatus    `gorm:"size:16;not null;index:idx_reward_status" json:"status"`
	TransactionKey string          `gorm:"size:191" json:"transaction_key"`
	ProcessedAt    *time.Time      `json:"processed_at"`
	FailureReason  string          `gorm:"size:255" json:"failure_reason"`
	Notes          string          `gorm:"size:255" json:"notes"`
	PlanVersion    string          `gorm:"size:32" json:"plan_version"`
}

// TableName specifies the table name
func (RankReward) TableName() string {
	return "rank_rewards"
}
