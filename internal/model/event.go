package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventRegistration         EventType = "REGISTRATION"
	EventInvestment           EventType = "INVESTMENT"
	EventEPinActivation       EventType = "EPIN_ACTIVATION"
	EventDeposit              EventType = "DEPOSIT"
	EventWithdrawal           EventType = "WITHDRAWAL"
	EventROI                  EventType = "ROI"
	EventRentalIncome         EventType = "RENTAL_INCOME"
	EventPropertyAppreciation EventType = "PROPERTY_APPRECIATION"
)

// BearsVolume reports whether the event pushes BV up the trees.
func (t EventType) BearsVolume() bool {
	return t == EventInvestment || t == EventEPinActivation
}

// Event is the message supplied by the event source. EventID seeds every
// idempotency key derived while processing it.
type Event struct {
	EventID   string          `json:"event_id"`
	UserID    uint            `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Type      EventType       `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`

	// Registration fields.
	Username        string `json:"username,omitempty"`
	SponsorID       *uint  `json:"sponsor_id,omitempty"`
	PlacementUserID *uint  `json:"placement_user_id,omitempty"`
	PlacementSide   Side   `json:"placement_side,omitempty"`

	// FromWallet funds an investment from the investment balance.
	FromWallet bool `json:"from_wallet,omitempty"`
	// Category selects the balance a withdrawal is taken from.
	Category Category `json:"category,omitempty"`
}

// ProcessedEvent marks an event id as applied. Its unique event_id makes
// the whole unit of work replay-safe.
type ProcessedEvent struct {
	ID          uint            `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	EventID     string          `gorm:"size:128;uniqueIndex:idx_event_id;not null" json:"event_id"`
	UserID      uint            `gorm:"index;not null" json:"user_id"`
	EventType   EventType       `gorm:"size:24;not null" json:"event_type"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	OccurredAt  time.Time       `json:"occurred_at"`
	PlanVersion string          `gorm:"size:32" json:"plan_version"`
}

// TableName specifies the table name
func (ProcessedEvent) TableName() string {
	return "processed_events"
}

// ParkedEvent holds an event that failed for a reason retrying cannot fix.
type ParkedEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	EventID   string    `gorm:"size:128;index;not null" json:"event_id"`
	UserID    uint      `gorm:"index" json:"user_id"`
	Kind      string    `gorm:"size:16;not null" json:"kind"`
	Error     string    `gorm:"size:1024" json:"error"`
	Payload   string    `gorm:"type:text" json:"payload"`
	Resolved  bool      `gorm:"not null;default:false" json:"resolved"`
}

// TableName specifies the table name
func (ParkedEvent) TableName() string {
	return "parked_events"
}
