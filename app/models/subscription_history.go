package models

import "time"

const (
	HistoryEventCreated       = "created"
	HistoryEventRenewed       = "renewed"
	HistoryEventCanceled      = "canceled"
	HistoryEventDowngraded    = "downgraded"
	HistoryEventUpgraded      = "upgraded"
	HistoryEventPaymentFailed = "payment_failed"
)

// SubscriptionHistory is an append-only ledger of subscription lifecycle
// events. Rows are never updated or deleted after insert; (event_type,
// payment_reference) acts as a natural dedupe key for redeliveries.
type SubscriptionHistory struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"not null;index" json:"user_id"`
	Provider         string    `gorm:"type:varchar(20);not null;index" json:"provider"`
	EventType        string    `gorm:"type:varchar(32);not null;index" json:"event_type"`
	FromTier         string    `gorm:"type:varchar(50);not null;default:''" json:"from_tier"`
	ToTier           string    `gorm:"type:varchar(50);not null;default:''" json:"to_tier"`
	PaymentReference string    `gorm:"type:varchar(191);not null;default:'';index" json:"payment_reference"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
