package models

import "time"

const (
	WebhookStatusReceived  = "received"
	WebhookStatusProcessed = "processed"
	WebhookStatusRejected  = "rejected"
	WebhookStatusError     = "error"
)

// WebhookEvent stores provider webhook deliveries with deduplication
// metadata for idempotent processing. Written by the ingestion pipeline,
// read by the dedupe check and by operators diagnosing provider issues.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;default:'';index" json:"event_type"`
	Status          string     `gorm:"type:varchar(16);not null;default:'received';index" json:"status"`
	ResponseCode    int        `gorm:"default:0" json:"response_code"`
	ErrorMessage    string     `gorm:"type:varchar(500);default:''" json:"error_message"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	Attempts        int        `gorm:"default:0" json:"attempts"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ReceivedAt      time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
