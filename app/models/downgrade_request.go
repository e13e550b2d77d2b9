package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

const (
	DowngradeStatusPending   = "pending"
	DowngradeStatusCompleted = "completed"
	DowngradeStatusCanceled  = "canceled"
)

// DowngradeTokenTTL is how long a confirmation token stays valid.
const DowngradeTokenTTL = 7 * 24 * time.Hour

// DowngradeRequest is a consent-gated request to move a paying user back to
// the starter tier. At most one pending request exists per user; creating a
// new one cancels the prior pending request and mints a fresh token.
type DowngradeRequest struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UserID                uint       `gorm:"not null;index" json:"user_id"`
	CurrentTier           string     `gorm:"type:varchar(50);not null" json:"current_tier"`
	TargetTier            string     `gorm:"type:varchar(50);not null;default:'starter'" json:"target_tier"`
	Status                string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ConfirmToken          string     `gorm:"type:varchar(100);not null;index" json:"-"`
	ConfirmTokenExpiresAt time.Time  `gorm:"type:timestamp;not null" json:"confirm_token_expires_at"`
	RequestedAt           time.Time  `gorm:"autoCreateTime" json:"requested_at"`
	CompletedAt           *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"-"`
}

// GenerateConfirmToken mints a fresh high-entropy token and resets the
// 7-day expiry horizon.
func (d *DowngradeRequest) GenerateConfirmToken() error {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	d.ConfirmToken = hex.EncodeToString(b)
	d.ConfirmTokenExpiresAt = time.Now().Add(DowngradeTokenTTL)
	return nil
}

// IsTokenExpired reports whether the confirmation window has passed.
func (d *DowngradeRequest) IsTokenExpired() bool {
	return time.Now().After(d.ConfirmTokenExpiresAt)
}
