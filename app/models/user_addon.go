package models

import "time"

// UserAddon links a build-your-own user to a selected add-on. Selection
// changes trigger a synchronous entitlement recomputation.
type UserAddon struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:ux_user_addons_user_addon,unique,priority:1" json:"user_id"`
	AddonID   uint      `gorm:"not null;index:ux_user_addons_user_addon,unique,priority:2" json:"addon_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
