package models

import "time"

const (
	TierStarter  = "starter"
	TierPro      = "pro"
	TierStudio   = "studio"
	TierBusiness = "business"
	TierBYO      = "byo"
)

const (
	AddonTypeCheckbox = "checkbox"
	AddonTypeStorage  = "storage"
)

// PlanTier is an admin-managed catalog row carrying the limit set for a
// fixed tier, or the base limits when Name is "byo". Null columns mean
// unlimited.
type PlanTier struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"name"`
	StorageBytes    *int64    `gorm:"default:null" json:"storage_bytes"`
	ProjectLimit    *int      `gorm:"default:null" json:"project_limit"`
	CollectionLimit *int      `gorm:"default:null" json:"collection_limit"`
	SelectionLimit  *int      `gorm:"default:null" json:"selection_limit"`
	ProofingLimit   *int      `gorm:"default:null" json:"proofing_limit"`
	RawFileLimit    *int      `gorm:"default:null" json:"raw_file_limit"`
	MaxRevisions    *int      `gorm:"default:null" json:"max_revisions"`
	WatermarkLimit  *int      `gorm:"default:null" json:"watermark_limit"`
	PresetLimit     *int      `gorm:"default:null" json:"preset_limit"`
	TeamSeats       *int      `gorm:"default:null" json:"team_seats"`
	MonthlyAmount   int64     `gorm:"not null;default:0" json:"monthly_amount"`
	AnnualAmount    int64     `gorm:"not null;default:0" json:"annual_amount"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PlanAddon is a build-your-own add-on. Checkbox add-ons may override limit
// fields; storage add-ons additionally grant StorageBytes on top of the base
// package. A null override leaves the base value untouched except when the
// override itself is the unlimited marker (see entitlements resolver).
type PlanAddon struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	Type            string    `gorm:"type:varchar(16);not null;default:'checkbox'" json:"type"`
	StorageBytes    *int64    `gorm:"default:null" json:"storage_bytes"`
	ProjectLimit    *int      `gorm:"default:null" json:"project_limit"`
	CollectionLimit *int      `gorm:"default:null" json:"collection_limit"`
	SelectionLimit  *int      `gorm:"default:null" json:"selection_limit"`
	ProofingLimit   *int      `gorm:"default:null" json:"proofing_limit"`
	RawFileLimit    *int      `gorm:"default:null" json:"raw_file_limit"`
	MaxRevisions    *int      `gorm:"default:null" json:"max_revisions"`
	WatermarkLimit  *int      `gorm:"default:null" json:"watermark_limit"`
	PresetLimit     *int      `gorm:"default:null" json:"preset_limit"`
	TeamSeats       *int      `gorm:"default:null" json:"team_seats"`
	MonthlyAmount   int64     `gorm:"not null;default:0" json:"monthly_amount"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func ValidTier(tier string) bool {
	switch tier {
	case TierStarter, TierPro, TierStudio, TierBusiness, TierBYO:
		return true
	default:
		return false
	}
}

func ValidBillingCycle(cycle string) bool {
	return cycle == BillingCycleMonthly || cycle == BillingCycleAnnual
}
