// Package entitlements computes the effective limit set for a user from
// either a fixed plan tier or a build-your-own base plus add-ons. The
// resolver is pure: callers re-run it whenever a tier or add-on selection
// changes and feed the result into quota and feature-gate checks.
package entitlements

import (
	"fmt"

	"github.com/LensVaultHQ/LensVault/app/models"
)

// Limits is the resolved entitlement set. A nil field means unlimited;
// it must never be collapsed to zero.
type Limits struct {
	StorageBytes    *int64 `json:"storage_bytes"`
	ProjectLimit    *int   `json:"project_limit"`
	CollectionLimit *int   `json:"collection_limit"`
	SelectionLimit  *int   `json:"selection_limit"`
	ProofingLimit   *int   `json:"proofing_limit"`
	RawFileLimit    *int   `json:"raw_file_limit"`
	MaxRevisions    *int   `json:"max_revisions"`
	WatermarkLimit  *int   `json:"watermark_limit"`
	PresetLimit     *int   `json:"preset_limit"`
	TeamSeats       *int   `json:"team_seats"`
}

// Unlimited reports whether the storage ceiling is absent.
func (l Limits) Unlimited() bool { return l.StorageBytes == nil }

// ResolveTier returns the limit set of a fixed catalog tier as-is.
func ResolveTier(tier *models.PlanTier) (Limits, error) {
	if tier == nil {
		return Limits{}, fmt.Errorf("entitlements: nil plan tier")
	}
	return limitsFromTier(tier), nil
}

// ResolveBYO starts from the base package and applies each selected
// add-on. Non-storage fields follow override-not-sum: an add-on that
// carries a value for a field replaces the base value, an add-on that
// carries nothing leaves it alone. StorageBytes is the exception: the
// base and every storage-type add-on are summed, and a storage add-on
// granting unlimited storage (nil bytes) makes the aggregate unlimited
// no matter what the finite contributions add up to.
func ResolveBYO(base *models.PlanTier, addons []models.PlanAddon) (Limits, error) {
	if base == nil {
		return Limits{}, fmt.Errorf("entitlements: nil base package")
	}

	limits := limitsFromTier(base)
	unlimitedStorage := base.StorageBytes == nil
	var storageSum int64
	if !unlimitedStorage {
		storageSum = *base.StorageBytes
	}

	for _, addon := range addons {
		if !addon.IsActive {
			continue
		}
		if addon.Type == models.AddonTypeStorage {
			if addon.StorageBytes == nil {
				unlimitedStorage = true
			} else if !unlimitedStorage {
				storageSum += *addon.StorageBytes
			}
		}
		overrideInt(&limits.ProjectLimit, addon.ProjectLimit)
		overrideInt(&limits.CollectionLimit, addon.CollectionLimit)
		overrideInt(&limits.SelectionLimit, addon.SelectionLimit)
		overrideInt(&limits.ProofingLimit, addon.ProofingLimit)
		overrideInt(&limits.RawFileLimit, addon.RawFileLimit)
		overrideInt(&limits.MaxRevisions, addon.MaxRevisions)
		overrideInt(&limits.WatermarkLimit, addon.WatermarkLimit)
		overrideInt(&limits.PresetLimit, addon.PresetLimit)
		overrideInt(&limits.TeamSeats, addon.TeamSeats)
	}

	if unlimitedStorage {
		limits.StorageBytes = nil
	} else {
		s := storageSum
		limits.StorageBytes = &s
	}
	return limits, nil
}

func limitsFromTier(t *models.PlanTier) Limits {
	return Limits{
		StorageBytes:    copyInt64(t.StorageBytes),
		ProjectLimit:    copyInt(t.ProjectLimit),
		CollectionLimit: copyInt(t.CollectionLimit),
		SelectionLimit:  copyInt(t.SelectionLimit),
		ProofingLimit:   copyInt(t.ProofingLimit),
		RawFileLimit:    copyInt(t.RawFileLimit),
		MaxRevisions:    copyInt(t.MaxRevisions),
		WatermarkLimit:  copyInt(t.WatermarkLimit),
		PresetLimit:     copyInt(t.PresetLimit),
		TeamSeats:       copyInt(t.TeamSeats),
	}
}

func overrideInt(dst **int, src *int) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// Pointers are copied so resolved limits never alias catalog rows.
func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
