package entitlements

import (
	"testing"

	"github.com/LensVaultHQ/LensVault/app/models"
)

func i64(v int64) *int64 { return &v }
func i(v int) *int       { return &v }

const gb = int64(1 << 30)

func TestResolveTierCopiesCatalogValues(t *testing.T) {
	tier := &models.PlanTier{
		Name:         models.TierPro,
		StorageBytes: i64(100 * gb),
		ProjectLimit: i(50),
		MaxRevisions: i(3),
	}

	limits, err := ResolveTier(tier)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if limits.StorageBytes == nil || *limits.StorageBytes != 100*gb {
		t.Errorf("storage = %v", limits.StorageBytes)
	}
	if limits.ProjectLimit == nil || *limits.ProjectLimit != 50 {
		t.Errorf("projects = %v", limits.ProjectLimit)
	}
	if limits.CollectionLimit != nil {
		t.Error("absent catalog value must resolve to unlimited, not zero")
	}

	// Resolved limits must not alias the catalog row.
	*limits.StorageBytes = 1
	if *tier.StorageBytes != 100*gb {
		t.Error("resolver aliased the catalog row")
	}
}

func TestResolveTierNil(t *testing.T) {
	if _, err := ResolveTier(nil); err == nil {
		t.Fatal("nil tier must error")
	}
}

func TestResolveBYOSumsStorage(t *testing.T) {
	base := &models.PlanTier{Name: models.TierBYO, StorageBytes: i64(5 * gb), ProjectLimit: i(10)}
	addons := []models.PlanAddon{
		{Name: "+25GB", Type: models.AddonTypeStorage, StorageBytes: i64(25 * gb), IsActive: true},
		{Name: "+50GB", Type: models.AddonTypeStorage, StorageBytes: i64(50 * gb), IsActive: true},
	}

	limits, err := ResolveBYO(base, addons)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if limits.StorageBytes == nil || *limits.StorageBytes != 80*gb {
		t.Errorf("storage = %v, want 80GB", limits.StorageBytes)
	}
	if limits.ProjectLimit == nil || *limits.ProjectLimit != 10 {
		t.Errorf("projects = %v, base value must survive", limits.ProjectLimit)
	}
}

func TestResolveBYOUnlimitedStorageShortCircuits(t *testing.T) {
	base := &models.PlanTier{Name: models.TierBYO, StorageBytes: i64(5 * gb)}
	addons := []models.PlanAddon{
		{Name: "+25GB", Type: models.AddonTypeStorage, StorageBytes: i64(25 * gb), IsActive: true},
		{Name: "unlimited storage", Type: models.AddonTypeStorage, StorageBytes: nil, IsActive: true},
		{Name: "+50GB", Type: models.AddonTypeStorage, StorageBytes: i64(50 * gb), IsActive: true},
	}

	limits, err := ResolveBYO(base, addons)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if limits.StorageBytes != nil {
		t.Errorf("storage = %d, want unlimited", *limits.StorageBytes)
	}
	if !limits.Unlimited() {
		t.Error("Unlimited() must report the nil ceiling")
	}
}

func TestResolveBYOUnlimitedBaseStaysUnlimited(t *testing.T) {
	base := &models.PlanTier{Name: models.TierBYO, StorageBytes: nil}
	addons := []models.PlanAddon{
		{Name: "+25GB", Type: models.AddonTypeStorage, StorageBytes: i64(25 * gb), IsActive: true},
	}

	limits, err := ResolveBYO(base, addons)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if limits.StorageBytes != nil {
		t.Error("finite add-on must not cap an unlimited base")
	}
}

func TestResolveBYOOverridesNotSums(t *testing.T) {
	base := &models.PlanTier{
		Name:         models.TierBYO,
		StorageBytes: i64(5 * gb),
		ProjectLimit: i(10),
		MaxRevisions: i(2),
	}
	addons := []models.PlanAddon{
		{Name: "more projects", Type: models.AddonTypeCheckbox, ProjectLimit: i(40), IsActive: true},
		{Name: "pro revisions", Type: models.AddonTypeCheckbox, MaxRevisions: i(5), IsActive: true},
	}

	limits, err := ResolveBYO(base, addons)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if *limits.ProjectLimit != 40 {
		t.Errorf("projects = %d, want override 40 not 50", *limits.ProjectLimit)
	}
	if *limits.MaxRevisions != 5 {
		t.Errorf("revisions = %d, want 5", *limits.MaxRevisions)
	}
	// Checkbox add-ons do not touch storage.
	if limits.StorageBytes == nil || *limits.StorageBytes != 5*gb {
		t.Errorf("storage = %v, want 5GB", limits.StorageBytes)
	}
}

func TestResolveBYOLastOverrideWins(t *testing.T) {
	base := &models.PlanTier{Name: models.TierBYO, ProjectLimit: i(10)}
	addons := []models.PlanAddon{
		{Name: "a", Type: models.AddonTypeCheckbox, ProjectLimit: i(20), IsActive: true},
		{Name: "b", Type: models.AddonTypeCheckbox, ProjectLimit: i(30), IsActive: true},
	}

	limits, err := ResolveBYO(base, addons)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if *limits.ProjectLimit != 30 {
		t.Errorf("projects = %d, want 30", *limits.ProjectLimit)
	}
}

func TestResolveBYOSkipsInactiveAddons(t *testing.T) {
	base := &models.PlanTier{Name: models.TierBYO, StorageBytes: i64(5 * gb)}
	addons := []models.PlanAddon{
		{Name: "+25GB", Type: models.AddonTypeStorage, StorageBytes: i64(25 * gb), IsActive: false},
	}

	limits, err := ResolveBYO(base, addons)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if *limits.StorageBytes != 5*gb {
		t.Errorf("storage = %d, inactive add-on must not contribute", *limits.StorageBytes)
	}
}
