package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/LensVaultHQ/LensVault/app/models"
	"github.com/LensVaultHQ/LensVault/internal/pkg/database"
)

// HandleAdminListTiers returns the full tier catalog, inactive rows included.
func HandleAdminListTiers(c *fiber.Ctx) error {
	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}
	var tiers []models.PlanTier
	if err := db.Order("id").Find(&tiers).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load tiers"})
	}
	return c.JSON(fiber.Map{"tiers": tiers})
}

// HandleAdminUpsertTier creates or updates a catalog tier by name.
func HandleAdminUpsertTier(c *fiber.Ctx) error {
	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	var tier models.PlanTier
	if err := c.BodyParser(&tier); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	tier.Name = strings.ToLower(strings.TrimSpace(tier.Name))
	if !models.ValidTier(tier.Name) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Unknown tier name"})
	}

	tier.ID = 0
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&tier).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to store tier"})
	}
	return c.Status(fiber.StatusCreated).JSON(tier)
}

// HandleAdminListAddons returns the add-on catalog.
func HandleAdminListAddons(c *fiber.Ctx) error {
	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}
	var addons []models.PlanAddon
	if err := db.Order("id").Find(&addons).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load add-ons"})
	}
	return c.JSON(fiber.Map{"addons": addons})
}

// HandleAdminUpsertAddon creates or updates an add-on by name.
func HandleAdminUpsertAddon(c *fiber.Ctx) error {
	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	var addon models.PlanAddon
	if err := c.BodyParser(&addon); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	addon.Name = strings.TrimSpace(addon.Name)
	if addon.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Add-on name required"})
	}
	if addon.Type == "" {
		addon.Type = models.AddonTypeCheckbox
	}
	if addon.Type != models.AddonTypeCheckbox && addon.Type != models.AddonTypeStorage {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Add-on type must be checkbox or storage"})
	}

	addon.ID = 0
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&addon).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to store add-on"})
	}
	return c.Status(fiber.StatusCreated).JSON(addon)
}

// HandleAdminIssueAPIKey mints a fresh API key for a user. The raw key is
// shown once in the response and only the hash is stored.
func HandleAdminIssueAPIKey(c *fiber.Ctx) error {
	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	userID, err := c.ParamsInt("id")
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid user id"})
	}

	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	settings, err := models.GetOrCreateUserSettings(db, user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load settings"})
	}

	rawKey, err := settings.IssueAPIKey()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Key generation failed"})
	}
	if err := db.Save(settings).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to store key"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"api_key":    rawKey,
		"key_prefix": settings.APIKeyPrefix,
		"created_at": settings.APIKeyCreatedAt,
	})
}
