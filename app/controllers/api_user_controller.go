package controllers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/LensVaultHQ/LensVault/app/models"
	"github.com/LensVaultHQ/LensVault/internal/pkg/database"
	"github.com/LensVaultHQ/LensVault/internal/pkg/usercontext"
)

// HandleGetUserAccount returns account, plan and entitlement information
// for the authenticated user.
func HandleGetUserAccount(c *fiber.Ctx) error {
	svc := getServices()
	if svc == nil {
		return serviceUnavailable(c)
	}
	userCtx := usercontext.GetUserContext(c)

	user, err := svc.Repo.GetUser(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	limits, err := svc.Reconciler.ResolveUserLimits(c.Context(), user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to resolve entitlements"})
	}

	var subscription interface{}
	if sub, err := svc.Repo.GetActiveSubscriptionByUser(user.ID); err == nil {
		subscription = sub
	}

	return c.JSON(fiber.Map{
		"id":           user.ID,
		"name":         user.Name,
		"email":        user.Email,
		"tier":         user.Tier,
		"status":       user.Status,
		"subscription": subscription,
		"entitlements": limits,
	})
}

type addonSelectionRequest struct {
	AddonIDs []uint `json:"addon_ids"`
}

// HandleSetUserAddons replaces the caller's build-your-own add-on
// selection. Takes effect on entitlements immediately; billing catches
// up at the next checkout or renewal.
func HandleSetUserAddons(c *fiber.Ctx) error {
	svc := getServices()
	if svc == nil {
		return serviceUnavailable(c)
	}
	userCtx := usercontext.GetUserContext(c)

	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	var req addonSelectionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}

	// Validate every id against the active catalog before touching rows.
	for _, id := range req.AddonIDs {
		var addon models.PlanAddon
		if err := db.Where("id = ? AND is_active = ?", id, true).First(&addon).Error; err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": fmt.Sprintf("Unknown or inactive add-on %d", id)})
		}
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userCtx.UserID).Delete(&models.UserAddon{}).Error; err != nil {
			return err
		}
		for _, id := range req.AddonIDs {
			if err := tx.Create(&models.UserAddon{UserID: userCtx.UserID, AddonID: id}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to store selection"})
	}

	// Push the new limits to the quota store as well; the selection is
	// effective immediately, not at the next webhook.
	limits, err := svc.Reconciler.RecomputeEntitlements(c.Context(), userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Selection stored, entitlements pending"})
	}
	return c.JSON(fiber.Map{"addon_ids": req.AddonIDs, "entitlements": limits})
}
