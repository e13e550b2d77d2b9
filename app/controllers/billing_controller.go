package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/LensVaultHQ/LensVault/app/models"
	"github.com/LensVaultHQ/LensVault/internal/pkg/billing"
	"github.com/LensVaultHQ/LensVault/internal/pkg/database"
	"github.com/LensVaultHQ/LensVault/internal/pkg/env"
	"github.com/LensVaultHQ/LensVault/internal/pkg/payments"
	"github.com/LensVaultHQ/LensVault/internal/pkg/usercontext"
)

type checkoutRequest struct {
	Tier         string `json:"tier"`
	BillingCycle string `json:"billing_cycle"`
	Currency     string `json:"currency"`
}

// HandleCreateCheckout starts a subscription checkout. The provider is
// chosen by currency; the response carries the provider's hosted
// checkout URL.
func HandleCreateCheckout(c *fiber.Ctx) error {
	svc := getServices()
	if svc == nil {
		return serviceUnavailable(c)
	}
	userCtx := usercontext.GetUserContext(c)

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	req.Tier = strings.ToLower(strings.TrimSpace(req.Tier))
	req.BillingCycle = strings.ToLower(strings.TrimSpace(req.BillingCycle))
	req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))

	if !models.ValidTier(req.Tier) || req.Tier == models.TierStarter {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Unknown or free tier"})
	}
	if req.BillingCycle == "" {
		req.BillingCycle = models.BillingCycleMonthly
	}
	if !models.ValidBillingCycle(req.BillingCycle) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Billing cycle must be monthly or annual"})
	}

	user, err := svc.Repo.GetUser(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	if req.Currency == "" {
		req.Currency = preferredCurrency(userCtx.UserID)
	}

	amount, err := checkoutAmount(svc.Repo, userCtx.UserID, req.Tier, req.BillingCycle)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	provider, err := svc.Registry.RouteByCurrency(req.Currency)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "No provider supports currency " + req.Currency})
	}
	subProvider, ok := svc.Registry.GetSubscriptionProvider(provider.Name())
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Provider does not support subscriptions"})
	}

	appURL := env.GetEnv("APP_URL", "http://localhost:4000")
	result, err := subProvider.CreateSubscription(c.Context(), payments.CreateSubscriptionRequest{
		UserID:       user.ID,
		Tier:         req.Tier,
		BillingCycle: req.BillingCycle,
		Amount:       amount,
		Currency:     req.Currency,
		Email:        user.Email,
		CustomerID:   user.ProviderCustomerID(provider.Name()),
		SuccessURL:   appURL + "/billing/success",
		CancelURL:    appURL + "/billing/canceled",
	})
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": "Checkout could not be started"})
	}
	if result.Status == "failed" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "checkout_failed", "message": result.ErrorMessage})
	}

	checkoutURL, _ := result.Metadata["checkout_url"].(string)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"provider":           provider.Name(),
		"provider_reference": result.SubscriptionID,
		"checkout_url":       checkoutURL,
		"amount":             amount,
		"currency":           req.Currency,
		"tier":               req.Tier,
		"billing_cycle":      req.BillingCycle,
	})
}

// HandleGetSubscription returns the caller's active subscription, if any.
func HandleGetSubscription(c *fiber.Ctx) error {
	svc := getServices()
	if svc == nil {
		return serviceUnavailable(c)
	}
	userCtx := usercontext.GetUserContext(c)

	sub, err := svc.Repo.GetActiveSubscriptionByUser(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No active subscription"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
	}
	return c.JSON(sub)
}

// HandleBillingHistory returns the caller's subscription history, newest first.
func HandleBillingHistory(c *fiber.Ctx) error {
	svc := getServices()
	if svc == nil {
		return serviceUnavailable(c)
	}
	userCtx := usercontext.GetUserContext(c)

	limit := 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}

	rows, err := svc.Reconciler.ListHistory(c.Context(), userCtx.UserID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load history"})
	}
	return c.JSON(fiber.Map{"history": rows})
}

// HandleGetEntitlements returns the caller's resolved limit set.
func HandleGetEntitlements(c *fiber.Ctx) error {
	svc := getServices()
	if svc == nil {
		return serviceUnavailable(c)
	}
	userCtx := usercontext.GetUserContext(c)

	limits, err := svc.Reconciler.ResolveUserLimits(c.Context(), userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to resolve entitlements"})
	}
	return c.JSON(limits)
}

// HandleInstantCancel cancels without an active paid subscription; with
// one it must go through the downgrade request flow instead.
func HandleInstantCancel(c *fiber.Ctx) error {
	svc := getServices()
	if svc == nil {
		return serviceUnavailable(c)
	}
	userCtx := usercontext.GetUserContext(c)

	if err := svc.Downgrades.InstantCancel(c.Context(), userCtx.UserID); err != nil {
		return mapBillingError(c, err)
	}
	return c.JSON(fiber.Map{"status": "canceled"})
}

// HandleRequestDowngrade opens a pending downgrade that must be confirmed
// with the returned single-use token.
func HandleRequestDowngrade(c *fiber.Ctx) error {
	svc := getServices()
	if svc == nil {
		return serviceUnavailable(c)
	}
	userCtx := usercontext.GetUserContext(c)

	req, err := svc.Downgrades.RequestDowngrade(c.Context(), userCtx.UserID)
	if err != nil {
		return mapBillingError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":        req.Status,
		"confirm_token": req.ConfirmToken,
		"expires_at":    req.ConfirmTokenExpiresAt,
	})
}

type confirmDowngradeRequest struct {
	Token string `json:"token"`
}

// HandleConfirmDowngrade redeems a downgrade confirmation token. The token
// may arrive as JSON body or as a query parameter (confirmation link).
func HandleConfirmDowngrade(c *fiber.Ctx) error {
	svc := getServices()
	if svc == nil {
		return serviceUnavailable(c)
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		var body confirmDowngradeRequest
		if err := c.BodyParser(&body); err == nil {
			token = strings.TrimSpace(body.Token)
		}
	}
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing confirmation token"})
	}

	req, err := svc.Downgrades.ConfirmDowngrade(c.Context(), token)
	if err != nil {
		return mapBillingError(c, err)
	}
	return c.JSON(fiber.Map{
		"status":       req.Status,
		"completed_at": req.CompletedAt,
	})
}

// mapBillingError translates the billing package's coded errors to HTTP.
func mapBillingError(c *fiber.Ctx, err error) error {
	code := billing.ErrorCode(err)
	switch {
	case billing.IsConflict(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "code": code, "message": err.Error()})
	case errors.Is(err, billing.ErrTokenExpired):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "gone", "code": code, "message": err.Error()})
	case billing.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "code": code, "message": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Operation failed"})
	}
}

func serviceUnavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable", "message": "Billing services not ready"})
}

// checkoutAmount prices a checkout in minor units. Fixed tiers read the
// catalog row; build-your-own sums the base package and the user's
// selected add-ons.
func checkoutAmount(repo billing.Repository, userID uint, tier, cycle string) (int64, error) {
	row, err := repo.GetPlanTier(tier)
	if err != nil {
		return 0, errors.New("tier is not available")
	}
	if !row.IsActive {
		return 0, errors.New("tier is not available")
	}

	amount := row.MonthlyAmount
	if cycle == models.BillingCycleAnnual {
		amount = row.AnnualAmount
	}

	if tier == models.TierBYO {
		addons, err := repo.ListUserAddons(userID)
		if err != nil {
			return 0, errors.New("add-on selection could not be loaded")
		}
		for _, addon := range addons {
			if !addon.IsActive {
				continue
			}
			if cycle == models.BillingCycleAnnual {
				amount += addon.MonthlyAmount * 12
			} else {
				amount += addon.MonthlyAmount
			}
		}
	}

	if amount <= 0 {
		return 0, errors.New("tier has no price configured")
	}
	return amount, nil
}

func preferredCurrency(userID uint) string {
	db := database.GetDB()
	if db == nil {
		return "usd"
	}
	settings, err := models.GetOrCreateUserSettings(db, userID)
	if err != nil || settings.PreferredCurrency == "" {
		return "usd"
	}
	return strings.ToLower(settings.PreferredCurrency)
}
