package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/LensVaultHQ/LensVault/app/controllers"
	"github.com/LensVaultHQ/LensVault/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes, API-key authenticated
	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware())

	v1.Get("/user/account", controllers.HandleGetUserAccount)
	v1.Put("/user/addons", controllers.HandleSetUserAddons)

	billing := v1.Group("/billing")
	billing.Post("/checkout", controllers.HandleCreateCheckout)
	billing.Get("/subscription", controllers.HandleGetSubscription)
	billing.Get("/history", controllers.HandleBillingHistory)
	billing.Get("/entitlements", controllers.HandleGetEntitlements)
	billing.Post("/cancel", controllers.HandleInstantCancel)
	billing.Post("/downgrade", controllers.HandleRequestDowngrade)
	billing.Post("/downgrade/confirm", controllers.HandleConfirmDowngrade)

	admin := v1.Group("/admin", middleware.RequireAdmin)
	admin.Get("/tiers", controllers.HandleAdminListTiers)
	admin.Post("/tiers", controllers.HandleAdminUpsertTier)
	admin.Get("/addons", controllers.HandleAdminListAddons)
	admin.Post("/addons", controllers.HandleAdminUpsertAddon)
	admin.Post("/users/:id/apikey", controllers.HandleAdminIssueAPIKey)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
