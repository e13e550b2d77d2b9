package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/LensVaultHQ/LensVault/app/controllers"
)

type HttpRouter struct {
}

// InstallRouter registers the unauthenticated surface: health, provider
// webhook deliveries and the emailed downgrade confirmation link.
// Webhooks authenticate by signature, the confirmation link by its
// single-use token; neither carries an API key.
func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/webhooks/:provider", controllers.HandleProviderWebhook)

	app.Get("/billing/downgrade/confirm", controllers.HandleConfirmDowngrade)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
