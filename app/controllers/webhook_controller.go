package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/LensVaultHQ/LensVault/internal/pkg/billing"
	"github.com/LensVaultHQ/LensVault/internal/pkg/payments"
)

// HandleProviderWebhook receives a provider webhook delivery. The raw
// body is handed to the ingestor untouched; signature verification and
// deduplication happen there. Transient reconcile failures are still
// acknowledged with 200 so the provider stops redelivering; our own
// retry queue takes over.
func HandleProviderWebhook(c *fiber.Ctx) error {
	svc := getServices()
	if svc == nil {
		return serviceUnavailable(c)
	}

	provider := c.Params("provider")
	body := c.Body()

	headers := payments.Headers{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})

	result, err := svc.Ingestor.Ingest(c.Context(), provider, body, headers)
	if err != nil {
		if billing.IsNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown provider"})
		}
		status := fiber.StatusInternalServerError
		if result != nil && result.StatusCode != 0 {
			status = result.StatusCode
		}
		return c.Status(status).JSON(fiber.Map{"error": "ingest_failed"})
	}

	if result.StatusCode == fiber.StatusUnauthorized {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid signature"})
	}

	return c.Status(result.StatusCode).JSON(fiber.Map{
		"received":  true,
		"duplicate": result.Duplicate,
	})
}
