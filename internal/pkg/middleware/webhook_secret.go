package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/lexmonitor/LexMonitor/internal/pkg/env"
	"github.com/lexmonitor/LexMonitor/internal/pkg/payments"
)

// WebhookSecretMiddleware authenticates gateway IPN calls with a shared
// secret header. This channel is machine-to-machine and deliberately separate
// from any user authentication.
func WebhookSecretMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := env.GetEnv("WEBHOOK_SHARED_SECRET", "")
		if secret == "" {
			log.Error("[Middleware] WEBHOOK_SHARED_SECRET is not configured, rejecting webhook")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Webhook channel not configured"})
		}

		provided := strings.TrimSpace(c.Get("X-Webhook-Secret"))
		if !payments.SecretsEqual(provided, secret) {
			log.Warnf("[Middleware] Webhook call with bad shared secret from %s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid webhook secret"})
		}

		return c.Next()
	}
}

// InternalAPIKeyMiddleware guards operator endpoints (refunds, order admin)
// with a static internal key.
func InternalAPIKeyMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := env.GetEnv("INTERNAL_API_KEY", "")
		if key == "" {
			log.Error("[Middleware] INTERNAL_API_KEY is not configured, rejecting request")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Internal API not configured"})
		}

		provided := extractAPIKeyFromHeader(c)
		if !payments.SecretsEqual(provided, key) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}

		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
