package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lexmonitor/LexMonitor/app/controllers"
	"github.com/lexmonitor/LexMonitor/internal/pkg/constants"
	"github.com/lexmonitor/LexMonitor/internal/pkg/middleware"
)

type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	// The IPN endpoint sits behind the shared-secret header check. The
	// controller additionally verifies the gateway HMAC signature when a
	// signature key is configured.
	app.Post(constants.NetopiaIPNRoute, middleware.WebhookSecretMiddleware(), controllers.HandleNetopiaWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
