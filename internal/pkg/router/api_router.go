package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/lexmonitor/LexMonitor/app/controllers"
	"github.com/lexmonitor/LexMonitor/internal/pkg/constants"
	"github.com/lexmonitor/LexMonitor/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(newAPILimiter()))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "LexMonitor payments API",
		})
	})

	v1 := api.Group("/v1")
	v1.Post(constants.CheckoutPath, controllers.HandleStartCheckout)
	v1.Get(constants.OrderStatusPath, controllers.HandleOrderStatus)

	// Refunds are issued by back-office tooling, never by end users.
	internal := v1.Group("/internal", middleware.InternalAPIKeyMiddleware())
	internal.Post(constants.RefundPath, controllers.HandleRefund)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
