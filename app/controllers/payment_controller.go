package controllers

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/lexmonitor/LexMonitor/internal/pkg/database"
	"github.com/lexmonitor/LexMonitor/internal/pkg/env"
	"github.com/lexmonitor/LexMonitor/internal/pkg/jobqueue"
	"github.com/lexmonitor/LexMonitor/internal/pkg/payments"
)

var (
	paymentService     *payments.Service
	paymentServiceOnce sync.Once
)

// InitializePaymentController wires the controller to an explicit service
// instance. Used by main and by tests; when it is never called the
// controller lazily builds a service from the global DB and the Netopia
// client configured via environment.
func InitializePaymentController(svc *payments.Service) {
	paymentService = svc
}

func getPaymentService() *payments.Service {
	paymentServiceOnce.Do(func() {
		if paymentService == nil {
			gateway := payments.NewNetopiaClientFromEnv()
			paymentService = payments.NewServiceFromDB(database.GetDB(), gateway)
		}
	})
	return paymentService
}

// HandleStartCheckout starts a paid checkout for a subscription tier and
// returns the gateway redirect URL for the created order.
func HandleStartCheckout(c *fiber.Ctx) error {
	var input payments.StartCheckoutInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_body",
			"message": "Request body could not be parsed",
		})
	}

	result, err := getPaymentService().StartCheckout(c.Context(), input)
	if err != nil {
		return paymentErrorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"orderId":     result.OrderID,
		"checkoutUrl": result.CheckoutURL,
		"expiresAt":   result.ExpiresAt,
	})
}

// HandleOrderStatus returns the current status of an order by its public id.
func HandleOrderStatus(c *fiber.Ctx) error {
	publicID := c.Params("id")
	if publicID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "missing_order_id",
			"message": "Order id is required",
		})
	}

	order, err := getPaymentService().GetOrderStatus(publicID)
	if err != nil {
		if errors.Is(err, payments.ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   "order_not_found",
				"message": "No order with this id",
			})
		}
		return paymentErrorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"orderId":  order.PublicID,
		"status":   order.Status,
		"amount":   order.Amount,
		"currency": order.Currency,
	})
}

// HandleNetopiaWebhook ingests a payment notification from the gateway.
// The claim is synchronous so duplicates are answered immediately; the
// state transition itself runs on the job queue.
func HandleNetopiaWebhook(c *fiber.Ctx) error {
	rawBody := make([]byte, len(c.Body()))
	copy(rawBody, c.Body())

	if secret := env.GetEnv("NETOPIA_WEBHOOK_SIGNATURE_KEY", ""); secret != "" {
		signature := c.Get("X-Ntp-Signature")
		if !payments.VerifyWebhookSignature(rawBody, signature, secret) {
			log.Warnf("[Webhook] invalid gateway signature from %s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "invalid_signature",
				"message": "Webhook signature verification failed",
			})
		}
	}

	var notification payments.WebhookNotification
	if err := json.Unmarshal(rawBody, &notification); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_body",
			"message": "Notification body is not valid JSON",
		})
	}

	result, err := getPaymentService().IngestWebhook(&notification, rawBody)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidNotification) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_notification",
				"message": "Notification is missing required fields",
			})
		}
		log.Errorf("[Webhook] ingest failed for order %s: %v", notification.GatewayOrderID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "ingest_failed",
			"message": "Notification could not be recorded",
		})
	}

	if result.Duplicate {
		return c.JSON(fiber.Map{
			"received":  true,
			"duplicate": true,
		})
	}

	manager := jobqueue.GetManager()
	if _, err := manager.GetQueue().EnqueueWebhookProcess(result.WebhookID, notification.GatewayOrderID); err != nil {
		// The claim already exists, so a gateway retry would be answered as a
		// duplicate. Process inline rather than stranding the record.
		log.Errorf("[Webhook] enqueue failed for record %d, processing inline: %v", result.WebhookID, err)
		if perr := getPaymentService().ProcessWebhook(c.Context(), result.WebhookID); perr != nil {
			log.Errorf("[Webhook] inline processing failed for record %d: %v", result.WebhookID, perr)
		}
	}

	return c.JSON(fiber.Map{
		"received":  true,
		"webhookId": result.WebhookID,
	})
}

// HandleRefund issues a full or partial refund for a settled order. The
// route sits behind the internal API key middleware.
func HandleRefund(c *fiber.Ctx) error {
	var input payments.RefundInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_body",
			"message": "Request body could not be parsed",
		})
	}

	refund, err := getPaymentService().Refund(c.Context(), input)
	if err != nil {
		return paymentErrorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"refundId":        refund.PublicID,
		"orderId":         input.OrderID,
		"status":          refund.Status,
		"amount":          refund.Amount,
		"gatewayRefundId": refund.GatewayRefundID,
	})
}

// paymentErrorResponse maps service errors onto the shared JSON error shape.
func paymentErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, payments.ErrTierNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "tier_not_found",
			"message": "Subscription tier does not exist or is not active",
		})
	case errors.Is(err, payments.ErrOrderNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "order_not_found",
			"message": "No order with this id",
		})
	case errors.Is(err, payments.ErrOrderNotRefundable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "order_not_refundable",
			"message": "Order is not in a refundable state",
		})
	case errors.Is(err, payments.ErrRefundExceedsRemaining):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   "refund_exceeds_remaining",
			"message": "Refund amount exceeds the remaining refundable amount",
		})
	case errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "not_found",
			"message": "Record not found",
		})
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	}

	var gwErr *payments.GatewayError
	if errors.As(err, &gwErr) {
		log.Errorf("[Payment] gateway error: %v", gwErr)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   "gateway_error",
			"message": "Payment gateway rejected the request",
		})
	}

	log.Errorf("[Payment] unexpected error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_error",
		"message": "Something went wrong",
	})
}
