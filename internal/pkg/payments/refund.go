package payments

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/lexmonitor/LexMonitor/app/models"
)

// Refund reverses part or all of a settled order through the gateway.
// The gateway call happens before any row is written, so a rejected refund
// can never leave a phantom Refund record; a persistence failure after the
// gateway accepted is flagged on the event log for reconciliation.
func (s *Service) Refund(ctx context.Context, in RefundInput) (*models.Refund, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid refund input: %w", err)
	}

	order, err := s.repo.GetOrderByPublicID(in.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.IsRefundable() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotRefundable, order.PublicID, order.Status)
	}

	refunded, err := s.repo.SumRefundedAmount(order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum prior refunds: %w", err)
	}

	// All comparisons in bani; float arithmetic must not decide money.
	remaining := minorUnits(order.Amount) - minorUnits(refunded)
	requested := minorUnits(in.Amount)
	if requested > remaining {
		return nil, fmt.Errorf("%w: requested %.2f, remaining %.2f",
			ErrRefundExceedsRemaining, in.Amount, majorUnits(remaining))
	}

	result, err := s.gateway.IssueRefund(ctx, order.GatewayOrderID, in.Amount, in.Reason)
	if err != nil {
		log.Errorf("[Refund] Gateway refused refund for order %s: %v", order.PublicID, err)
		return nil, err
	}

	orderStatus := models.OrderStatusPartiallyRefunded
	if requested == remaining {
		orderStatus = models.OrderStatusRefunded
	}

	refund := &models.Refund{
		PublicID:        uuid.New().String(),
		OrderID:         order.ID,
		GatewayRefundID: result.GatewayRefundID,
		Amount:          in.Amount,
		Currency:        order.Currency,
		Reason:          in.Reason,
		Status:          models.RefundStatusSucceeded,
	}

	orderID := order.ID
	event := &models.PaymentEvent{
		OrderID:        &orderID,
		EventType:      models.PaymentEventRefundIssued,
		GatewayOrderID: order.GatewayOrderID,
		Amount:         in.Amount,
		Currency:       order.Currency,
	}

	if err := s.repo.RecordRefund(refund, orderStatus, event); err != nil {
		// The gateway already moved the money. Flag it; never drop it.
		log.Errorf("[Refund] Gateway refund %s succeeded but persistence failed for order %s: %v",
			result.GatewayRefundID, order.PublicID, err)
		_ = s.repo.AppendPaymentEvent(&models.PaymentEvent{
			OrderID:        &orderID,
			EventType:      models.PaymentEventRefundUnrecorded,
			GatewayOrderID: order.GatewayOrderID,
			Amount:         in.Amount,
			Currency:       order.Currency,
			RawPayload:     fmt.Sprintf(`{"gateway_refund_id":%q,"error":%q}`, result.GatewayRefundID, err.Error()),
		})
		return nil, fmt.Errorf("refund issued at gateway but not recorded: %w", err)
	}

	log.Infof("[Refund] Order %s refunded %.2f %s (gateway refund %s), order now %s",
		order.PublicID, in.Amount, order.Currency, result.GatewayRefundID, orderStatus)
	return refund, nil
}
