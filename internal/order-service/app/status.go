package app

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jcmexdev/ecommerce-orders/internal/order-service/domain"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore"
)

// UpdateStatus sets the status of an existing order and publishes
// OrderStatusUpdated. Only the status field changes. A concurrent write to
// the same order fails with a ConcurrencyConflictError and is not retried.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID, newStatus string) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := s.updateStatus(ctx, orderID, newStatus)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Order{}, err
	}
	return order, nil
}

func (s *OrderService) updateStatus(ctx context.Context, orderID, newStatus string) (domain.Order, error) {
	orderID, err := required("id", orderID)
	if err != nil {
		return domain.Order{}, err
	}
	newStatus, err = required("status", newStatus)
	if err != nil {
		return domain.Order{}, err
	}

	order, etag, err := entitystore.GetAs[domain.Order](ctx, s.store, s.cfg.Tables.Order, domain.OrderPartition, orderID)
	if err != nil {
		return domain.Order{}, storeError(err, "Order", orderID)
	}

	previous := order.Status
	if s.cfg.StrictTransitions && !domain.CanTransition(previous, newStatus) {
		return domain.Order{}, &domain.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("cannot move from %q to %q", previous, newStatus),
		}
	}

	order.Status = newStatus
	if _, err := entitystore.PutAs(ctx, s.store, s.cfg.Tables.Order, domain.OrderPartition, orderID, order, etag); err != nil {
		return domain.Order{}, storeError(err, "Order", orderID)
	}

	slog.InfoContext(ctx, "order status updated",
		"order_id", orderID, "previous_status", previous, "new_status", newStatus)

	s.publish(ctx, s.cfg.Topics.OrderNotifications, orderID, domain.OrderStatusUpdated{
		Type:           domain.EventOrderStatusUpdated,
		OrderID:        orderID,
		PreviousStatus: previous,
		NewStatus:      newStatus,
		UpdatedDateUTC: s.cfg.Now(),
		UpdatedBy:      domain.UpdatedBySystem,
	})

	return order, nil
}
