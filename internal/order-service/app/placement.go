package app

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jcmexdev/ecommerce-orders/internal/coordinator"
	"github.com/jcmexdev/ecommerce-orders/internal/order-service/domain"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore"
)

// placement is the payload of the STARTED row of a placement saga. The
// reconciler needs it to give stock back.
type placement struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// PlaceOrder validates the request, reserves stock and persists a Submitted
// order, then publishes OrderCreated and StockUpdated.
//
// Stock is written before the order. A conflict on the stock write leaves
// nothing behind; a failed order write gives the stock back.
func (s *OrderService) PlaceOrder(ctx context.Context, customerID, productID string, quantity int) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.PlaceOrder")
	defer span.End()

	order, err := s.placeOrder(ctx, customerID, productID, quantity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Order{}, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))
	return order, nil
}

func (s *OrderService) placeOrder(ctx context.Context, customerID, productID string, quantity int) (domain.Order, error) {
	customerID, err := required("customerId", customerID)
	if err != nil {
		return domain.Order{}, err
	}
	productID, err = required("productId", productID)
	if err != nil {
		return domain.Order{}, err
	}
	if quantity < 1 {
		return domain.Order{}, &domain.ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}

	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return domain.Order{}, err
	}

	row, err := s.store.Get(ctx, s.cfg.Tables.Product, domain.ProductPartition, productID)
	if err != nil {
		return domain.Order{}, storeError(err, "Product", productID)
	}
	product, err := entitystore.Decode[domain.Product](s.cfg.Tables.Product, row)
	if err != nil {
		return domain.Order{}, err
	}
	if product.StockAvailable < quantity {
		return domain.Order{}, &domain.InsufficientStockError{
			ProductID: productID,
			Available: product.StockAvailable,
			Requested: quantity,
		}
	}

	order := domain.Order{
		ID:           s.cfg.NewID(),
		CustomerID:   customerID,
		ProductID:    productID,
		ProductName:  product.ProductName,
		Quantity:     quantity,
		UnitPrice:    product.Price,
		OrderDateUTC: s.cfg.Now(),
		Status:       domain.StatusSubmitted,
	}

	reserve := &reserveStockStep{
		store:    s.store,
		log:      s.sagaLog,
		table:    s.cfg.Tables.Product,
		orderID:  order.ID,
		product:  productID,
		row:      row,
		stock:    product.StockAvailable,
		quantity: quantity,
	}
	persist := &persistOrderStep{
		store: s.store,
		table: s.cfg.Tables.Order,
		order: order,
	}

	saga := coordinator.NewOrchestrator(order.ID,
		placement{OrderID: order.ID, ProductID: productID, Quantity: quantity},
		[]coordinator.Step{reserve, persist},
		s.sagaLog,
	)
	if err := saga.Start(ctx); err != nil {
		var conflict *domain.ConcurrencyConflictError
		if errors.As(err, &conflict) {
			slog.InfoContext(ctx, "order placement lost a stock race",
				"order_id", order.ID, "product_id", productID)
		}
		if !isDomainError(err) {
			err = &domain.UpstreamDependencyError{Dependency: "placement log", Err: err}
		}
		return domain.Order{}, err
	}

	slog.InfoContext(ctx, "order placed",
		"order_id", order.ID,
		"customer_id", customerID,
		"product_id", productID,
		"quantity", quantity,
		"stock_left", reserve.newStock(),
	)

	s.publish(ctx, s.cfg.Topics.OrderNotifications, order.ID,
		domain.NewOrderCreated(order, customer.DisplayName()))
	s.publish(ctx, s.cfg.Topics.StockUpdates, productID, domain.StockUpdated{
		Type:           domain.EventStockUpdated,
		ProductID:      productID,
		ProductName:    product.ProductName,
		PreviousStock:  reserve.previousStock(),
		NewStock:       reserve.newStock(),
		UpdatedDateUTC: s.cfg.Now(),
		UpdatedBy:      domain.UpdatedByOrderSystem,
	})

	return order, nil
}

// loadCustomer applies the missing-customer policy. Under the allow policy an
// absent customer yields an empty record; the supplied id is kept as is.
func (s *OrderService) loadCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	customer, _, err := entitystore.GetAs[domain.Customer](ctx, s.store, s.cfg.Tables.Customer, domain.CustomerPartition, customerID)
	switch {
	case err == nil:
		return customer, nil
	case errors.Is(err, entitystore.ErrNotFound) && s.cfg.MissingCustomer == AllowMissingCustomer:
		slog.WarnContext(ctx, "placing order for unknown customer", "customer_id", customerID)
		return domain.Customer{ID: customerID}, nil
	}
	return domain.Customer{}, storeError(err, "Customer", customerID)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrValidation,
		domain.ErrNotFound,
		domain.ErrInsufficientStock,
		domain.ErrConcurrencyConflict,
		domain.ErrUpstream,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
