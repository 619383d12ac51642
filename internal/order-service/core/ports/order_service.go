package ports

import (
	"context"

	"github.com/jcmexdev/ecommerce-orders/internal/order-service/domain"
)

// OrderService is what the transport adapters need from the application.
// Errors belong to the domain taxonomy (domain.ErrValidation, ...).
type OrderService interface {
	PlaceOrder(ctx context.Context, customerID, productID string, quantity int) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID, status string) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
}
