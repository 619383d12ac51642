package app

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/jcmexdev/ecommerce-orders/internal/order-service/domain"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore"
)

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID, err := required("id", orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order, _, err := entitystore.GetAs[domain.Order](ctx, s.store, s.cfg.Tables.Order, domain.OrderPartition, orderID)
	if err != nil {
		return domain.Order{}, storeError(err, "Order", orderID)
	}
	return order, nil
}

// ListOrders returns every order, newest first.
func (s *OrderService) ListOrders(ctx context.Context) ([]domain.Order, error) {
	orders := []domain.Order{}
	for v, err := range entitystore.ScanAs[domain.Order](ctx, s.store, s.cfg.Tables.Order, entitystore.InPartition(domain.OrderPartition)) {
		if err != nil {
			return nil, storeError(err, "Order", "")
		}
		orders = append(orders, v.Value)
	}

	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].OrderDateUTC.Equal(orders[j].OrderDateUTC) {
			return orders[i].OrderDateUTC.After(orders[j].OrderDateUTC)
		}
		return orders[i].ID < orders[j].ID
	})
	return orders, nil
}

// DeleteOrder removes an order regardless of its status. Deleting an order
// that does not exist succeeds. Stock is not given back.
func (s *OrderService) DeleteOrder(ctx context.Context, orderID string) error {
	orderID, err := required("id", orderID)
	if err != nil {
		return err
	}
	err = s.store.Delete(ctx, s.cfg.Tables.Order, domain.OrderPartition, orderID)
	if err != nil && !errors.Is(err, entitystore.ErrNotFound) {
		return storeError(err, "Order", orderID)
	}
	slog.InfoContext(ctx, "order deleted", "order_id", orderID)
	return nil
}
