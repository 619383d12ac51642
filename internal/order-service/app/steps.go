package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jcmexdev/ecommerce-orders/internal/coordinator/sagalog"
	"github.com/jcmexdev/ecommerce-orders/internal/order-service/domain"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore"
)

const (
	reserveStockStepName = "Reserve_Stock_Step"
	persistOrderStepName = "Persist_Order_Step"

	restoreAttempts = 5
)

// --- reserveStockStep ---

// reserveStockStep decrements stock with the etag read during validation, so
// a concurrent change turns into a conflict instead of an oversell. Only the
// stockAvailable field of the stored document is rewritten.
type reserveStockStep struct {
	store    entitystore.Store
	log      sagalog.Repository
	table    string
	orderID  string
	product  string
	row      entitystore.Entity
	stock    int
	quantity int
}

func (s *reserveStockStep) Name() string { return reserveStockStepName }

func (s *reserveStockStep) Execute(ctx context.Context) error {
	doc, err := withStock(s.row.Data, s.newStock())
	if err != nil {
		return err
	}
	row := entitystore.Entity{PartitionKey: domain.ProductPartition, RowKey: s.product, Data: doc}
	if _, err := s.store.Put(ctx, s.table, row, s.row.ETag); err != nil {
		return storeError(err, "Product", s.product)
	}
	return nil
}

// Compensate puts the reserved quantity back. It re-reads the row, so it
// composes with writes made since the reservation.
func (s *reserveStockStep) Compensate(ctx context.Context) error {
	return restoreStock(context.WithoutCancel(ctx), s.store, s.log, s.table, s.orderID, s.product, s.quantity)
}

func (s *reserveStockStep) previousStock() int { return s.stock }

func (s *reserveStockStep) newStock() int { return s.stock - s.quantity }

// --- persistOrderStep ---

type persistOrderStep struct {
	store entitystore.Store
	table string
	order domain.Order
}

func (s *persistOrderStep) Name() string { return persistOrderStepName }

func (s *persistOrderStep) Execute(ctx context.Context) error {
	_, err := entitystore.PutAs(ctx, s.store, s.table, domain.OrderPartition, s.order.ID, s.order, entitystore.IfAbsent)
	if err == nil {
		return nil
	}
	if errors.Is(err, entitystore.ErrConflict) {
		return storeError(err, "Order", s.order.ID)
	}

	// The write may have landed before the error surfaced (e.g. a timeout on
	// the response). Undoing the reservation then would leave an order with
	// no stock taken.
	if _, getErr := s.store.Get(context.WithoutCancel(ctx), s.table, domain.OrderPartition, s.order.ID); getErr == nil {
		slog.WarnContext(ctx, "order write reported an error but the order exists",
			"order_id", s.order.ID, "error", err)
		return nil
	}
	return storeError(err, "Order", s.order.ID)
}

func (s *persistOrderStep) Compensate(ctx context.Context) error {
	err := s.store.Delete(context.WithoutCancel(ctx), s.table, domain.OrderPartition, s.order.ID)
	if err != nil && !errors.Is(err, entitystore.ErrNotFound) {
		return err
	}
	return nil
}

// restoreStock adds quantity back to a product, retrying on etag conflicts.
//
// Before each write a RESTORING row records the etag the write expects. If
// the process dies after that, the reconciler compares it with the product's
// current etag to tell whether the write landed. A restore whose marker cannot
// be saved is not attempted.
func restoreStock(ctx context.Context, store entitystore.Store, log sagalog.Repository, table, orderID, productID string, quantity int) error {
	for attempt := 1; attempt <= restoreAttempts; attempt++ {
		row, err := store.Get(ctx, table, domain.ProductPartition, productID)
		if err != nil {
			return fmt.Errorf("restore stock of %s: %w", productID, err)
		}
		stock, err := stockOf(row.Data)
		if err != nil {
			return fmt.Errorf("restore stock of %s: %w", productID, err)
		}
		doc, err := withStock(row.Data, stock+quantity)
		if err != nil {
			return fmt.Errorf("restore stock of %s: %w", productID, err)
		}

		if log != nil {
			marker := sagalog.NewEntry(ctx, orderID, sagalog.StatusRestoring, reserveStockStepName, "", nil)
			marker.Checkpoint = string(row.ETag)
			if err := log.Save(ctx, marker); err != nil {
				return fmt.Errorf("restore stock of %s: record restore: %w", productID, err)
			}
		}

		patched := entitystore.Entity{PartitionKey: domain.ProductPartition, RowKey: productID, Data: doc}
		_, err = store.Put(ctx, table, patched, row.ETag)
		if err == nil {
			return nil
		}
		if !errors.Is(err, entitystore.ErrConflict) {
			return fmt.Errorf("restore stock of %s: %w", productID, err)
		}
		slog.DebugContext(ctx, "stock restore conflicted, retrying", "product_id", productID, "attempt", attempt)
	}
	return fmt.Errorf("restore stock of %s: %w after %d attempts", productID, entitystore.ErrConflict, restoreAttempts)
}
