package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jcmexdev/ecommerce-orders/internal/order-service/domain"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore"
)

// Catalog is the seed file format.
type Catalog struct {
	Customers []domain.Customer `json:"customers"`
	Products  []domain.Product  `json:"products"`
}

// SeedCatalog creates the customers and products read from r. Rows that
// already exist are left alone. It returns how many rows were created.
func SeedCatalog(ctx context.Context, store entitystore.Store, tables Tables, r io.Reader) (int, error) {
	var c Catalog
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return 0, fmt.Errorf("seed: decode catalog: %w", err)
	}

	created := 0
	for _, cu := range c.Customers {
		if strings.TrimSpace(cu.ID) == "" {
			return created, &domain.ValidationError{Field: "customers.id", Reason: "is required"}
		}
		ok, err := createIfAbsent(ctx, store, tables.Customer, domain.CustomerPartition, cu.ID, cu)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	for _, p := range c.Products {
		if strings.TrimSpace(p.ID) == "" {
			return created, &domain.ValidationError{Field: "products.id", Reason: "is required"}
		}
		if p.StockAvailable < 0 {
			return created, &domain.ValidationError{Field: "products.stockAvailable", Reason: "must not be negative"}
		}
		ok, err := createIfAbsent(ctx, store, tables.Product, domain.ProductPartition, p.ID, p)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func createIfAbsent[T any](ctx context.Context, store entitystore.Store, table, partition, id string, v T) (bool, error) {
	_, err := entitystore.PutAs(ctx, store, table, partition, id, v, entitystore.IfAbsent)
	if errors.Is(err, entitystore.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("seed: create %s %s: %w", table, id, err)
	}
	return true, nil
}
