package mappers

import (
	"time"

	"github.com/jcmexdev/ecommerce-orders/internal/order-service/domain"
)

// OrderRecord is the wire shape of an order. Amounts are rounded to two
// digits here only; the stored order keeps full precision.
type OrderRecord struct {
	ID           string              `json:"id"`
	CustomerID   string              `json:"customerId"`
	ProductID    string              `json:"productId"`
	ProductName  string              `json:"productName"`
	Quantity     int                 `json:"quantity"`
	UnitPrice    domain.DisplayMoney `json:"unitPrice"`
	TotalAmount  domain.DisplayMoney `json:"totalAmount"`
	OrderDateUTC time.Time           `json:"orderDateUtc"`
	Status       string              `json:"status"`
}

func OrderToRecord(o domain.Order) OrderRecord {
	return OrderRecord{
		ID:           o.ID,
		CustomerID:   o.CustomerID,
		ProductID:    o.ProductID,
		ProductName:  o.ProductName,
		Quantity:     o.Quantity,
		UnitPrice:    o.UnitPrice.Display(),
		TotalAmount:  o.TotalAmount().Display(),
		OrderDateUTC: o.OrderDateUTC.UTC(),
		Status:       o.Status,
	}
}

func OrdersToRecords(orders []domain.Order) []OrderRecord {
	out := make([]OrderRecord, len(orders))
	for i, o := range orders {
		out[i] = OrderToRecord(o)
	}
	return out
}
