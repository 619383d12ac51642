package domain

import "time"

const (
	EventOrderCreated       = "OrderCreated"
	EventStockUpdated       = "StockUpdated"
	EventOrderStatusUpdated = "OrderStatusUpdated"
)

const (
	UpdatedByOrderSystem = "Order System"
	UpdatedBySystem      = "System"
)

// OrderCreated goes to the order notifications topic after a placement commits.
type OrderCreated struct {
	Type         string       `json:"type"`
	OrderID      string       `json:"orderId"`
	CustomerID   string       `json:"customerId"`
	CustomerName string       `json:"customerName"`
	ProductID    string       `json:"productId"`
	ProductName  string       `json:"productName"`
	Quantity     int          `json:"quantity"`
	UnitPrice    DisplayMoney `json:"unitPrice"`
	TotalAmount  DisplayMoney `json:"totalAmount"`
	OrderDateUTC time.Time    `json:"orderDateUtc"`
	Status       string       `json:"status"`
}

// StockUpdated goes to the stock updates topic.
type StockUpdated struct {
	Type           string    `json:"type"`
	ProductID      string    `json:"productId"`
	ProductName    string    `json:"productName"`
	PreviousStock  int       `json:"previousStock"`
	NewStock       int       `json:"newStock"`
	UpdatedDateUTC time.Time `json:"updatedDateUtc"`
	UpdatedBy      string    `json:"updatedBy"`
}

// OrderStatusUpdated goes to the order notifications topic.
type OrderStatusUpdated struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	PreviousStatus string    `json:"previousStatus"`
	NewStatus      string    `json:"newStatus"`
	UpdatedDateUTC time.Time `json:"updatedDateUtc"`
	UpdatedBy      string    `json:"updatedBy"`
}

func NewOrderCreated(o Order, customerName string) OrderCreated {
	return OrderCreated{
		Type:         EventOrderCreated,
		OrderID:      o.ID,
		CustomerID:   o.CustomerID,
		CustomerName: customerName,
		ProductID:    o.ProductID,
		ProductName:  o.ProductName,
		Quantity:     o.Quantity,
		UnitPrice:    o.UnitPrice.Display(),
		TotalAmount:  o.TotalAmount().Display(),
		OrderDateUTC: o.OrderDateUTC,
		Status:       o.Status,
	}
}
