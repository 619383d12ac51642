package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Partition keys used for every row of the respective table.
const (
	OrderPartition    = "Order"
	ProductPartition  = "Product"
	CustomerPartition = "Customer"
)

// Order is the persisted order row. ProductName and UnitPrice are snapshots
// taken when the order is placed and never follow later catalog changes.
type Order struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customerId"`
	ProductID    string    `json:"productId"`
	ProductName  string    `json:"productName"`
	Quantity     int       `json:"quantity"`
	UnitPrice    Money     `json:"unitPrice"`
	OrderDateUTC time.Time `json:"orderDateUtc"`
	Status       string    `json:"status"`
}

// TotalAmount is always derived, never stored.
func (o Order) TotalAmount() Money {
	return Money{o.UnitPrice.Mul(decimal.NewFromInt(int64(o.Quantity)))}
}

// Product is a catalog row. Only StockAvailable is mutated by this service.
type Product struct {
	ID             string `json:"id"`
	ProductName    string `json:"productName"`
	Description    string `json:"description,omitempty"`
	Price          Money  `json:"price"`
	StockAvailable int    `json:"stockAvailable"`
}

// Customer is read-only here; it is owned by the registration service.
type Customer struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Surname         string `json:"surname"`
	Username        string `json:"username,omitempty"`
	Email           string `json:"email,omitempty"`
	ShippingAddress string `json:"shippingAddress,omitempty"`
}

// DisplayName joins name and surname the way notifications show it.
func (c Customer) DisplayName() string {
	switch {
	case c.Name == "":
		return c.Surname
	case c.Surname == "":
		return c.Name
	}
	return c.Name + " " + c.Surname
}

const (
	StatusSubmitted  = "Submitted"
	StatusProcessing = "Processing"
	StatusCompleted  = "Completed"
	StatusCancelled  = "Cancelled"
)

// transitions is only consulted when strict transitions are enabled.
var transitions = map[string][]string{
	StatusSubmitted:  {StatusProcessing, StatusCompleted, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusCancelled},
	StatusCompleted:  nil,
	StatusCancelled:  nil,
}

// CanTransition reports whether from -> to is allowed by the strict table.
// Unknown source statuses may move to any known status.
func CanTransition(from, to string) bool {
	if _, known := transitions[to]; !known {
		return false
	}
	next, known := transitions[from]
	if !known {
		return true
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
