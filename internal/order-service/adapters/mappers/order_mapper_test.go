package mappers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/ecommerce-orders/internal/order-service/domain"
)

func TestOrderToRecord_WireShape(t *testing.T) {
	o := domain.Order{
		ID:           "O1",
		CustomerID:   "C1",
		ProductID:    "P1",
		ProductName:  "Pen",
		Quantity:     4,
		UnitPrice:    domain.MustMoney("20"),
		OrderDateUTC: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Status:       domain.StatusSubmitted,
	}

	b, err := json.Marshal(OrderToRecord(o))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "O1",
		"customerId": "C1",
		"productId": "P1",
		"productName": "Pen",
		"quantity": 4,
		"unitPrice": 20.00,
		"totalAmount": 80.00,
		"orderDateUtc": "2026-03-01T12:00:00Z",
		"status": "Submitted"
	}`, string(b))

	var back OrderRecord
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, o.ID, back.ID)
	assert.Equal(t, "80.00", back.TotalAmount.String())
	assert.True(t, o.OrderDateUTC.Equal(back.OrderDateUTC))
}

func TestOrderToRecord_RoundsOnlyOnTheWire(t *testing.T) {
	o := domain.Order{ID: "O1", Quantity: 3, UnitPrice: domain.MustMoney("19.999")}

	rec := OrderToRecord(o)
	b, err := json.Marshal(rec)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &fields))
	assert.Equal(t, "20.00", string(fields["unitPrice"]))
	assert.Equal(t, "60.00", string(fields["totalAmount"]))
	assert.Equal(t, "19.999", o.UnitPrice.Decimal.String(), "the order itself is untouched")
}

func TestOrdersToRecords_EmptyIsArray(t *testing.T) {
	b, err := json.Marshal(OrdersToRecords(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}
