package app

import (
	"encoding/json"
	"fmt"
	"strconv"
)

const stockField = "stockAvailable"

// withStock returns the product document doc with only stockAvailable
// replaced. Every other field keeps its stored bytes, including fields this
// service does not model and prices beyond two decimals.
func withStock(doc []byte, stock int) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("patch %s: %w", stockField, err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	fields[stockField] = json.RawMessage(strconv.Itoa(stock))
	return json.Marshal(fields)
}

// stockOf reads stockAvailable from a product document. A missing field is zero.
func stockOf(doc []byte) (int, error) {
	var row struct {
		StockAvailable int `json:"stockAvailable"`
	}
	if err := json.Unmarshal(doc, &row); err != nil {
		return 0, fmt.Errorf("read %s: %w", stockField, err)
	}
	return row.StockAvailable, nil
}
