package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a decimal amount. It is stored as a bare JSON number at full
// precision; Display gives the two-digit form clients and events carry.
type Money struct {
	decimal.Decimal
}

// NewMoney parses s, rejecting negative amounts.
func NewMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	if d.IsNegative() {
		return Money{}, fmt.Errorf("money %q is negative", s)
	}
	return Money{d}, nil
}

// MustMoney is NewMoney for constants and tests.
func MustMoney(s string) Money {
	m, err := NewMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.String()), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	return m.Decimal.UnmarshalJSON(b)
}

func (m Money) String() string {
	return m.StringFixed(2)
}

func (m Money) Display() DisplayMoney {
	return DisplayMoney{m.Decimal}
}

// DisplayMoney renders with exactly two fractional digits. It only appears on
// the wire, never in stored rows.
type DisplayMoney struct {
	decimal.Decimal
}

func (m DisplayMoney) MarshalJSON() ([]byte, error) {
	return []byte(m.StringFixed(2)), nil
}

func (m *DisplayMoney) UnmarshalJSON(b []byte) error {
	return m.Decimal.UnmarshalJSON(b)
}

func (m DisplayMoney) String() string {
	return m.StringFixed(2)
}
