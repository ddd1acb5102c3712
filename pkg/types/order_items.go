package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderItem is the immutable snapshot of a single line on an order. Prices
// are copied from the catalog at order time so later catalog edits do not
// rewrite history.
type OrderItem struct {
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit"`
	Price    decimal.Decimal `json:"price"`
}

// Amount returns quantity * price for the line.
func (i OrderItem) Amount() decimal.Decimal {
	return i.Quantity.Mul(i.Price)
}

// OrderItems stores the full line-item list as a jsonb column.
type OrderItems []OrderItem

func (items OrderItems) Value() (driver.Value, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

func (items *OrderItems) Scan(value interface{}) error {
	if value == nil {
		*items = nil
		return nil
	}
	switch raw := value.(type) {
	case []byte:
		return json.Unmarshal(raw, items)
	case string:
		return json.Unmarshal([]byte(raw), items)
	default:
		return fmt.Errorf("order items: unsupported scan type %T", value)
	}
}

// Total sums the line amounts.
func (items OrderItems) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount())
	}
	return total
}
