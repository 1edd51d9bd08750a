package pricing

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// LineItem is one product entry in a cart.
type LineItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
	Image    string `json:"image,omitempty"`
	Price    Money  `json:"price"`
	Quantity int    `json:"qty"`
}

// LineTotal returns price × quantity after normalization.
func (it LineItem) LineTotal() Money {
	it = Normalize(it)
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Normalize repairs an item so that price >= 0 and quantity >= 1.
func Normalize(it LineItem) LineItem {
	if it.Price.IsNegative() {
		it.Price = decimal.Zero
	}
	if it.Quantity < 1 {
		it.Quantity = 1
	}
	return it
}

// UnmarshalJSON accepts loosely typed cart entries such as {"price":"abc","qty":-3}.
func (it *LineItem) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*it = ItemFromRaw(raw)
	return nil
}

// ItemFromRaw builds a normalized LineItem from an untyped record.
func ItemFromRaw(raw map[string]any) LineItem {
	if raw == nil {
		return Normalize(LineItem{})
	}
	qty := raw["qty"]
	if qty == nil {
		qty = raw["quantity"]
	}
	return Normalize(LineItem{
		ID:       rawString(raw["id"]),
		Title:    rawString(raw["title"]),
		Category: rawString(raw["category"]),
		Image:    rawString(raw["image"]),
		Price:    ParseMoney(raw["price"]),
		Quantity: parseQuantity(qty),
	})
}

// ParseMoney coerces v into Money; anything non-numeric or non-finite yields zero.
func ParseMoney(v any) Money {
	switch t := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return t
	case *decimal.Decimal:
		if t == nil {
			return decimal.Zero
		}
		return *t
	case float64:
		return fromFloat(t)
	case float32:
		return fromFloat(float64(t))
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func fromFloat(f float64) Money {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// parseQuantity truncates fractional quantities toward zero (2.7 -> 2); non-numeric or sub-1 values become 1.
func parseQuantity(v any) int {
	if n, ok := v.(json.Number); ok {
		v = n.String()
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 1 {
		return 1
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

func rawString(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(cast.ToString(v))
}
