package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value in base currency units.
type Money = decimal.Decimal

var hundred = decimal.NewFromInt(100)

// Scope selects the base a coupon discount is computed against.
type Scope string

const (
	// ScopeSubtotal discounts the pre-tax subtotal.
	ScopeSubtotal Scope = "subtotal"
	// ScopeTotal discounts subtotal plus tax.
	ScopeTotal Scope = "total"
)

// ParseScope maps free-form input onto a Scope, defaulting to ScopeTotal.
func ParseScope(value string) Scope {
	if strings.EqualFold(strings.TrimSpace(value), string(ScopeSubtotal)) {
		return ScopeSubtotal
	}
	return ScopeTotal
}

// Coupon is the discount currently applied to a cart.
type Coupon struct {
	Label   string `json:"label"`
	Amount  *Money `json:"amount,omitempty"`
	Percent *Money `json:"percent,omitempty"`
	Scope   Scope  `json:"scope"`
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (c *Coupon) Clone() *Coupon {
	if c == nil {
		return nil
	}
	out := &Coupon{Label: c.Label, Scope: c.Scope}
	if c.Amount != nil {
		amount := *c.Amount
		out.Amount = &amount
	}
	if c.Percent != nil {
		percent := *c.Percent
		out.Percent = &percent
	}
	return out
}

// Discount computes the discount granted against the provided subtotal and tax.
// A non-zero fixed amount wins over the percentage; the result never exceeds its base.
func (c *Coupon) Discount(subtotal, tax Money) Money {
	if c == nil {
		return decimal.Zero
	}
	base := subtotal
	if c.Scope != ScopeSubtotal {
		base = subtotal.Add(tax)
	}
	var raw Money
	switch {
	case c.Amount != nil && !c.Amount.IsZero():
		raw = *c.Amount
	case c.Percent != nil:
		raw = base.Mul(*c.Percent).Div(hundred)
	}
	if raw.IsNegative() {
		raw = decimal.Zero
	}
	return decimal.Min(base, raw)
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal Money `json:"subtotal"`
	Tax      Money `json:"tax"`
	Discount Money `json:"discount"`
	Total    Money `json:"total"`
}

// Compute calculates cart totals for the given items, tax rate and optional coupon.
// Malformed items are normalized rather than rejected, so Compute never fails.
func Compute(items []LineItem, taxRate Money, coupon *Coupon) Summary {
	subtotal := decimal.Zero
	for _, it := range items {
		it = Normalize(it)
		subtotal = subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	tax := subtotal.Mul(NormalizeTaxRate(taxRate))
	if tax.IsNegative() {
		tax = decimal.Zero
	}
	discount := coupon.Discount(subtotal, tax)
	total := subtotal.Add(tax).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Summary{
		Subtotal: subtotal,
		Tax:      tax,
		Discount: discount,
		Total:    total,
	}
}

// NormalizeTaxRate treats negative rates as zero.
func NormalizeTaxRate(rate Money) Money {
	if rate.IsNegative() {
		return decimal.Zero
	}
	return rate
}
