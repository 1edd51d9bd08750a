package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Formatter renders amounts for display in a local currency.
type Formatter struct {
	Currency string
	Rate     Money
}

// Format converts amount by the configured rate and renders it in whole units, e.g. "PKR 6950".
func (f Formatter) Format(amount Money) string {
	rate := f.Rate
	if rate.IsZero() || rate.IsNegative() {
		rate = decimal.NewFromInt(1)
	}
	currency := strings.TrimSpace(f.Currency)
	value := amount.Mul(rate).Round(0).StringFixed(0)
	if currency == "" {
		return value
	}
	return currency + " " + value
}

// FormatSummary renders every component of s.
func (f Formatter) FormatSummary(s Summary) map[string]string {
	return map[string]string{
		"subtotal": f.Format(s.Subtotal),
		"tax":      f.Format(s.Tax),
		"discount": f.Format(s.Discount),
		"total":    f.Format(s.Total),
	}
}
