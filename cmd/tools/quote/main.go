// Command quote prices a saved cart offline against the coupon catalog.
//
//	quote -cart cart.json -tax 0.1 -coupon SAVE5 -catalog config/coupons.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/furever-cart/internal/cart"
	"github.com/noah-isme/furever-cart/internal/coupon"
	"github.com/noah-isme/furever-cart/internal/pricing"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("quote", flag.ContinueOnError)
	var (
		cartPath    = fs.String("cart", "", "path to a cart JSON file (array of items or {\"items\": [...]})")
		taxRate     = fs.String("tax", "0", "tax rate as a fraction, e.g. 0.1")
		code        = fs.String("coupon", "", "coupon code to apply")
		catalogPath = fs.String("catalog", "config/coupons.yaml", "coupon catalog file")
		currency    = fs.String("currency", "PKR", "display currency code")
		rate        = fs.String("rate", "278", "display conversion rate")
		asJSON      = fs.Bool("json", false, "print the quote as JSON")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cartPath == "" {
		return fmt.Errorf("-cart is required")
	}
	tax, err := decimal.NewFromString(strings.TrimSpace(*taxRate))
	if err != nil {
		return fmt.Errorf("invalid -tax: %w", err)
	}
	displayRate, err := decimal.NewFromString(strings.TrimSpace(*rate))
	if err != nil {
		return fmt.Errorf("invalid -rate: %w", err)
	}
	items, err := readCart(*cartPath)
	if err != nil {
		return err
	}

	var resolver coupon.Resolver
	if strings.TrimSpace(*code) != "" {
		catalog, err := coupon.LoadCatalog(*catalogPath)
		if err != nil {
			return err
		}
		resolver = catalog
	}

	sess := cart.NewSession("quote", cart.Options{Resolver: resolver, TaxRate: pricing.NormalizeTaxRate(tax)})
	for _, it := range items {
		if _, err := sess.Add(it); err != nil {
			return err
		}
	}
	res, _ := sess.ApplyCoupon(ctx, *code)
	view := sess.View()
	formatter := pricing.Formatter{Currency: *currency, Rate: displayRate}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"items":   view.Items,
			"pricing": view.Summary,
			"display": formatter.FormatSummary(view.Summary),
			"coupon":  view.Coupon,
			"status":  view.Status,
			"outcome": res.Outcome.String(),
		})
	}

	for _, it := range view.Items {
		fmt.Fprintf(out, "%-32s %3d x %-10s %s\n", it.Title, it.Quantity, it.Price.StringFixed(2), formatter.Format(it.LineTotal()))
	}
	fmt.Fprintf(out, "%-32s %s\n", "Subtotal", formatter.Format(view.Summary.Subtotal))
	fmt.Fprintf(out, "%-32s %s\n", "Tax", formatter.Format(view.Summary.Tax))
	if view.Coupon != nil {
		fmt.Fprintf(out, "%-32s -%s\n", "Discount ("+view.Coupon.Label+")", formatter.Format(view.Summary.Discount))
	}
	fmt.Fprintf(out, "%-32s %s\n", "Total", formatter.Format(view.Summary.Total))
	if view.Status != "" {
		fmt.Fprintln(out, view.Status)
	}
	return nil
}

// readCart accepts the stored cart document or a bare item array.
func readCart(path string) ([]pricing.LineItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var items []pricing.LineItem
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("decode cart: %w", err)
		}
		return items, nil
	}
	var st cart.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return st.Items, nil
}
