package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testCatalog = `coupons:
  - code: SAVE5
    label: Five off
    kind: fixed
    value: 5
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestQuoteJSON(t *testing.T) {
	dir := t.TempDir()
	cartPath := writeFile(t, dir, "cart.json", `[{"id":"a","title":"Collar","price":10,"qty":2},{"id":"b","title":"Ball","price":"5"}]`)
	catalogPath := writeFile(t, dir, "coupons.yaml", testCatalog)

	var out bytes.Buffer
	err := run(context.Background(), []string{"-cart", cartPath, "-tax", "0.1", "-coupon", "save5", "-catalog", catalogPath, "-json"}, &out)
	require.NoError(t, err)

	var quote struct {
		Pricing map[string]string `json:"pricing"`
		Display map[string]string `json:"display"`
		Outcome string            `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &quote))
	require.Equal(t, "accepted", quote.Outcome)
	require.Equal(t, "25", quote.Pricing["subtotal"])
	require.Equal(t, "22.5", quote.Pricing["total"])
	require.Equal(t, "PKR 6255", quote.Display["total"])
}

func TestQuoteStoredCartWithoutCoupon(t *testing.T) {
	dir := t.TempDir()
	cartPath := writeFile(t, dir, "cart.json", `{"items":[{"title":"Bone","price":"abc","qty":-1},{"title":"Leash","price":12.5,"quantity":"2"}]}`)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-cart", cartPath, "-currency", "USD", "-rate", "1"}, &out))
	require.Contains(t, out.String(), "Total")
	require.Contains(t, out.String(), "USD 25")
	require.NotContains(t, out.String(), "Discount")
}

func TestQuoteErrors(t *testing.T) {
	var out bytes.Buffer
	require.ErrorContains(t, run(context.Background(), nil, &out), "-cart is required")
	require.ErrorContains(t, run(context.Background(), []string{"-cart", "x.json", "-tax", "abc"}, &out), "invalid -tax")
	require.ErrorContains(t, run(context.Background(), []string{"-cart", filepath.Join(t.TempDir(), "missing.json")}, &out), "read cart")
}
