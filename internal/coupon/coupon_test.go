package coupon_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/furever-cart/internal/coupon"
	"github.com/noah-isme/furever-cart/internal/obs"
	"github.com/noah-isme/furever-cart/internal/pricing"
)

func TestMain(m *testing.M) {
	obs.MustRegisterDomainMetrics("test", prometheus.NewRegistry())
	m.Run()
}

func money(s string) pricing.Money { return decimal.RequireFromString(s) }

func moneyPtr(s string) *pricing.Money {
	m := money(s)
	return &m
}

func sampleSnapshot() coupon.Snapshot {
	return coupon.NewSnapshot([]pricing.LineItem{
		{ID: "a", Title: "Collar", Category: "accessories", Price: money("10"), Quantity: 2},
		{ID: "b", Title: "Ball", Category: "toys", Price: money("5"), Quantity: 1},
	}, money("0.1"))
}

func TestNewSnapshot(t *testing.T) {
	snap := sampleSnapshot()
	require.True(t, snap.Subtotal.Equal(money("25")))
	require.True(t, snap.Tax.Equal(money("2.5")))
	require.True(t, snap.Total.Equal(money("27.5")))
	require.Equal(t, 3, snap.ItemCount())
}

func TestInterpretFixed(t *testing.T) {
	res := coupon.Interpret(" SAVE5 ", coupon.Fixed(money("5")), nil)
	require.Equal(t, coupon.Accepted, res.Outcome)
	require.Equal(t, coupon.StatusApplied, res.Message)
	require.Equal(t, "SAVE5", res.Coupon.Label)
	require.Equal(t, pricing.ScopeTotal, res.Coupon.Scope)
	require.True(t, res.Coupon.Amount.Equal(money("5")))
	require.Nil(t, res.Coupon.Percent)
}

func TestInterpretDiscountDefaultsScopeAndLabel(t *testing.T) {
	res := coupon.Interpret("HALF", coupon.Discount(nil, moneyPtr("50"), "", ""), nil)
	require.Equal(t, coupon.Accepted, res.Outcome)
	require.Equal(t, "HALF", res.Coupon.Label)
	require.Equal(t, pricing.ScopeTotal, res.Coupon.Scope)
	require.True(t, res.Coupon.Percent.Equal(money("50")))

	res = coupon.Interpret("SUB", coupon.Discount(moneyPtr("3"), nil, pricing.ScopeSubtotal, "Three off"), nil)
	require.Equal(t, "Three off", res.Coupon.Label)
	require.Equal(t, pricing.ScopeSubtotal, res.Coupon.Scope)
}

func TestInterpretDiscountCopiesValues(t *testing.T) {
	amount := money("4")
	resp := coupon.Discount(&amount, nil, pricing.ScopeTotal, "")
	res := coupon.Interpret("X", resp, nil)
	amount = money("400")
	require.True(t, res.Coupon.Amount.Equal(money("4")))
}

func TestInterpretRejections(t *testing.T) {
	cases := []struct {
		name string
		resp coupon.Response
		want string
	}{
		{name: "unknown", resp: coupon.Response{}, want: coupon.StatusNotValid},
		{name: "reject with message", resp: coupon.Reject("Expired yesterday"), want: "Expired yesterday"},
		{name: "reject blank", resp: coupon.Reject("  "), want: coupon.StatusNotValid},
		{name: "discount without values", resp: coupon.Discount(nil, nil, pricing.ScopeTotal, "x"), want: coupon.StatusNotValid},
		{name: "fixed without amount", resp: coupon.Response{Kind: coupon.KindFixed}, want: coupon.StatusNotValid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := coupon.Interpret("CODE", tc.resp, nil)
			require.Equal(t, coupon.Rejected, res.Outcome)
			require.Equal(t, tc.want, res.Message)
			require.Nil(t, res.Coupon)
		})
	}
}

func TestInterpretFault(t *testing.T) {
	boom := errors.New("boom")
	res := coupon.Interpret("CODE", coupon.Fixed(money("1")), boom)
	require.Equal(t, coupon.Faulted, res.Outcome)
	require.Equal(t, coupon.StatusFailed, res.Message)
	require.ErrorIs(t, res.Err, boom)
	require.Nil(t, res.Coupon)
}

type namedResolver struct {
	coupon.ResolverFunc
}

func (namedResolver) Name() string { return "fake" }

func TestApplyRecordsOutcome(t *testing.T) {
	r := namedResolver{coupon.ResolverFunc(func(_ context.Context, code string, snap coupon.Snapshot) (coupon.Response, error) {
		require.Equal(t, "SAVE5", code)
		require.True(t, snap.Subtotal.Equal(money("25")))
		return coupon.Fixed(money("5")), nil
	})}
	before := testutil.ToFloat64(obs.CouponResolutionsTotal.WithLabelValues("fake", "accepted"))

	res := coupon.Apply(context.Background(), r, "SAVE5", sampleSnapshot())
	require.Equal(t, coupon.Accepted, res.Outcome)
	require.Equal(t, before+1, testutil.ToFloat64(obs.CouponResolutionsTotal.WithLabelValues("fake", "accepted")))
}

func TestApplyRecoversPanic(t *testing.T) {
	r := coupon.ResolverFunc(func(context.Context, string, coupon.Snapshot) (coupon.Response, error) {
		panic("resolver exploded")
	})
	res := coupon.Apply(context.Background(), r, "X", sampleSnapshot())
	require.Equal(t, coupon.Faulted, res.Outcome)
	require.Equal(t, coupon.StatusFailed, res.Message)
	require.ErrorContains(t, res.Err, "resolver exploded")
}

func TestApplyWithoutResolver(t *testing.T) {
	res := coupon.Apply(context.Background(), nil, "X", sampleSnapshot())
	require.Equal(t, coupon.Faulted, res.Outcome)
	require.ErrorIs(t, res.Err, coupon.ErrResolverMissing)
}

func TestApplyResolverError(t *testing.T) {
	r := coupon.ResolverFunc(func(context.Context, string, coupon.Snapshot) (coupon.Response, error) {
		return coupon.Response{}, context.DeadlineExceeded
	})
	res := coupon.Apply(context.Background(), r, "X", sampleSnapshot())
	require.Equal(t, coupon.Faulted, res.Outcome)
	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "none", coupon.OutcomeNone.String())
	require.Equal(t, "accepted", coupon.Accepted.String())
	require.Equal(t, "rejected", coupon.Rejected.String())
	require.Equal(t, "faulted", coupon.Faulted.String())
}
