package coupon

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/furever-cart/internal/obs"
)

// Named is implemented by resolvers that want a stable label in metrics and traces.
type Named interface {
	Name() string
}

func sourceOf(r Resolver) string {
	if n, ok := r.(Named); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	return "custom"
}

// Apply awaits r once for code and interprets the answer. A panicking resolver is
// reported as a fault, never propagated.
func Apply(ctx context.Context, r Resolver, code string, snap Snapshot) Resolution {
	source := sourceOf(r)
	ctx, span := otel.Tracer("coupon").Start(ctx, "coupon.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("coupon.source", source),
		attribute.Int("cart.item_count", snap.ItemCount()),
	)

	start := time.Now()
	resp, err := call(ctx, r, code, snap)
	res := Interpret(code, resp, err)

	span.SetAttributes(attribute.String("coupon.outcome", res.Outcome.String()))
	if res.Outcome == Faulted {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "resolver fault")
	}
	obs.ObserveCouponResolution(source, res.Outcome.String(), obs.DurationMillis(time.Since(start)))
	return res
}

func call(ctx context.Context, r Resolver, code string, snap Snapshot) (resp Response, err error) {
	if r == nil {
		return Response{}, ErrResolverMissing
	}
	defer func() {
		if p := recover(); p != nil {
			resp = Response{}
			err = fmt.Errorf("coupon resolver panic: %v", p)
		}
	}()
	return r.Resolve(ctx, code, snap)
}
