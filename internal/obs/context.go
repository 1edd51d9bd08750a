package obs

import "context"

type ctxKey int

const routeKey ctxKey = iota

// WithRoutePattern records the chi route template so metrics and spans share one label.
// A nil ctx is treated as context.Background().
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routeKey, pattern)
}

// RoutePatternFromContext returns the recorded route template, or "".
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	pattern, _ := ctx.Value(routeKey).(string)
	return pattern
}
