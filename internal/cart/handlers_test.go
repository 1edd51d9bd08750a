package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/furever-cart/internal/coupon"
	"github.com/noah-isme/furever-cart/internal/pricing"
	"github.com/noah-isme/furever-cart/internal/ratelimit"
)

type envelope struct {
	Data  map[string]any `json:"data"`
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func newTestRouter(t *testing.T, r coupon.Resolver, mw Middlewares) http.Handler {
	t.Helper()
	svc := &Service{Store: &MemoryStore{}, Resolver: r, TaxRate: money("0.1")}
	h := &Handler{Svc: svc, Formatter: pricing.Formatter{Currency: "PKR", Rate: money("278")}}
	router := chi.NewRouter()
	router.Route("/api/v1/carts", func(cr chi.Router) { h.Routes(cr, mw) })
	return router
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr.Code, env
}

func createCart(t *testing.T, h http.Handler) string {
	t.Helper()
	code, env := do(t, h, http.MethodPost, "/api/v1/carts/", "")
	require.Equal(t, http.StatusCreated, code)
	id, _ := env.Data["cartId"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHandlersCartFlow(t *testing.T) {
	resolver := coupon.ResolverFunc(func(_ context.Context, code string, _ coupon.Snapshot) (coupon.Response, error) {
		if code == "TENOFF" {
			return coupon.PercentOff(money("10"), pricing.ScopeSubtotal), nil
		}
		return coupon.Reject(""), nil
	})
	router := newTestRouter(t, resolver, Middlewares{})
	id := createCart(t, router)
	base := "/api/v1/carts/" + id

	code, _ := do(t, router, http.MethodPost, base+"/items", `{"id":"a","title":"Collar","price":10,"qty":2}`)
	require.Equal(t, http.StatusCreated, code)
	code, env := do(t, router, http.MethodPost, base+"/items", `{"id":"b","title":"Ball","price":"5","quantity":"1"}`)
	require.Equal(t, http.StatusCreated, code)

	pricingBlock := env.Data["pricing"].(map[string]any)
	require.Equal(t, "25", pricingBlock["subtotal"])
	require.Equal(t, "27.5", pricingBlock["total"])
	display := env.Data["display"].(map[string]any)
	require.Equal(t, "PKR 7645", display["total"])

	code, env = do(t, router, http.MethodPost, base+"/coupon", `{"code":"TENOFF"}`)
	require.Equal(t, http.StatusOK, code)
	resolution := env.Data["resolution"].(map[string]any)
	require.Equal(t, "accepted", resolution["outcome"])
	require.Equal(t, coupon.StatusApplied, env.Data["status"])
	require.Equal(t, "25", env.Data["pricing"].(map[string]any)["total"])

	code, env = do(t, router, http.MethodPost, base+"/coupon", `{"code":"BOGUS"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "rejected", env.Data["resolution"].(map[string]any)["outcome"])
	require.Equal(t, coupon.StatusNotValid, env.Data["status"])
	require.Nil(t, env.Data["coupon"])
	require.Equal(t, "27.5", env.Data["pricing"].(map[string]any)["total"])

	code, env = do(t, router, http.MethodPost, base+"/coupon", `{"code":"   "}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "none", env.Data["resolution"].(map[string]any)["outcome"])

	code, env = do(t, router, http.MethodPatch, base+"/items/b", `{"qty":0}`)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, env.Data["items"], 1)
	require.Equal(t, true, env.Data["canUndo"])

	code, env = do(t, router, http.MethodPost, base+"/items/undo", ``)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, env.Data["items"], 2)

	code, env = do(t, router, http.MethodDelete, base+"/coupon", ``)
	require.Equal(t, http.StatusOK, code)
	require.Nil(t, env.Data["coupon"])
	require.Equal(t, "27.5", env.Data["pricing"].(map[string]any)["total"])

	code, env = do(t, router, http.MethodDelete, base+"/items/a", ``)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, env.Data["items"], 1)

	code, env = do(t, router, http.MethodDelete, base, ``)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, env.Data["items"])

	code, env = do(t, router, http.MethodGet, base, ``)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, id, env.Data["id"])
}

func TestHandlersNormalizeMalformedItem(t *testing.T) {
	router := newTestRouter(t, nil, Middlewares{})
	id := createCart(t, router)

	code, env := do(t, router, http.MethodPost, "/api/v1/carts/"+id+"/items", `{"title":"Bone","price":"abc","qty":-3}`)
	require.Equal(t, http.StatusCreated, code)
	items := env.Data["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	require.Equal(t, "0", item["price"])
	require.EqualValues(t, 1, item["qty"])
	require.NotEmpty(t, item["id"])
}

func TestHandlersValidationAndErrors(t *testing.T) {
	router := newTestRouter(t, nil, Middlewares{})
	id := createCart(t, router)
	base := "/api/v1/carts/" + id

	code, env := do(t, router, http.MethodPost, base+"/items", `{"price":3}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "BAD_REQUEST", env.Error.Code)
	require.Equal(t, "required", env.Error.Details["title"])

	code, env = do(t, router, http.MethodPost, base+"/items", `not json`)
	require.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, router, http.MethodPatch, base+"/items/x", `{}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "required", env.Error.Details["qty"])

	code, env = do(t, router, http.MethodPatch, base+"/items/x", `{"qty":2}`)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "NOT_FOUND", env.Error.Code)

	code, env = do(t, router, http.MethodPost, base+"/items/undo", ``)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "NOTHING_TO_UNDO", env.Error.Code)

	code, _ = do(t, router, http.MethodGet, "/api/v1/carts/does-not-exist", ``)
	require.Equal(t, http.StatusNotFound, code)
}

func TestHandlersCouponRateLimit(t *testing.T) {
	limiter := ratelimit.Handler{
		Limiter: ratelimit.NewMemoryLimiter("handlers"),
		Config:  ratelimit.Config{Key: ratelimit.ByClientIP("coupon"), Window: time.Minute, Max: 1},
	}
	router := newTestRouter(t, staticResolver(coupon.Fixed(money("1")), nil), Middlewares{CouponLimit: limiter.Middleware})
	id := createCart(t, router)

	code, _ := do(t, router, http.MethodPost, "/api/v1/carts/"+id+"/coupon", `{"code":"ONE"}`)
	require.Equal(t, http.StatusOK, code)
	code, env := do(t, router, http.MethodPost, "/api/v1/carts/"+id+"/coupon", `{"code":"ONE"}`)
	require.Equal(t, http.StatusTooManyRequests, code)
	require.Equal(t, "RATE_LIMITED", env.Error.Code)
}
