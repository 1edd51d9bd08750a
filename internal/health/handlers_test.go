package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/furever-cart/internal/cart"
	"github.com/noah-isme/furever-cart/internal/health"
)

func ok(context.Context) error { return nil }

func TestLive(t *testing.T) {
	handler := health.Handler{}
	rr := httptest.NewRecorder()
	handler.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadySuccess(t *testing.T) {
	svc := &cart.Service{Store: &cart.MemoryStore{}}
	handler := health.Handler{Checks: map[string]health.Checker{"store": svc, "resolver": health.CheckFunc(ok)}}
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	require.Equal(t, map[string]string{"store": "ok", "resolver": "ok"}, status)
}

func TestReadyFailure(t *testing.T) {
	handler := health.Handler{Checks: map[string]health.Checker{
		"store": health.CheckFunc(func(context.Context) error { return errors.New("redis down") }),
	}}
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	require.Equal(t, "redis down", status["store"])
}

func TestReadyProbeTimeout(t *testing.T) {
	slow := health.CheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	handler := health.Handler{Checks: map[string]health.Checker{"store": slow}, Timeout: 10 * time.Millisecond}
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), "deadline exceeded")
}

func TestReadyUnconfiguredServiceFails(t *testing.T) {
	handler := health.Handler{Checks: map[string]health.Checker{"store": &cart.Service{}}}
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
