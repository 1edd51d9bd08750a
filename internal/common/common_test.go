package common_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/furever-cart/internal/common"
)

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	require.Equal(t, "10.0.0.1", common.ClientIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.7")
	require.Equal(t, "192.0.2.7", common.ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.2")
	require.Equal(t, "203.0.113.5", common.ClientIP(req))

	req.Header.Set("X-Forwarded-For", "garbage")
	require.Equal(t, "192.0.2.7", common.ClientIP(req))
}

func TestWriteAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	err := common.NewAppError("NOT_FOUND", "cart not found", http.StatusNotFound, errors.New("missing"))
	require.True(t, common.WriteAppError(rr, err))
	require.Equal(t, http.StatusNotFound, rr.Code)

	var body map[string]common.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "NOT_FOUND", body["error"].Code)
	require.Equal(t, "cart not found", body["error"].Message)

	require.False(t, common.WriteAppError(httptest.NewRecorder(), errors.New("plain")))
}

func TestIdempotencyMiddleware(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	status := http.StatusCreated
	calls := 0
	mw := common.Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(status)
	}))

	send := func(path, key string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusCreated, send("/api/v1/carts/a/items", "k1"))
	require.Equal(t, http.StatusConflict, send("/api/v1/carts/a/items", "k1"))
	require.Equal(t, http.StatusCreated, send("/api/v1/carts/b/items", "k1"))
	require.Equal(t, http.StatusCreated, send("/api/v1/carts/a/items", ""))
	require.Equal(t, 3, calls)

	status = http.StatusInternalServerError
	require.Equal(t, http.StatusInternalServerError, send("/api/v1/carts/c/items", "k2"))
	status = http.StatusCreated
	require.Equal(t, http.StatusCreated, send("/api/v1/carts/c/items", "k2"))
}
