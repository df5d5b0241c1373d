package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/piggybank/internal/metrics"
)

func get(t *testing.T, h http.Handler, path string) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	res := rec.Result()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	_ = res.Body.Close()
	return res, string(body)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := Router(zaptest.NewLogger(t), nil, nil)

	res, body := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, body)

	res, _ = get(t, h, "/metrics")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	res, body := get(t, Router(zaptest.NewLogger(t), nil, map[string]Pinger{"store": ok}), "/readyz")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.JSONEq(t, `{"store":"ok"}`, body)

	res, body = get(t, Router(zaptest.NewLogger(t), nil, map[string]Pinger{"store": ok, "cache": down}), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	require.Equal(t, "ok", out["store"])
	require.Equal(t, "connection refused", out["cache"])
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	m.AddTokens(metrics.Minted, 1000)

	res, body := get(t, Router(zaptest.NewLogger(t), m.Handler(), nil), "/metrics")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, strings.Contains(body, "tokens_total"), body)
}
