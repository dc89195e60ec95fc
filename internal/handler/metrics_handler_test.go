package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dronexam-api/internal/service"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func metricsRouter(h *MetricsHandler) http.Handler {
	r := newTestRouter(nil)
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)
	return r
}

func TestMetricsHandlerReady(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := doRequest(metricsRouter(NewMetricsHandler(nil, map[string]Pinger{"database": ok, "redis": ok})), http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(metricsRouter(NewMetricsHandler(nil, map[string]Pinger{"database": ok, "redis": down})), http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	rec := doRequest(metricsRouter(NewMetricsHandler(nil, nil)), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	metrics := service.NewMetricsService()
	metrics.ObserveHTTPRequest(http.MethodGet, "/health", http.StatusOK, 0)
	rec = doRequest(metricsRouter(NewMetricsHandler(metrics, nil)), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")

	rec = doRequest(metricsRouter(NewMetricsHandler(nil, nil)), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
