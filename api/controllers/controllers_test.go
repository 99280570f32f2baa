package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"observability-service/logger"
	"observability-service/service/instrument"
	"observability-service/service/metrics"
	"observability-service/service/monitoring"
	"observability-service/testutil"
)

type fixture struct {
	router   *chi.Mux
	registry *metrics.Registry
	windows  *metrics.WindowSet
	health   *instrument.HealthTracker
	engine   *monitoring.AlertEngine
}

func newFixture() *fixture {
	log := logger.New(logger.Options{
		Service: "test",
		Level:   logger.LevelError,
		Stdout:  &bytes.Buffer{},
		Stderr:  &bytes.Buffer{},
	})
	registry := metrics.NewRegistry()
	metrics.RegisterDefaultMetrics(registry)
	windows := metrics.NewWindowSet(5 * time.Minute)
	health := instrument.NewHealthTracker()
	queries := instrument.NewQueryTracker(log, registry, windows, 500, false)
	providers := instrument.NewProviders(
		instrument.NewInstrumentor(log, registry, windows, health), log, registry)
	engine := monitoring.NewAlertEngine(log, registry)
	engine.RegisterRule(&monitoring.AlertRule{
		ID:       "test_rule",
		Name:     "测试规则",
		Severity: monitoring.SeverityCritical,
		Cooldown: 0,
		Enabled:  true,
	})

	r := chi.NewRouter()
	healthController := NewHealthController("test-service", nil, nil, health, engine)
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)
	r.Get("/health/detail", healthController.Detail)

	metricsController := NewMetricsController(registry)
	r.Get("/metrics", metricsController.Prometheus)
	r.Get("/metrics/json", metricsController.JSON)

	dashboardController := NewDashboardController(registry, windows, health, queries, engine)
	r.Get("/monitoring/dashboard", dashboardController.Dashboard)

	eventController := NewEventController(providers)
	r.Route("/monitoring/events", func(r chi.Router) {
		r.Post("/token-usage", eventController.TokenUsage)
		r.Post("/revenue", eventController.Revenue)
		r.Post("/subscription", eventController.Subscription)
	})

	alertController := NewAlertController(engine)
	r.Route("/monitoring/alerts", func(r chi.Router) {
		r.Get("/rules", alertController.ListRules)
		r.Get("/history", alertController.History)
		r.Get("/active", alertController.Active)
		r.Post("/rules/{id}/enable", alertController.Enable)
		r.Post("/rules/{id}/disable", alertController.Disable)
		r.Post("/rules/{id}/fire", alertController.Fire)
	})

	return &fixture{router: r, registry: registry, windows: windows, health: health, engine: engine}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.DoRequest(t, f.router, method, path, body)
}

func decodeAPIResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture()
	rec := f.do(t, "GET", "/health", nil)

	var resp HealthResponse
	testutil.AssertJSONResponse(t, rec, http.StatusOK, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test-service", resp.Service)
}

func TestReadyWithoutDatabase(t *testing.T) {
	f := newFixture()
	rec := f.do(t, "GET", "/ready", nil)

	// 未接入数据库时就绪探测直接通过
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthDetailDegradedByCriticalAlert(t *testing.T) {
	f := newFixture()

	rec := f.do(t, "GET", "/health/detail", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.engine.Fire(httptest.NewRequest("GET", "/", nil).Context(), "test_rule", "boom", nil)
	rec = f.do(t, "GET", "/health/detail", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp DetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, 1, resp.CriticalAlerts)
}

func TestHealthDetailDegradedByUnhealthyAPI(t *testing.T) {
	f := newFixture()
	f.health.Record("stripe", false, 100)

	rec := f.do(t, "GET", "/health/detail", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp DetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.UnhealthyAPIs, "stripe")
}

func TestPrometheusEndpointContentType(t *testing.T) {
	f := newFixture()
	f.registry.IncCounter(metrics.MetricHTTPRequestsTotal, map[string]string{"method": "GET"}, 3)

	rec := f.do(t, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; version=0.0.4; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET"} 3`)
	assert.Contains(t, rec.Body.String(), "process_uptime_seconds")
}

func TestMetricsJSONEndpoint(t *testing.T) {
	f := newFixture()
	rec := f.do(t, "GET", "/metrics/json", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Contains(t, snap.Metrics, metrics.MetricHTTPRequestsTotal)
	assert.Greater(t, snap.Memory.HeapAllocBytes, uint64(0))
}

func TestDashboardEndpoint(t *testing.T) {
	f := newFixture()
	f.windows.Inc(metrics.WindowRequests, 10)
	f.windows.Inc(metrics.WindowErrors, 2)

	rec := f.do(t, "GET", "/monitoring/dashboard", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status int           `json:"status"`
		Data   DashboardData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Status)
	assert.Equal(t, 10.0, resp.Data.Traffic.Requests)
	assert.InDelta(t, 0.2, resp.Data.Traffic.ErrorRate, 0.0001)
	assert.Greater(t, resp.Data.Runtime.Goroutines, 0)
}

func TestEventIngestion(t *testing.T) {
	f := newFixture()

	rec := f.do(t, "POST", "/monitoring/events/token-usage",
		[]byte(`{"provider":"openai","model":"gpt-4o","prompt_tokens":100,"completion_tokens":250}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "POST", "/monitoring/events/revenue",
		[]byte(`{"source":"stripe","amount_usd":29.99}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "POST", "/monitoring/events/subscription",
		[]byte(`{"event":"created","plan":"pro"}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	snap := f.registry.ToJSON()
	promptKey := metrics.FormatLabels(map[string]string{
		"provider": "openai", "model": "gpt-4o", "kind": "prompt",
	})
	assert.Equal(t, 100.0, snap.Metrics[metrics.MetricTokensUsedTotal].Values[promptKey])
	revenueKey := metrics.FormatLabels(map[string]string{"source": "stripe"})
	assert.InDelta(t, 29.99, snap.Metrics[metrics.MetricRevenueUSDTotal].Values[revenueKey], 0.0001)

	// 必填字段缺失返回400
	rec = f.do(t, "POST", "/monitoring/events/token-usage", []byte(`{"model":"gpt-4o"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeAPIResponse(t, rec)
	assert.Equal(t, -1, resp.Status)
}

func TestAlertRulesList(t *testing.T) {
	f := newFixture()
	rec := f.do(t, "GET", "/monitoring/alerts/rules", nil)

	resp := decodeAPIResponse(t, rec)
	assert.Equal(t, 0, resp.Status)
	rules, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, rules, 1)
}

func TestAlertEnableDisable(t *testing.T) {
	f := newFixture()

	rec := f.do(t, "POST", "/monitoring/alerts/rules/test_rule/disable", nil)
	resp := decodeAPIResponse(t, rec)
	assert.Equal(t, 0, resp.Status)

	// 重复停用仍然成功（幂等）
	rec = f.do(t, "POST", "/monitoring/alerts/rules/test_rule/disable", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// 未知规则ID也返回成功，响应携带目标ID与目标状态
	rec = f.do(t, "POST", "/monitoring/alerts/rules/missing/enable", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	resp = decodeAPIResponse(t, rec)
	assert.Equal(t, 0, resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "missing", data["id"])
	assert.Equal(t, true, data["enabled"])
}

func TestAlertManualFire(t *testing.T) {
	f := newFixture()

	// 冷却期保证第二次手动触发被抑制
	f.engine.Rules()[0].Cooldown = time.Hour

	body := []byte(`{"message":"手工演练","metadata":{"source":"runbook"}}`)
	rec := f.do(t, "POST", "/monitoring/alerts/rules/test_rule/fire", body)
	resp := decodeAPIResponse(t, rec)
	assert.Equal(t, 0, resp.Status)
	assert.Equal(t, "触发成功", resp.Msg)

	rec = f.do(t, "GET", "/monitoring/alerts/active", nil)
	resp = decodeAPIResponse(t, rec)
	active, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, active, 1)

	// 冷却期内再次触发返回成功但未创建新告警
	rec = f.do(t, "POST", "/monitoring/alerts/rules/test_rule/fire", nil)
	resp = decodeAPIResponse(t, rec)
	assert.Equal(t, 0, resp.Status)
	assert.Nil(t, resp.Data)

	rec = f.do(t, "POST", "/monitoring/alerts/rules/missing/fire", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertHistoryLimit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// 无冷却规则可连续触发，每次生成独立历史记录
	for i := 0; i < 5; i++ {
		require.NotNil(t, f.engine.Fire(ctx, "test_rule", "m", nil))
	}

	rec := f.do(t, "GET", "/monitoring/alerts/history?limit=3", nil)
	resp := decodeAPIResponse(t, rec)
	history, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, history, 3)
}
