/*
 * @module service/metrics/defaults
 * @description 预定义业务指标注册，覆盖HTTP、外部API、数据库、告警与业务事件维度
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow 服务启动 -> 批量注册 -> 各埋点按名称累积
 * @rules 指标名称一经发布不得变更，新增维度通过标签扩展
 * @dependencies service/metrics/registry.go
 * @refs main.go
 */

package metrics

// 预定义指标名称
const (
	MetricHTTPRequestsTotal     = "http_requests_total"
	MetricHTTPRequestDurationMs = "http_request_duration_ms"
	MetricHTTPResponseSizeBytes = "http_response_size_bytes"
	MetricHTTPSlowRequestsTotal = "http_slow_requests_total"
	MetricSecurityEventsTotal   = "security_events_total"

	MetricExternalAPICallsTotal  = "external_api_calls_total"
	MetricExternalAPIDurationMs  = "external_api_duration_ms"
	MetricExternalAPIErrorsTotal = "external_api_errors_total"

	MetricDBQueriesTotal    = "db_queries_total"
	MetricDBQueryDurationMs = "db_query_duration_ms"
	MetricDBErrorsTotal     = "db_errors_total"

	MetricAlertsFiredTotal    = "alerts_fired_total"
	MetricAlertsResolvedTotal = "alerts_resolved_total"

	MetricTokensUsedTotal         = "tokens_used_total"
	MetricRevenueUSDTotal         = "revenue_usd_total"
	MetricSubscriptionEventsTotal = "subscription_events_total"
)

// 直方图 bucket 边界（毫秒/字节）
var (
	DurationBucketsMs   = []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	ResponseSizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576}
)

// RegisterDefaultMetrics 注册全部预定义指标，幂等
func RegisterDefaultMetrics(r *Registry) {
	r.RegisterCounter(MetricHTTPRequestsTotal, "HTTP请求总数")
	r.RegisterHistogram(MetricHTTPRequestDurationMs, "HTTP请求耗时分布（毫秒）", DurationBucketsMs)
	r.RegisterHistogram(MetricHTTPResponseSizeBytes, "HTTP响应体大小分布（字节）", ResponseSizeBuckets)
	r.RegisterCounter(MetricHTTPSlowRequestsTotal, "慢请求总数")
	r.RegisterCounter(MetricSecurityEventsTotal, "安全事件总数")

	r.RegisterCounter(MetricExternalAPICallsTotal, "外部API调用总数")
	r.RegisterHistogram(MetricExternalAPIDurationMs, "外部API调用耗时分布（毫秒）", DurationBucketsMs)
	r.RegisterCounter(MetricExternalAPIErrorsTotal, "外部API调用失败总数")

	r.RegisterCounter(MetricDBQueriesTotal, "数据库查询总数")
	r.RegisterHistogram(MetricDBQueryDurationMs, "数据库查询耗时分布（毫秒）", DurationBucketsMs)
	r.RegisterCounter(MetricDBErrorsTotal, "数据库错误总数")

	r.RegisterCounter(MetricAlertsFiredTotal, "告警触发总数")
	r.RegisterCounter(MetricAlertsResolvedTotal, "告警解除总数")

	r.RegisterCounter(MetricTokensUsedTotal, "模型Token消耗总数")
	r.RegisterCounter(MetricRevenueUSDTotal, "收入累计（美元）")
	r.RegisterCounter(MetricSubscriptionEventsTotal, "订阅事件总数")
}
