/*
 * @module api/controllers/metrics_controller
 * @description 指标导出控制器：Prometheus文本格式与JSON快照两种导出形式
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow HTTP请求 -> 注册表快照 -> 格式化输出
 * @rules Prometheus文本导出使用 text/plain; version=0.0.4 内容类型
 * @dependencies service/metrics
 * @refs service/metrics/registry.go
 */

package controllers

import (
	"net/http"

	"github.com/go-chi/render"

	"observability-service/service/metrics"
)

// prometheusContentType Prometheus 文本协议内容类型
const prometheusContentType = "text/plain; version=0.0.4; charset=utf-8"

// MetricsController 指标导出控制器
type MetricsController struct {
	registry *metrics.Registry
}

// NewMetricsController 创建指标导出控制器实例
func NewMetricsController(registry *metrics.Registry) *MetricsController {
	return &MetricsController{registry: registry}
}

// Prometheus Prometheus文本格式导出
// @Summary Prometheus指标导出
// @Description 以Prometheus文本格式导出全部业务指标
// @Tags 监控
// @Produce plain
// @Success 200 {string} string
// @Router /metrics [get]
func (c *MetricsController) Prometheus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", prometheusContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(c.registry.ToPrometheusText()))
}

// JSON JSON快照导出
// @Summary 指标JSON快照
// @Description 以JSON格式导出全部指标与进程内存信息
// @Tags 监控
// @Produce json
// @Success 200 {object} metrics.Snapshot
// @Router /metrics/json [get]
func (c *MetricsController) JSON(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, c.registry.ToJSON())
}
