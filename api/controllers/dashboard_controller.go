/*
 * @module api/controllers/dashboard_controller
 * @description 监控面板控制器：聚合滚动窗口流量、外部API健康度、慢查询统计与活跃告警
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow HTTP请求 -> 各数据源快照 -> 聚合响应
 * @rules 面板数据全部来自进程内状态，读取路径不阻塞写入
 * @dependencies service/metrics, service/instrument, service/monitoring
 * @refs api/routes.go
 */

package controllers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/render"

	"observability-service/service/instrument"
	"observability-service/service/metrics"
	"observability-service/service/monitoring"
)

// DashboardController 监控面板控制器
type DashboardController struct {
	registry *metrics.Registry
	windows  *metrics.WindowSet
	health   *instrument.HealthTracker
	queries  *instrument.QueryTracker
	engine   *monitoring.AlertEngine
}

// NewDashboardController 创建监控面板控制器实例
func NewDashboardController(registry *metrics.Registry, windows *metrics.WindowSet, health *instrument.HealthTracker, queries *instrument.QueryTracker, engine *monitoring.AlertEngine) *DashboardController {
	return &DashboardController{
		registry: registry,
		windows:  windows,
		health:   health,
		queries:  queries,
		engine:   engine,
	}
}

// TrafficSummary 近5分钟流量概览
type TrafficSummary struct {
	Requests     float64 `json:"requests"`
	Errors       float64 `json:"errors"`
	ErrorRate    float64 `json:"error_rate"`
	SlowRequests float64 `json:"slow_requests"`
	DBErrors     float64 `json:"db_errors"`
}

// RuntimeSummary 进程运行时概览
type RuntimeSummary struct {
	UptimeSeconds  float64 `json:"uptime_seconds"`
	Goroutines     int     `json:"goroutines"`
	HeapAllocBytes uint64  `json:"heap_alloc_bytes"`
	HeapSysBytes   uint64  `json:"heap_sys_bytes"`
	NumGC          uint32  `json:"num_gc"`
}

// DashboardData 面板聚合数据
type DashboardData struct {
	Timestamp    time.Time                       `json:"timestamp"`
	Traffic      TrafficSummary                  `json:"traffic"`
	Runtime      RuntimeSummary                  `json:"runtime"`
	APIHealth    map[string]instrument.APIHealth `json:"api_health"`
	SlowQueries  []instrument.QueryStats         `json:"slow_queries"`
	ActiveAlerts []*monitoring.Alert             `json:"active_alerts"`
}

// Dashboard 监控面板数据
// @Summary 监控面板数据
// @Description 聚合流量、运行时、外部API健康度、慢查询与活跃告警
// @Tags 监控
// @Produce json
// @Success 200 {object} APIResponse{data=DashboardData}
// @Router /monitoring/dashboard [get]
func (c *DashboardController) Dashboard(w http.ResponseWriter, r *http.Request) {
	requests := c.windows.Value(metrics.WindowRequests)
	errors := c.windows.Value(metrics.WindowErrors)
	errorRate := 0.0
	if requests > 0 {
		errorRate = errors / requests
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	data := DashboardData{
		Timestamp: time.Now(),
		Traffic: TrafficSummary{
			Requests:     requests,
			Errors:       errors,
			ErrorRate:    errorRate,
			SlowRequests: c.windows.Value(metrics.WindowSlowRequests),
			DBErrors:     c.windows.Value(metrics.WindowDBErrors),
		},
		Runtime: RuntimeSummary{
			UptimeSeconds:  c.registry.UptimeSeconds(),
			Goroutines:     runtime.NumGoroutine(),
			HeapAllocBytes: memStats.HeapAlloc,
			HeapSysBytes:   memStats.HeapSys,
			NumGC:          memStats.NumGC,
		},
		APIHealth:    c.health.All(),
		SlowQueries:  c.queries.SlowQueries(),
		ActiveAlerts: c.engine.ActiveAlerts(),
	}

	render.JSON(w, r, APIResponse{Status: 0, Msg: "获取成功", Data: data})
}
