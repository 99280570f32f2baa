/*
 * @module api/controllers/health_controller
 * @description 健康检查控制器：存活探针、就绪探针与带依赖详情的综合健康报告
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow HTTP请求 -> 依赖探测 -> 状态聚合 -> JSON响应
 * @rules 存活探针不触碰外部依赖；就绪/详情探针任一关键依赖失败返回503
 * @dependencies gorm.io/gorm, github.com/go-redis/redis/v8
 * @refs service/instrument/api_health.go, service/monitoring/alert_engine.go
 */

package controllers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/render"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"observability-service/service/instrument"
	"observability-service/service/monitoring"
)

// 依赖探测超时
const dependencyProbeTimeout = 2 * time.Second

// HealthController 健康检查控制器
type HealthController struct {
	serviceName string
	db          *gorm.DB
	redisClient *redis.Client
	health      *instrument.HealthTracker
	engine      *monitoring.AlertEngine
}

// NewHealthController 创建健康检查控制器实例，db与redis可为nil表示未接入
func NewHealthController(serviceName string, db *gorm.DB, redisClient *redis.Client, health *instrument.HealthTracker, engine *monitoring.AlertEngine) *HealthController {
	return &HealthController{
		serviceName: serviceName,
		db:          db,
		redisClient: redisClient,
		health:      health,
		engine:      engine,
	}
}

// HealthResponse 健康检查响应结构
type HealthResponse struct {
	Status    string    `json:"status" example:"ok"`
	Timestamp time.Time `json:"timestamp" example:"2024-01-01T00:00:00Z"`
	Service   string    `json:"service" example:"observability-service"`
}

// Health 存活检查
// @Summary 存活检查
// @Description 检查服务进程是否存活，不探测外部依赖
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   c.serviceName,
	})
}

// ReadyResponse 就绪检查响应结构
type ReadyResponse struct {
	Status    string    `json:"status" example:"ready"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

// Ready 就绪检查
// @Summary 就绪检查
// @Description 检查服务是否可以接收流量，数据库不可达时返回503
// @Tags 系统
// @Produce json
// @Success 200 {object} ReadyResponse
// @Failure 503 {object} ReadyResponse
// @Router /ready [get]
func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Status:    "ready",
		Timestamp: time.Now(),
		Service:   c.serviceName,
	}
	if reason := c.probeDatabase(r.Context()); reason != "" {
		resp.Status = "not_ready"
		resp.Reason = reason
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}

// probeDatabase 数据库连通性探测，未接入数据库时视为通过
func (c *HealthController) probeDatabase(ctx context.Context) string {
	if c.db == nil {
		return ""
	}
	probeCtx, cancel := context.WithTimeout(ctx, dependencyProbeTimeout)
	defer cancel()

	sqlDB, err := c.db.DB()
	if err != nil {
		return "数据库连接池不可用: " + err.Error()
	}
	if err := sqlDB.PingContext(probeCtx); err != nil {
		return "数据库探测失败: " + err.Error()
	}
	return ""
}

// DependencyStatus 单个依赖的健康状态
type DependencyStatus struct {
	Healthy   bool    `json:"healthy"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	Detail    string  `json:"detail,omitempty"`
}

// DetailResponse 综合健康详情
type DetailResponse struct {
	Status         string                      `json:"status"`
	Timestamp      time.Time                   `json:"timestamp"`
	Service        string                      `json:"service"`
	Dependencies   map[string]DependencyStatus `json:"dependencies"`
	HeapUsedRatio  float64                     `json:"heap_used_ratio"`
	UnhealthyAPIs  []string                    `json:"unhealthy_apis,omitempty"`
	CriticalAlerts int                         `json:"critical_alerts"`
}

// Detail 综合健康详情
// @Summary 综合健康详情
// @Description 聚合数据库、缓存、外部API健康度与活跃严重告警，存在不健康项时返回503
// @Tags 系统
// @Produce json
// @Success 200 {object} DetailResponse
// @Failure 503 {object} DetailResponse
// @Router /health/detail [get]
func (c *HealthController) Detail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := DetailResponse{
		Status:       "healthy",
		Timestamp:    time.Now(),
		Service:      c.serviceName,
		Dependencies: make(map[string]DependencyStatus),
	}

	degraded := false

	if c.db != nil {
		start := time.Now()
		reason := c.probeDatabase(ctx)
		status := DependencyStatus{
			Healthy:   reason == "",
			LatencyMs: float64(time.Since(start)) / float64(time.Millisecond),
			Detail:    reason,
		}
		resp.Dependencies["database"] = status
		if !status.Healthy {
			degraded = true
		}
	}

	if c.redisClient != nil {
		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, dependencyProbeTimeout)
		err := c.redisClient.Ping(probeCtx).Err()
		cancel()
		status := DependencyStatus{
			Healthy:   err == nil,
			LatencyMs: float64(time.Since(start)) / float64(time.Millisecond),
		}
		if err != nil {
			status.Detail = "Redis探测失败: " + err.Error()
			degraded = true
		}
		resp.Dependencies["redis"] = status
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	if memStats.HeapSys > 0 {
		resp.HeapUsedRatio = float64(memStats.HeapAlloc) / float64(memStats.HeapSys)
	}
	if resp.HeapUsedRatio > 0.95 {
		degraded = true
	}

	if c.health != nil {
		resp.UnhealthyAPIs = c.health.Unhealthy()
		if len(resp.UnhealthyAPIs) > 0 {
			degraded = true
		}
	}

	if c.engine != nil {
		resp.CriticalAlerts = c.engine.ActiveCount(monitoring.SeverityCritical)
		if resp.CriticalAlerts > 0 {
			degraded = true
		}
	}

	if degraded {
		resp.Status = "degraded"
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}
