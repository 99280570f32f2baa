/*
 * @module api/routes
 * @description API路由配置模块，负责初始化请求管道中间件与全部监控HTTP路由
 * @architecture RESTful API架构
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow 无状态HTTP请求处理
 * @rules 请求管道中间件在异常恢复中间件之外，保证panic请求也完成访问日志与指标埋点
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs api/middleware/request_context.go
 */

package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"gorm.io/gorm"

	"observability-service/api/controllers"
	"observability-service/api/middleware"
	"observability-service/logger"
	"observability-service/service/config"
	"observability-service/service/instrument"
	"observability-service/service/metrics"
	"observability-service/service/monitoring"
)

// Dependencies 路由装配依赖
type Dependencies struct {
	Config    *config.Config
	Logger    *logger.Logger
	Registry  *metrics.Registry
	Windows   *metrics.WindowSet
	Health    *instrument.HealthTracker
	Queries   *instrument.QueryTracker
	Providers *instrument.Providers
	Engine    *monitoring.AlertEngine
	DB        *gorm.DB      // 可为nil
	Redis     *redis.Client // 可为nil
}

// InitRoute 初始化所有API路由
func InitRoute(r *chi.Mux, deps *Dependencies) {
	pipeline := middleware.NewPipeline(deps.Logger, deps.Registry, deps.Windows,
		deps.Config.SlowRequestThresholdMs, deps.Config.IsProduction())

	// 基础中间件
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Use(pipeline.Handler)
	r.Use(pipeline.Recoverer)

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController(deps.Config.ServiceName,
		deps.DB, deps.Redis, deps.Health, deps.Engine)
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)
	r.Get("/health/detail", healthController.Detail)

	// 指标导出
	metricsController := controllers.NewMetricsController(deps.Registry)
	r.Get("/metrics", metricsController.Prometheus)
	r.Get("/metrics/json", metricsController.JSON)
	// Go运行时指标走官方client导出
	r.Handle("/metrics/runtime", promhttp.Handler())

	// 监控面板与告警管理
	r.Route("/monitoring", func(r chi.Router) {
		dashboardController := controllers.NewDashboardController(deps.Registry,
			deps.Windows, deps.Health, deps.Queries, deps.Engine)
		r.Get("/dashboard", dashboardController.Dashboard)

		// 业务事件上报（Token消耗/收入/订阅事件）
		eventController := controllers.NewEventController(deps.Providers)
		r.Route("/events", func(r chi.Router) {
			r.Post("/token-usage", eventController.TokenUsage)
			r.Post("/revenue", eventController.Revenue)
			r.Post("/subscription", eventController.Subscription)
		})

		alertController := controllers.NewAlertController(deps.Engine)
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/rules", alertController.ListRules)
			r.Get("/history", alertController.History)
			r.Get("/active", alertController.Active)
			r.Post("/rules/{id}/enable", alertController.Enable)
			r.Post("/rules/{id}/disable", alertController.Disable)
			r.Post("/rules/{id}/fire", alertController.Fire)
		})
	})

	// API文档
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
}
