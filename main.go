package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"

	_ "observability-service/docs"

	daprd "github.com/dapr/go-sdk/service/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"observability-service/api"
	"observability-service/logger"
	"observability-service/service/config"
	"observability-service/service/instrument"
	"observability-service/service/metrics"
	"observability-service/service/monitoring"
)

var (
	PORT         = 80
	BASE_CONTEXT = ""
)

func init() {
	if val := os.Getenv("LISTEN_PORT"); val != "" {
		PORT, _ = strconv.Atoi(val)
	}

	if val := os.Getenv("BASE_CONTEXT"); val != "" {
		BASE_CONTEXT = val
	}
}

// @title 可观测性服务 API
// @version 1.0
// @description 提示词生成平台的可观测性后台服务，提供结构化日志、指标采集、告警管理与健康检查
// @BasePath /
func main() {
	ctx := context.Background()
	cfg := config.Load()

	appLogger := logger.New(logger.Options{
		Service:    cfg.ServiceName,
		Level:      logger.ParseLevel(cfg.LogLevel),
		Production: cfg.IsProduction(),
	})

	registry := metrics.NewRegistry()
	metrics.RegisterDefaultMetrics(registry)
	windows := metrics.NewWindowSet(metrics.DefaultWindow)
	healthTracker := instrument.NewHealthTracker()
	queryTracker := instrument.NewQueryTracker(appLogger, registry, windows,
		cfg.SlowQueryThresholdMs, cfg.LogQueryText)
	instrumentor := instrument.NewInstrumentor(appLogger, registry, windows, healthTracker)
	providers := instrument.NewProviders(instrumentor, appLogger, registry)

	// 数据库与缓存为可选依赖，未配置时相关健康探测自动跳过
	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			appLogger.Error(ctx, "数据库连接失败", logger.Fields{"url": "DATABASE_URL"}, err)
		} else if err := db.Use(instrument.NewGormPlugin(queryTracker)); err != nil {
			appLogger.Error(ctx, "数据库埋点插件注册失败", nil, err)
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			appLogger.Error(ctx, "Redis地址解析失败", logger.Fields{"url": "REDIS_URL"}, err)
		} else {
			redisClient = redis.NewClient(redisOpts)
		}
	}

	engine := monitoring.NewAlertEngine(appLogger, registry)
	engine.AddNotifier(monitoring.NewConsoleNotifier())
	if cfg.AlertWebhookURL != "" {
		engine.AddNotifier(monitoring.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if len(cfg.KafkaBrokers) > 0 {
		engine.AddNotifier(monitoring.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaAlertTopic))
	}
	monitoring.RegisterDefaultRules(engine, windows, cfg)
	engine.Start(cfg.AlertCheckIntervalSeconds)
	defer engine.Stop()

	deps := &api.Dependencies{
		Config:    cfg,
		Logger:    appLogger,
		Registry:  registry,
		Windows:   windows,
		Health:    healthTracker,
		Queries:   queryTracker,
		Providers: providers,
		Engine:    engine,
		DB:        db,
		Redis:     redisClient,
	}

	mux := chi.NewRouter()

	// 如果有BASE_CONTEXT，则在该路径下挂载所有路由
	if BASE_CONTEXT != "" {
		mux.Route(BASE_CONTEXT, func(r chi.Router) {
			subMux := r.(*chi.Mux)
			api.InitRoute(subMux, deps)
		})
	} else {
		api.InitRoute(mux, deps)
	}

	appLogger.Info(ctx, "服务启动", logger.Fields{
		"port":        PORT,
		"environment": cfg.Environment,
	})

	s := daprd.NewServiceWithMux(":"+strconv.Itoa(PORT), mux)
	if err := s.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("error: %v", err)
	}
}
