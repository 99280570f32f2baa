/*
 * @module service/config/config
 * @description 服务配置加载，基于环境变量与可选 .env 文件，非法取值回退默认值而非启动失败
 * @architecture 分层架构 - 基础设施层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow .env 加载 -> 环境变量读取 -> 类型转换 -> 默认值回退
 * @rules 配置解析失败不得中断服务启动；数值型配置使用 cast 宽松转换
 * @dependencies github.com/joho/godotenv, github.com/spf13/cast
 * @refs main.go, service/monitoring/rules.go
 */

package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Config 服务配置
type Config struct {
	ServiceName string `json:"service_name"`
	Environment string `json:"environment"` // production 时启用脱敏并抑制堆栈
	LogLevel    string `json:"log_level"`

	SlowRequestThresholdMs int64 `json:"slow_request_threshold_ms"`
	SlowQueryThresholdMs   int64 `json:"slow_query_threshold_ms"`
	LogQueryText           bool  `json:"log_query_text"`

	AlertWebhookURL           string  `json:"alert_webhook_url"`
	AlertCheckIntervalSeconds int     `json:"alert_check_interval_seconds"`
	DailyCostLimitUSD         float64 `json:"daily_cost_limit_usd"`

	DatabaseURL     string   `json:"database_url"`
	RedisURL        string   `json:"redis_url"`
	KafkaBrokers    []string `json:"kafka_brokers"`
	KafkaAlertTopic string   `json:"kafka_alert_topic"`
}

// Load 加载配置，.env 文件不存在时静默忽略
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName:               getString("SERVICE_NAME", "observability-service"),
		Environment:               getString("APP_ENV", "development"),
		LogLevel:                  getString("LOG_LEVEL", "info"),
		SlowRequestThresholdMs:    getInt64("SLOW_REQUEST_THRESHOLD_MS", 3000),
		SlowQueryThresholdMs:      getInt64("SLOW_QUERY_THRESHOLD_MS", 500),
		LogQueryText:              getBool("LOG_QUERY_TEXT", false),
		AlertWebhookURL:           getString("ALERT_WEBHOOK_URL", ""),
		AlertCheckIntervalSeconds: getInt("ALERT_CHECK_INTERVAL_SECONDS", 60),
		DailyCostLimitUSD:         getFloat("DAILY_COST_LIMIT", 0),
		DatabaseURL:               getString("DATABASE_URL", ""),
		RedisURL:                  getString("REDIS_URL", ""),
		KafkaAlertTopic:           getString("KAFKA_ALERT_TOPIC", "observability.alerts"),
	}

	if brokers := getString("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	return cfg
}

// IsProduction 是否生产环境
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// CurrentDailyCostUSD 当日累计成本，由外部成本统计进程写入环境变量，
// 每次评估时重新读取，供成本告警规则消费
func (c *Config) CurrentDailyCostUSD() float64 {
	return cast.ToFloat64(os.Getenv("CURRENT_DAILY_COST"))
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n := cast.ToInt(val); n > 0 {
			return n
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n := cast.ToInt64(val); n > 0 {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f := cast.ToFloat64(val); f > 0 {
			return f
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		return cast.ToBool(val)
	}
	return fallback
}
