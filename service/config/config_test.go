package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "observability-service", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, int64(3000), cfg.SlowRequestThresholdMs)
	assert.Equal(t, int64(500), cfg.SlowQueryThresholdMs)
	assert.Equal(t, 60, cfg.AlertCheckIntervalSeconds)
	assert.Equal(t, "observability.alerts", cfg.KafkaAlertTopic)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "Production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SLOW_REQUEST_THRESHOLD_MS", "1500")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092 ,")
	t.Setenv("DAILY_COST_LIMIT", "250.5")

	cfg := Load()
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, int64(1500), cfg.SlowRequestThresholdMs)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 250.5, cfg.DailyCostLimitUSD)
}

func TestInvalidNumericFallsBack(t *testing.T) {
	t.Setenv("SLOW_REQUEST_THRESHOLD_MS", "not-a-number")
	t.Setenv("ALERT_CHECK_INTERVAL_SECONDS", "-5")

	cfg := Load()
	// 非法取值回退默认，不中断启动
	assert.Equal(t, int64(3000), cfg.SlowRequestThresholdMs)
	assert.Equal(t, 60, cfg.AlertCheckIntervalSeconds)
}

func TestCurrentDailyCostReadsEnvEachCall(t *testing.T) {
	cfg := Load()
	t.Setenv("CURRENT_DAILY_COST", "12.5")
	assert.Equal(t, 12.5, cfg.CurrentDailyCostUSD())
	t.Setenv("CURRENT_DAILY_COST", "99")
	assert.Equal(t, 99.0, cfg.CurrentDailyCostUSD())
}
