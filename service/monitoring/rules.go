/*
 * @module service/monitoring/rules
 * @description 内置告警规则集：错误率、内存水位、慢响应、数据库错误、外部API错误与成本阈值
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow 窗口计数读取 -> 阈值比较 -> 引擎触发/解除
 * @rules 错误率规则要求窗口内至少10个请求，避免低流量抖动误报
 * @dependencies runtime, service/metrics
 * @refs service/monitoring/alert_engine.go, service/config/config.go
 */

package monitoring

import (
	"context"
	"runtime"
	"time"

	"observability-service/service/config"
	"observability-service/service/metrics"
)

// 错误率规则参数
const (
	errorRateThreshold  = 0.10
	errorRateMinSamples = 10
)

// RegisterDefaultRules 注册内置告警规则
func RegisterDefaultRules(engine *AlertEngine, windows *metrics.WindowSet, cfg *config.Config) {
	engine.RegisterRule(&AlertRule{
		ID:          "high_error_rate",
		Name:        "请求错误率过高",
		Description: "近5分钟5xx错误率超过10%",
		Severity:    SeverityCritical,
		Cooldown:    15 * time.Minute,
		Enabled:     true,
		Tags:        []string{"http"},
		Condition: func(_ context.Context) (bool, error) {
			requests := windows.Value(metrics.WindowRequests)
			if requests < errorRateMinSamples {
				return false, nil
			}
			return windows.Value(metrics.WindowErrors)/requests > errorRateThreshold, nil
		},
	})

	engine.RegisterRule(&AlertRule{
		ID:          "high_memory_usage",
		Name:        "堆内存使用率过高",
		Description: "堆内存使用超过已分配堆空间的90%",
		Severity:    SeverityWarning,
		Cooldown:    30 * time.Minute,
		Enabled:     true,
		Tags:        []string{"runtime"},
		Condition: func(_ context.Context) (bool, error) {
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			if memStats.HeapSys == 0 {
				return false, nil
			}
			return float64(memStats.HeapAlloc)/float64(memStats.HeapSys) > 0.90, nil
		},
	})

	engine.RegisterRule(&AlertRule{
		ID:          "slow_responses",
		Name:        "慢响应过多",
		Description: "近5分钟慢请求数超过10个",
		Severity:    SeverityWarning,
		Cooldown:    15 * time.Minute,
		Enabled:     true,
		Tags:        []string{"http"},
		Condition: func(_ context.Context) (bool, error) {
			return windows.Value(metrics.WindowSlowRequests) > 10, nil
		},
	})

	engine.RegisterRule(&AlertRule{
		ID:          "db_errors",
		Name:        "数据库错误频发",
		Description: "近5分钟数据库错误数超过5个",
		Severity:    SeverityCritical,
		Cooldown:    10 * time.Minute,
		Enabled:     true,
		Tags:        []string{"database"},
		Condition: func(_ context.Context) (bool, error) {
			return windows.Value(metrics.WindowDBErrors) > 5, nil
		},
	})

	engine.RegisterRule(&AlertRule{
		ID:          "stripe_api_errors",
		Name:        "Stripe接口错误频发",
		Description: "近5分钟Stripe调用失败数超过3个",
		Severity:    SeverityCritical,
		Cooldown:    15 * time.Minute,
		Enabled:     true,
		Tags:        []string{"external_api", "billing"},
		Condition: func(_ context.Context) (bool, error) {
			return windows.Value(metrics.APIErrorCounterName("stripe")) > 3, nil
		},
	})

	engine.RegisterRule(&AlertRule{
		ID:          "openai_api_errors",
		Name:        "OpenAI接口错误频发",
		Description: "近5分钟OpenAI调用失败数超过5个",
		Severity:    SeverityWarning,
		Cooldown:    15 * time.Minute,
		Enabled:     true,
		Tags:        []string{"external_api", "llm"},
		Condition: func(_ context.Context) (bool, error) {
			return windows.Value(metrics.APIErrorCounterName("openai")) > 5, nil
		},
	})

	// 成本阈值规则在未配置日成本上限时保持注册但永不触发
	engine.RegisterRule(&AlertRule{
		ID:          "daily_cost_warning",
		Name:        "日成本接近上限",
		Description: "当日累计成本达到上限的70%",
		Severity:    SeverityWarning,
		Cooldown:    60 * time.Minute,
		Enabled:     true,
		Tags:        []string{"cost"},
		Condition: func(_ context.Context) (bool, error) {
			if cfg.DailyCostLimitUSD <= 0 {
				return false, nil
			}
			return cfg.CurrentDailyCostUSD() >= cfg.DailyCostLimitUSD*0.70, nil
		},
	})

	engine.RegisterRule(&AlertRule{
		ID:          "daily_cost_critical",
		Name:        "日成本逼近上限",
		Description: "当日累计成本达到上限的90%",
		Severity:    SeverityCritical,
		Cooldown:    30 * time.Minute,
		Enabled:     true,
		Tags:        []string{"cost"},
		Condition: func(_ context.Context) (bool, error) {
			if cfg.DailyCostLimitUSD <= 0 {
				return false, nil
			}
			return cfg.CurrentDailyCostUSD() >= cfg.DailyCostLimitUSD*0.90, nil
		},
	})
}
