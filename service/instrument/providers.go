/*
 * @module service/instrument/providers
 * @description 已接入外部提供方的调用入口与业务事件埋点（Token消耗、收入、订阅事件）
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow 业务调用 -> 提供方专属重试参数 -> 包装器执行
 * @rules 各提供方的重试参数独立配置；auth类错误不会进入重试
 * @dependencies service/instrument/api_wrapper.go
 * @refs service/monitoring/rules.go
 */

package instrument

import (
	"context"
	"fmt"
	"time"

	"observability-service/logger"
	"observability-service/service/metrics"
)

// ProviderClient 单个外部提供方的调用入口，固化该提供方的重试参数
type ProviderClient struct {
	provider   string
	maxRetries int
	retryDelay time.Duration
	ins        *Instrumentor
}

// Call 以提供方默认重试参数执行一次调用
func (c *ProviderClient) Call(ctx context.Context, operation string, fn func(ctx context.Context) (any, error)) *Result {
	return c.ins.Call(ctx, Options{
		Name:       fmt.Sprintf("%s.%s", c.provider, operation),
		MaxRetries: c.maxRetries,
		RetryDelay: c.retryDelay,
	}, fn)
}

// Providers 全部已接入提供方的入口集合
type Providers struct {
	Stripe     *ProviderClient
	OpenAI     *ProviderClient
	Anthropic  *ProviderClient
	ElevenLabs *ProviderClient
	Supabase   *ProviderClient

	log      *logger.Logger
	registry *metrics.Registry
}

// NewProviders 创建提供方入口集合，重试参数按各提供方的限流与时延特征配置
func NewProviders(ins *Instrumentor, log *logger.Logger, registry *metrics.Registry) *Providers {
	return &Providers{
		Stripe:     &ProviderClient{provider: "stripe", maxRetries: 2, retryDelay: 500 * time.Millisecond, ins: ins},
		OpenAI:     &ProviderClient{provider: "openai", maxRetries: 2, retryDelay: time.Second, ins: ins},
		Anthropic:  &ProviderClient{provider: "anthropic", maxRetries: 2, retryDelay: time.Second, ins: ins},
		ElevenLabs: &ProviderClient{provider: "elevenlabs", maxRetries: 1, retryDelay: 2 * time.Second, ins: ins},
		Supabase:   &ProviderClient{provider: "supabase", maxRetries: 3, retryDelay: 300 * time.Millisecond, ins: ins},
		log:        log,
		registry:   registry,
	}
}

// RecordTokenUsage 记录模型Token消耗
func (p *Providers) RecordTokenUsage(ctx context.Context, provider, model string, promptTokens, completionTokens int64) {
	p.registry.IncCounter(metrics.MetricTokensUsedTotal,
		map[string]string{"provider": provider, "model": model, "kind": "prompt"}, float64(promptTokens))
	p.registry.IncCounter(metrics.MetricTokensUsedTotal,
		map[string]string{"provider": provider, "model": model, "kind": "completion"}, float64(completionTokens))
	p.log.BusinessEvent(ctx, "token_usage", logger.Fields{
		"provider":          provider,
		"model":             model,
		"prompt_tokens":     promptTokens,
		"completion_tokens": completionTokens,
	})
}

// RecordRevenue 记录一笔收入
func (p *Providers) RecordRevenue(ctx context.Context, source string, amountUSD float64) {
	p.registry.IncCounter(metrics.MetricRevenueUSDTotal,
		map[string]string{"source": source}, amountUSD)
	p.log.BusinessEvent(ctx, "revenue", logger.Fields{
		"source":     source,
		"amount_usd": amountUSD,
	})
}

// RecordSubscriptionEvent 记录订阅生命周期事件（created/renewed/canceled等）
func (p *Providers) RecordSubscriptionEvent(ctx context.Context, event, plan string) {
	p.registry.IncCounter(metrics.MetricSubscriptionEventsTotal,
		map[string]string{"event": event, "plan": plan}, 1)
	p.log.BusinessEvent(ctx, "subscription_"+event, logger.Fields{
		"plan": plan,
	})
}
