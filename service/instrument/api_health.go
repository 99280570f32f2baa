/*
 * @module service/instrument/api_health
 * @description 外部API提供方健康度跟踪：成功率、增量平均耗时与最近失败信息
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow 调用结果上报 -> 统计更新 -> 健康判定/面板读取
 * @rules 平均耗时采用增量公式更新，无采样窗口；成功率低于90%判定为不健康
 * @dependencies sync, time
 * @refs service/instrument/api_wrapper.go, api/controllers/health_controller.go
 */

package instrument

import (
	"sync"
	"time"
)

// healthyRateThreshold 健康判定的最低成功率
const healthyRateThreshold = 0.9

// APIHealth 单个提供方的健康统计
type APIHealth struct {
	Provider      string     `json:"provider"`
	TotalCalls    int64      `json:"total_calls"`
	SuccessCalls  int64      `json:"success_calls"`
	FailedCalls   int64      `json:"failed_calls"`
	AvgDurationMs float64    `json:"avg_duration_ms"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// SuccessRate 成功率，无调用时视为1
func (h *APIHealth) SuccessRate() float64 {
	if h.TotalCalls == 0 {
		return 1
	}
	return float64(h.SuccessCalls) / float64(h.TotalCalls)
}

// IsHealthy 成功率不低于90%即视为健康
func (h *APIHealth) IsHealthy() bool {
	return h.SuccessRate() >= healthyRateThreshold
}

// HealthTracker 按提供方聚合的健康度跟踪器
type HealthTracker struct {
	mu        sync.RWMutex
	providers map[string]*APIHealth
	now       func() time.Time
}

// NewHealthTracker 创建健康度跟踪器
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		providers: make(map[string]*APIHealth),
		now:       time.Now,
	}
}

// Record 上报一次调用结果
func (t *HealthTracker) Record(provider string, success bool, durationMs float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.providers[provider]
	if !ok {
		h = &APIHealth{Provider: provider}
		t.providers[provider] = h
	}
	h.TotalCalls++
	now := t.now()
	if success {
		h.SuccessCalls++
		h.LastSuccessAt = &now
	} else {
		h.FailedCalls++
		h.LastFailureAt = &now
	}
	// 增量平均：avg += (x - avg) / n
	h.AvgDurationMs += (durationMs - h.AvgDurationMs) / float64(h.TotalCalls)
}

// Health 读取单个提供方的健康统计副本
func (t *HealthTracker) Health(provider string) (APIHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.providers[provider]
	if !ok {
		return APIHealth{}, false
	}
	return *h, true
}

// All 读取全部提供方的健康统计副本
func (t *HealthTracker) All() map[string]APIHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]APIHealth, len(t.providers))
	for name, h := range t.providers {
		out[name] = *h
	}
	return out
}

// Unhealthy 返回当前不健康的提供方名称
func (t *HealthTracker) Unhealthy() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for name, h := range t.providers {
		if !h.IsHealthy() {
			out = append(out, name)
		}
	}
	return out
}
