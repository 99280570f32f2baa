/*
 * @module service/monitoring/alert_engine
 * @description 告警引擎，维护规则注册、周期评估、冷却与活跃告警生命周期，历史环形保留最近1000条
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow 规则注册 -> cron周期评估 -> 触发/解除 -> 通知分发 -> 历史落盘
 * @rules 触发以冷却期为准入闸门，冷却满足时新告警覆盖活跃槽位（每规则至多一个活跃告警）；冷却计时仅在成功触发时重置；解除不触发通知
 * @dependencies github.com/robfig/cron/v3, sync
 * @refs service/monitoring/notification.go, service/monitoring/rules.go
 */

package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"observability-service/logger"
	"observability-service/service/metrics"
)

// Severity 告警严重级别
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Rank 严重级别排序值，数值越大越严重
func (s Severity) Rank() int {
	switch s {
	case SeverityEmergency:
		return 3
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// AlertRule 告警规则，Condition 返回规则当前是否满足触发条件
type AlertRule struct {
	ID          string                                   `json:"id"`
	Name        string                                   `json:"name"`
	Description string                                   `json:"description"`
	Severity    Severity                                 `json:"severity"`
	Condition   func(ctx context.Context) (bool, error) `json:"-"`
	Cooldown    time.Duration                            `json:"cooldown"`
	Enabled     bool                                     `json:"enabled"`
	Tags        []string                                 `json:"tags,omitempty"`
}

// Alert 一次告警实例
type Alert struct {
	ID         string         `json:"id"` // ruleID-触发时刻毫秒时间戳
	RuleID     string         `json:"rule_id"`
	RuleName   string         `json:"rule_name"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	FiredAt    time.Time      `json:"fired_at"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// historyCapacity 历史告警保留上限，超出时淘汰最旧记录
const historyCapacity = 1000

// AlertEngine 告警引擎
type AlertEngine struct {
	mu        sync.RWMutex
	rules     map[string]*AlertRule
	ruleOrder []string // 注册顺序，评估与列表展示保持稳定顺序
	active    map[string]*Alert
	history   []*Alert
	lastFired map[string]time.Time
	notifiers []Notifier

	log      *logger.Logger
	registry *metrics.Registry
	cron     *cron.Cron
	now      func() time.Time
}

// NewAlertEngine 创建告警引擎
func NewAlertEngine(log *logger.Logger, registry *metrics.Registry) *AlertEngine {
	return &AlertEngine{
		rules:     make(map[string]*AlertRule),
		active:    make(map[string]*Alert),
		lastFired: make(map[string]time.Time),
		log:       log,
		registry:  registry,
		now:       time.Now,
	}
}

// RegisterRule 注册规则，同ID重复注册覆盖定义但保留运行状态
func (e *AlertEngine) RegisterRule(rule *AlertRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.ID]; !exists {
		e.ruleOrder = append(e.ruleOrder, rule.ID)
	}
	e.rules[rule.ID] = rule
}

// AddNotifier 追加通知器
func (e *AlertEngine) AddNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, n)
}

// Fire 手动或由评估触发一次告警，冷却期内返回nil表示未触发。
// 冷却期满后即使上一告警尚未解除也会生成新告警，
// 新告警覆盖该规则的活跃槽位，每条规则仍至多一个活跃告警。
func (e *AlertEngine) Fire(ctx context.Context, ruleID, message string, metadata map[string]any) *Alert {
	e.mu.Lock()
	rule, ok := e.rules[ruleID]
	if !ok || !rule.Enabled {
		e.mu.Unlock()
		return nil
	}
	now := e.now()
	if last, fired := e.lastFired[ruleID]; fired && now.Sub(last) < rule.Cooldown {
		e.mu.Unlock()
		return nil
	}

	alert := &Alert{
		ID:       fmt.Sprintf("%s-%d", ruleID, now.UnixMilli()),
		RuleID:   ruleID,
		RuleName: rule.Name,
		Severity: rule.Severity,
		Message:  message,
		FiredAt:  now,
		Metadata: metadata,
	}
	e.history = append(e.history, alert)
	if len(e.history) > historyCapacity {
		e.history = e.history[len(e.history)-historyCapacity:]
	}
	e.active[ruleID] = alert
	e.lastFired[ruleID] = now
	notifiers := append([]Notifier(nil), e.notifiers...)
	e.mu.Unlock()

	e.log.Warn(ctx, fmt.Sprintf("告警触发: %s", rule.Name), logger.Fields{
		"alert_id": alert.ID,
		"rule_id":  ruleID,
		"severity": string(rule.Severity),
		"message":  message,
	})
	e.registry.IncCounter(metrics.MetricAlertsFiredTotal, map[string]string{
		"severity": string(rule.Severity),
		"rule":     ruleID,
	}, 1)

	// 通知器串行分发，单个失败只记录日志，不影响后续通知器和告警状态
	for _, n := range notifiers {
		if !severityAccepted(n, alert.Severity) {
			continue
		}
		if err := n.Send(ctx, alert); err != nil {
			e.log.Error(ctx, fmt.Sprintf("告警通知发送失败: %s", n.Name()), logger.Fields{
				"alert_id": alert.ID,
				"notifier": n.Name(),
			}, err)
		}
	}
	return alert
}

// severityAccepted 通知器的严重级别过滤，空过滤器接收全部
func severityAccepted(n Notifier, severity Severity) bool {
	filter := n.SeverityFilter()
	if len(filter) == 0 {
		return true
	}
	for _, s := range filter {
		if s == severity {
			return true
		}
	}
	return false
}

// resolve 解除活跃告警。解除只更新状态与指标，不走通知器
func (e *AlertEngine) resolve(ctx context.Context, ruleID string) {
	e.mu.Lock()
	alert, ok := e.active[ruleID]
	if !ok {
		e.mu.Unlock()
		return
	}
	now := e.now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	delete(e.active, ruleID)
	e.mu.Unlock()

	e.log.Info(ctx, fmt.Sprintf("告警解除: %s", alert.RuleName), logger.Fields{
		"alert_id":         alert.ID,
		"rule_id":          ruleID,
		"duration_seconds": now.Sub(alert.FiredAt).Seconds(),
	})
	e.registry.IncCounter(metrics.MetricAlertsResolvedTotal, map[string]string{
		"severity": string(alert.Severity),
		"rule":     ruleID,
	}, 1)
}

// RunChecks 评估全部启用规则一轮。
// 条件求值panic或出错时跳过该规则，本轮其余规则继续
func (e *AlertEngine) RunChecks(ctx context.Context) {
	e.mu.RLock()
	order := append([]string(nil), e.ruleOrder...)
	e.mu.RUnlock()

	for _, ruleID := range order {
		e.mu.RLock()
		rule, ok := e.rules[ruleID]
		e.mu.RUnlock()
		if !ok || !rule.Enabled || rule.Condition == nil {
			continue
		}
		e.checkRule(ctx, rule)
	}
}

func (e *AlertEngine) checkRule(ctx context.Context, rule *AlertRule) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error(ctx, fmt.Sprintf("告警规则评估panic: %s", rule.ID), logger.Fields{
				"rule_id": rule.ID,
			}, fmt.Errorf("panic: %v", r))
		}
	}()

	triggered, err := rule.Condition(ctx)
	if err != nil {
		e.log.Error(ctx, fmt.Sprintf("告警规则评估失败: %s", rule.ID), logger.Fields{
			"rule_id": rule.ID,
		}, err)
		return
	}

	e.mu.RLock()
	_, hasActive := e.active[rule.ID]
	e.mu.RUnlock()

	switch {
	case triggered && !hasActive:
		e.Fire(ctx, rule.ID, rule.Description, nil)
	case !triggered && hasActive:
		e.resolve(ctx, rule.ID)
	}
}

// Start 启动周期评估，评估串行执行，上一轮未结束时跳过本轮
func (e *AlertEngine) Start(intervalSeconds int) {
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	e.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %ds", intervalSeconds)
	_, err := e.cron.AddFunc(spec, func() {
		e.RunChecks(context.Background())
	})
	if err != nil {
		e.log.Error(context.Background(), "告警评估任务注册失败", logger.Fields{"spec": spec}, err)
		return
	}
	e.cron.Start()
	e.log.Info(context.Background(), "告警引擎已启动", logger.Fields{
		"interval_seconds": intervalSeconds,
		"rule_count":       len(e.Rules()),
	})
}

// Stop 停止周期评估，等待进行中的评估完成
func (e *AlertEngine) Stop() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
}

// Rules 返回全部规则（注册顺序）
func (e *AlertEngine) Rules() []*AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*AlertRule, 0, len(e.ruleOrder))
	for _, id := range e.ruleOrder {
		if rule, ok := e.rules[id]; ok {
			out = append(out, rule)
		}
	}
	return out
}

// ActiveAlerts 返回当前活跃告警
func (e *AlertEngine) ActiveAlerts() []*Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Alert, 0, len(e.active))
	for _, id := range e.ruleOrder {
		if alert, ok := e.active[id]; ok {
			out = append(out, alert)
		}
	}
	return out
}

// ActiveCount 统计不低于给定严重级别的活跃告警数
func (e *AlertEngine) ActiveCount(minSeverity Severity) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	count := 0
	for _, alert := range e.active {
		if alert.Severity.Rank() >= minSeverity.Rank() {
			count++
		}
	}
	return count
}

// History 返回最近的历史告警，新的在前，limit<=0 时返回全部
func (e *AlertEngine) History(limit int) []*Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// SetRuleEnabled 启用/停用规则，规则不存在返回false；重复设置同一状态为幂等no-op
func (e *AlertEngine) SetRuleEnabled(ruleID string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.rules[ruleID]
	if !ok {
		return false
	}
	rule.Enabled = enabled
	return true
}
