package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"observability-service/logger"
	"observability-service/service/metrics"
)

func newTestEngine() (*AlertEngine, *metrics.Registry) {
	log := logger.New(logger.Options{
		Service: "test",
		Level:   logger.LevelError,
		Stdout:  &bytes.Buffer{},
		Stderr:  &bytes.Buffer{},
	})
	registry := metrics.NewRegistry()
	metrics.RegisterDefaultMetrics(registry)
	return NewAlertEngine(log, registry), registry
}

// recordingNotifier 记录收到的告警，可配置为总是失败
type recordingNotifier struct {
	name     string
	filter   []Severity
	failWith error
	received []*Alert
}

func (n *recordingNotifier) Name() string               { return n.name }
func (n *recordingNotifier) SeverityFilter() []Severity { return n.filter }
func (n *recordingNotifier) Send(_ context.Context, alert *Alert) error {
	if n.failWith != nil {
		return n.failWith
	}
	n.received = append(n.received, alert)
	return nil
}

func testRule(id string, severity Severity, cooldown time.Duration) *AlertRule {
	return &AlertRule{
		ID:       id,
		Name:     "rule " + id,
		Severity: severity,
		Cooldown: cooldown,
		Enabled:  true,
	}
}

func TestFireAndActiveState(t *testing.T) {
	engine, _ := newTestEngine()
	engine.RegisterRule(testRule("r1", SeverityCritical, 10*time.Minute))

	alert := engine.Fire(context.Background(), "r1", "boom", map[string]any{"k": "v"})
	require.NotNil(t, alert)
	assert.Equal(t, "r1", alert.RuleID)
	assert.False(t, alert.Resolved)

	active := engine.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, alert.ID, active[0].ID)
	assert.Len(t, engine.History(0), 1)
}

func TestAtMostOneActivePerRule(t *testing.T) {
	engine, _ := newTestEngine()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	engine.now = func() time.Time { return now }
	engine.RegisterRule(testRule("r1", SeverityWarning, 15*time.Minute))

	first := engine.Fire(context.Background(), "r1", "first", nil)
	require.NotNil(t, first)

	// 冷却期内再次触发被拒绝
	now = base.Add(5 * time.Minute)
	assert.Nil(t, engine.Fire(context.Background(), "r1", "too soon", nil))
	require.Len(t, engine.ActiveAlerts(), 1)
	assert.Len(t, engine.History(0), 1)

	// 冷却期满后即使上一告警未解除也生成新告警，活跃槽位被覆盖
	now = base.Add(20 * time.Minute)
	second := engine.Fire(context.Background(), "r1", "second", nil)
	require.NotNil(t, second)
	active := engine.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
	assert.Len(t, engine.History(0), 2)
}

func TestCooldownResetOnlyOnSuccessfulFire(t *testing.T) {
	engine, _ := newTestEngine()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	engine.now = func() time.Time { return now }
	engine.RegisterRule(testRule("r1", SeverityWarning, 10*time.Minute))

	require.NotNil(t, engine.Fire(context.Background(), "r1", "first", nil))
	engine.resolve(context.Background(), "r1")

	// 冷却期内触发被拒绝
	now = base.Add(5 * time.Minute)
	assert.Nil(t, engine.Fire(context.Background(), "r1", "too soon", nil))

	// 被拒绝的触发不得重置冷却计时：再过5分钟即满足原冷却
	now = base.Add(10 * time.Minute)
	assert.NotNil(t, engine.Fire(context.Background(), "r1", "after cooldown", nil))
}

func TestDisabledRuleDoesNotFire(t *testing.T) {
	engine, _ := newTestEngine()
	rule := testRule("r1", SeverityInfo, 0)
	rule.Enabled = false
	engine.RegisterRule(rule)

	assert.Nil(t, engine.Fire(context.Background(), "r1", "x", nil))

	assert.True(t, engine.SetRuleEnabled("r1", true))
	assert.NotNil(t, engine.Fire(context.Background(), "r1", "x", nil))

	// 重复设置同一状态幂等成功；未知规则返回false
	assert.True(t, engine.SetRuleEnabled("r1", true))
	assert.False(t, engine.SetRuleEnabled("missing", true))
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	engine, _ := newTestEngine()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	engine.now = func() time.Time { return now }
	engine.RegisterRule(testRule("r1", SeverityInfo, 0))

	for i := 0; i < historyCapacity+1; i++ {
		now = base.Add(time.Duration(i) * time.Second)
		alert := engine.Fire(context.Background(), "r1", fmt.Sprintf("msg-%d", i), nil)
		require.NotNil(t, alert)
		engine.resolve(context.Background(), "r1")
	}

	history := engine.History(0)
	require.Len(t, history, historyCapacity)
	// 新的在前，最早一条已被淘汰
	assert.Equal(t, fmt.Sprintf("msg-%d", historyCapacity), history[0].Message)
	assert.Equal(t, "msg-1", history[len(history)-1].Message)
}

func TestHistoryLimit(t *testing.T) {
	engine, _ := newTestEngine()
	engine.RegisterRule(testRule("r1", SeverityInfo, 0))
	for i := 0; i < 5; i++ {
		require.NotNil(t, engine.Fire(context.Background(), "r1", fmt.Sprintf("m%d", i), nil))
		engine.resolve(context.Background(), "r1")
	}
	assert.Len(t, engine.History(3), 3)
	assert.Len(t, engine.History(100), 5)
}

func TestNotifierFailureIsolation(t *testing.T) {
	engine, _ := newTestEngine()
	failing := &recordingNotifier{name: "broken", failWith: errors.New("connection refused")}
	working := &recordingNotifier{name: "ok"}
	engine.AddNotifier(failing)
	engine.AddNotifier(working)
	engine.RegisterRule(testRule("r1", SeverityCritical, 0))

	alert := engine.Fire(context.Background(), "r1", "boom", nil)
	require.NotNil(t, alert)
	// 前一个通知器失败不影响后一个，也不影响告警状态
	require.Len(t, working.received, 1)
	assert.Len(t, engine.ActiveAlerts(), 1)
}

func TestNotifierSeverityFilter(t *testing.T) {
	engine, _ := newTestEngine()
	criticalOnly := &recordingNotifier{name: "crit", filter: []Severity{SeverityCritical, SeverityEmergency}}
	all := &recordingNotifier{name: "all"}
	engine.AddNotifier(criticalOnly)
	engine.AddNotifier(all)
	engine.RegisterRule(testRule("warn_rule", SeverityWarning, 0))
	engine.RegisterRule(testRule("crit_rule", SeverityCritical, 0))

	require.NotNil(t, engine.Fire(context.Background(), "warn_rule", "w", nil))
	require.NotNil(t, engine.Fire(context.Background(), "crit_rule", "c", nil))

	assert.Len(t, all.received, 2)
	require.Len(t, criticalOnly.received, 1)
	assert.Equal(t, "crit_rule", criticalOnly.received[0].RuleID)
}

func TestRunChecksFiresAndResolves(t *testing.T) {
	engine, _ := newTestEngine()
	notifier := &recordingNotifier{name: "rec"}
	engine.AddNotifier(notifier)

	triggered := true
	rule := testRule("r1", SeverityWarning, 0)
	rule.Condition = func(_ context.Context) (bool, error) { return triggered, nil }
	engine.RegisterRule(rule)

	engine.RunChecks(context.Background())
	require.Len(t, engine.ActiveAlerts(), 1)
	assert.Len(t, notifier.received, 1)

	// 条件恢复后解除，且解除不走通知器
	triggered = false
	engine.RunChecks(context.Background())
	assert.Empty(t, engine.ActiveAlerts())
	assert.Len(t, notifier.received, 1)

	history := engine.History(0)
	require.Len(t, history, 1)
	assert.True(t, history[0].Resolved)
	assert.NotNil(t, history[0].ResolvedAt)
}

func TestRunChecksSkipsFailingCondition(t *testing.T) {
	engine, _ := newTestEngine()

	bad := testRule("bad", SeverityWarning, 0)
	bad.Condition = func(_ context.Context) (bool, error) { return false, errors.New("metric source down") }
	panicking := testRule("panics", SeverityWarning, 0)
	panicking.Condition = func(_ context.Context) (bool, error) { panic("boom") }
	good := testRule("good", SeverityWarning, 0)
	good.Condition = func(_ context.Context) (bool, error) { return true, nil }

	engine.RegisterRule(bad)
	engine.RegisterRule(panicking)
	engine.RegisterRule(good)

	engine.RunChecks(context.Background())

	// 出错与panic的规则被跳过，正常规则照常触发
	active := engine.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, "good", active[0].RuleID)
}

func TestActiveCountBySeverity(t *testing.T) {
	engine, _ := newTestEngine()
	engine.RegisterRule(testRule("info_r", SeverityInfo, 0))
	engine.RegisterRule(testRule("warn_r", SeverityWarning, 0))
	engine.RegisterRule(testRule("crit_r", SeverityCritical, 0))

	engine.Fire(context.Background(), "info_r", "i", nil)
	engine.Fire(context.Background(), "warn_r", "w", nil)
	engine.Fire(context.Background(), "crit_r", "c", nil)

	assert.Equal(t, 3, engine.ActiveCount(SeverityInfo))
	assert.Equal(t, 2, engine.ActiveCount(SeverityWarning))
	assert.Equal(t, 1, engine.ActiveCount(SeverityCritical))
	assert.Equal(t, 0, engine.ActiveCount(SeverityEmergency))
}

func TestAlertsFiredMetric(t *testing.T) {
	engine, registry := newTestEngine()
	engine.RegisterRule(testRule("r1", SeverityCritical, 0))
	engine.Fire(context.Background(), "r1", "boom", nil)
	engine.resolve(context.Background(), "r1")

	snap := registry.ToJSON()
	firedKey := metrics.FormatLabels(map[string]string{"severity": "critical", "rule": "r1"})
	assert.Equal(t, 1.0, snap.Metrics[metrics.MetricAlertsFiredTotal].Values[firedKey])
	assert.Equal(t, 1.0, snap.Metrics[metrics.MetricAlertsResolvedTotal].Values[firedKey])
}

func TestWebhookNotifier(t *testing.T) {
	var received *Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		received = &alert
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	assert.Equal(t, []Severity{SeverityCritical, SeverityEmergency}, notifier.SeverityFilter())

	alert := &Alert{ID: "r1-1", RuleID: "r1", RuleName: "rule", Severity: SeverityCritical, Message: "boom", FiredAt: time.Now()}
	require.NoError(t, notifier.Send(context.Background(), alert))
	require.NotNil(t, received)
	assert.Equal(t, "r1-1", received.ID)
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	err := notifier.Send(context.Background(), &Alert{ID: "x"})
	assert.Error(t, err)
}

func TestConsoleNotifierFormat(t *testing.T) {
	var buf bytes.Buffer
	notifier := &ConsoleNotifier{out: &buf}
	alert := &Alert{RuleName: "内存告警", Severity: SeverityWarning, Message: "heap high", FiredAt: time.Now()}

	require.NoError(t, notifier.Send(context.Background(), alert))
	assert.Contains(t, buf.String(), "[ALERT][WARN]")
	assert.Contains(t, buf.String(), "内存告警")
}
