/*
 * @module service/instrument/db_wrapper
 * @description 数据库访问埋点：按 model.action 聚合查询统计，提供透明包装函数与 gorm 插件两种接入方式
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow gorm回调/包装函数 -> 耗时统计 -> 指标累积 -> 慢查询日志
 * @rules 包装器对调用方完全透明，错误原样返回；ErrRecordNotFound 不计入错误统计
 * @dependencies gorm.io/gorm, service/metrics, logger
 * @refs api/controllers/dashboard_controller.go
 */

package instrument

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"observability-service/logger"
	"observability-service/service/metrics"
)

// QueryStats 单个 model.action 的查询统计
type QueryStats struct {
	Operation string  `json:"operation"` // model.action
	Count     int64   `json:"count"`
	TotalMs   float64 `json:"total_ms"`
	AvgMs     float64 `json:"avg_ms"`
	MinMs     float64 `json:"min_ms"`
	MaxMs     float64 `json:"max_ms"`
	Errors    int64   `json:"errors"`
	SlowCount int64   `json:"slow_count"`
}

// QueryTracker 数据库查询跟踪器
type QueryTracker struct {
	mu              sync.RWMutex
	stats           map[string]*QueryStats
	slowThresholdMs float64
	logQueryText    bool

	log      *logger.Logger
	registry *metrics.Registry
	windows  *metrics.WindowSet
}

// NewQueryTracker 创建查询跟踪器
func NewQueryTracker(log *logger.Logger, registry *metrics.Registry, windows *metrics.WindowSet, slowThresholdMs int64, logQueryText bool) *QueryTracker {
	if slowThresholdMs <= 0 {
		slowThresholdMs = 500
	}
	return &QueryTracker{
		stats:           make(map[string]*QueryStats),
		slowThresholdMs: float64(slowThresholdMs),
		logQueryText:    logQueryText,
		log:             log,
		registry:        registry,
		windows:         windows,
	}
}

// Observe 上报一次查询。queryText 仅在开启查询文本日志且为慢查询时进入日志
func (t *QueryTracker) Observe(ctx context.Context, model, action string, duration time.Duration, err error, queryText string) {
	durationMs := float64(duration) / float64(time.Millisecond)
	operation := fmt.Sprintf("%s.%s", model, action)
	// 未命中记录不是访问层故障
	countsAsError := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	isSlow := durationMs > t.slowThresholdMs

	t.mu.Lock()
	s, ok := t.stats[operation]
	if !ok {
		s = &QueryStats{Operation: operation, MinMs: durationMs}
		t.stats[operation] = s
	}
	s.Count++
	s.TotalMs += durationMs
	s.AvgMs = s.TotalMs / float64(s.Count)
	if durationMs < s.MinMs {
		s.MinMs = durationMs
	}
	if durationMs > s.MaxMs {
		s.MaxMs = durationMs
	}
	if countsAsError {
		s.Errors++
	}
	if isSlow {
		s.SlowCount++
	}
	t.mu.Unlock()

	labels := map[string]string{"model": model, "action": action}
	t.registry.IncCounter(metrics.MetricDBQueriesTotal, labels, 1)
	t.registry.ObserveHistogram(metrics.MetricDBQueryDurationMs, durationMs, labels)
	if countsAsError {
		t.registry.IncCounter(metrics.MetricDBErrorsTotal, labels, 1)
		t.windows.Inc(metrics.WindowDBErrors, 1)
	}

	fields := logger.Fields{"model": model, "action": action}
	if isSlow && t.logQueryText && queryText != "" {
		fields["query"] = queryText
	}
	logErr := err
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logErr = nil
	}
	t.log.DBQuery(ctx, operation, durationMs, logErr, fields)
}

// Stats 返回全部统计副本，按操作名排序
func (t *QueryTracker) Stats() []QueryStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]QueryStats, 0, len(t.stats))
	for _, s := range t.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// SlowQueries 返回出现过慢查询的操作统计，按慢查询次数降序
func (t *QueryTracker) SlowQueries() []QueryStats {
	all := t.Stats()
	out := make([]QueryStats, 0)
	for _, s := range all {
		if s.SlowCount > 0 {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlowCount > out[j].SlowCount })
	return out
}

// Reset 清空统计（测试用）
func (t *QueryTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = make(map[string]*QueryStats)
}

// Wrap 透明包装一次数据库操作：埋点后原样返回结果与错误
func Wrap[T any](ctx context.Context, t *QueryTracker, model, action string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	result, err := fn(ctx)
	t.Observe(ctx, model, action, time.Since(start), err, "")
	return result, err
}

// gorm 回调注册名与实例级起始时间键
const (
	gormPluginName   = "observability:query_tracker"
	gormStartTimeKey = "observability:start_time"
)

// GormPlugin 将查询跟踪接入 gorm 回调链
type GormPlugin struct {
	tracker *QueryTracker
}

// NewGormPlugin 创建 gorm 插件
func NewGormPlugin(tracker *QueryTracker) *GormPlugin {
	return &GormPlugin{tracker: tracker}
}

func (p *GormPlugin) Name() string { return gormPluginName }

// Initialize 注册前后回调，覆盖全部CRUD及raw/row入口
func (p *GormPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().Before("gorm:create").Register(gormPluginName+":before_create", p.before); err != nil {
		return err
	}
	if err := db.Callback().Create().After("gorm:create").Register(gormPluginName+":after_create", p.after("create")); err != nil {
		return err
	}
	if err := db.Callback().Query().Before("gorm:query").Register(gormPluginName+":before_query", p.before); err != nil {
		return err
	}
	if err := db.Callback().Query().After("gorm:query").Register(gormPluginName+":after_query", p.after("query")); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register(gormPluginName+":before_update", p.before); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register(gormPluginName+":after_update", p.after("update")); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register(gormPluginName+":before_delete", p.before); err != nil {
		return err
	}
	if err := db.Callback().Delete().After("gorm:delete").Register(gormPluginName+":after_delete", p.after("delete")); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register(gormPluginName+":before_row", p.before); err != nil {
		return err
	}
	if err := db.Callback().Row().After("gorm:row").Register(gormPluginName+":after_row", p.after("row")); err != nil {
		return err
	}
	if err := db.Callback().Raw().Before("gorm:raw").Register(gormPluginName+":before_raw", p.before); err != nil {
		return err
	}
	return db.Callback().Raw().After("gorm:raw").Register(gormPluginName+":after_raw", p.after("raw"))
}

func (p *GormPlugin) before(db *gorm.DB) {
	db.InstanceSet(gormStartTimeKey, time.Now())
}

func (p *GormPlugin) after(action string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		value, ok := db.InstanceGet(gormStartTimeKey)
		if !ok {
			return
		}
		start, ok := value.(time.Time)
		if !ok {
			return
		}
		model := db.Statement.Table
		if model == "" {
			model = "raw"
		}
		queryText := ""
		if p.tracker.logQueryText {
			queryText = db.Statement.SQL.String()
		}
		p.tracker.Observe(db.Statement.Context, model, action, time.Since(start), db.Error, queryText)
	}
}
