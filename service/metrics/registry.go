/*
 * @module service/metrics/registry
 * @description 进程内指标注册表，维护计数器、仪表和直方图，提供 Prometheus 文本与 JSON 快照导出
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow 指标注册 -> 标签规范化 -> 数值累积 -> 快照导出
 * @rules 未注册指标的操作静默忽略；标签按键名排序保证同一标签集合映射到同一序列
 * @dependencies runtime, sort, strings, sync
 * @refs api/controllers/metrics_controller.go
 */

package metrics

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricType 指标类型
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// histogramSeries 单个标签集合的直方图累积数据
type histogramSeries struct {
	bucketCounts []float64 // 与 buckets 对齐的累积计数
	infCount     float64
	sum          float64
	count        float64
}

// metric 单个已注册指标
type metric struct {
	name    string
	help    string
	mtype   MetricType
	buckets []float64 // 仅直方图，注册后不可变

	values     map[string]float64          // counter/gauge: 标签键 -> 当前值
	histograms map[string]*histogramSeries // histogram: 标签键 -> 累积数据
}

// Registry 指标注册表，进程级共享可变状态，所有修改均为互斥保护下的单次map操作
type Registry struct {
	mu        sync.RWMutex
	metrics   map[string]*metric
	startTime time.Time
}

// NewRegistry 创建指标注册表
func NewRegistry() *Registry {
	return &Registry{
		metrics:   make(map[string]*metric),
		startTime: time.Now(),
	}
}

// FormatLabels 标签规范化：按键名升序排序，格式化为 key="value" 逗号连接。
// 插入顺序不同的等价标签集合必须产生相同的存储键
func FormatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return strings.Join(parts, ",")
}

// RegisterCounter 注册计数器，同名重复注册为静默no-op，不清空已有数据
func (r *Registry) RegisterCounter(name, help string) {
	r.register(name, help, TypeCounter, nil)
}

// RegisterGauge 注册仪表
func (r *Registry) RegisterGauge(name, help string) {
	r.register(name, help, TypeGauge, nil)
}

// RegisterHistogram 注册直方图，bucket 边界升序给定且注册后不可变
func (r *Registry) RegisterHistogram(name, help string, buckets []float64) {
	r.register(name, help, TypeHistogram, buckets)
}

func (r *Registry) register(name, help string, mtype MetricType, buckets []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.metrics[name]; exists {
		return
	}
	m := &metric{
		name:  name,
		help:  help,
		mtype: mtype,
	}
	if mtype == TypeHistogram {
		m.buckets = append([]float64(nil), buckets...)
		m.histograms = make(map[string]*histogramSeries)
	} else {
		m.values = make(map[string]float64)
	}
	r.metrics[name] = m
}

// IncCounter 计数器累加，未注册或类型不符时忽略
func (r *Registry) IncCounter(name string, labels map[string]string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.metrics[name]
	if !ok || m.mtype != TypeCounter {
		return
	}
	m.values[FormatLabels(labels)] += value
}

// SetGauge 设置仪表值
func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.metrics[name]
	if !ok || m.mtype != TypeGauge {
		return
	}
	m.values[FormatLabels(labels)] = value
}

// IncGauge 仪表增量
func (r *Registry) IncGauge(name string, labels map[string]string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.metrics[name]
	if !ok || m.mtype != TypeGauge {
		return
	}
	m.values[FormatLabels(labels)] += value
}

// DecGauge 仪表减量
func (r *Registry) DecGauge(name string, labels map[string]string, value float64) {
	r.IncGauge(name, labels, -value)
}

// ObserveHistogram 直方图观测：累加所有边界不小于观测值的bucket计数，
// 同时累加 +Inf 计数与 sum/count
func (r *Registry) ObserveHistogram(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.metrics[name]
	if !ok || m.mtype != TypeHistogram {
		return
	}
	key := FormatLabels(labels)
	series, exists := m.histograms[key]
	if !exists {
		series = &histogramSeries{bucketCounts: make([]float64, len(m.buckets))}
		m.histograms[key] = series
	}
	for i, bound := range m.buckets {
		if value <= bound {
			series.bucketCounts[i]++
		}
	}
	series.infCount++
	series.sum += value
	series.count++
}

// Reset 清空全部累积值，保留注册信息（测试用）
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.metrics {
		if m.mtype == TypeHistogram {
			m.histograms = make(map[string]*histogramSeries)
		} else {
			m.values = make(map[string]float64)
		}
	}
}

// UptimeSeconds 进程运行时长（秒）
func (r *Registry) UptimeSeconds() float64 {
	return time.Since(r.startTime).Seconds()
}

// formatValue Prometheus 数值格式化
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ToPrometheusText 导出 Prometheus 文本格式，头部附带导出时计算的进程运行时长与堆内存指标
func (r *Registry) ToPrometheusText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var b strings.Builder
	b.WriteString("# HELP process_uptime_seconds 进程运行时长（秒）\n")
	b.WriteString("# TYPE process_uptime_seconds gauge\n")
	fmt.Fprintf(&b, "process_uptime_seconds %s\n", formatValue(r.UptimeSeconds()))
	b.WriteString("# HELP process_heap_bytes 当前堆内存使用（字节）\n")
	b.WriteString("# TYPE process_heap_bytes gauge\n")
	fmt.Fprintf(&b, "process_heap_bytes %s\n", formatValue(float64(memStats.HeapAlloc)))

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := r.metrics[name]
		fmt.Fprintf(&b, "# HELP %s %s\n", name, m.help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, m.mtype)

		switch m.mtype {
		case TypeHistogram:
			seriesKeys := make([]string, 0, len(m.histograms))
			for k := range m.histograms {
				seriesKeys = append(seriesKeys, k)
			}
			sort.Strings(seriesKeys)
			for _, key := range seriesKeys {
				series := m.histograms[key]
				for i, bound := range m.buckets {
					fmt.Fprintf(&b, "%s_bucket{%s} %s\n", name,
						joinLabelKey(key, fmt.Sprintf("le=%q", formatValue(bound))),
						formatValue(series.bucketCounts[i]))
				}
				fmt.Fprintf(&b, "%s_bucket{%s} %s\n", name,
					joinLabelKey(key, `le="+Inf"`), formatValue(series.infCount))
				fmt.Fprintf(&b, "%s_sum%s %s\n", name, wrapLabelKey(key), formatValue(series.sum))
				fmt.Fprintf(&b, "%s_count%s %s\n", name, wrapLabelKey(key), formatValue(series.count))
			}
		default:
			seriesKeys := make([]string, 0, len(m.values))
			for k := range m.values {
				seriesKeys = append(seriesKeys, k)
			}
			sort.Strings(seriesKeys)
			for _, key := range seriesKeys {
				fmt.Fprintf(&b, "%s%s %s\n", name, wrapLabelKey(key), formatValue(m.values[key]))
			}
		}
	}
	return b.String()
}

// joinLabelKey 将标签键与附加标签合并为大括号内的内容
func joinLabelKey(key, extra string) string {
	if key == "" {
		return extra
	}
	return key + "," + extra
}

// wrapLabelKey 标签键为空时省略大括号
func wrapLabelKey(key string) string {
	if key == "" {
		return ""
	}
	return "{" + key + "}"
}

// HistogramData 直方图 JSON 导出结构
type HistogramData struct {
	Buckets map[string]float64 `json:"buckets"`
	Sum     float64            `json:"sum"`
	Count   float64            `json:"count"`
}

// MemorySnapshot 内存快照
type MemorySnapshot struct {
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes   uint64 `json:"heap_sys_bytes"`
	NumGC          uint32 `json:"num_gc"`
}

// MetricSnapshot 单指标 JSON 导出结构
type MetricSnapshot struct {
	Type   MetricType     `json:"type"`
	Help   string         `json:"help"`
	Values map[string]any `json:"values"`
}

// Snapshot 注册表整体 JSON 快照
type Snapshot struct {
	Uptime  float64                   `json:"uptime"`
	Memory  MemorySnapshot            `json:"memory"`
	Metrics map[string]MetricSnapshot `json:"metrics"`
}

// ToJSON 导出 JSON 快照
func (r *Registry) ToJSON() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snapshot := &Snapshot{
		Uptime: r.UptimeSeconds(),
		Memory: MemorySnapshot{
			HeapAllocBytes: memStats.HeapAlloc,
			HeapSysBytes:   memStats.HeapSys,
			NumGC:          memStats.NumGC,
		},
		Metrics: make(map[string]MetricSnapshot, len(r.metrics)),
	}

	for name, m := range r.metrics {
		values := make(map[string]any)
		if m.mtype == TypeHistogram {
			for key, series := range m.histograms {
				buckets := make(map[string]float64, len(m.buckets)+1)
				for i, bound := range m.buckets {
					buckets[formatValue(bound)] = series.bucketCounts[i]
				}
				buckets["+Inf"] = series.infCount
				values[key] = HistogramData{Buckets: buckets, Sum: series.sum, Count: series.count}
			}
		} else {
			for key, v := range m.values {
				values[key] = v
			}
		}
		snapshot.Metrics[name] = MetricSnapshot{Type: m.mtype, Help: m.help, Values: values}
	}
	return snapshot
}
