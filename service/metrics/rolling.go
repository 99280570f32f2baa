/*
 * @module service/metrics/rolling
 * @description 滚动时间窗口计数器，基于带时间戳的采样环与惰性淘汰实现近5分钟事件计数
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow 事件写入 -> 采样追加 -> 读取时淘汰过期采样 -> 窗口内求和
 * @rules 淘汰仅在读写路径惰性触发，无后台goroutine；时间源可注入便于测试
 * @dependencies sync, time
 * @refs service/monitoring/rules.go, api/middleware/request_context.go
 */

package metrics

import (
	"sync"
	"time"
)

// DefaultWindow 缺省窗口宽度
const DefaultWindow = 5 * time.Minute

// sample 单个计数采样
type sample struct {
	at time.Time
	n  float64
}

// WindowCounter 滚动窗口计数器
type WindowCounter struct {
	mu      sync.Mutex
	window  time.Duration
	samples []sample
	now     func() time.Time
}

// NewWindowCounter 创建窗口计数器，window<=0 时使用缺省5分钟
func NewWindowCounter(window time.Duration) *WindowCounter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &WindowCounter{window: window, now: time.Now}
}

// Inc 记录一次事件
func (w *WindowCounter) Inc(n float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	w.samples = append(w.samples, sample{at: w.now(), n: n})
}

// Value 返回窗口内的事件计数，早于窗口起点的采样被淘汰
func (w *WindowCounter) Value() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	var total float64
	for _, s := range w.samples {
		total += s.n
	}
	return total
}

// Reset 清空全部采样
func (w *WindowCounter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = nil
}

// evict 淘汰窗口起点之前的采样，调用方需持锁
func (w *WindowCounter) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for idx < len(w.samples) && !w.samples[idx].at.After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.samples = append(w.samples[:0], w.samples[idx:]...)
	}
}

// 预定义窗口名称
const (
	WindowRequests     = "requests"
	WindowErrors       = "errors"
	WindowSlowRequests = "slow_requests"
	WindowDBErrors     = "db_errors"
)

// APIErrorCounterName 按提供方构造外部API错误窗口名称
func APIErrorCounterName(provider string) string {
	return "api_errors:" + provider
}

// WindowSet 按名称组织的一组窗口计数器，名称首次使用时惰性创建
type WindowSet struct {
	mu       sync.Mutex
	window   time.Duration
	counters map[string]*WindowCounter
}

// NewWindowSet 创建窗口计数器集合
func NewWindowSet(window time.Duration) *WindowSet {
	if window <= 0 {
		window = DefaultWindow
	}
	return &WindowSet{window: window, counters: make(map[string]*WindowCounter)}
}

// Counter 获取或创建指定名称的计数器
func (s *WindowSet) Counter(name string) *WindowCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[name]
	if !ok {
		c = NewWindowCounter(s.window)
		s.counters[name] = c
	}
	return c
}

// Inc 对指定名称的计数器记录一次事件
func (s *WindowSet) Inc(name string, n float64) {
	s.Counter(name).Inc(n)
}

// Value 读取指定名称计数器的窗口内计数
func (s *WindowSet) Value(name string) float64 {
	return s.Counter(name).Value()
}

// Values 读取全部计数器的当前值快照
func (s *WindowSet) Values() map[string]float64 {
	s.mu.Lock()
	names := make([]string, 0, len(s.counters))
	counters := make([]*WindowCounter, 0, len(s.counters))
	for name, c := range s.counters {
		names = append(names, name)
		counters = append(counters, c)
	}
	s.mu.Unlock()

	out := make(map[string]float64, len(names))
	for i, name := range names {
		out[name] = counters[i].Value()
	}
	return out
}

// ResetAll 清空全部计数器（测试用）
func (s *WindowSet) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.counters {
		c.Reset()
	}
}
