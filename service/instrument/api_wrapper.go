/*
 * @module service/instrument/api_wrapper
 * @description 外部API调用包装器：错误归一化分类、可重试判定、线性退避重试与指标/日志埋点
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow 调用执行 -> 错误分类 -> 重试判定 -> 退避等待 -> 结果埋点
 * @rules 重试采用线性退避 retryDelay*attempt；不可重试错误立即终止；睡眠函数可注入便于测试
 * @dependencies context, errors, net, service/metrics, logger
 * @refs service/instrument/api_health.go, service/instrument/providers.go
 */

package instrument

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"observability-service/logger"
	"observability-service/service/metrics"
)

// ErrorType 外部API错误分类
type ErrorType string

const (
	ErrorRateLimit     ErrorType = "rate_limit"
	ErrorAuth          ErrorType = "auth_error"
	ErrorBadRequest    ErrorType = "bad_request"
	ErrorNotFound      ErrorType = "not_found"
	ErrorServer        ErrorType = "server_error"
	ErrorTimeout       ErrorType = "timeout"
	ErrorNetwork       ErrorType = "network_error"
	ErrorQuotaExceeded ErrorType = "quota_exceeded"
	ErrorUnknown       ErrorType = "unknown"
)

// APIError 携带提供方状态码的外部API错误
type APIError struct {
	StatusCode int
	ErrCode    string
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrCode != "" {
		return fmt.Sprintf("%s (status=%d, code=%s)", e.Message, e.StatusCode, e.ErrCode)
	}
	return fmt.Sprintf("%s (status=%d)", e.Message, e.StatusCode)
}

// Code 供日志层提取错误码
func (e *APIError) Code() string { return e.ErrCode }

// ErrorInfo 归一化后的错误描述
type ErrorInfo struct {
	StatusCode int    `json:"status_code,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
}

// NormalizeError 从任意错误提取状态码、错误码与消息
func NormalizeError(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return ErrorInfo{StatusCode: apiErr.StatusCode, Code: apiErr.ErrCode, Message: apiErr.Message}
	}
	info := ErrorInfo{Message: err.Error()}
	if coder, ok := err.(interface{ Code() string }); ok {
		info.Code = coder.Code()
	}
	return info
}

// Classify 错误分类：优先状态码，其次错误语义与消息关键字
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorUnknown
	}
	info := NormalizeError(err)

	switch info.StatusCode {
	case 429:
		return ErrorRateLimit
	case 401, 403:
		return ErrorAuth
	case 400, 422:
		return ErrorBadRequest
	case 404:
		return ErrorNotFound
	}
	if info.StatusCode >= 500 {
		return ErrorServer
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTimeout
		}
		return ErrorNetwork
	}

	msg := strings.ToLower(info.Message)
	switch {
	case strings.Contains(msg, "rate limit"):
		return ErrorRateLimit
	case strings.Contains(msg, "quota") || strings.Contains(msg, "insufficient_quota"):
		return ErrorQuotaExceeded
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ErrorTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "econnrefused"):
		return ErrorNetwork
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "forbidden"):
		return ErrorAuth
	}
	return ErrorUnknown
}

// retryableStatusCodes 按状态码判定可重试的集合
var retryableStatusCodes = map[int]bool{
	429: true, 500: true, 502: true, 503: true, 504: true,
}

// Retryable 可重试判定：限流、超时、网络故障与服务端错误允许重试
func Retryable(err error) bool {
	info := NormalizeError(err)
	if retryableStatusCodes[info.StatusCode] {
		return true
	}
	switch Classify(err) {
	case ErrorRateLimit, ErrorTimeout, ErrorNetwork, ErrorServer:
		return true
	}
	return false
}

// CallError 一次调用最终失败的结构化描述
type CallError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Retryable  bool      `json:"retryable"`
	cause      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *CallError) Unwrap() error { return e.cause }

// Result 一次包装调用的结果
type Result struct {
	Success  bool
	Data     any
	Error    *CallError
	Duration time.Duration
	Retries  int // 实际重试次数（不含首次尝试）
}

// 重试缺省参数
const (
	defaultMaxRetries = 2
	defaultRetryDelay = time.Second
)

// Options 单次调用配置
type Options struct {
	Name       string // 形如 provider.operation
	MaxRetries int    // 负值表示不重试，零值使用缺省2次
	RetryDelay time.Duration
}

// Instrumentor 外部API调用包装器
type Instrumentor struct {
	log      *logger.Logger
	registry *metrics.Registry
	windows  *metrics.WindowSet
	health   *HealthTracker
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewInstrumentor 创建调用包装器
func NewInstrumentor(log *logger.Logger, registry *metrics.Registry, windows *metrics.WindowSet, health *HealthTracker) *Instrumentor {
	return &Instrumentor{
		log:      log,
		registry: registry,
		windows:  windows,
		health:   health,
		sleep:    sleepContext,
	}
}

// sleepContext 可被上下文取消的睡眠
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// splitCallName 拆分 provider.operation，无句点时整体作为provider
func splitCallName(name string) (provider, operation string) {
	if i := strings.Index(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

// Call 执行一次带重试的外部API调用。
// 首次尝试加重试合计最多 MaxRetries+1 次；仅可重试错误进入退避。
func (ins *Instrumentor) Call(ctx context.Context, opts Options, fn func(ctx context.Context) (any, error)) *Result {
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	provider, operation := splitCallName(opts.Name)

	start := time.Now()
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		data, err := fn(ctx)
		if err == nil {
			duration := time.Since(start)
			ins.record(ctx, provider, operation, true, duration, attempts-1, nil)
			return &Result{Success: true, Data: data, Duration: duration, Retries: attempts - 1}
		}
		lastErr = err
		if attempt < maxRetries && Retryable(err) {
			// 线性退避：第N次重试前等待 retryDelay*N
			if sleepErr := ins.sleep(ctx, retryDelay*time.Duration(attempt+1)); sleepErr != nil {
				lastErr = sleepErr
				break
			}
			continue
		}
		break
	}

	duration := time.Since(start)
	info := NormalizeError(lastErr)
	callErr := &CallError{
		Type:       Classify(lastErr),
		Message:    info.Message,
		StatusCode: info.StatusCode,
		Retryable:  Retryable(lastErr),
		cause:      lastErr,
	}
	ins.record(ctx, provider, operation, false, duration, attempts-1, callErr)
	return &Result{Success: false, Error: callErr, Duration: duration, Retries: attempts - 1}
}

// record 调用结果埋点：指标、滚动窗口与日志
func (ins *Instrumentor) record(ctx context.Context, provider, operation string, success bool, duration time.Duration, retries int, callErr *CallError) {
	durationMs := float64(duration) / float64(time.Millisecond)
	status := "success"
	if !success {
		status = "error"
	}
	labels := map[string]string{"provider": provider, "operation": operation, "status": status}
	ins.registry.IncCounter(metrics.MetricExternalAPICallsTotal, labels, 1)
	ins.registry.ObserveHistogram(metrics.MetricExternalAPIDurationMs,
		durationMs, map[string]string{"provider": provider, "operation": operation})

	fields := logger.Fields{"retries": retries}
	if !success {
		errLabels := map[string]string{"provider": provider, "operation": operation, "type": string(callErr.Type)}
		ins.registry.IncCounter(metrics.MetricExternalAPIErrorsTotal, errLabels, 1)
		ins.windows.Inc(metrics.APIErrorCounterName(provider), 1)
		fields["error_type"] = string(callErr.Type)
		if callErr.StatusCode > 0 {
			fields["status_code"] = callErr.StatusCode
		}
	}
	if ins.health != nil {
		ins.health.Record(provider, success, durationMs)
	}
	ins.log.ExternalAPI(ctx, provider, operation, success, durationMs, fields)
}
