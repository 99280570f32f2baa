/*
 * @module logger/logger
 * @description 结构化日志记录器，提供分级过滤、上下文合并、敏感信息脱敏和派生级别辅助方法
 * @architecture 基础设施层 - 日志
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow 级别过滤 -> 上下文合并 -> 脱敏 -> JSON序列化 -> stdout/stderr
 * @rules error/warn 输出到 stderr，其余级别输出到 stdout；生产环境禁止输出堆栈
 * @dependencies log/slog, os, runtime/debug
 * @refs logger/masking.go, logger/context.go
 */

package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

// Level 日志级别，数值越大越详细
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

// ParseLevel 解析级别名称，未知名称回退到 info
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	case "trace":
		return LevelTrace
	default:
		return LevelInfo
	}
}

// String 返回级别名称
func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "info"
	}
}

// slog 级别映射，trace 使用 slog 的扩展区间
const slogLevelTrace = slog.Level(-8)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelInfo:
		return slog.LevelInfo
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slogLevelTrace
	}
}

// Fields 自由格式日志上下文
type Fields map[string]any

// Options 日志记录器配置
type Options struct {
	Service    string
	Level      Level
	Production bool
	Stdout     io.Writer // 缺省 os.Stdout，测试可注入
	Stderr     io.Writer // 缺省 os.Stderr
}

// Logger 结构化日志记录器
type Logger struct {
	service    string
	level      Level
	production bool
	defaults   Fields
	out        *slog.Logger
	errOut     *slog.Logger
}

var (
	hostname, _ = os.Hostname()
	pid         = os.Getpid()
)

// New 创建日志记录器
func New(opts Options) *Logger {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{
		Level:       slogLevelTrace,
		ReplaceAttr: replaceLevelName,
	}
	return &Logger{
		service:    opts.Service,
		level:      opts.Level,
		production: opts.Production,
		defaults:   Fields{},
		out:        slog.New(slog.NewJSONHandler(opts.Stdout, handlerOpts)),
		errOut:     slog.New(slog.NewJSONHandler(opts.Stderr, handlerOpts)),
	}
}

// replaceLevelName 将 slog 级别改写为本模块的级别名称
func replaceLevelName(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	lvl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch {
	case lvl >= slog.LevelError:
		a.Value = slog.StringValue("error")
	case lvl >= slog.LevelWarn:
		a.Value = slog.StringValue("warn")
	case lvl >= slog.LevelInfo:
		a.Value = slog.StringValue("info")
	case lvl >= slog.LevelDebug:
		a.Value = slog.StringValue("debug")
	default:
		a.Value = slog.StringValue("trace")
	}
	return a
}

// Child 创建子记录器，默认上下文为父级默认值与给定字段的浅合并，不修改父级
func (l *Logger) Child(fields Fields) *Logger {
	child := *l
	merged := make(Fields, len(l.defaults)+len(fields))
	for k, v := range l.defaults {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	child.defaults = merged
	return &child
}

// shouldLog 级别过滤：配置级别不低于调用级别时才记录
func (l *Logger) shouldLog(level Level) bool {
	return l.level >= level
}

// log 核心记录方法，所有公开方法最终汇聚到这里
func (l *Logger) log(ctx context.Context, level Level, msg string, fields Fields, err error, durationMs *float64) {
	if !l.shouldLog(level) {
		return
	}
	if l.production {
		msg = maskSensitive(msg)
	}

	// 上下文合并优先级：调用方字段 > 记录器默认字段 > 环境关联ID
	merged := make(Fields, len(l.defaults)+len(fields))
	for k, v := range l.defaults {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	correlationID, _ := merged["correlation_id"].(string)
	delete(merged, "correlation_id")
	if correlationID == "" {
		correlationID = CorrelationIDFrom(ctx)
	}

	attrs := make([]slog.Attr, 0, 8)
	attrs = append(attrs, slog.String("service", l.service))
	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}
	if len(merged) > 0 {
		attrs = append(attrs, slog.Any("context", merged))
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", l.errorDetail(err)))
	}
	if durationMs != nil {
		attrs = append(attrs, slog.Float64("duration_ms", *durationMs))
	}
	attrs = append(attrs, slog.Int("pid", pid), slog.String("hostname", hostname))

	target := l.out
	if level <= LevelWarn {
		target = l.errOut
	}
	target.LogAttrs(ctx, level.slogLevel(), msg, attrs...)
}

// errorDetail 构建结构化错误信息，生产环境脱敏且不携带堆栈
func (l *Logger) errorDetail(err error) map[string]any {
	message := err.Error()
	if l.production {
		message = maskSensitive(message)
	}
	detail := map[string]any{
		"name":    fmt.Sprintf("%T", err),
		"message": message,
	}
	if coder, ok := err.(interface{ Code() string }); ok {
		detail["code"] = coder.Code()
	}
	if !l.production {
		detail["stack"] = string(debug.Stack())
	}
	return detail
}

// Error 记录错误日志
func (l *Logger) Error(ctx context.Context, msg string, fields Fields, err error) {
	l.log(ctx, LevelError, msg, fields, err, nil)
}

// Warn 记录警告日志
func (l *Logger) Warn(ctx context.Context, msg string, fields Fields) {
	l.log(ctx, LevelWarn, msg, fields, nil, nil)
}

// Info 记录信息日志
func (l *Logger) Info(ctx context.Context, msg string, fields Fields) {
	l.log(ctx, LevelInfo, msg, fields, nil, nil)
}

// Debug 记录调试日志
func (l *Logger) Debug(ctx context.Context, msg string, fields Fields) {
	l.log(ctx, LevelDebug, msg, fields, nil, nil)
}

// Trace 记录跟踪日志
func (l *Logger) Trace(ctx context.Context, msg string, fields Fields) {
	l.log(ctx, LevelTrace, msg, fields, nil, nil)
}

// TimerHandle 计时器句柄
type TimerHandle struct {
	operation string
	fields    Fields
	start     time.Time
}

// StartTimer 开始一次操作计时
func (l *Logger) StartTimer(operation string, fields Fields) *TimerHandle {
	return &TimerHandle{operation: operation, fields: fields, start: time.Now()}
}

// EndTimer 结束计时并记录，返回耗时毫秒数
func (l *Logger) EndTimer(ctx context.Context, h *TimerHandle, msg string, level Level) float64 {
	durationMs := float64(time.Since(h.start)) / float64(time.Millisecond)
	if msg == "" {
		msg = h.operation + " 完成"
	}
	fields := make(Fields, len(h.fields)+1)
	for k, v := range h.fields {
		fields[k] = v
	}
	fields["operation"] = h.operation
	l.log(ctx, level, msg, fields, nil, &durationMs)
	return durationMs
}

// HTTPRequest 记录HTTP请求，级别由状态码推导：>=500 error，>=400 warn，其余 info
func (l *Logger) HTTPRequest(ctx context.Context, method, path string, statusCode int, durationMs float64, fields Fields) {
	level := LevelInfo
	switch {
	case statusCode >= 500:
		level = LevelError
	case statusCode >= 400:
		level = LevelWarn
	}
	merged := make(Fields, len(fields)+3)
	for k, v := range fields {
		merged[k] = v
	}
	merged["method"] = method
	merged["path"] = path
	merged["status_code"] = statusCode
	l.log(ctx, level, fmt.Sprintf("%s %s - %d", method, path, statusCode), merged, nil, &durationMs)
}

// ExternalAPI 记录外部API调用，成功 info，失败 error
func (l *Logger) ExternalAPI(ctx context.Context, api, operation string, success bool, durationMs float64, fields Fields) {
	level := LevelInfo
	msg := fmt.Sprintf("外部API调用成功: %s.%s", api, operation)
	if !success {
		level = LevelError
		msg = fmt.Sprintf("外部API调用失败: %s.%s", api, operation)
	}
	merged := make(Fields, len(fields)+3)
	for k, v := range fields {
		merged[k] = v
	}
	merged["api"] = api
	merged["operation"] = operation
	merged["success"] = success
	l.log(ctx, level, msg, merged, nil, &durationMs)
}

// slowQueryLogThresholdMs 数据库慢查询的日志级别提升阈值
const slowQueryLogThresholdMs = 1000

// DBQuery 记录数据库查询：失败 error，成功但超过1000ms warn，其余 debug
func (l *Logger) DBQuery(ctx context.Context, operation string, durationMs float64, err error, fields Fields) {
	level := LevelDebug
	msg := fmt.Sprintf("数据库查询: %s", operation)
	switch {
	case err != nil:
		level = LevelError
		msg = fmt.Sprintf("数据库查询失败: %s", operation)
	case durationMs > slowQueryLogThresholdMs:
		level = LevelWarn
		msg = fmt.Sprintf("数据库慢查询: %s", operation)
	}
	merged := make(Fields, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["operation"] = operation
	l.log(ctx, level, msg, merged, err, &durationMs)
}

// BusinessEvent 记录业务事件
func (l *Logger) BusinessEvent(ctx context.Context, event string, fields Fields) {
	merged := make(Fields, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["event"] = event
	l.log(ctx, LevelInfo, fmt.Sprintf("业务事件: %s", event), merged, nil, nil)
}

// SecurityEvent 记录安全事件，high/critical 为 error，其余 warn
func (l *Logger) SecurityEvent(ctx context.Context, event, severity string, fields Fields) {
	level := LevelWarn
	if severity == "high" || severity == "critical" {
		level = LevelError
	}
	merged := make(Fields, len(fields)+2)
	for k, v := range fields {
		merged[k] = v
	}
	merged["event"] = event
	merged["severity"] = severity
	l.log(ctx, level, fmt.Sprintf("安全事件: %s", event), merged, nil, nil)
}
