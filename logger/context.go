/*
 * @module logger/context
 * @description 请求级上下文传播，携带关联ID、请求ID等请求元数据
 * @architecture 基础设施层 - 上下文传播
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow 中间件注入 -> context.Context 传递 -> 日志/指标消费
 * @rules 每个逻辑请求有且仅有一个请求上下文，跨goroutine只读共享
 * @dependencies context
 * @refs api/middleware/request_context.go
 */

package logger

import "context"

// contextKey 上下文键类型
type contextKey string

const requestContextKey contextKey = "request_context"

// RequestContext 请求上下文，由请求管道中间件在请求开始时创建，
// 通过 context.Context 显式传播到日志与指标消费方
type RequestContext struct {
	CorrelationID string `json:"correlation_id"`
	RequestID     string `json:"request_id"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	UserAgent     string `json:"user_agent"`
	UserID        string `json:"user_id,omitempty"`
}

// WithRequestContext 将请求上下文注入 context
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// RequestContextFrom 从 context 中提取请求上下文
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey).(*RequestContext)
	return rc, ok
}

// CorrelationIDFrom 从 context 中提取关联ID，不存在时返回空字符串
func CorrelationIDFrom(ctx context.Context) string {
	if rc, ok := RequestContextFrom(ctx); ok {
		return rc.CorrelationID
	}
	return ""
}
