/*
 * @module api/middleware/request_context
 * @description 请求管道中间件：关联ID透传、请求上下文注入、访问日志、请求指标与慢请求/安全事件监测
 * @architecture 分层架构 - API网关层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow 关联ID提取/生成 -> 上下文注入 -> 业务处理 -> 完成埋点
 * @rules X-Correlation-ID透传：请求携带则原样回显，否则生成UUID；客户端IP仅在非生产环境进入日志
 * @dependencies github.com/go-chi/chi/v5, github.com/google/uuid
 * @refs logger/context.go, service/metrics
 */

package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"observability-service/logger"
	"observability-service/service/metrics"
)

// HeaderCorrelationID 关联ID请求/响应头
const HeaderCorrelationID = "X-Correlation-ID"

// Pipeline 请求管道，持有埋点依赖
type Pipeline struct {
	log             *logger.Logger
	registry        *metrics.Registry
	windows         *metrics.WindowSet
	slowThresholdMs int64
	production      bool
}

// NewPipeline 创建请求管道
func NewPipeline(log *logger.Logger, registry *metrics.Registry, windows *metrics.WindowSet, slowThresholdMs int64, production bool) *Pipeline {
	if slowThresholdMs <= 0 {
		slowThresholdMs = 3000
	}
	return &Pipeline{
		log:             log,
		registry:        registry,
		windows:         windows,
		slowThresholdMs: slowThresholdMs,
		production:      production,
	}
}

// Handler 请求上下文与埋点中间件
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		w.Header().Set(HeaderCorrelationID, correlationID)

		rc := &logger.RequestContext{
			CorrelationID: correlationID,
			RequestID:     uuid.NewString(),
			Method:        r.Method,
			Path:          r.URL.Path,
			UserAgent:     r.UserAgent(),
		}
		ctx := logger.WithRequestContext(r.Context(), rc)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			durationMs := float64(time.Since(start)) / float64(time.Millisecond)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			p.complete(r.WithContext(ctx), rc, status, durationMs, ww.BytesWritten())
		}()

		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}

// complete 请求完成后的统一埋点
func (p *Pipeline) complete(r *http.Request, rc *logger.RequestContext, status int, durationMs float64, responseBytes int) {
	ctx := r.Context()

	p.windows.Inc(metrics.WindowRequests, 1)
	if status >= 500 {
		p.windows.Inc(metrics.WindowErrors, 1)
	}

	labels := map[string]string{
		"method": rc.Method,
		"path":   rc.Path,
		"status": strconv.Itoa(status),
	}
	p.registry.IncCounter(metrics.MetricHTTPRequestsTotal, labels, 1)
	p.registry.ObserveHistogram(metrics.MetricHTTPRequestDurationMs, durationMs,
		map[string]string{"method": rc.Method, "path": rc.Path})
	p.registry.ObserveHistogram(metrics.MetricHTTPResponseSizeBytes, float64(responseBytes),
		map[string]string{"method": rc.Method, "path": rc.Path})

	if durationMs > float64(p.slowThresholdMs) {
		p.windows.Inc(metrics.WindowSlowRequests, 1)
		p.registry.IncCounter(metrics.MetricHTTPSlowRequestsTotal,
			map[string]string{"method": rc.Method, "path": rc.Path}, 1)
		p.log.Warn(ctx, "慢请求", logger.Fields{
			"method":       rc.Method,
			"path":         rc.Path,
			"duration_ms":  durationMs,
			"threshold_ms": p.slowThresholdMs,
		})
	}

	switch status {
	case http.StatusUnauthorized:
		p.registry.IncCounter(metrics.MetricSecurityEventsTotal,
			map[string]string{"event": "unauthorized", "severity": "low"}, 1)
		p.log.SecurityEvent(ctx, "unauthorized_access", "low", logger.Fields{
			"method": rc.Method,
			"path":   rc.Path,
		})
	case http.StatusForbidden:
		p.registry.IncCounter(metrics.MetricSecurityEventsTotal,
			map[string]string{"event": "forbidden", "severity": "medium"}, 1)
		p.log.SecurityEvent(ctx, "forbidden_access", "medium", logger.Fields{
			"method": rc.Method,
			"path":   rc.Path,
		})
	}

	fields := logger.Fields{
		"user_agent":     rc.UserAgent,
		"response_bytes": responseBytes,
	}
	if !p.production {
		fields["client_ip"] = clientIP(r)
	}
	p.log.HTTPRequest(ctx, rc.Method, rc.Path, status, durationMs, fields)
}

// clientIP 提取客户端IP，优先代理头
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
