/*
 * @module api/middleware/recoverer
 * @description 全局异常恢复中间件：捕获处理器panic，返回统一JSON错误响应并记录堆栈
 * @architecture 分层架构 - API网关层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow panic捕获 -> 状态码推导 -> 错误日志 -> JSON响应
 * @rules 生产环境5xx响应隐藏错误详情；响应已写出时不再二次写入
 * @dependencies net/http, runtime/debug
 * @refs api/middleware/request_context.go
 */

package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"observability-service/logger"
)

// errorBody 统一错误响应体
type errorBody struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
	Error         *struct {
		Name  string `json:"name"`
		Stack string `json:"stack,omitempty"`
	} `json:"error,omitempty"`
}

// Recoverer 创建异常恢复中间件
func (p *Pipeline) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil || rec == http.ErrAbortHandler {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				return
			}

			ctx := r.Context()
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}

			status := http.StatusInternalServerError
			if coder, hasStatus := err.(interface{ StatusCode() int }); hasStatus {
				status = coder.StatusCode()
			} else if coder, hasStatus := err.(interface{ Status() int }); hasStatus {
				status = coder.Status()
			}

			p.log.Error(ctx, "请求处理panic", logger.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"status": status,
			}, err)

			// 响应已部分写出时无法再发送错误体
			if ww, isWrapped := w.(chimiddleware.WrapResponseWriter); isWrapped && ww.Status() != 0 {
				return
			}

			message := err.Error()
			if p.production && status >= 500 {
				message = "Internal server error"
			}
			body := errorBody{
				Success:       false,
				Message:       message,
				CorrelationID: logger.CorrelationIDFrom(ctx),
			}
			if !p.production {
				body.Error = &struct {
					Name  string `json:"name"`
					Stack string `json:"stack,omitempty"`
				}{
					Name:  fmt.Sprintf("%T", err),
					Stack: string(debug.Stack()),
				}
			}

			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(body)
		}()

		next.ServeHTTP(w, r)
	})
}
