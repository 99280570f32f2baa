/*
 * @module api/controllers/event_controller
 * @description 业务事件上报控制器：接收平台其他服务上报的Token消耗、收入与订阅事件
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow HTTP请求 -> 参数校验 -> 业务事件埋点 -> JSON响应
 * @rules 必填字段缺失返回400；埋点写入指标与业务事件日志
 * @dependencies service/instrument
 * @refs service/instrument/providers.go
 */

package controllers

import (
	"encoding/json"
	"net/http"

	"observability-service/service/instrument"
)

// EventController 业务事件上报控制器
type EventController struct {
	providers *instrument.Providers
}

// NewEventController 创建业务事件上报控制器实例
func NewEventController(providers *instrument.Providers) *EventController {
	return &EventController{providers: providers}
}

// tokenUsageRequest Token消耗上报请求体
type tokenUsageRequest struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

// TokenUsage 上报Token消耗
// @Summary 上报模型Token消耗
// @Tags 业务事件
// @Accept json
// @Produce json
// @Param request body tokenUsageRequest true "Token消耗"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Router /monitoring/events/token-usage [post]
func (c *EventController) TokenUsage(w http.ResponseWriter, r *http.Request) {
	var req tokenUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" || req.Model == "" {
		Fail(w, r, http.StatusBadRequest, "provider与model为必填项")
		return
	}
	c.providers.RecordTokenUsage(r.Context(), req.Provider, req.Model, req.PromptTokens, req.CompletionTokens)
	OK(w, r, "上报成功", nil)
}

// revenueRequest 收入上报请求体
type revenueRequest struct {
	Source    string  `json:"source"`
	AmountUSD float64 `json:"amount_usd"`
}

// Revenue 上报收入
// @Summary 上报一笔收入
// @Tags 业务事件
// @Accept json
// @Produce json
// @Param request body revenueRequest true "收入"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Router /monitoring/events/revenue [post]
func (c *EventController) Revenue(w http.ResponseWriter, r *http.Request) {
	var req revenueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Source == "" {
		Fail(w, r, http.StatusBadRequest, "source为必填项")
		return
	}
	c.providers.RecordRevenue(r.Context(), req.Source, req.AmountUSD)
	OK(w, r, "上报成功", nil)
}

// subscriptionRequest 订阅事件上报请求体
type subscriptionRequest struct {
	Event string `json:"event"`
	Plan  string `json:"plan"`
}

// Subscription 上报订阅生命周期事件
// @Summary 上报订阅事件
// @Tags 业务事件
// @Accept json
// @Produce json
// @Param request body subscriptionRequest true "订阅事件"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Router /monitoring/events/subscription [post]
func (c *EventController) Subscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == "" || req.Plan == "" {
		Fail(w, r, http.StatusBadRequest, "event与plan为必填项")
		return
	}
	c.providers.RecordSubscriptionEvent(r.Context(), req.Event, req.Plan)
	OK(w, r, "上报成功", nil)
}
