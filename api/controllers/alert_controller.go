/*
 * @module api/controllers/alert_controller
 * @description 告警管理控制器：规则列表、历史/活跃告警查询、规则启停与手动触发
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow HTTP请求 -> 告警引擎操作 -> JSON响应
 * @rules 规则启停为幂等操作，未知规则ID与重复设置同一状态均返回成功
 * @dependencies service/monitoring, github.com/spf13/cast
 * @refs service/monitoring/alert_engine.go
 */

package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"

	"observability-service/service/monitoring"
)

// historyDefaultLimit 历史查询缺省条数
const historyDefaultLimit = 100

// AlertController 告警管理控制器
type AlertController struct {
	engine *monitoring.AlertEngine
}

// NewAlertController 创建告警管理控制器实例
func NewAlertController(engine *monitoring.AlertEngine) *AlertController {
	return &AlertController{engine: engine}
}

// ListRules 规则列表
// @Summary 告警规则列表
// @Description 返回全部已注册告警规则（注册顺序）
// @Tags 告警
// @Produce json
// @Success 200 {object} APIResponse
// @Router /monitoring/alerts/rules [get]
func (c *AlertController) ListRules(w http.ResponseWriter, r *http.Request) {
	OK(w, r, "获取成功", c.engine.Rules())
}

// History 历史告警
// @Summary 历史告警查询
// @Description 返回最近的历史告警，新的在前，limit参数控制条数
// @Tags 告警
// @Produce json
// @Param limit query int false "返回条数，缺省100"
// @Success 200 {object} APIResponse
// @Router /monitoring/alerts/history [get]
func (c *AlertController) History(w http.ResponseWriter, r *http.Request) {
	limit := cast.ToInt(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = historyDefaultLimit
	}
	OK(w, r, "获取成功", c.engine.History(limit))
}

// Active 活跃告警
// @Summary 活跃告警查询
// @Description 返回当前未解除的告警
// @Tags 告警
// @Produce json
// @Success 200 {object} APIResponse
// @Router /monitoring/alerts/active [get]
func (c *AlertController) Active(w http.ResponseWriter, r *http.Request) {
	OK(w, r, "获取成功", c.engine.ActiveAlerts())
}

// ruleToggleData 规则启停响应数据
type ruleToggleData struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// Enable 启用规则
// @Summary 启用告警规则
// @Tags 告警
// @Produce json
// @Param id path string true "规则ID"
// @Success 200 {object} APIResponse{data=ruleToggleData}
// @Router /monitoring/alerts/rules/{id}/enable [post]
func (c *AlertController) Enable(w http.ResponseWriter, r *http.Request) {
	c.toggle(w, r, true)
}

// Disable 停用规则
// @Summary 停用告警规则
// @Tags 告警
// @Produce json
// @Param id path string true "规则ID"
// @Success 200 {object} APIResponse{data=ruleToggleData}
// @Router /monitoring/alerts/rules/{id}/disable [post]
func (c *AlertController) Disable(w http.ResponseWriter, r *http.Request) {
	c.toggle(w, r, false)
}

func (c *AlertController) toggle(w http.ResponseWriter, r *http.Request, enabled bool) {
	ruleID := chi.URLParam(r, "id")
	// 未知规则同样返回成功，启停接口对调用方始终幂等
	c.engine.SetRuleEnabled(ruleID, enabled)
	OK(w, r, "操作成功", ruleToggleData{ID: ruleID, Enabled: enabled})
}

// fireRequest 手动触发请求体
type fireRequest struct {
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Fire 手动触发告警
// @Summary 手动触发告警
// @Description 绕过条件评估直接触发指定规则，仍受冷却期约束
// @Tags 告警
// @Accept json
// @Produce json
// @Param id path string true "规则ID"
// @Param request body fireRequest false "触发参数"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /monitoring/alerts/rules/{id}/fire [post]
func (c *AlertController) Fire(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	var req fireRequest
	if r.Body != nil {
		// 请求体可选，解析失败按空参数处理
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Message == "" {
		req.Message = "手动触发"
	}

	found := false
	for _, rule := range c.engine.Rules() {
		if rule.ID == ruleID {
			found = true
			break
		}
	}
	if !found {
		Fail(w, r, http.StatusNotFound, "告警规则不存在")
		return
	}

	alert := c.engine.Fire(r.Context(), ruleID, req.Message, req.Metadata)
	if alert == nil {
		OK(w, r, "未触发（冷却期内或规则停用）", nil)
		return
	}
	OK(w, r, "触发成功", alert)
}
