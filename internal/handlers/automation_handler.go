package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ticketflow/internal/automation"
	"ticketflow/internal/rulestore"
)

// ManualRunner 手动触发单条规则
type ManualRunner interface {
	RunManually(ctx context.Context, id string, evt *automation.EventContext) (*automation.RuleResult, error)
}

// RunLister 执行记录查询
type RunLister interface {
	ListRuns(ctx context.Context, q rulestore.RunQuery) ([]automation.RunRecord, int64, error)
}

// AutomationHandler 管理自动化规则
type AutomationHandler struct {
	store    automation.RuleStore
	runs     RunLister
	runner   ManualRunner
	entities automation.EntityStore
	logger   *logrus.Logger
}

func NewAutomationHandler(store automation.RuleStore, runs RunLister, runner ManualRunner, entities automation.EntityStore, logger *logrus.Logger) *AutomationHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AutomationHandler{store: store, runs: runs, runner: runner, entities: entities, logger: logger}
}

// AutomationRequest 创建规则请求；is_active 缺省为 true
type AutomationRequest struct {
	ID          string              `json:"id"`
	Name        string              `json:"name" binding:"required"`
	Description string              `json:"description"`
	IsActive    *bool               `json:"is_active"`
	Trigger     automation.Trigger  `json:"trigger"`
	Actions     []automation.Action `json:"actions" binding:"required,min=1"`
}

// TriggerRequest 手动触发时提供的事件上下文
type TriggerRequest struct {
	EventType automation.EventType         `json:"event_type"`
	TicketID  string                       `json:"ticket_id"`
	Ticket    map[string]any               `json:"ticket"`
	Changes   map[string]automation.Change `json:"changes"`
	Data      map[string]any               `json:"data"`
}

// TriggerResponse 手动触发结果
type TriggerResponse struct {
	Matched bool                   `json:"matched"`
	Result  *automation.RuleResult `json:"result,omitempty"`
}

// ListAutomations 获取规则列表
func (h *AutomationHandler) ListAutomations(c *gin.Context) {
	rules, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list automations", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "ok", Data: rules})
}

// GetAutomation 获取单条规则
func (h *AutomationHandler) GetAutomation(c *gin.Context) {
	rule, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, "Failed to get automation", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "ok", Data: rule})
}

// CreateAutomation 创建规则
func (h *AutomationHandler) CreateAutomation(c *gin.Context) {
	var req AutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	rule, err := h.store.Create(c.Request.Context(), automation.Automation{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		IsActive:    active,
		Trigger:     req.Trigger,
		Actions:     req.Actions,
	})
	if err != nil {
		h.storeError(c, "Failed to create automation", err)
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Message: "created", Data: rule})
}

// UpdateAutomation 部分更新规则
func (h *AutomationHandler) UpdateAutomation(c *gin.Context) {
	var patch automation.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.store.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.storeError(c, "Failed to update automation", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "updated", Data: rule})
}

// DeleteAutomation 删除规则
func (h *AutomationHandler) DeleteAutomation(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.storeError(c, "Failed to delete automation", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// TriggerAutomation 用给定上下文手动执行规则。
// 规则不存在返回 404，其余内部错误只返回笼统信息。
func (h *AutomationHandler) TriggerAutomation(c *gin.Context) {
	var req TriggerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	evt := &automation.EventContext{
		EventType: req.EventType,
		TicketID:  req.TicketID,
		Ticket:    req.Ticket,
		Changes:   req.Changes,
		Data:      req.Data,
	}
	if evt.Ticket == nil && evt.TicketID != "" && h.entities != nil {
		if snap, err := h.entities.GetByID(ctx, evt.TicketID); err == nil {
			evt.Ticket = snap
		}
	}

	id := c.Param("id")
	result, err := h.runner.RunManually(ctx, id, evt)
	if err != nil {
		if errors.Is(err, automation.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Automation not found", Message: err.Error()})
			return
		}
		h.logger.WithField("rule_id", id).Errorf("automation: manual trigger failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to trigger automation", Message: "internal error"})
		return
	}
	c.JSON(http.StatusOK, TriggerResponse{Matched: result != nil, Result: result})
}

// ListRuns 查询执行记录
func (h *AutomationHandler) ListRuns(c *gin.Context) {
	page, pageSize := pageParams(c)
	runs, total, err := h.runs.ListRuns(c.Request.Context(), rulestore.RunQuery{
		RuleID:   c.Query("rule_id"),
		TicketID: c.Query("ticket_id"),
		Status:   c.Query("status"),
		Limit:    pageSize,
		Offset:   (page - 1) * pageSize,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list runs", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, newPage(runs, total, page, pageSize))
}

func (h *AutomationHandler) storeError(c *gin.Context, title string, err error) {
	switch {
	case errors.Is(err, automation.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: title, Message: err.Error()})
	case errors.Is(err, automation.ErrInvalidRule):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: title, Message: err.Error()})
	default:
		h.logger.Errorf("automation: %s: %v", title, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: title, Message: err.Error()})
	}
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.GET("", handler.ListAutomations)
		auto.POST("", handler.CreateAutomation)
		auto.GET("/runs", handler.ListRuns)
		auto.GET("/:id", handler.GetAutomation)
		auto.PATCH("/:id", handler.UpdateAutomation)
		auto.DELETE("/:id", handler.DeleteAutomation)
		auto.POST("/:id/trigger", handler.TriggerAutomation)
	}
}
