package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ticketflow/internal/services"
)

// TicketHandler 工单 HTTP 接口。自动化在写库之后异步执行，不影响响应。
type TicketHandler struct {
	service *services.TicketService
	logger  *logrus.Logger
}

func NewTicketHandler(service *services.TicketService, logger *logrus.Logger) *TicketHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TicketHandler{service: service, logger: logger}
}

// CreateTicket 创建工单
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req services.TicketCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	ticket, err := h.service.CreateTicket(c.Request.Context(), &req)
	if err != nil {
		h.logger.Errorf("create ticket: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create ticket", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Message: "created", Data: ticket})
}

// GetTicket 获取工单详情
func (h *TicketHandler) GetTicket(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a positive integer"})
		return
	}
	ticket, err := h.service.GetTicketByID(c.Request.Context(), id)
	if err != nil {
		h.ticketError(c, "Failed to get ticket", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "ok", Data: ticket})
}

// ListTickets 工单列表
func (h *TicketHandler) ListTickets(c *gin.Context) {
	var req services.TicketListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Message: err.Error()})
		return
	}
	req.Page, req.PageSize = pageParams(c)
	tickets, total, err := h.service.ListTickets(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list tickets", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, newPage(tickets, total, req.Page, req.PageSize))
}

// UpdateTicket 更新工单
func (h *TicketHandler) UpdateTicket(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a positive integer"})
		return
	}
	var req services.TicketUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	ticket, err := h.service.UpdateTicket(c.Request.Context(), id, &req, c.GetUint("user_id"))
	if err != nil {
		h.ticketError(c, "Failed to update ticket", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "updated", Data: ticket})
}

// AddMessage 工单来信
func (h *TicketHandler) AddMessage(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a positive integer"})
		return
	}
	var req services.MessageCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	msg, err := h.service.AddMessage(c.Request.Context(), id, &req)
	if err != nil {
		h.ticketError(c, "Failed to add message", err)
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Message: "created", Data: msg})
}

func (h *TicketHandler) ticketError(c *gin.Context, title string, err error) {
	if errors.Is(err, services.ErrTicketNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: title, Message: err.Error()})
		return
	}
	h.logger.Errorf("%s: %v", title, err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: title, Message: err.Error()})
}

// RegisterTicketRoutes 注册工单路由
func RegisterTicketRoutes(r *gin.RouterGroup, handler *TicketHandler) {
	tickets := r.Group("/tickets")
	{
		tickets.GET("", handler.ListTickets)
		tickets.POST("", handler.CreateTicket)
		tickets.GET("/:id", handler.GetTicket)
		tickets.PATCH("/:id", handler.UpdateTicket)
		tickets.POST("/:id/messages", handler.AddMessage)
	}
}
