package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ticketflow/internal/automation"
	"ticketflow/internal/models"
)

// ErrTicketNotFound 工单不存在
var ErrTicketNotFound = errors.New("ticket not found")

// EventDispatcher 自动化引擎的异步入口
type EventDispatcher interface {
	DispatchAsync(ctx context.Context, evt *automation.EventContext) *automation.Task
}

// TicketService 工单管理服务。写库成功后才向自动化引擎投递事件，
// 工单操作的结果不依赖自动化的执行结果。
type TicketService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	automation EventDispatcher
}

// NewTicketService 创建工单服务
func NewTicketService(db *gorm.DB, logger *logrus.Logger) *TicketService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TicketService{db: db, logger: logger}
}

// SetAutomation 注入自动化引擎
func (s *TicketService) SetAutomation(d EventDispatcher) {
	s.automation = d
}

// TicketCreateRequest 创建工单请求
type TicketCreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	CustomerID  uint   `json:"customer_id"`
	Category    string `json:"category"`
	Priority    string `json:"priority" binding:"omitempty,oneof=low normal high urgent"`
	Source      string `json:"source"`
	Tags        string `json:"tags"`
}

// TicketUpdateRequest 更新工单请求
type TicketUpdateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	AgentID     *uint   `json:"agent_id"`
	Category    *string `json:"category"`
	Priority    *string `json:"priority" binding:"omitempty,oneof=low normal high urgent"`
	Status      *string `json:"status" binding:"omitempty,oneof=open assigned in_progress resolved closed"`
	Tags        *string `json:"tags"`
}

// TicketListRequest 工单列表请求
type TicketListRequest struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	Status   string `form:"status"`
	Priority string `form:"priority"`
}

// MessageCreateRequest 工单来信
type MessageCreateRequest struct {
	Sender  string `json:"sender"`
	Content string `json:"content" binding:"required"`
}

// CreateTicket 创建工单并触发 ticket_created
func (s *TicketService) CreateTicket(ctx context.Context, req *TicketCreateRequest) (*models.Ticket, error) {
	if req.Category == "" {
		req.Category = "general"
	}
	if req.Priority == "" {
		req.Priority = "normal"
	}
	if req.Source == "" {
		req.Source = "web"
	}

	ticket := &models.Ticket{
		Title:       req.Title,
		Description: req.Description,
		CustomerID:  req.CustomerID,
		Category:    req.Category,
		Priority:    req.Priority,
		Status:      "open",
		Source:      req.Source,
		Tags:        req.Tags,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ticket).Error; err != nil {
			return fmt.Errorf("failed to create ticket: %w", err)
		}
		return s.recordStatusChange(tx, ticket.ID, 0, "", "open", "工单创建")
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infof("Created ticket %d for customer %d", ticket.ID, req.CustomerID)

	s.raise(ctx, &automation.EventContext{
		EventType: automation.EventTicketCreated,
		TicketID:  ticketKey(ticket.ID),
		Ticket:    TicketSnapshot(ticket),
	})
	return ticket, nil
}

// GetTicketByID 根据ID获取工单
func (s *TicketService) GetTicketByID(ctx context.Context, ticketID uint) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&ticket, ticketID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return &ticket, nil
}

// GetByID 实现 automation.EntityStore：返回工单快照，不存在时返回 nil, nil
func (s *TicketService) GetByID(ctx context.Context, id string) (map[string]any, error) {
	ticketID, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil, nil
	}
	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, uint(ticketID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return TicketSnapshot(&ticket), nil
}

// UpdateTicket 更新工单。状态、优先级、分类的变化作为 Changes 交给自动化引擎。
func (s *TicketService) UpdateTicket(ctx context.Context, ticketID uint, req *TicketUpdateRequest, userID uint) (*models.Ticket, error) {
	var old models.Ticket
	if err := s.db.WithContext(ctx).First(&old, ticketID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}

	updates := make(map[string]any)
	changes := make(map[string]automation.Change)
	track := func(field, oldVal string, newVal *string) {
		if newVal == nil {
			return
		}
		updates[field] = *newVal
		if *newVal != oldVal {
			changes[field] = automation.Change{Old: oldVal, New: *newVal}
		}
	}

	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.AgentID != nil {
		updates["agent_id"] = *req.AgentID
	}
	if req.Tags != nil {
		updates["tags"] = *req.Tags
	}
	track("category", old.Category, req.Category)
	track("priority", old.Priority, req.Priority)
	track("status", old.Status, req.Status)

	if c, ok := changes["status"]; ok {
		now := time.Now()
		switch c.New {
		case "resolved":
			updates["resolved_at"] = &now
		case "closed":
			updates["closed_at"] = &now
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(&models.Ticket{}).Where("id = ?", ticketID).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update ticket: %w", err)
			}
		}
		if c, ok := changes["status"]; ok {
			return s.recordStatusChange(tx, ticketID, userID, c.Old, c.New, "状态更新")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infof("Updated ticket %d by user %d", ticketID, userID)

	updated, err := s.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	s.raise(ctx, &automation.EventContext{
		EventType: automation.EventTicketUpdated,
		TicketID:  ticketKey(ticketID),
		Ticket:    TicketSnapshot(updated),
		Changes:   changes,
		Data:      map[string]any{"userId": userID},
	})
	return updated, nil
}

// ListTickets 获取工单列表
func (s *TicketService) ListTickets(ctx context.Context, req *TicketListRequest) ([]models.Ticket, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Ticket{})
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.Priority != "" {
		query = query.Where("priority = ?", req.Priority)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tickets: %w", err)
	}

	page, size := req.Page, req.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	var tickets []models.Ticket
	if err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&tickets).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, total, nil
}

// AddMessage 记录一条来信并触发 message_received
func (s *TicketService) AddMessage(ctx context.Context, ticketID uint, req *MessageCreateRequest) (*models.TicketMessage, error) {
	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, ticketID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	sender := req.Sender
	if sender == "" {
		sender = "customer"
	}
	msg := &models.TicketMessage{TicketID: ticketID, Sender: sender, Content: req.Content}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to add message: %w", err)
	}

	s.raise(ctx, &automation.EventContext{
		EventType: automation.EventMessageReceived,
		TicketID:  ticketKey(ticketID),
		Ticket:    TicketSnapshot(&ticket),
		Data: map[string]any{
			"message": map[string]any{
				"id":      msg.ID,
				"sender":  msg.Sender,
				"content": msg.Content,
			},
		},
	})
	return msg, nil
}

// raise 投递事件，不等待结果
func (s *TicketService) raise(ctx context.Context, evt *automation.EventContext) {
	if s.automation == nil {
		return
	}
	s.automation.DispatchAsync(ctx, evt)
}

func (s *TicketService) recordStatusChange(tx *gorm.DB, ticketID uint, userID uint, fromStatus, toStatus, reason string) error {
	history := &models.TicketStatus{
		TicketID:   ticketID,
		UserID:     userID,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		Reason:     reason,
	}
	if err := tx.Create(history).Error; err != nil {
		return fmt.Errorf("record status change: %w", err)
	}
	return nil
}

// TicketSnapshot 工单的扁平视图，供条件匹配与模板使用
func TicketSnapshot(t *models.Ticket) map[string]any {
	snap := map[string]any{
		"id":          ticketKey(t.ID),
		"title":       t.Title,
		"description": t.Description,
		"customer_id": t.CustomerID,
		"category":    t.Category,
		"priority":    t.Priority,
		"status":      t.Status,
		"source":      t.Source,
		"tags":        t.Tags,
		"created_at":  t.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":  t.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if t.AgentID != nil {
		snap["agent_id"] = *t.AgentID
	}
	return snap
}

func ticketKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
