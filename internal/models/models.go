package models

import (
	"time"

	"gorm.io/gorm"
)

// 工单模型
type Ticket struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Title       string         `gorm:"not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	CustomerID  uint           `gorm:"index" json:"customer_id"`
	AgentID     *uint          `gorm:"index" json:"agent_id"`
	Category    string         `json:"category"`                         // technical, billing, general, complaint
	Priority    string         `gorm:"default:'normal'" json:"priority"` // low, normal, high, urgent
	Status      string         `gorm:"default:'open'" json:"status"`     // open, assigned, in_progress, resolved, closed
	Source      string         `json:"source"`                           // web, email, phone, chat
	Tags        string         `json:"tags"`                             // 标签，逗号分隔
	ResolvedAt  *time.Time     `json:"resolved_at"`
	ClosedAt    *time.Time     `json:"closed_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Messages      []TicketMessage `gorm:"foreignKey:TicketID" json:"messages,omitempty"`
	StatusHistory []TicketStatus  `gorm:"foreignKey:TicketID" json:"status_history,omitempty"`
}

// 工单消息（客户来信、客服回复）
type TicketMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"index" json:"ticket_id"`
	Sender    string    `json:"sender"` // customer, agent, system
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// 工单状态历史
type TicketStatus struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TicketID   uint      `gorm:"index" json:"ticket_id"`
	UserID     uint      `gorm:"index" json:"user_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// AllModels 返回需要迁移的全部模型
func AllModels() []any {
	return []any{
		&Ticket{},
		&TicketMessage{},
		&TicketStatus{},
		&AutomationRule{},
		&AutomationRun{},
	}
}
