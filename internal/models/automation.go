package models

import "time"

// AutomationRule 自动化规则定义
type AutomationRule struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	TriggerType string    `gorm:"index;size:32" json:"trigger_type"`
	Trigger     string    `gorm:"type:text" json:"trigger"` // JSON: {id,name,type,description,conditions}
	Actions     string    `gorm:"type:text" json:"actions"` // JSON: [{id,name,type,parameters,webhook_url}]
	IsActive    bool      `gorm:"index" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AutomationRun 执行记录用于审计
type AutomationRun struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RuleID    string    `gorm:"index;size:64" json:"rule_id"`
	TicketID  string    `gorm:"index;size:64" json:"ticket_id"`
	EventType string    `gorm:"size:32" json:"event_type"`
	Status    string    `gorm:"index" json:"status"` // success, failed
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
