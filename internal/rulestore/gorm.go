package rulestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ticketflow/internal/automation"
	"ticketflow/internal/models"
)

// GormStore persists rules in the automation_rules table. Trigger and actions
// are stored as JSON text columns.
type GormStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewGormStore(db *gorm.DB, logger *logrus.Logger) *GormStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &GormStore{db: db, logger: logger}
}

// Migrate creates the rule and run tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&models.AutomationRule{}, &models.AutomationRun{})
}

func (s *GormStore) List(ctx context.Context) ([]automation.Automation, error) {
	var rows []models.AutomationRule
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list automation rules: %w", err)
	}
	out := make([]automation.Automation, 0, len(rows))
	for _, row := range rows {
		rule, err := fromModel(row)
		if err != nil {
			s.logger.WithField("rule_id", row.ID).Warnf("automation: skip undecodable rule: %v", err)
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*automation.Automation, error) {
	row, err := s.find(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	rule, err := fromModel(*row)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *GormStore) Create(ctx context.Context, rule automation.Automation) (*automation.Automation, error) {
	rule, err := prepareNew(rule, time.Now())
	if err != nil {
		return nil, err
	}
	row, err := toModel(rule)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create automation rule: %w", err)
	}
	return &rule, nil
}

func (s *GormStore) Update(ctx context.Context, id string, patch automation.Patch) (*automation.Automation, error) {
	var updated automation.Automation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.find(tx, id)
		if err != nil {
			return err
		}
		current, err := fromModel(*row)
		if err != nil {
			return err
		}
		updated, err = applyPatch(current, patch, time.Now())
		if err != nil {
			return err
		}
		next, err := toModel(updated)
		if err != nil {
			return err
		}
		return tx.Save(&next).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.AutomationRule{})
	if res.Error != nil {
		return fmt.Errorf("delete automation rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return automation.ErrRuleNotFound
	}
	return nil
}

// RecordRun writes one audit row.
func (s *GormStore) RecordRun(ctx context.Context, run automation.RunRecord) error {
	row := models.AutomationRun{
		RuleID:    run.RuleID,
		TicketID:  run.TicketID,
		EventType: string(run.EventType),
		Status:    run.Status,
		Message:   run.Message,
		CreatedAt: run.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListRuns returns the newest runs first along with the total count.
func (s *GormStore) ListRuns(ctx context.Context, q RunQuery) ([]automation.RunRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.AutomationRun{})
	if q.RuleID != "" {
		query = query.Where("rule_id = ?", q.RuleID)
	}
	if q.TicketID != "" {
		query = query.Where("ticket_id = ?", q.TicketID)
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count automation runs: %w", err)
	}
	var rows []models.AutomationRun
	if err := query.Order("created_at DESC, id DESC").Limit(q.limit()).Offset(q.Offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list automation runs: %w", err)
	}

	out := make([]automation.RunRecord, len(rows))
	for i, r := range rows {
		out[i] = automation.RunRecord{
			RuleID:    r.RuleID,
			TicketID:  r.TicketID,
			EventType: automation.EventType(r.EventType),
			Status:    r.Status,
			Message:   r.Message,
			CreatedAt: r.CreatedAt,
		}
	}
	return out, total, nil
}

func (s *GormStore) find(db *gorm.DB, id string) (*models.AutomationRule, error) {
	var row models.AutomationRule
	if err := db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, automation.ErrRuleNotFound
		}
		return nil, fmt.Errorf("get automation rule: %w", err)
	}
	return &row, nil
}

func toModel(rule automation.Automation) (models.AutomationRule, error) {
	trigger, err := json.Marshal(rule.Trigger)
	if err != nil {
		return models.AutomationRule{}, fmt.Errorf("encode trigger: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return models.AutomationRule{}, fmt.Errorf("encode actions: %w", err)
	}
	return models.AutomationRule{
		ID:          rule.ID,
		Name:        rule.Name,
		Description: rule.Description,
		TriggerType: string(rule.Trigger.Type),
		Trigger:     string(trigger),
		Actions:     string(actions),
		IsActive:    rule.IsActive,
		CreatedAt:   rule.CreatedAt,
		UpdatedAt:   rule.UpdatedAt,
	}, nil
}

func fromModel(row models.AutomationRule) (automation.Automation, error) {
	rule := automation.Automation{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		IsActive:    row.IsActive,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.Trigger != "" {
		if err := json.Unmarshal([]byte(row.Trigger), &rule.Trigger); err != nil {
			return automation.Automation{}, fmt.Errorf("decode trigger: %w", err)
		}
	}
	if row.Actions != "" {
		if err := json.Unmarshal([]byte(row.Actions), &rule.Actions); err != nil {
			return automation.Automation{}, fmt.Errorf("decode actions: %w", err)
		}
	}
	return rule, nil
}
