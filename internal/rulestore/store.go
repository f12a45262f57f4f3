// Package rulestore holds the RuleStore backends used by the automation
// engine: a gorm-backed store for production and an in-memory fallback.
package rulestore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ticketflow/internal/automation"
)

// Store is a rule store that also keeps the run audit trail.
type Store interface {
	automation.RuleStore
	automation.RunRecorder
	ListRuns(ctx context.Context, q RunQuery) ([]automation.RunRecord, int64, error)
}

// RunQuery filters the run audit trail. Zero values mean no filter.
type RunQuery struct {
	RuleID   string
	TicketID string
	Status   string
	Limit    int
	Offset   int
}

func (q RunQuery) limit() int {
	if q.Limit <= 0 || q.Limit > 200 {
		return 50
	}
	return q.Limit
}

// prepareNew assigns ids and timestamps and validates a rule about to be created.
func prepareNew(rule automation.Automation, now time.Time) (automation.Automation, error) {
	rule = rule.Clone()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	assignIDs(&rule)
	if err := automation.Validate(rule); err != nil {
		return automation.Automation{}, err
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return rule, nil
}

func assignIDs(rule *automation.Automation) {
	if rule.Trigger.ID == "" {
		rule.Trigger.ID = uuid.NewString()
	}
	for i := range rule.Actions {
		if rule.Actions[i].ID == "" {
			rule.Actions[i].ID = uuid.NewString()
		}
	}
}

// applyPatch returns the patched copy of current, validated.
func applyPatch(current automation.Automation, patch automation.Patch, now time.Time) (automation.Automation, error) {
	next := current.Clone()
	patch.Apply(&next)
	assignIDs(&next)
	if err := automation.Validate(next); err != nil {
		return automation.Automation{}, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = now
	return next, nil
}
