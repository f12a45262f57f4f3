package automation

import (
	"context"
	"time"
)

// TriggerType is the kind of ticket event a rule listens for.
type TriggerType string

const (
	TriggerTicketCreated   TriggerType = "ticket_created"
	TriggerTicketUpdated   TriggerType = "ticket_updated"
	TriggerTicketClosed    TriggerType = "ticket_closed"
	TriggerTicketReopened  TriggerType = "ticket_reopened"
	TriggerTicketResolved  TriggerType = "ticket_resolved"
	TriggerMessageReceived TriggerType = "message_received"
	TriggerStatusChanged   TriggerType = "status_changed"
	TriggerPriorityChanged TriggerType = "priority_changed"
	TriggerCategoryChanged TriggerType = "category_changed"
	TriggerScheduled       TriggerType = "scheduled"
)

// Valid reports whether t is a known trigger type. The empty type is valid
// and behaves as ticket_created.
func (t TriggerType) Valid() bool {
	switch t {
	case "", TriggerTicketCreated, TriggerTicketUpdated, TriggerTicketClosed,
		TriggerTicketReopened, TriggerTicketResolved, TriggerMessageReceived,
		TriggerStatusChanged, TriggerPriorityChanged, TriggerCategoryChanged,
		TriggerScheduled:
		return true
	default:
		return false
	}
}

// ActionType identifies the handler an action is dispatched to.
type ActionType string

const (
	ActionSendEmail        ActionType = "send_email"
	ActionSendSMS          ActionType = "send_sms"
	ActionUpdateTicket     ActionType = "update_ticket"
	ActionAssignTicket     ActionType = "assign_ticket"
	ActionAddTag           ActionType = "add_tag"
	ActionRemoveTag        ActionType = "remove_tag"
	ActionWebhook          ActionType = "webhook"
	ActionSendNotification ActionType = "send_notification"
)

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	switch a {
	case ActionSendEmail, ActionSendSMS, ActionUpdateTicket, ActionAssignTicket,
		ActionAddTag, ActionRemoveTag, ActionWebhook, ActionSendNotification:
		return true
	default:
		return false
	}
}

// EventType is what the ticket subsystem reports happened.
type EventType string

const (
	EventTicketCreated   EventType = "ticket_created"
	EventTicketUpdated   EventType = "ticket_updated"
	EventMessageReceived EventType = "message_received"
	EventScheduled       EventType = "scheduled"
)

// Trigger is the event-matching half of a rule.
type Trigger struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Type        TriggerType    `json:"type" yaml:"type"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Conditions  map[string]any `json:"conditions,omitempty" yaml:"conditions"`
}

// Action is one unit of work performed when a rule fires.
type Action struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Type        ActionType     `json:"type" yaml:"type"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters"`
	WebhookURL  string         `json:"webhook_url,omitempty" yaml:"webhook_url"`
}

// Automation is a configured trigger plus its ordered action list.
type Automation struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description"`
	IsActive    bool      `json:"is_active" yaml:"is_active"`
	Trigger     Trigger   `json:"trigger" yaml:"trigger"`
	Actions     []Action  `json:"actions" yaml:"actions"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

// Clone returns a deep copy of the rule.
func (a Automation) Clone() Automation {
	out := a
	out.Trigger.Conditions = cloneMap(a.Trigger.Conditions)
	if a.Actions != nil {
		out.Actions = make([]Action, len(a.Actions))
		for i, act := range a.Actions {
			act.Parameters = cloneMap(act.Parameters)
			out.Actions[i] = act
		}
	}
	return out
}

// Patch is a partial update of an Automation. Nil fields are left untouched.
type Patch struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	IsActive    *bool     `json:"is_active"`
	Trigger     *Trigger  `json:"trigger"`
	Actions     *[]Action `json:"actions"`
}

// Apply writes the non-nil fields of p onto a.
func (p Patch) Apply(a *Automation) {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.IsActive != nil {
		a.IsActive = *p.IsActive
	}
	if p.Trigger != nil {
		a.Trigger = *p.Trigger
		a.Trigger.Conditions = cloneMap(p.Trigger.Conditions)
	}
	if p.Actions != nil {
		src := Automation{Actions: *p.Actions}.Clone()
		a.Actions = src.Actions
	}
}

// RuleStore abstracts where Automation records live. List must return copies.
type RuleStore interface {
	List(ctx context.Context) ([]Automation, error)
	Get(ctx context.Context, id string) (*Automation, error)
	Create(ctx context.Context, rule Automation) (*Automation, error)
	Update(ctx context.Context, id string, patch Patch) (*Automation, error)
	Delete(ctx context.Context, id string) error
}

// EntityStore fetches the current snapshot of a ticket. A nil map with a nil
// error means the entity does not exist.
type EntityStore interface {
	GetByID(ctx context.Context, id string) (map[string]any, error)
}

// EmailSender delivers send_email actions.
type EmailSender interface {
	Send(ctx context.Context, params map[string]any, evt *EventContext) error
}

// NotificationSender delivers send_notification actions.
type NotificationSender interface {
	Send(ctx context.Context, params map[string]any, evt *EventContext) error
}

// Clock is injectable for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// OutcomeStatus is the result of one action.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// ActionOutcome records how a single action went.
type ActionOutcome struct {
	ActionID   string        `json:"action_id"`
	ActionType ActionType    `json:"action_type"`
	Status     OutcomeStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// RuleResult groups the outcomes of one matched rule.
type RuleResult struct {
	RuleID   string          `json:"rule_id"`
	RuleName string          `json:"rule_name"`
	Outcomes []ActionOutcome `json:"outcomes"`
}

// Failed reports whether any action of the rule failed.
func (r RuleResult) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			return true
		}
	}
	return false
}

// DispatchResult is the full report of one dispatch.
type DispatchResult struct {
	EventType EventType    `json:"event_type"`
	Matched   int          `json:"matched"`
	Rules     []RuleResult `json:"rules"`
}

// RunRecord is the audit entry written for every matched rule.
type RunRecord struct {
	RuleID    string    `json:"rule_id"`
	TicketID  string    `json:"ticket_id"`
	EventType EventType `json:"event_type"`
	Status    string    `json:"status"` // success, failed
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RunRecorder persists RunRecords. Implementations must be safe for concurrent use.
type RunRecorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
}
