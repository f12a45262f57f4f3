package automation

import (
	"errors"
	"fmt"
)

// ErrRuleNotFound is returned by RuleStore implementations for unknown ids.
var ErrRuleNotFound = errors.New("automation rule not found")

// ConfigurationError: a rule references a trigger or action type the engine
// does not know.
type ConfigurationError struct {
	RuleID string
	Kind   string // trigger, action
	Type   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("automation %s: unknown %s type %q", e.RuleID, e.Kind, e.Type)
}

// ConditionEvaluationError: condition data that cannot be compared.
type ConditionEvaluationError struct {
	Field  string
	Reason string
}

func (e *ConditionEvaluationError) Error() string {
	return fmt.Sprintf("condition %q: %s", e.Field, e.Reason)
}

// ActionExecutionError wraps a handler failure with the action it came from.
type ActionExecutionError struct {
	RuleID     string
	ActionID   string
	ActionType ActionType
	Err        error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("automation %s action %s (%s): %v", e.RuleID, e.ActionID, e.ActionType, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

// WebhookDeliveryError is a transport failure or a non-2xx response.
type WebhookDeliveryError struct {
	URL        string
	StatusCode int // 0 on transport errors
	Err        error
}

func (e *WebhookDeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("webhook %s: %v", e.URL, e.Err)
}

func (e *WebhookDeliveryError) Unwrap() error { return e.Err }

// RuleStoreError is a backend failure while reading rules.
type RuleStoreError struct {
	Op  string
	Err error
}

func (e *RuleStoreError) Error() string {
	return fmt.Sprintf("rule store %s: %v", e.Op, e.Err)
}

func (e *RuleStoreError) Unwrap() error { return e.Err }
