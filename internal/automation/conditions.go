package automation

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// ConditionEvaluator decides whether a trigger matches an event. Conditions
// are a conjunction of exact string equalities; there is no OR.
type ConditionEvaluator struct {
	logger *logrus.Logger
}

func NewConditionEvaluator(logger *logrus.Logger) *ConditionEvaluator {
	if logger == nil {
		logger = logrus.New()
	}
	return &ConditionEvaluator{logger: logger}
}

// Eligible is the trigger-type compatibility check. It looks only at the
// event kind and which fields moved, never at condition values.
func (c *ConditionEvaluator) Eligible(t TriggerType, evt *EventContext) bool {
	if evt == nil {
		return false
	}
	switch t {
	case "", TriggerTicketCreated:
		return evt.EventType == EventTicketCreated
	case TriggerTicketUpdated:
		return evt.EventType == EventTicketUpdated
	case TriggerStatusChanged, TriggerTicketResolved, TriggerTicketClosed, TriggerTicketReopened:
		_, ok := evt.Transition("status")
		return evt.EventType == EventTicketUpdated && ok
	case TriggerPriorityChanged:
		_, ok := evt.Transition("priority")
		return evt.EventType == EventTicketUpdated && ok
	case TriggerCategoryChanged:
		_, ok := evt.Transition("category")
		return evt.EventType == EventTicketUpdated && ok
	case TriggerMessageReceived:
		return evt.EventType == EventMessageReceived
	case TriggerScheduled:
		return evt.EventType == EventScheduled
	default:
		return false
	}
}

// Matches reports whether trigger fires for evt. Malformed conditions and
// unsupported trigger types are logged and count as no match.
func (c *ConditionEvaluator) Matches(trigger Trigger, evt *EventContext) bool {
	ok, err := c.evaluate(trigger, evt)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"trigger_id":   trigger.ID,
			"trigger_type": trigger.Type,
			"event_type":   evt.EventType,
		}).Warnf("automation: %v", err)
		return false
	}
	return ok
}

func (c *ConditionEvaluator) evaluate(trigger Trigger, evt *EventContext) (bool, error) {
	if evt == nil {
		return false, nil
	}
	switch trigger.Type {
	case "", TriggerTicketCreated:
		if evt.EventType != EventTicketCreated {
			return false, nil
		}
		// Every condition key is compared against the snapshot; priority,
		// status and category are the usual ones but any field counts.
		for key := range trigger.Conditions {
			want, present, err := conditionValue(trigger.Conditions, key)
			if err != nil {
				return false, err
			}
			if !present {
				continue
			}
			got, ok := evt.Field(key)
			if !ok || fmt.Sprint(got) != want {
				return false, nil
			}
		}
		return true, nil

	case TriggerStatusChanged:
		return transitionMatches(trigger, evt, "status")
	case TriggerPriorityChanged:
		return transitionMatches(trigger, evt, "priority")
	case TriggerCategoryChanged:
		return transitionMatches(trigger, evt, "category")

	case TriggerTicketUpdated:
		return evt.EventType == EventTicketUpdated, nil

	case TriggerTicketResolved:
		ch, ok := evt.Transition("status")
		return evt.EventType == EventTicketUpdated && ok && ch.New == "resolved", nil
	case TriggerTicketClosed:
		ch, ok := evt.Transition("status")
		return evt.EventType == EventTicketUpdated && ok && ch.Changed() && ch.New == "closed", nil
	case TriggerTicketReopened:
		ch, ok := evt.Transition("status")
		if evt.EventType != EventTicketUpdated || !ok || !ch.Changed() {
			return false, nil
		}
		return (ch.Old == "resolved" || ch.Old == "closed") && ch.New != "resolved" && ch.New != "closed", nil

	case TriggerMessageReceived:
		return evt.EventType == EventMessageReceived, nil

	default:
		// scheduled and legacy/unknown values have no evaluator.
		return false, fmt.Errorf("no evaluator for trigger type %q", trigger.Type)
	}
}

// transitionMatches: the event carries a real change of field and, when
// conditions.<field> is set, the new value equals it.
func transitionMatches(trigger Trigger, evt *EventContext, field string) (bool, error) {
	if evt.EventType != EventTicketUpdated {
		return false, nil
	}
	ch, ok := evt.Transition(field)
	if !ok || !ch.Changed() {
		return false, nil
	}
	want, present, err := conditionValue(trigger.Conditions, field)
	if err != nil {
		return false, err
	}
	return !present || want == ch.New, nil
}

// conditionValue returns the expected value for key as a string. Nil values
// count as absent; maps and slices are rejected.
func conditionValue(conds map[string]any, key string) (string, bool, error) {
	raw, ok := conds[key]
	if !ok || raw == nil {
		return "", false, nil
	}
	switch v := raw.(type) {
	case string:
		return v, true, nil
	case map[string]any, []any, []string:
		return "", false, &ConditionEvaluationError{Field: key, Reason: fmt.Sprintf("expected a scalar, got %T", v)}
	default:
		return fmt.Sprint(v), true, nil
	}
}
