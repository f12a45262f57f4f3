package automation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRule wraps every validation failure so callers can map it to a
// 400 without inspecting the message.
var ErrInvalidRule = errors.New("invalid automation rule")

// Validate checks a rule before it is stored. Rules already in a store are
// never re-validated at dispatch time; unknown types there are logged and skipped.
func Validate(rule Automation) error {
	var problems []string
	if strings.TrimSpace(rule.Name) == "" {
		problems = append(problems, "name is required")
	}
	if !rule.Trigger.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown trigger type %q", rule.Trigger.Type))
	}
	for k := range rule.Trigger.Conditions {
		if _, _, err := conditionValue(rule.Trigger.Conditions, k); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(rule.Actions) == 0 {
		problems = append(problems, "at least one action is required")
	}
	for i, a := range rule.Actions {
		if !a.Type.Valid() {
			problems = append(problems, fmt.Sprintf("action %d: unknown action type %q", i, a.Type))
			continue
		}
		if a.Type == ActionWebhook && a.WebhookURL == "" {
			if u, _ := a.Parameters["url"].(string); u == "" {
				problems = append(problems, fmt.Sprintf("action %d: webhook requires webhook_url", i))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRule, strings.Join(problems, "; "))
	}
	return nil
}
