package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ticketflow/internal/metrics"
)

// ActionHandler performs one action type.
type ActionHandler interface {
	Handle(ctx context.Context, action Action, evt *EventContext) error
}

// ActionHandlerFunc adapts a function to ActionHandler.
type ActionHandlerFunc func(ctx context.Context, action Action, evt *EventContext) error

func (f ActionHandlerFunc) Handle(ctx context.Context, action Action, evt *EventContext) error {
	return f(ctx, action, evt)
}

// skipError marks an action that was deliberately not performed.
type skipError struct{ reason string }

func (e *skipError) Error() string { return e.reason }

// Skip returns an error that the executor records as a skipped outcome
// instead of a failure.
func Skip(format string, args ...any) error {
	return &skipError{reason: fmt.Sprintf(format, args...)}
}

// ActionExecutor runs a rule's actions in order, isolating each one.
type ActionExecutor struct {
	handlers map[ActionType]ActionHandler
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewActionExecutor returns an executor where every known action type is
// registered. Types without a real implementation log and skip.
func NewActionExecutor(timeout time.Duration, logger *logrus.Logger) *ActionExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	e := &ActionExecutor{
		handlers: make(map[ActionType]ActionHandler),
		timeout:  timeout,
		logger:   logger,
	}
	for _, t := range []ActionType{ActionSendSMS, ActionAssignTicket, ActionAddTag, ActionRemoveTag} {
		e.Register(t, notImplemented(t))
	}
	e.Register(ActionUpdateTicket, ActionHandlerFunc(func(ctx context.Context, action Action, evt *EventContext) error {
		// update_ticket does not mutate the ticket store.
		logger.WithFields(logrus.Fields{
			"action_id": action.ID,
			"ticket_id": evt.TicketID,
		}).Infof("automation: update_ticket requested with %d parameter(s), no-op", len(action.Parameters))
		return nil
	}))
	return e
}

// Register installs or replaces the handler for t.
func (e *ActionExecutor) Register(t ActionType, h ActionHandler) {
	e.handlers[t] = h
}

// Handler returns the handler registered for t.
func (e *ActionExecutor) Handler(t ActionType) (ActionHandler, bool) {
	h, ok := e.handlers[t]
	return h, ok
}

func notImplemented(t ActionType) ActionHandler {
	return ActionHandlerFunc(func(ctx context.Context, action Action, evt *EventContext) error {
		return Skip("action type %s is not implemented", t)
	})
}

// Run executes actions strictly in order. It never panics and never stops
// early: every action gets an outcome.
func (e *ActionExecutor) Run(ctx context.Context, ruleID string, actions []Action, evt *EventContext) []ActionOutcome {
	outcomes := make([]ActionOutcome, 0, len(actions))
	for _, action := range actions {
		outcomes = append(outcomes, e.runOne(ctx, ruleID, action, evt))
	}
	return outcomes
}

func (e *ActionExecutor) runOne(ctx context.Context, ruleID string, action Action, evt *EventContext) (out ActionOutcome) {
	out = ActionOutcome{ActionID: action.ID, ActionType: action.Type}
	entry := e.logger.WithFields(logrus.Fields{
		"rule_id":     ruleID,
		"action_id":   action.ID,
		"action_type": action.Type,
		"event_type":  evt.EventType,
	})
	start := time.Now()
	defer func() {
		out.Duration = time.Since(start)
		metrics.IncAction(string(action.Type), string(out.Status))
	}()

	handler, ok := e.handlers[action.Type]
	if !ok {
		err := &ConfigurationError{RuleID: ruleID, Kind: "action", Type: string(action.Type)}
		entry.Warnf("automation: %v", err)
		out.Status = OutcomeSkipped
		out.Error = err.Error()
		return out
	}

	err := e.invoke(ctx, handler, action, evt)
	var skip *skipError
	switch {
	case err == nil:
		out.Status = OutcomeSuccess
	case errors.As(err, &skip):
		entry.Warnf("automation: action skipped: %s", skip.reason)
		out.Status = OutcomeSkipped
		out.Error = skip.reason
	default:
		execErr := &ActionExecutionError{RuleID: ruleID, ActionID: action.ID, ActionType: action.Type, Err: err}
		entry.Errorf("automation: %v", execErr)
		out.Status = OutcomeFailed
		out.Error = err.Error()
	}
	return out
}

func (e *ActionExecutor) invoke(ctx context.Context, h ActionHandler, action Action, evt *EventContext) (err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, action, evt)
}

// emailHandler resolves parameters and hands them to the EmailSender.
type emailHandler struct {
	sender   EmailSender
	resolver TemplateResolver
}

func (h emailHandler) Handle(ctx context.Context, action Action, evt *EventContext) error {
	if h.sender == nil {
		return Skip("no email sender configured")
	}
	return h.sender.Send(ctx, h.resolver.ResolveParams(action.Parameters, evt.Map()), evt)
}

// notificationHandler resolves parameters and hands them to the NotificationSender.
type notificationHandler struct {
	sender   NotificationSender
	resolver TemplateResolver
}

func (h notificationHandler) Handle(ctx context.Context, action Action, evt *EventContext) error {
	if h.sender == nil {
		return Skip("no notification sender configured")
	}
	return h.sender.Send(ctx, h.resolver.ResolveParams(action.Parameters, evt.Map()), evt)
}

// webhookHandler delivers through the WebhookClient. The URL comes from
// Action.WebhookURL, falling back to parameters["url"].
type webhookHandler struct {
	client *WebhookClient
}

func (h webhookHandler) Handle(ctx context.Context, action Action, evt *EventContext) error {
	if h.client == nil {
		return Skip("no webhook client configured")
	}
	target := action.WebhookURL
	if target == "" {
		target, _ = action.Parameters["url"].(string)
	}
	if target == "" {
		return errors.New("webhook url is required")
	}
	return h.client.Deliver(ctx, target, action.Parameters, evt)
}
