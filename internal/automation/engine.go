package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"ticketflow/internal/metrics"
)

// Options wires an Engine. Only Store is required.
type Options struct {
	Store    RuleStore
	Recorder RunRecorder
	Entities EntityStore
	Email    EmailSender
	Notifier NotificationSender
	Webhook  WebhookConfig
	Clock    Clock
	Logger   *logrus.Logger

	// RuleConcurrency bounds how many matched rules run at once; 1 runs them
	// one after another.
	RuleConcurrency int
	ActionTimeout   time.Duration
	// DispatchTimeout bounds a detached DispatchAsync run.
	DispatchTimeout time.Duration
}

// Engine matches ticket events against the configured rules and runs the
// actions of every rule that matches. It is best-effort: nothing it does is
// reported to the caller as an error.
type Engine struct {
	store           RuleStore
	recorder        RunRecorder
	evaluator       *ConditionEvaluator
	executor        *ActionExecutor
	clock           Clock
	logger          *logrus.Logger
	concurrency     int
	dispatchTimeout time.Duration
	inflight        sync.WaitGroup
}

func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.RuleConcurrency <= 0 {
		opts.RuleConcurrency = 4
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 60 * time.Second
	}

	executor := NewActionExecutor(opts.ActionTimeout, opts.Logger)
	executor.Register(ActionSendEmail, emailHandler{sender: opts.Email})
	executor.Register(ActionSendNotification, notificationHandler{sender: opts.Notifier})
	executor.Register(ActionWebhook, webhookHandler{
		client: NewWebhookClient(opts.Webhook, opts.Entities, opts.Clock, opts.Logger),
	})

	return &Engine{
		store:           opts.Store,
		recorder:        opts.Recorder,
		evaluator:       NewConditionEvaluator(opts.Logger),
		executor:        executor,
		clock:           opts.Clock,
		logger:          opts.Logger,
		concurrency:     opts.RuleConcurrency,
		dispatchTimeout: opts.DispatchTimeout,
	}
}

// Executor exposes the action table so callers can register extra handlers.
func (e *Engine) Executor() *ActionExecutor { return e.executor }

// Dispatch evaluates evt against all active rules and returns how many rules
// had their actions invoked.
func (e *Engine) Dispatch(ctx context.Context, evt *EventContext) int {
	return e.DispatchDetailed(ctx, evt).Matched
}

// DispatchDetailed is Dispatch with per-rule outcomes.
func (e *Engine) DispatchDetailed(ctx context.Context, evt *EventContext) (res DispatchResult) {
	snapshot := e.snapshot(evt)
	res.EventType = snapshot.EventType
	entry := e.logger.WithFields(logrus.Fields{"event_type": snapshot.EventType, "ticket_id": snapshot.TicketID})
	defer func() {
		if r := recover(); r != nil {
			entry.Errorf("automation: dispatch panic recovered: %v", r)
		}
	}()
	metrics.IncDispatch()

	ctx, span := otel.Tracer("ticketflow/automation").Start(ctx, "automation.Dispatch", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String("event.type", string(snapshot.EventType)))

	rules, err := e.store.List(ctx)
	if err != nil {
		metrics.IncStoreError()
		entry.Errorf("automation: %v", &RuleStoreError{Op: "list", Err: err})
		return res
	}

	var matched []Automation
	for _, rule := range rules {
		if e.matches(rule, snapshot) {
			matched = append(matched, rule)
		}
	}
	span.SetAttributes(attribute.Int("automation.rules", len(rules)), attribute.Int("automation.matched", len(matched)))
	if len(matched) == 0 {
		return res
	}

	results := make([]RuleResult, len(matched))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, rule := range matched {
		i, rule := i, rule
		g.Go(func() error {
			results[i] = e.runRule(gctx, rule, snapshot.Clone())
			return nil
		})
	}
	_ = g.Wait()

	res.Matched = len(matched)
	res.Rules = results
	metrics.AddMatches(res.Matched)
	entry.Infof("automation: %d rule(s) matched", res.Matched)
	return res
}

// matches applies the active flag, trigger-type eligibility and conditions,
// in that order.
func (e *Engine) matches(rule Automation, evt *EventContext) bool {
	if !rule.IsActive {
		return false
	}
	if !rule.Trigger.Type.Valid() {
		e.logger.Warnf("automation: %v", &ConfigurationError{RuleID: rule.ID, Kind: "trigger", Type: string(rule.Trigger.Type)})
		return false
	}
	if !e.evaluator.Eligible(rule.Trigger.Type, evt) {
		return false
	}
	return e.evaluator.Matches(rule.Trigger, evt)
}

// runRule executes one rule's actions and records the run. A panic here only
// loses this rule.
func (e *Engine) runRule(ctx context.Context, rule Automation, evt *EventContext) (result RuleResult) {
	result = RuleResult{RuleID: rule.ID, RuleName: rule.Name}
	entry := e.logger.WithFields(logrus.Fields{"rule_id": rule.ID, "event_type": evt.EventType})
	defer func() {
		if r := recover(); r != nil {
			entry.Errorf("automation: rule execution panic recovered: %v", r)
			e.record(ctx, rule, evt, result, fmt.Sprintf("panic: %v", r))
		}
	}()

	ctx, span := otel.Tracer("ticketflow/automation").Start(ctx, "automation.Rule", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String("automation.rule_id", rule.ID))

	entry.Infof("automation: rule %q matched, running %d action(s)", rule.Name, len(rule.Actions))
	result.Outcomes = e.executor.Run(ctx, rule.ID, rule.Actions, evt)
	e.record(ctx, rule, evt, result, "")
	return result
}

func (e *Engine) record(ctx context.Context, rule Automation, evt *EventContext, result RuleResult, panicMsg string) {
	if e.recorder == nil {
		return
	}
	run := RunRecord{
		RuleID:    rule.ID,
		TicketID:  evt.TicketID,
		EventType: evt.EventType,
		Status:    "success",
		CreatedAt: e.clock.Now(),
	}
	var failures []string
	for _, o := range result.Outcomes {
		if o.Status == OutcomeFailed {
			failures = append(failures, fmt.Sprintf("%s(%s): %s", o.ActionID, o.ActionType, o.Error))
		}
	}
	if panicMsg != "" {
		failures = append(failures, panicMsg)
	}
	if len(failures) > 0 {
		run.Status = "failed"
		run.Message = strings.Join(failures, "; ")
	}
	if err := e.recorder.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		e.logger.WithField("rule_id", rule.ID).Warnf("automation: record run failed: %v", err)
	}
}

func (e *Engine) snapshot(evt *EventContext) *EventContext {
	s := evt.Clone()
	if s.Timestamp.IsZero() {
		s.Timestamp = e.clock.Now()
	}
	return s
}

// Task is a detached dispatch. Ticket lifecycle callers drop it; only
// callers that need the outcome wait on it.
type Task struct {
	done   chan struct{}
	result DispatchResult
}

// Done is closed when the dispatch has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the dispatch finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) (DispatchResult, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return DispatchResult{}, ctx.Err()
	}
}

// DispatchAsync runs Dispatch on its own goroutine. The caller's context
// contributes values (trace ids) but not cancellation; the run is bounded by
// the configured dispatch timeout instead.
func (e *Engine) DispatchAsync(ctx context.Context, evt *EventContext) *Task {
	snapshot := e.snapshot(evt)
	task := &Task{done: make(chan struct{})}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer close(task.done)
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.dispatchTimeout)
		defer cancel()
		task.result = e.DispatchDetailed(runCtx, snapshot)
	}()
	return task
}

// Wait blocks until every DispatchAsync started so far has finished or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunManually is the operator test run for a single rule. It returns nil when
// the rule is inactive or its trigger does not match evt. A missing event
// type is derived from the rule's trigger.
func (e *Engine) RunManually(ctx context.Context, id string, evt *EventContext) (*RuleResult, error) {
	rule, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	snapshot := e.snapshot(evt)
	if snapshot.EventType == "" {
		snapshot.EventType = DefaultEventType(rule.Trigger.Type)
	}
	if !e.matches(*rule, snapshot) {
		return nil, nil
	}
	result := e.runRule(ctx, *rule, snapshot)
	return &result, nil
}

// TriggerManually reports whether the rule's conditions were met and its
// actions ran.
func (e *Engine) TriggerManually(ctx context.Context, id string, evt *EventContext) (bool, error) {
	result, err := e.RunManually(ctx, id, evt)
	if err != nil {
		return false, err
	}
	return result != nil, nil
}

// DefaultEventType is the event kind that can satisfy a trigger type.
func DefaultEventType(t TriggerType) EventType {
	switch t {
	case TriggerMessageReceived:
		return EventMessageReceived
	case TriggerScheduled:
		return EventScheduled
	case "", TriggerTicketCreated:
		return EventTicketCreated
	default:
		return EventTicketUpdated
	}
}
