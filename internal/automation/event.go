package automation

import (
	"strings"
	"time"
)

// Change is an old/new pair for a field that moved during an update.
type Change struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Changed reports whether the value actually moved.
func (c Change) Changed() bool { return c.Old != c.New }

// EventContext is the snapshot of what happened, handed to the engine once per
// dispatch. The engine works on a private clone, so callers may reuse theirs.
type EventContext struct {
	EventType EventType         `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	TicketID  string            `json:"ticket_id,omitempty"`
	Ticket    map[string]any    `json:"ticket,omitempty"`
	Changes   map[string]Change `json:"changes,omitempty"`
	Data      map[string]any    `json:"data,omitempty"`
}

// Transition returns the change recorded for field, if any.
func (e *EventContext) Transition(field string) (Change, bool) {
	if e == nil || e.Changes == nil {
		return Change{}, false
	}
	c, ok := e.Changes[field]
	return c, ok
}

// Field returns the ticket snapshot value for key.
func (e *EventContext) Field(key string) (any, bool) {
	if e == nil || e.Ticket == nil {
		return nil, false
	}
	v, ok := e.Ticket[key]
	return v, ok
}

// Clone returns a deep copy.
func (e *EventContext) Clone() *EventContext {
	if e == nil {
		return &EventContext{}
	}
	out := &EventContext{
		EventType: e.EventType,
		Timestamp: e.Timestamp,
		TicketID:  e.TicketID,
		Ticket:    cloneMap(e.Ticket),
		Data:      cloneMap(e.Data),
	}
	if e.Changes != nil {
		out.Changes = make(map[string]Change, len(e.Changes))
		for k, v := range e.Changes {
			out.Changes[k] = v
		}
	}
	return out
}

// Map flattens the context into the shape used for template resolution and
// the webhook "context" field. Changes appear as oldX/newX keys, e.g.
// oldStatus/newStatus, and Data keys are merged at the top level.
func (e *EventContext) Map() map[string]any {
	m := map[string]any{}
	if e == nil {
		return m
	}
	for k, v := range e.Data {
		m[k] = cloneValue(v)
	}
	m["eventType"] = string(e.EventType)
	if !e.Timestamp.IsZero() {
		m["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339)
	}
	if e.TicketID != "" {
		m["ticketId"] = e.TicketID
	}
	if e.Ticket != nil {
		m["ticket"] = cloneMap(e.Ticket)
	}
	for field, c := range e.Changes {
		suffix := upperFirst(field)
		m["old"+suffix] = c.Old
		m["new"+suffix] = c.New
	}
	return m
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
