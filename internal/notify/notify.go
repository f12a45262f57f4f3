// Package notify delivers the send_email and send_notification actions of the
// automation engine: to the log, to Kafka topics, and to connected agents over
// websocket.
package notify

import (
	"context"
	"errors"
	"time"

	"ticketflow/internal/automation"
)

const (
	ChannelEmail        = "email"
	ChannelNotification = "notification"
)

// Sender is satisfied by automation.EmailSender and automation.NotificationSender.
type Sender interface {
	Send(ctx context.Context, params map[string]any, evt *automation.EventContext) error
}

// Notification is the envelope every channel emits. Params have already been
// template-resolved by the engine.
type Notification struct {
	Channel   string         `json:"channel"`
	EventType string         `json:"event_type"`
	TicketID  string         `json:"ticket_id,omitempty"`
	Params    map[string]any `json:"params"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewNotification builds the envelope for one action invocation.
func NewNotification(channel string, params map[string]any, evt *automation.EventContext) Notification {
	n := Notification{Channel: channel, Params: params, Timestamp: time.Now().UTC()}
	if n.Params == nil {
		n.Params = map[string]any{}
	}
	if evt != nil {
		n.EventType = string(evt.EventType)
		n.TicketID = evt.TicketID
		if !evt.Timestamp.IsZero() {
			n.Timestamp = evt.Timestamp.UTC()
		}
	}
	return n
}

// Multi fans a send out to every sender and joins their errors.
type Multi []Sender

func (m Multi) Send(ctx context.Context, params map[string]any, evt *automation.EventContext) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, params, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
