package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"ticketflow/internal/automation"
)

// LogSender writes notifications to the log. It is the default channel when
// nothing else is configured.
type LogSender struct {
	channel string
	logger  *logrus.Logger
}

func NewLogSender(channel string, logger *logrus.Logger) *LogSender {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogSender{channel: channel, logger: logger}
}

func (s *LogSender) Send(ctx context.Context, params map[string]any, evt *automation.EventContext) error {
	n := NewNotification(s.channel, params, evt)
	s.logger.WithFields(logrus.Fields{
		"channel":    n.Channel,
		"event_type": n.EventType,
		"ticket_id":  n.TicketID,
		"params":     n.Params,
	}).Info("notify: automation message")
	return nil
}
