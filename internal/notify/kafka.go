package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"ticketflow/internal/automation"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes notifications as JSON to one topic, keyed by ticket id
// so that messages for a ticket stay ordered within a partition.
type KafkaSender struct {
	channel string
	topic   string
	writer  messageWriter
	logger  *logrus.Logger
}

func NewKafkaSender(brokers []string, topic, channel string, logger *logrus.Logger) *KafkaSender {
	return newKafkaSender(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}, topic, channel, logger)
}

func newKafkaSender(w messageWriter, topic, channel string, logger *logrus.Logger) *KafkaSender {
	if logger == nil {
		logger = logrus.New()
	}
	return &KafkaSender{channel: channel, topic: topic, writer: w, logger: logger}
}

func (s *KafkaSender) Send(ctx context.Context, params map[string]any, evt *automation.EventContext) error {
	n := NewNotification(s.channel, params, evt)
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(n.TicketID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "channel", Value: []byte(n.Channel)},
			{Key: "event_type", Value: []byte(n.EventType)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", s.topic, err)
	}
	s.logger.WithFields(logrus.Fields{"topic": s.topic, "ticket_id": n.TicketID}).Debug("notify: published to kafka")
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
