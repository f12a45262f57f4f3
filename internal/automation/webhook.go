package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ticketflow/internal/metrics"
)

const webhookUserAgent = "ticketflow-automation/1.0"

// WebhookConfig controls outbound webhook delivery.
type WebhookConfig struct {
	// Timeout bounds one HTTP attempt.
	Timeout time.Duration
	// MaxRetries is 0 for strict at-most-once delivery.
	MaxRetries           int
	RetryInitialInterval time.Duration
	// Breaker enables a per-host circuit breaker when non-nil.
	Breaker *BreakerConfig
}

// WebhookPayload is the JSON body POSTed to webhook targets.
type WebhookPayload struct {
	Parameters map[string]any `json:"parameters"`
	Context    map[string]any `json:"context"`
	Ticket     map[string]any `json:"ticket"`
	Timestamp  string         `json:"timestamp"`
}

// WebhookClient builds and sends webhook payloads.
type WebhookClient struct {
	httpClient *http.Client
	entities   EntityStore
	resolver   TemplateResolver
	clock      Clock
	logger     *logrus.Logger
	cfg        WebhookConfig
	breakers   *breakerSet
}

func NewWebhookClient(cfg WebhookConfig, entities EntityStore, clock Clock, logger *logrus.Logger) *WebhookClient {
	if logger == nil {
		logger = logrus.New()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 500 * time.Millisecond
	}
	c := &WebhookClient{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		entities: entities,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}
	if cfg.Breaker != nil {
		c.breakers = newBreakerSet(*cfg.Breaker, clock)
	}
	return c
}

// Deliver POSTs the payload for one webhook action. Any transport error or
// non-2xx status is returned as a *WebhookDeliveryError.
func (c *WebhookClient) Deliver(ctx context.Context, target string, params map[string]any, evt *EventContext) error {
	tracer := otel.Tracer("ticketflow/automation")
	ctx, span := tracer.Start(ctx, "WebhookClient.Deliver")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.url", target))
	if evt == nil {
		evt = &EventContext{}
	}

	err := c.deliver(ctx, target, params, evt)
	if err != nil {
		metrics.IncWebhookFailure()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.WithFields(logrus.Fields{
			"url":        target,
			"event_type": evt.EventType,
			"ticket_id":  evt.TicketID,
		}).Warnf("automation: webhook delivery failed: %v", err)
	}
	return err
}

func (c *WebhookClient) deliver(ctx context.Context, target string, params map[string]any, evt *EventContext) error {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &WebhookDeliveryError{URL: target, Err: fmt.Errorf("invalid url")}
	}

	body, err := json.Marshal(c.BuildPayload(ctx, params, evt))
	if err != nil {
		return &WebhookDeliveryError{URL: target, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	var br *breaker
	if c.breakers != nil {
		br = c.breakers.get(u.Host)
		if !br.allow() {
			return &WebhookDeliveryError{URL: target, Err: errors.New("circuit open")}
		}
	}

	err = c.send(ctx, target, body)
	if br != nil {
		if err != nil {
			br.onFailure()
		} else {
			br.onSuccess()
		}
	}
	return err
}

// BuildPayload fetches the ticket (falling back to an empty snapshot), then
// resolves params against the event and that snapshot.
func (c *WebhookClient) BuildPayload(ctx context.Context, params map[string]any, evt *EventContext) WebhookPayload {
	ticket := map[string]any{}
	if evt.TicketID != "" && c.entities != nil {
		snap, err := c.entities.GetByID(ctx, evt.TicketID)
		if err != nil {
			c.logger.WithField("ticket_id", evt.TicketID).Warnf("automation: webhook ticket fetch failed, sending empty snapshot: %v", err)
		} else if snap != nil {
			ticket = snap
		}
	}

	vars := evt.Map()
	if len(ticket) > 0 {
		vars["ticket"] = ticket
	}
	return WebhookPayload{
		Parameters: c.resolver.ResolveParams(params, vars),
		Context:    evt.Map(),
		Ticket:     ticket,
		Timestamp:  c.clock.Now().UTC().Format(time.RFC3339),
	}
}

func (c *WebhookClient) send(ctx context.Context, target string, body []byte) error {
	if c.cfg.MaxRetries <= 0 {
		return c.attempt(ctx, target, body)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInitialInterval
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxRetries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.attempt(ctx, target, body)
		if err == nil {
			return nil
		}
		var de *WebhookDeliveryError
		if errors.As(err, &de) && de.StatusCode >= 400 && de.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		c.logger.WithField("url", target).Debugf("automation: webhook attempt %d failed: %v", attempt, err)
		return err
	}, b)
}

func (c *WebhookClient) attempt(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return &WebhookDeliveryError{URL: target, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &WebhookDeliveryError{URL: target, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &WebhookDeliveryError{URL: target, StatusCode: resp.StatusCode}
	}
	return nil
}
