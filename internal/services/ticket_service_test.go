package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ticketflow/internal/automation"
	"ticketflow/internal/models"
	"ticketflow/internal/rulestore"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []*automation.EventContext
}

func (d *recordingDispatcher) DispatchAsync(ctx context.Context, evt *automation.EventContext) *automation.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
	return nil
}

func strPtr(s string) *string { return &s }

func TestTicketService_CreateRaisesTicketCreated(t *testing.T) {
	svc := NewTicketService(newTestDB(t), quietLogger())
	d := &recordingDispatcher{}
	svc.SetAutomation(d)

	ticket, err := svc.CreateTicket(context.Background(), &TicketCreateRequest{Title: "VPN down", Priority: "high", CustomerID: 7})
	require.NoError(t, err)
	assert.Equal(t, "open", ticket.Status)
	assert.Equal(t, "general", ticket.Category)

	require.Len(t, d.events, 1)
	evt := d.events[0]
	assert.Equal(t, automation.EventTicketCreated, evt.EventType)
	assert.Equal(t, fmt.Sprint(ticket.ID), evt.TicketID)
	assert.Equal(t, "high", evt.Ticket["priority"])
	assert.Equal(t, "VPN down", evt.Ticket["title"])

	got, err := svc.GetTicketByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, got.StatusHistory, 1)
	assert.Equal(t, "open", got.StatusHistory[0].ToStatus)
}

func TestTicketService_UpdateReportsChanges(t *testing.T) {
	svc := NewTicketService(newTestDB(t), quietLogger())
	d := &recordingDispatcher{}
	ctx := context.Background()
	ticket, err := svc.CreateTicket(ctx, &TicketCreateRequest{Title: "t"})
	require.NoError(t, err)
	svc.SetAutomation(d)

	updated, err := svc.UpdateTicket(ctx, ticket.ID, &TicketUpdateRequest{
		Status:   strPtr("resolved"),
		Priority: strPtr("normal"),
		Title:    strPtr("renamed"),
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, "resolved", updated.Status)
	assert.NotNil(t, updated.ResolvedAt)
	assert.Len(t, updated.StatusHistory, 2)

	require.Len(t, d.events, 1)
	evt := d.events[0]
	assert.Equal(t, automation.EventTicketUpdated, evt.EventType)
	assert.Equal(t, automation.Change{Old: "open", New: "resolved"}, evt.Changes["status"])
	_, ok := evt.Changes["priority"]
	assert.False(t, ok, "unchanged priority is not reported")
	assert.Equal(t, "renamed", evt.Ticket["title"])

	_, err = svc.UpdateTicket(ctx, 9999, &TicketUpdateRequest{}, 0)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestTicketService_AddMessage(t *testing.T) {
	svc := NewTicketService(newTestDB(t), quietLogger())
	d := &recordingDispatcher{}
	ctx := context.Background()
	ticket, err := svc.CreateTicket(ctx, &TicketCreateRequest{Title: "t"})
	require.NoError(t, err)
	svc.SetAutomation(d)

	msg, err := svc.AddMessage(ctx, ticket.ID, &MessageCreateRequest{Content: "any update?"})
	require.NoError(t, err)
	assert.Equal(t, "customer", msg.Sender)

	require.Len(t, d.events, 1)
	assert.Equal(t, automation.EventMessageReceived, d.events[0].EventType)
	assert.Equal(t, "any update?", d.events[0].Map()["message"].(map[string]any)["content"])

	_, err = svc.AddMessage(ctx, 12345, &MessageCreateRequest{Content: "x"})
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestTicketService_GetByID(t *testing.T) {
	svc := NewTicketService(newTestDB(t), quietLogger())
	ctx := context.Background()
	ticket, err := svc.CreateTicket(ctx, &TicketCreateRequest{Title: "snap", Category: "billing"})
	require.NoError(t, err)

	snap, err := svc.GetByID(ctx, fmt.Sprint(ticket.ID))
	require.NoError(t, err)
	assert.Equal(t, "billing", snap["category"])
	assert.Equal(t, fmt.Sprint(ticket.ID), snap["id"])

	snap, err = svc.GetByID(ctx, "404")
	assert.NoError(t, err)
	assert.Nil(t, snap)

	snap, err = svc.GetByID(ctx, "not-a-number")
	assert.NoError(t, err)
	assert.Nil(t, snap)
}

func TestTicketService_ListTickets(t *testing.T) {
	svc := NewTicketService(newTestDB(t), quietLogger())
	ctx := context.Background()
	for _, p := range []string{"low", "high", "high"} {
		_, err := svc.CreateTicket(ctx, &TicketCreateRequest{Title: "t", Priority: p})
		require.NoError(t, err)
	}
	tickets, total, err := svc.ListTickets(ctx, &TicketListRequest{Priority: "high"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, tickets, 2)
}

type captureEmail struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (c *captureEmail) Send(ctx context.Context, params map[string]any, evt *automation.EventContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, params)
	return nil
}

// The ticket write succeeds regardless of automation, and matched rules run
// after the commit.
func TestTicketService_WithEngine(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewTicketService(db, quietLogger())
	store := rulestore.NewMemoryStore(10)
	email := &captureEmail{}

	_, err := store.Create(ctx, automation.Automation{
		Name:     "high priority alert",
		IsActive: true,
		Trigger:  automation.Trigger{Type: automation.TriggerTicketCreated, Conditions: map[string]any{"priority": "high"}},
		Actions: []automation.Action{{Type: automation.ActionSendEmail, Parameters: map[string]any{
			"to":      "oncall@example.com",
			"subject": "[{{ticket.priority}}] {{ticket.title}}",
		}}},
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, automation.Automation{
		Name:     "resolved hook",
		IsActive: true,
		Trigger:  automation.Trigger{Type: automation.TriggerStatusChanged, Conditions: map[string]any{"status": "resolved"}},
		Actions:  []automation.Action{{Type: automation.ActionWebhook, WebhookURL: "http://127.0.0.1:1/unreachable"}},
	})
	require.NoError(t, err)

	engine := automation.NewEngine(automation.Options{
		Store:    store,
		Recorder: store,
		Entities: svc,
		Email:    email,
		Logger:   quietLogger(),
	})
	svc.SetAutomation(engine)

	ticket, err := svc.CreateTicket(ctx, &TicketCreateRequest{Title: "Printer on fire", Priority: "high"})
	require.NoError(t, err)
	_, err = svc.CreateTicket(ctx, &TicketCreateRequest{Title: "Quiet", Priority: "low"})
	require.NoError(t, err)
	updated, err := svc.UpdateTicket(ctx, ticket.ID, &TicketUpdateRequest{Status: strPtr("resolved")}, 1)
	require.NoError(t, err, "webhook failure never reaches the ticket caller")
	assert.Equal(t, "resolved", updated.Status)

	require.NoError(t, engine.Wait(ctx))
	require.Len(t, email.calls, 1)
	assert.Equal(t, "[high] Printer on fire", email.calls[0]["subject"])

	runs, _, err := store.ListRuns(ctx, rulestore.RunQuery{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, fmt.Sprint(ticket.ID), runs[0].TicketID)
}
