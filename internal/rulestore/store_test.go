package rulestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ticketflow/internal/automation"
	"ticketflow/internal/config"
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
	return db
}

func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	s := NewGormStore(newTestDB(t), quietLogger())
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleRule(name string) automation.Automation {
	return automation.Automation{
		Name:     name,
		IsActive: true,
		Trigger:  automation.Trigger{Type: automation.TriggerTicketCreated, Conditions: map[string]any{"priority": "high"}},
		Actions: []automation.Action{{
			Type:       automation.ActionSendEmail,
			Parameters: map[string]any{"to": "ops@example.com", "subject": "{{ticket.title}}"},
		}},
	}
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"gorm":   func(t *testing.T) Store { return newGormStore(t) },
		"memory": func(t *testing.T) Store { return NewMemoryStore(10) },
	}
}

func TestStore_CRUD(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			created, err := s.Create(ctx, sampleRule("first"))
			require.NoError(t, err)
			assert.NotEmpty(t, created.ID)
			assert.NotEmpty(t, created.Trigger.ID)
			assert.NotEmpty(t, created.Actions[0].ID)
			assert.False(t, created.CreatedAt.IsZero())

			_, err = s.Create(ctx, sampleRule("second"))
			require.NoError(t, err)

			inactive := sampleRule("off")
			inactive.IsActive = false
			off, err := s.Create(ctx, inactive)
			require.NoError(t, err)

			rules, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, rules, 3)
			assert.Equal(t, "first", rules[0].Name)
			assert.Equal(t, "high", rules[0].Trigger.Conditions["priority"])
			assert.Equal(t, "{{ticket.title}}", rules[0].Actions[0].Parameters["subject"])

			got, err := s.Get(ctx, off.ID)
			require.NoError(t, err)
			assert.False(t, got.IsActive)

			name := "renamed"
			active := true
			updated, err := s.Update(ctx, off.ID, automation.Patch{Name: &name, IsActive: &active})
			require.NoError(t, err)
			assert.Equal(t, "renamed", updated.Name)
			assert.True(t, updated.IsActive)
			assert.Equal(t, off.ID, updated.ID)
			assert.Len(t, updated.Actions, 1)

			require.NoError(t, s.Delete(ctx, created.ID))
			_, err = s.Get(ctx, created.ID)
			assert.ErrorIs(t, err, automation.ErrRuleNotFound)
			assert.ErrorIs(t, s.Delete(ctx, created.ID), automation.ErrRuleNotFound)
			_, err = s.Update(ctx, created.ID, automation.Patch{Name: &name})
			assert.ErrorIs(t, err, automation.ErrRuleNotFound)
		})
	}
}

func TestStore_ValidatesOnWrite(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			bad := sampleRule("bad")
			bad.Trigger.Type = "sla_violation"
			_, err := s.Create(ctx, bad)
			assert.ErrorIs(t, err, automation.ErrInvalidRule)

			ok, err := s.Create(ctx, sampleRule("ok"))
			require.NoError(t, err)
			hooks := []automation.Action{{Type: automation.ActionWebhook}}
			_, err = s.Update(ctx, ok.ID, automation.Patch{Actions: &hooks})
			assert.ErrorIs(t, err, automation.ErrInvalidRule)

			got, err := s.Get(ctx, ok.ID)
			require.NoError(t, err)
			assert.Equal(t, automation.ActionSendEmail, got.Actions[0].Type, "failed update leaves rule intact")
		})
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			created, err := s.Create(ctx, sampleRule("r"))
			require.NoError(t, err)

			rules, err := s.List(ctx)
			require.NoError(t, err)
			rules[0].Actions[0].Parameters["subject"] = "mutated"
			rules[0].Trigger.Conditions["priority"] = "low"

			got, err := s.Get(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, "{{ticket.title}}", got.Actions[0].Parameters["subject"])
			assert.Equal(t, "high", got.Trigger.Conditions["priority"])
		})
	}
}

func TestStore_Runs(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				status := "success"
				if i%2 == 1 {
					status = "failed"
				}
				require.NoError(t, s.RecordRun(ctx, automation.RunRecord{
					RuleID:    fmt.Sprintf("r%d", i%2),
					TicketID:  fmt.Sprintf("T%d", i),
					EventType: automation.EventTicketCreated,
					Status:    status,
					CreatedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}

			runs, total, err := s.ListRuns(ctx, RunQuery{})
			require.NoError(t, err)
			assert.EqualValues(t, 5, total)
			require.Len(t, runs, 5)
			assert.Equal(t, "T4", runs[0].TicketID, "newest first")

			runs, total, err = s.ListRuns(ctx, RunQuery{Status: "failed"})
			require.NoError(t, err)
			assert.EqualValues(t, 2, total)
			assert.Equal(t, "T3", runs[0].TicketID)

			runs, total, err = s.ListRuns(ctx, RunQuery{RuleID: "r0", Limit: 2, Offset: 1})
			require.NoError(t, err)
			assert.EqualValues(t, 3, total)
			require.Len(t, runs, 2)
			assert.Equal(t, "T2", runs[0].TicketID)
			assert.Equal(t, "T0", runs[1].TicketID)
		})
	}
}

func TestMemoryStore_RunRingDropsOldest(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordRun(ctx, automation.RunRecord{TicketID: fmt.Sprintf("T%d", i)}))
	}
	runs, total, err := s.ListRuns(ctx, RunQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Equal(t, "T4", runs[0].TicketID)
	assert.Equal(t, "T2", runs[2].TicketID)
}

const seedYAML = `
rules:
  - id: escalate-urgent
    name: Escalate urgent tickets
    trigger:
      type: ticket_created
      conditions:
        priority: urgent
    actions:
      - type: send_notification
        parameters:
          message: "Urgent: {{ticket.title}}"
  - name: Resolved follow-up
    is_active: false
    trigger:
      type: status_changed
      conditions: {status: resolved}
    actions:
      - type: webhook
        webhook_url: https://hooks.example.com/resolved
`

func TestParseSeedAndSeed(t *testing.T) {
	rules, err := ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.True(t, rules[0].IsActive, "is_active defaults to true")
	assert.False(t, rules[1].IsActive)
	assert.Equal(t, "urgent", rules[0].Trigger.Conditions["priority"])
	assert.Equal(t, "https://hooks.example.com/resolved", rules[1].Actions[0].WebhookURL)

	ctx := context.Background()
	store := NewMemoryStore(0)
	n, err := Seed(ctx, store, rules)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.Get(ctx, "escalate-urgent")
	require.NoError(t, err)
	assert.Equal(t, "Escalate urgent tickets", got.Name)

	// the rule with an id is not duplicated on a second seed
	n, err = Seed(ctx, store, rules[:1])
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = ParseSeed([]byte("rules: [unterminated"))
	assert.Error(t, err)
}

func TestNew_SelectsBackendOnce(t *testing.T) {
	ctx := context.Background()

	store, backend := New(ctx, config.AutomationConfig{Store: BackendDatabase}, nil, quietLogger())
	assert.Equal(t, BackendMemory, backend, "no db falls back to memory")
	assert.IsType(t, &MemoryStore{}, store)

	store, backend = New(ctx, config.AutomationConfig{Store: BackendMemory}, newTestDB(t), quietLogger())
	assert.Equal(t, BackendMemory, backend)
	assert.IsType(t, &MemoryStore{}, store)

	seedPath := filepath.Join(t.TempDir(), "rules.yml")
	require.NoError(t, os.WriteFile(seedPath, []byte(seedYAML), 0o644))
	store, backend = New(ctx, config.AutomationConfig{Store: BackendDatabase, SeedFile: seedPath}, newTestDB(t), quietLogger())
	assert.Equal(t, BackendDatabase, backend)
	require.IsType(t, &GormStore{}, store)
	rules, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}
