package rulestore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketflow/internal/automation"
)

// stepLog records the order in which each rule's actions ran per dispatch,
// and how many rules of one dispatch were inside their action list at once.
type stepLog struct {
	mu        sync.Mutex
	steps     map[string][]string // ticket/rule -> steps
	active    map[string]int      // ticket -> rules running
	maxActive map[string]int
}

func newStepLog() *stepLog {
	return &stepLog{steps: map[string][]string{}, active: map[string]int{}, maxActive: map[string]int{}}
}

func (l *stepLog) handle(_ context.Context, action automation.Action, evt *automation.EventContext) error {
	rule := fmt.Sprint(action.Parameters["rule"])
	step := fmt.Sprint(action.Parameters["step"])
	last := fmt.Sprint(action.Parameters["last"]) == "true"

	l.mu.Lock()
	if step == "0" {
		l.active[evt.TicketID]++
		if l.active[evt.TicketID] > l.maxActive[evt.TicketID] {
			l.maxActive[evt.TicketID] = l.active[evt.TicketID]
		}
	}
	key := evt.TicketID + "/" + rule
	l.steps[key] = append(l.steps[key], step)
	l.mu.Unlock()

	time.Sleep(time.Millisecond)

	if last {
		l.mu.Lock()
		l.active[evt.TicketID]--
		l.mu.Unlock()
	}
	return nil
}

func orderedRule(id string, steps int) automation.Automation {
	actions := make([]automation.Action, steps)
	for i := range actions {
		actions[i] = automation.Action{
			ID:   fmt.Sprintf("%s-a%d", id, i),
			Type: automation.ActionAddTag,
			Parameters: map[string]any{
				"rule": id,
				"step": i,
				"last": i == steps-1,
			},
		}
	}
	return automation.Automation{
		ID:       id,
		Name:     id,
		IsActive: true,
		Trigger:  automation.Trigger{Type: automation.TriggerTicketCreated},
		Actions:  actions,
	}
}

func TestConcurrentDispatchWithRuleUpdates(t *testing.T) {
	const (
		rules      = 8
		steps      = 5
		dispatches = 20
	)
	ctx := context.Background()
	store := NewMemoryStore(1000)
	for i := 0; i < rules; i++ {
		_, err := store.Create(ctx, orderedRule(fmt.Sprintf("rule-%d", i), steps))
		require.NoError(t, err)
	}

	log := newStepLog()
	engine := automation.NewEngine(automation.Options{Store: store, Recorder: store, Logger: quietLogger()})
	engine.Executor().Register(automation.ActionAddTag, automation.ActionHandlerFunc(log.handle))

	var wg sync.WaitGroup
	matched := make([]int, dispatches)
	for d := 0; d < dispatches; d++ {
		d := d
		wg.Add(2)
		go func() {
			defer wg.Done()
			matched[d] = engine.Dispatch(ctx, &automation.EventContext{
				EventType: automation.EventTicketCreated,
				TicketID:  fmt.Sprintf("T%d", d),
				Ticket:    map[string]any{"priority": "high"},
			})
		}()
		go func() {
			defer wg.Done()
			desc := fmt.Sprintf("revision %d", d)
			_, err := store.Update(ctx, fmt.Sprintf("rule-%d", d%rules), automation.Patch{Description: &desc})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	want := make([]string, steps)
	for i := range want {
		want[i] = fmt.Sprint(i)
	}
	for d := 0; d < dispatches; d++ {
		ticket := fmt.Sprintf("T%d", d)
		assert.Equal(t, rules, matched[d], ticket)
		assert.LessOrEqual(t, log.maxActive[ticket], 4, "default rule concurrency bounds %s", ticket)
		for r := 0; r < rules; r++ {
			assert.Equal(t, want, log.steps[ticket+"/rule-"+fmt.Sprint(r)], "actions of one rule run in order")
		}
	}

	_, total, err := store.ListRuns(ctx, RunQuery{Status: "success"})
	require.NoError(t, err)
	assert.EqualValues(t, rules*dispatches, total)
}
