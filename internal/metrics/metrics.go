package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// automationStats holds counters for the automation engine.
// Kept simple/thread-safe for use from the engine and exposition.
type automationStats struct {
	dispatches       uint64
	matches          uint64
	storeErrors      uint64
	webhookFailures  uint64
	mu               sync.Mutex
	actionsByOutcome map[string]uint64 // "<type>|<status>"
}

var st automationStats

// IncDispatch counts one engine dispatch.
func IncDispatch() { atomic.AddUint64(&st.dispatches, 1) }

// AddMatches counts rules whose actions were invoked.
func AddMatches(n int) {
	if n > 0 {
		atomic.AddUint64(&st.matches, uint64(n))
	}
}

// IncStoreError counts dispatches skipped because rules could not be loaded.
func IncStoreError() { atomic.AddUint64(&st.storeErrors, 1) }

// IncWebhookFailure counts failed webhook deliveries.
func IncWebhookFailure() { atomic.AddUint64(&st.webhookFailures, 1) }

// IncAction counts one action outcome.
func IncAction(actionType, status string) {
	if actionType == "" {
		actionType = "unknown"
	}
	st.mu.Lock()
	if st.actionsByOutcome == nil {
		st.actionsByOutcome = make(map[string]uint64)
	}
	st.actionsByOutcome[actionType+"|"+status]++
	st.mu.Unlock()
}

// ActionCount is one labelled counter.
type ActionCount struct {
	Type   string
	Status string
	Count  uint64
}

// Snapshot is a copy of the current counters.
type Snapshot struct {
	Dispatches      uint64
	Matches         uint64
	StoreErrors     uint64
	WebhookFailures uint64
	Actions         []ActionCount
}

// AutomationSnapshot returns a copy of the current counters, actions sorted
// by type then status.
func AutomationSnapshot() Snapshot {
	s := Snapshot{
		Dispatches:      atomic.LoadUint64(&st.dispatches),
		Matches:         atomic.LoadUint64(&st.matches),
		StoreErrors:     atomic.LoadUint64(&st.storeErrors),
		WebhookFailures: atomic.LoadUint64(&st.webhookFailures),
	}
	st.mu.Lock()
	for k, v := range st.actionsByOutcome {
		typ, status := splitKey(k)
		s.Actions = append(s.Actions, ActionCount{Type: typ, Status: status, Count: v})
	}
	st.mu.Unlock()
	sort.Slice(s.Actions, func(i, j int) bool {
		if s.Actions[i].Type != s.Actions[j].Type {
			return s.Actions[i].Type < s.Actions[j].Type
		}
		return s.Actions[i].Status < s.Actions[j].Status
	})
	return s
}

func splitKey(k string) (string, string) {
	for i := len(k) - 1; i >= 0; i-- {
		if k[i] == '|' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}

// Reset zeroes every counter. Used by tests.
func Reset() {
	atomic.StoreUint64(&st.dispatches, 0)
	atomic.StoreUint64(&st.matches, 0)
	atomic.StoreUint64(&st.storeErrors, 0)
	atomic.StoreUint64(&st.webhookFailures, 0)
	st.mu.Lock()
	st.actionsByOutcome = nil
	st.mu.Unlock()
}
