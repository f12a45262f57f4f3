package rulestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ticketflow/internal/automation"
)

const defaultRunHistory = 500

// MemoryStore keeps rules in a map. Reads and writes copy, so callers never
// share maps with the store. Runs are kept in a fixed-size ring.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]automation.Automation
	seq   int64
	order map[string]int64

	runMu   sync.Mutex
	runs    []automation.RunRecord
	runNext int
	runFull bool
	now     func() time.Time
}

func NewMemoryStore(runHistory int) *MemoryStore {
	if runHistory <= 0 {
		runHistory = defaultRunHistory
	}
	return &MemoryStore{
		rules: make(map[string]automation.Automation),
		order: make(map[string]int64),
		runs:  make([]automation.RunRecord, runHistory),
		now:   time.Now,
	}
}

// List returns rules in creation order.
func (s *MemoryStore) List(ctx context.Context) ([]automation.Automation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]automation.Automation, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] < s.order[out[j].ID] })
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*automation.Automation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, automation.ErrRuleNotFound
	}
	c := r.Clone()
	return &c, nil
}

func (s *MemoryStore) Create(ctx context.Context, rule automation.Automation) (*automation.Automation, error) {
	rule, err := prepareNew(rule, s.now())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[rule.ID]; exists {
		return nil, &automation.RuleStoreError{Op: "create", Err: fmt.Errorf("duplicate rule id %s", rule.ID)}
	}
	s.seq++
	s.rules[rule.ID] = rule
	s.order[rule.ID] = s.seq
	out := rule.Clone()
	return &out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, patch automation.Patch) (*automation.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rules[id]
	if !ok {
		return nil, automation.ErrRuleNotFound
	}
	next, err := applyPatch(current, patch, s.now())
	if err != nil {
		return nil, err
	}
	s.rules[id] = next
	out := next.Clone()
	return &out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return automation.ErrRuleNotFound
	}
	delete(s.rules, id)
	delete(s.order, id)
	return nil
}

// RecordRun appends to the ring, overwriting the oldest entry when full.
func (s *MemoryStore) RecordRun(ctx context.Context, run automation.RunRecord) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.runs[s.runNext] = run
	s.runNext = (s.runNext + 1) % len(s.runs)
	if s.runNext == 0 {
		s.runFull = true
	}
	return nil
}

// ListRuns returns the newest runs first.
func (s *MemoryStore) ListRuns(ctx context.Context, q RunQuery) ([]automation.RunRecord, int64, error) {
	s.runMu.Lock()
	n := s.runNext
	if s.runFull {
		n = len(s.runs)
	}
	var matched []automation.RunRecord
	for i := 0; i < n; i++ {
		idx := (s.runNext - 1 - i + len(s.runs)) % len(s.runs)
		r := s.runs[idx]
		if (q.RuleID == "" || r.RuleID == q.RuleID) &&
			(q.TicketID == "" || r.TicketID == q.TicketID) &&
			(q.Status == "" || r.Status == q.Status) {
			matched = append(matched, r)
		}
	}
	s.runMu.Unlock()

	total := int64(len(matched))
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Offset >= len(matched) {
		return []automation.RunRecord{}, total, nil
	}
	matched = matched[q.Offset:]
	if len(matched) > q.limit() {
		matched = matched[:q.limit()]
	}
	return matched, total, nil
}
