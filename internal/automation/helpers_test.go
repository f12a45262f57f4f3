package automation

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeStore is a minimal RuleStore for engine tests.
type fakeStore struct {
	mu    sync.Mutex
	rules []Automation
	err   error
}

func (s *fakeStore) List(ctx context.Context) ([]Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Automation, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.Clone()
	}
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if r.ID == id {
			c := r.Clone()
			return &c, nil
		}
	}
	return nil, ErrRuleNotFound
}

func (s *fakeStore) Create(ctx context.Context, rule Automation) (*Automation, error) {
	return nil, errors.New("not supported")
}

func (s *fakeStore) Update(ctx context.Context, id string, patch Patch) (*Automation, error) {
	return nil, errors.New("not supported")
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	return errors.New("not supported")
}

// recordingSender captures every Send call.
type recordingSender struct {
	mu    sync.Mutex
	calls []map[string]any
	err   error
}

func (r *recordingSender) Send(ctx context.Context, params map[string]any, evt *EventContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, params)
	return r.err
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type memRecorder struct {
	mu   sync.Mutex
	runs []RunRecord
}

func (m *memRecorder) RecordRun(ctx context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type mapEntities struct {
	tickets map[string]map[string]any
	err     error
}

func (m mapEntities) GetByID(ctx context.Context, id string) (map[string]any, error) {
	if m.err != nil {
		return nil, m.err
	}
	t, ok := m.tickets[id]
	if !ok {
		return nil, nil
	}
	return t, nil
}
