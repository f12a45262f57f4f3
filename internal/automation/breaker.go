package automation

import (
	"sync"
	"time"
)

// BreakerState is the state of a per-host webhook breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // requests flow
	BreakerOpen                         // requests fail fast
	BreakerHalfOpen                     // a few trial requests
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes when a host is cut off and when it is retried.
type BreakerConfig struct {
	MaxFailures     int
	ResetTimeout    time.Duration
	HalfOpenMaxReqs int
}

// DefaultBreakerConfig opens after 5 failures and probes again after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:     5,
		ResetTimeout:    60 * time.Second,
		HalfOpenMaxReqs: 1,
	}
}

// breaker guards a single webhook host.
type breaker struct {
	cfg          BreakerConfig
	clock        Clock
	state        BreakerState
	failureCount int
	lastFailTime time.Time
	halfOpenReqs int
	mu           sync.Mutex
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.clock.Now().Sub(b.lastFailTime) > b.cfg.ResetTimeout {
			b.state = BreakerHalfOpen
			b.halfOpenReqs = 1
			return true
		}
		return false
	case BreakerHalfOpen:
		if b.halfOpenReqs < b.cfg.HalfOpenMaxReqs {
			b.halfOpenReqs++
			return true
		}
		return false
	default:
		return false
	}
}

func (b *breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failureCount = 0
	b.halfOpenReqs = 0
}

func (b *breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailTime = b.clock.Now()
	switch b.state {
	case BreakerClosed:
		if b.failureCount >= b.cfg.MaxFailures {
			b.state = BreakerOpen
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.halfOpenReqs = 0
	}
}

func (b *breaker) current() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// breakerSet keeps one breaker per webhook host.
type breakerSet struct {
	cfg      BreakerConfig
	clock    Clock
	mu       sync.Mutex
	breakers map[string]*breaker
}

func newBreakerSet(cfg BreakerConfig, clock Clock) *breakerSet {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if cfg.HalfOpenMaxReqs <= 0 {
		cfg.HalfOpenMaxReqs = 1
	}
	return &breakerSet{cfg: cfg, clock: clock, breakers: make(map[string]*breaker)}
}

func (s *breakerSet) get(host string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[host]
	if !ok {
		b = &breaker{cfg: s.cfg, clock: s.clock}
		s.breakers[host] = b
	}
	return b
}
