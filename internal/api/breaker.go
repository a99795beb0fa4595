package api

import (
	"sync"
	"time"

	"dinerlive/internal/config"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// breaker stops calling the API after consecutive failures and lets a few
// probe requests through once the recovery timeout elapsed
type breaker struct {
	enabled   bool
	threshold int
	recovery  time.Duration
	maxProbes int
	now       func() time.Time

	mu        sync.Mutex
	state     breakerState
	failures  int
	probes    int
	successes int
	openedAt  time.Time
}

func newBreaker(cfg *config.BreakerConfig) *breaker {
	b := &breaker{
		threshold: config.DefaultFailureThreshold,
		recovery:  time.Duration(config.DefaultRecoveryTimeout) * time.Millisecond,
		maxProbes: config.DefaultHalfOpenRequests,
		now:       time.Now,
	}
	if cfg == nil {
		return b
	}
	b.enabled = cfg.Enabled
	if cfg.FailureThreshold > 0 {
		b.threshold = cfg.FailureThreshold
	}
	if cfg.RecoveryTimeout > 0 {
		b.recovery = cfg.GetRecoveryTimeoutDuration()
	}
	if cfg.HalfOpenMaxRequests > 0 {
		b.maxProbes = cfg.HalfOpenMaxRequests
	}
	return b
}

// allow reports whether a request may be sent
func (b *breaker) allow() bool {
	if !b.enabled {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.recovery {
			return false
		}
		b.state = breakerHalfOpen
		b.probes = 0
		b.successes = 0
		fallthrough
	case breakerHalfOpen:
		if b.probes >= b.maxProbes {
			return false
		}
		b.probes++
		return true
	default:
		return true
	}
}

func (b *breaker) success() {
	if !b.enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerHalfOpen:
		b.successes++
		if b.successes >= b.maxProbes {
			b.state = breakerClosed
			b.failures = 0
		}
	case breakerClosed:
		b.failures = 0
	}
}

func (b *breaker) failure() {
	if !b.enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
	case breakerHalfOpen:
		b.trip()
	}
}

func (b *breaker) trip() {
	b.state = breakerOpen
	b.openedAt = b.now()
	b.failures = 0
}

func (b *breaker) current() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
