// Package circuitbreaker stops sending requests to a backend that keeps
// failing and lets a trial request through once its backoff has passed.
package circuitbreaker

import (
	"sync"
	"time"
)

// Config controls circuit breaker behavior
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Zero or less disables the breaker.
	FailureThreshold int
	// BackoffDuration is the wait after the circuit first opens. Each
	// further failure adds another BackoffDuration.
	BackoffDuration    time.Duration
	MaxBackoffDuration time.Duration
}

// DefaultConfig returns the defaults used when nothing is configured
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   2,
		BackoffDuration:    30 * time.Second,
		MaxBackoffDuration: 5 * time.Minute,
	}
}

// State is a snapshot of the breaker
type State struct {
	Open         bool      `json:"circuit_open"`
	FailureCount int       `json:"failure_count"`
	NextRetry    time.Time `json:"next_retry_time,omitempty"`
}

// Breaker tracks consecutive failures of one backend. It is safe for
// concurrent use.
type Breaker struct {
	config Config
	now    func() time.Time

	mu        sync.Mutex
	failures  int
	open      bool
	nextRetry time.Time
	onChange  func(State)
}

// New creates a closed breaker
func New(config Config) *Breaker {
	return &Breaker{config: config, now: time.Now}
}

// OnStateChange registers fn to be called, outside the lock, whenever the
// circuit opens, reopens or closes
func (b *Breaker) OnStateChange(fn func(State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow reports whether a request may be sent. While the circuit is open
// and the backoff has not passed it returns false and the time left.
func (b *Breaker) Allow() (bool, time.Duration) {
	if b.config.FailureThreshold <= 0 {
		return true, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true, 0
	}
	if wait := b.nextRetry.Sub(b.now()); wait > 0 {
		return false, wait
	}
	return true, 0
}

// RecordFailure counts a failed request and opens the circuit once the
// threshold is reached
func (b *Breaker) RecordFailure() {
	if b.config.FailureThreshold <= 0 {
		return
	}
	b.mu.Lock()
	b.failures++
	if b.failures < b.config.FailureThreshold {
		b.mu.Unlock()
		return
	}

	over := b.failures - b.config.FailureThreshold + 1
	backoff := time.Duration(int64(b.config.BackoffDuration) * int64(over))
	if b.config.MaxBackoffDuration > 0 && backoff > b.config.MaxBackoffDuration {
		backoff = b.config.MaxBackoffDuration
	}
	b.open = true
	b.nextRetry = b.now().Add(backoff)
	state, notify := b.snapshot(), b.onChange
	b.mu.Unlock()

	if notify != nil {
		notify(state)
	}
}

// RecordSuccess resets the failure count and closes the circuit
func (b *Breaker) RecordSuccess() {
	if b.config.FailureThreshold <= 0 {
		return
	}
	b.mu.Lock()
	wasOpen := b.open
	b.failures = 0
	b.open = false
	b.nextRetry = time.Time{}
	state, notify := b.snapshot(), b.onChange
	b.mu.Unlock()

	if wasOpen && notify != nil {
		notify(state)
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot()
}

func (b *Breaker) snapshot() State {
	return State{Open: b.open, FailureCount: b.failures, NextRetry: b.nextRetry}
}
