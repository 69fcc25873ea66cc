// Package breaker implements a per-key circuit breaker that temporarily
// blocks attempts against a repeatedly failing target.
package breaker

import (
	"sync"
	"time"
)

const (
	defaultThreshold = 5
	defaultWindow    = 60 * time.Second
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type circuitState struct {
	failures    int
	lastFailure time.Time
}

// Breaker tracks consecutive failures per key, typically a domain or source
// name. A key "opens" once its failure count reaches the threshold and stays
// open until the timeout window elapses with no further failures.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	clock     Clock
	states    map[string]*circuitState
}

// New builds a Breaker. Non-positive threshold or window fall back to the
// defaults (5 failures, 60s).
func New(threshold int, window time.Duration, clock Clock) *Breaker {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if window <= 0 {
		window = defaultWindow
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Breaker{
		threshold: threshold,
		window:    window,
		clock:     clock,
		states:    make(map[string]*circuitState),
	}
}

// IsOpen reports whether attempts against key should be skipped. Once the
// window since the last failure has elapsed the state is cleared and the key
// closes again, allowing automatic recovery after a cooldown.
func (b *Breaker) IsOpen(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[key]
	if !ok {
		return false
	}
	if b.clock.Now().Sub(st.lastFailure) >= b.window {
		delete(b.states, key)
		return false
	}
	return st.failures >= b.threshold
}

// RecordFailure increments the key's failure count and stamps the failure time.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[key]
	if !ok {
		st = &circuitState{}
		b.states[key] = st
	}
	st.failures++
	st.lastFailure = b.clock.Now()
}

// RecordSuccess clears the key's record entirely.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, key)
}

// Failures returns the current failure count for key, mainly for logging.
func (b *Breaker) Failures(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.states[key]; ok {
		return st.failures
	}
	return 0
}
