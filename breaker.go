package main

import (
	"log"
	"sync"
	"time"
)

// BreakerState is the current state of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// CircuitBreaker stops calling a failing upstream for a cooldown period.
// After failMax consecutive failures the breaker opens and callers
// short-circuit until the cooldown elapses; then exactly one half-open
// trial is admitted. Trial success closes the breaker, trial failure
// re-opens it and restarts the cooldown. Safe for concurrent use.
type CircuitBreaker struct {
	name     string
	failMax  int
	cooldown time.Duration

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, failMax int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:     name,
		failMax:  failMax,
		cooldown: cooldown,
		state:    BreakerClosed,
	}
}

// Allow reports whether a call may proceed. While open within the
// cooldown window it returns false; once the cooldown elapses it admits a
// single half-open trial and rejects concurrent callers until that trial
// reports back.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(BreakerHalfOpen)
		b.trialInFlight = true
		return true
	case BreakerHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return true
}

// RecordSuccess notes a successful call, closing the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialInFlight = false
	if b.state != BreakerClosed {
		b.setState(BreakerClosed)
	}
}

// RecordFailure notes a failed call. A half-open trial failure re-opens
// immediately; in the closed state the breaker opens once failMax
// consecutive failures accumulate.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == BreakerHalfOpen {
		b.trialInFlight = false
		b.openedAt = time.Now()
		b.setState(BreakerOpen)
		return
	}
	if b.state == BreakerClosed && b.failures >= b.failMax {
		b.openedAt = time.Now()
		b.setState(BreakerOpen)
	}
}

// setState transitions and logs; callers hold b.mu.
func (b *CircuitBreaker) setState(next BreakerState) {
	if b.state != next {
		log.Printf("Circuit breaker %q state changed: %s -> %s", b.name, b.state, next)
	}
	b.state = next
}

// BreakerStatus is the observable snapshot for health reporting.
type BreakerStatus struct {
	Name        string       `json:"name"`
	State       BreakerState `json:"state"`
	FailCounter int          `json:"fail_counter"`
	FailMax     int          `json:"fail_max"`
}

// Status returns the breaker's current snapshot.
func (b *CircuitBreaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerStatus{
		Name:        b.name,
		State:       b.state,
		FailCounter: b.failures,
		FailMax:     b.failMax,
	}
}

// BreakerRegistry keys breakers per logical upstream. All models routed
// through one upstream share one breaker: a burst of failures from any of
// them trips the breaker for the whole endpoint family.
type BreakerRegistry struct {
	failMax  int
	cooldown time.Duration

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates an empty registry with shared breaker settings.
func NewBreakerRegistry(failMax int, cooldown time.Duration) *BreakerRegistry {
	return &BreakerRegistry{
		failMax:  failMax,
		cooldown: cooldown,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for the named upstream, creating it on first use.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = NewCircuitBreaker(name, r.failMax, r.cooldown)
		r.breakers[name] = b
		log.Printf("Circuit breaker %q initialized", name)
	}
	return b
}

// Statuses returns snapshots of every breaker in the registry.
func (r *BreakerRegistry) Statuses() []BreakerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]BreakerStatus, 0, len(r.breakers))
	for _, b := range r.breakers {
		statuses = append(statuses, b.Status())
	}
	return statuses
}
