// Package circuitbreaker implements the gateway's two-state circuit breaker:
// a provider is either Closed (normal operation) or Open (failing, rejected
// until its open window elapses). There is no half-open probing state.
// Cooldown is a separate, non-state soft gate: it blocks routing without
// counting as an Open breaker and its expiry never emits a transition.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents a provider's circuit breaker state.
type State int

const (
	// StateClosed — normal operation; requests pass through.
	StateClosed State = iota
	// StateOpen — provider is considered failing; requests are rejected
	// until open_until elapses.
	StateOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Transition describes a state change emitted by should_allow or
// record_failure.
type Transition struct {
	Provider string
	Before   State
	After    State
	Reason   string
}

// Snapshot is a point-in-time, lock-free copy of a provider's breaker state.
type Snapshot struct {
	Provider         string
	State            State
	FailureCount     int
	FailureThreshold int
	OpenUntil        time.Time
	CooldownUntil    time.Time
}

type entry struct {
	state         State
	failureCount  int
	openUntil     time.Time
	cooldownUntil time.Time
}

// Breaker holds per-provider circuit state behind a single mutex, matching
// the "single mutex guarding a hashmap" shared-state model used for the
// session map and latency cache.
type Breaker struct {
	mu               sync.Mutex
	providers        map[string]*entry
	failureThreshold map[string]int
	defaultThreshold int
	openSeconds      time.Duration
}

// Option configures a Breaker at construction time.
type Option func(*Breaker)

// WithDefaultFailureThreshold overrides the default failure_threshold (3).
func WithDefaultFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.defaultThreshold = n
		}
	}
}

// WithOpenDuration overrides how long a breaker stays Open once tripped.
func WithOpenDuration(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.openSeconds = d
		}
	}
}

// New constructs an empty Breaker. Defaults: failure_threshold=3,
// open window=30s.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		providers:        make(map[string]*entry),
		failureThreshold: make(map[string]int),
		defaultThreshold: 3,
		openSeconds:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetFailureThreshold configures a per-provider failure_threshold, overriding
// the default for that provider only.
func (b *Breaker) SetFailureThreshold(providerID string, threshold int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if threshold > 0 {
		b.failureThreshold[providerID] = threshold
	}
}

func (b *Breaker) get(providerID string) *entry {
	e, ok := b.providers[providerID]
	if !ok {
		e = &entry{state: StateClosed}
		b.providers[providerID] = e
	}
	return e
}

func (b *Breaker) threshold(providerID string) int {
	if t, ok := b.failureThreshold[providerID]; ok {
		return t
	}
	return b.defaultThreshold
}

// ShouldAllow reports whether a request to providerID may proceed. An Open
// breaker whose open_until has elapsed auto-transitions to Closed and the
// transition is returned. An Open breaker still within its window returns
// allow=false with no transition. cooldown_until gates routing the same way
// but never participates in state or transitions.
func (b *Breaker) ShouldAllow(providerID string, now time.Time) (allow bool, snap Snapshot, transition *Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.get(providerID)
	if e.state == StateOpen && !e.openUntil.After(now) {
		before := e.state
		e.state = StateClosed
		e.failureCount = 0
		transition = &Transition{Provider: providerID, Before: before, After: StateClosed, Reason: "open_window_elapsed"}
	}

	allow = e.state != StateOpen && !e.cooldownUntil.After(now)
	snap = b.snapshotLocked(providerID, e)
	return allow, snap, transition
}

// RecordFailure increments failure_count; if it reaches failure_threshold the
// breaker opens for the configured open window.
func (b *Breaker) RecordFailure(providerID string, now time.Time) (before, after Snapshot, transition *Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.get(providerID)
	before = b.snapshotLocked(providerID, e)

	e.failureCount++
	if e.failureCount >= b.threshold(providerID) && e.state != StateOpen {
		prev := e.state
		e.state = StateOpen
		e.openUntil = now.Add(b.openSeconds)
		transition = &Transition{Provider: providerID, Before: prev, After: StateOpen, Reason: "failure_threshold_reached"}
	}
	after = b.snapshotLocked(providerID, e)
	return before, after, transition
}

// RecordSuccess clears failure_count. If the breaker is Open and its deadline
// has already passed, it closes.
func (b *Breaker) RecordSuccess(providerID string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.get(providerID)
	e.failureCount = 0
	if e.state == StateOpen && !e.openUntil.After(now) {
		e.state = StateClosed
	}
}

// TriggerCooldown sets cooldown_until to the later of its current value and
// now+cooldownSeconds. Cooldown never changes state and never emits a
// transition.
func (b *Breaker) TriggerCooldown(providerID string, now time.Time, cooldown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.get(providerID)
	candidate := now.Add(cooldown)
	if candidate.After(e.cooldownUntil) {
		e.cooldownUntil = candidate
	}
}

// Snapshot returns a copy of a single provider's current state without
// mutating it (no auto-transition check).
func (b *Breaker) Snapshot(providerID string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(providerID, b.get(providerID))
}

// SnapshotAll returns a copy of every known provider's state, for the admin
// /admin/circuits endpoint.
func (b *Breaker) SnapshotAll() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Snapshot, 0, len(b.providers))
	for id, e := range b.providers {
		out = append(out, b.snapshotLocked(id, e))
	}
	return out
}

func (b *Breaker) snapshotLocked(providerID string, e *entry) Snapshot {
	return Snapshot{
		Provider:         providerID,
		State:            e.state,
		FailureCount:     e.failureCount,
		FailureThreshold: b.threshold(providerID),
		OpenUntil:        e.openUntil,
		CooldownUntil:    e.cooldownUntil,
	}
}
