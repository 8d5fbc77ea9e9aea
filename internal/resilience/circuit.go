// Package resilience provides rate limiting, circuit breaking and retry
// patterns for calls to the external registry.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state: requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures: requests are rejected immediately.
	CircuitOpen
	// CircuitHalfOpen allows a single probe request to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is
// open, or because another caller already holds the half-open probe.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 5.
	FailureThreshold int

	// Window bounds the failure streak: a failure arriving more than Window
	// after the previous one starts a new streak. Zero disables the window.
	Window time.Duration

	// Cooldown is how long the circuit stays open before the next call may
	// probe. Default: 30s.
	Cooldown time.Duration

	// MaxCooldown caps the cooldown, which doubles after each failed probe.
	// Default: 10 × Cooldown.
	MaxCooldown time.Duration

	// ShouldTrip optionally overrides the default check. If nil, every
	// non-nil error counts toward the failure threshold.
	ShouldTrip func(err error) bool

	// OnStateChange is called when the circuit transitions between states.
	// It runs while the breaker lock is held and must not call back into it.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
		MaxCooldown:      5 * time.Minute,
	}
}

// CircuitBreakerState is a consistent snapshot of a breaker.
type CircuitBreakerState struct {
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitempty"`
	CooldownUntil       time.Time    `json:"cooldown_until,omitempty"`
}

// CircuitBreaker implements the circuit breaker pattern for a single
// upstream endpoint. Every read and write of its state goes through mu.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	consecutiveFailures int
	lastFailureTime     time.Time
	openedAt            time.Time
	cooldownUntil       time.Time
	cooldown            time.Duration
	probing             bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.MaxCooldown < cfg.Cooldown {
		cfg.MaxCooldown = 10 * cfg.Cooldown
	}
	return &CircuitBreaker{
		cfg:      cfg,
		state:    CircuitClosed,
		cooldown: cfg.Cooldown,
		nowFunc:  time.Now,
	}
}

// Execute runs fn through the circuit breaker. Returns ErrCircuitOpen without
// calling fn if the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := cb.allowRequest()
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.recordResult(err, probe)
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	probe, err := cb.allowRequest()
	if err != nil {
		return zero, err
	}

	val, err := fn(ctx)
	cb.recordResult(err, probe)
	return val, err
}

// State returns the current circuit state. An open circuit whose cooldown
// has elapsed moves to half-open here.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

// Snapshot returns the full breaker state under one lock acquisition.
func (cb *CircuitBreaker) Snapshot() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return CircuitBreakerState{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		OpenedAt:            cb.openedAt,
		CooldownUntil:       cb.cooldownUntil,
	}
}

// Counters returns the current failure count and state for observability.
func (cb *CircuitBreaker) Counters() (consecutiveFailures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures, cb.state
}

// advance performs the time-driven open→half-open edge. Caller holds mu.
func (cb *CircuitBreaker) advance() {
	if cb.state == CircuitOpen && !cb.nowFunc().Before(cb.cooldownUntil) {
		cb.transition(CircuitHalfOpen)
		cb.probing = false
	}
}

// allowRequest admits or rejects a call. The returned flag marks the call as
// the half-open probe.
func (cb *CircuitBreaker) allowRequest() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance()
	switch cb.state {
	case CircuitOpen:
		return false, ErrCircuitOpen
	case CircuitHalfOpen:
		// Only the first caller probes; the rest fail fast until it resolves.
		if cb.probing {
			return false, ErrCircuitOpen
		}
		cb.probing = true
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) recordResult(err error, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	// A call abandoned by its caller says nothing about the upstream.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	shouldTrip := cb.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = func(e error) bool { return e != nil }
	}

	now := cb.nowFunc()

	if err == nil || !shouldTrip(err) {
		switch {
		case probe && cb.state == CircuitHalfOpen:
			cb.transition(CircuitClosed)
			cb.consecutiveFailures = 0
			cb.cooldown = cb.cfg.Cooldown
		case cb.state == CircuitClosed:
			cb.consecutiveFailures = 0
		}
		return
	}

	if cb.cfg.Window > 0 && !cb.lastFailureTime.IsZero() && now.Sub(cb.lastFailureTime) > cb.cfg.Window {
		cb.consecutiveFailures = 0
	}
	cb.consecutiveFailures++
	cb.lastFailureTime = now

	switch {
	case probe && cb.state == CircuitHalfOpen:
		cb.cooldown *= 2
		if cb.cooldown > cb.cfg.MaxCooldown {
			cb.cooldown = cb.cfg.MaxCooldown
		}
		cb.open(now)
	case cb.state == CircuitClosed && cb.consecutiveFailures >= cb.cfg.FailureThreshold:
		cb.open(now)
	}
}

func (cb *CircuitBreaker) open(now time.Time) {
	cb.openedAt = now
	cb.cooldownUntil = now.Add(cb.cooldown)
	cb.transition(CircuitOpen)
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// ServiceBreakers manages one circuit breaker per upstream endpoint.
type ServiceBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
	onChange func(service string, from, to CircuitState)
}

// NewServiceBreakers creates a registry of per-endpoint circuit breakers.
// onChange, if non-nil, observes every transition with the endpoint name.
func NewServiceBreakers(cfg CircuitBreakerConfig, onChange func(service string, from, to CircuitState)) *ServiceBreakers {
	return &ServiceBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
		onChange: onChange,
	}
}

// Get returns the circuit breaker for the named endpoint, creating one if needed.
func (sb *ServiceBreakers) Get(service string) *CircuitBreaker {
	sb.mu.RLock()
	cb, ok := sb.breakers[service]
	sb.mu.RUnlock()
	if ok {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	// Double-check after acquiring write lock.
	if cb, ok = sb.breakers[service]; ok {
		return cb
	}
	cfg := sb.cfg
	if sb.onChange != nil {
		inner := cfg.OnStateChange
		cfg.OnStateChange = func(from, to CircuitState) {
			if inner != nil {
				inner(from, to)
			}
			sb.onChange(service, from, to)
		}
	}
	cb = NewCircuitBreaker(cfg)
	sb.breakers[service] = cb
	return cb
}

// States returns a snapshot of all circuit breaker states.
func (sb *ServiceBreakers) States() map[string]CircuitBreakerState {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	states := make(map[string]CircuitBreakerState, len(sb.breakers))
	for name, cb := range sb.breakers {
		states[name] = cb.Snapshot()
	}
	return states
}
