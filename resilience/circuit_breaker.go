package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cogniforge/qpipeline/core"
)

// CircuitBreakerConfig configures one breaker (§4.3 defaults).
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	Cooldown         time.Duration
	HalfOpenMaxCalls int
}

func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: core.DefaultFailureThreshold,
		Cooldown:         core.DefaultCooldown,
		HalfOpenMaxCalls: core.DefaultHalfOpenMaxCalls,
	}
}

// CircuitBreaker implements core.CircuitBreaker with the CLOSED/OPEN/
// HALF_OPEN state machine of §4.3. Unlike the teacher's sliding-window
// implementation (resilience/circuit_breaker.go, ~1300 lines), this one
// tracks consecutive failures directly, matching the spec's threshold rule
// exactly ("consecutive_failures >= failure_threshold").
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu                 sync.Mutex
	state              core.CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenInFlight    int
	totalCalls          int64
	totalFailures       int64
}

var _ core.CircuitBreaker = (*CircuitBreaker)(nil)

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = core.DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = core.DefaultCooldown
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = core.DefaultHalfOpenMaxCalls
	}
	return &CircuitBreaker{cfg: cfg, state: core.StateClosed}
}

// cooldownExpired must be called with mu held.
func (b *CircuitBreaker) cooldownExpired() bool {
	return !b.lastFailureTime.IsZero() && time.Since(b.lastFailureTime) >= b.cfg.Cooldown
}

// admit decides whether a call may proceed, transitioning OPEN->HALF_OPEN
// when the cooldown has elapsed (§4.3). Must be called with mu held.
func (b *CircuitBreaker) admit() bool {
	switch b.state {
	case core.StateClosed:
		return true
	case core.StateOpen:
		if b.cooldownExpired() {
			b.state = core.StateHalfOpen
			b.halfOpenInFlight = 0
			return b.admit()
		}
		return false
	case core.StateHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxCalls {
			return false
		}
		b.halfOpenInFlight++
		return true
	}
	return false
}

// Execute runs fn under breaker protection (§4.3's execute contract).
func (b *CircuitBreaker) Execute(_ context.Context, fn func() error) error {
	b.mu.Lock()
	if !b.admit() {
		b.mu.Unlock()
		return core.ErrCircuitBreakerOpen
	}
	wasHalfOpen := b.state == core.StateHalfOpen
	b.totalCalls++
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.totalFailures++
		b.consecutiveFailures++
		b.lastFailureTime = time.Now()
		if wasHalfOpen {
			b.state = core.StateOpen
			b.halfOpenInFlight = 0
		} else if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = core.StateOpen
		}
		return err
	}

	b.consecutiveFailures = 0
	if wasHalfOpen {
		b.state = core.StateClosed
		b.halfOpenInFlight = 0
	}
	return nil
}

// CanExecute reports whether the breaker currently accepts calls, without
// performing one: true in CLOSED and HALF_OPEN (even when every half-open
// trial slot is taken) and in OPEN once the cooldown has elapsed.
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case core.StateClosed, core.StateHalfOpen:
		return true
	default:
		return b.cooldownExpired()
	}
}

// IsAvailable is CanExecute under another name, matching §4.3's vocabulary
// ("is_available ... eager re-probe allowed").
func (b *CircuitBreaker) IsAvailable() bool {
	return b.CanExecute()
}

func (b *CircuitBreaker) State() core.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	var lastFailureNanos int64
	if !b.lastFailureTime.IsZero() {
		lastFailureNanos = b.lastFailureTime.UnixNano()
	}
	return core.CircuitBreakerState{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureTime:     lastFailureNanos,
		HalfOpenCalls:       b.halfOpenInFlight,
		TotalCalls:          b.totalCalls,
		TotalFailures:       b.totalFailures,
	}
}

func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = core.StateClosed
	b.consecutiveFailures = 0
	b.halfOpenInFlight = 0
	b.lastFailureTime = time.Time{}
}
