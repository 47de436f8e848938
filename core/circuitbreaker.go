package core

import "context"

// CircuitState is the three-state machine of §4.3.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerState is the read-only snapshot exposed by State (§3).
type CircuitBreakerState struct {
	State              CircuitState
	ConsecutiveFailures int
	LastFailureTime     int64 // unix nanos, 0 if never failed
	HalfOpenCalls       int
	TotalCalls          int64
	TotalFailures       int64
}

// ErrorRate is failures/total, 0 if no calls yet.
func (s CircuitBreakerState) ErrorRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(s.TotalCalls)
}

// CircuitBreaker is the contract every concrete breaker (package resilience)
// satisfies, mirroring the teacher's core.CircuitBreaker interface split
// between the contract (here) and the implementation (resilience package).
type CircuitBreaker interface {
	Execute(ctx context.Context, fn func() error) error
	CanExecute() bool
	IsAvailable() bool
	State() CircuitBreakerState
	Reset()
}
