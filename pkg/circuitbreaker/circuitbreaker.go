package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned while the breaker is refusing calls.
var ErrOpen = errors.New("circuit breaker is open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

type Settings struct {
	Name string
	// MaxFailures is the consecutive-failure threshold that opens the
	// breaker.
	MaxFailures int
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

// CircuitBreaker guards calls to a flaky dependency. After MaxFailures
// consecutive failures it rejects calls outright until Timeout elapses,
// then lets one probe through.
type CircuitBreaker struct {
	name        string
	maxFailures int
	timeout     time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       State
}

func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	return &CircuitBreaker{
		name:        settings.Name,
		maxFailures: settings.MaxFailures,
		timeout:     settings.Timeout,
		state:       StateClosed,
	}
}

func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) <= cb.timeout {
			cb.mu.Unlock()
			return ErrOpen
		}
		cb.state = StateHalfOpen
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		}
		return err
	}

	cb.state = StateClosed
	cb.failures = 0
	return nil
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
