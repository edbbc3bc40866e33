package circuitbreaker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/maltehedderich/mealplan-api/internal/clock"
	"github.com/maltehedderich/mealplan-api/internal/logger"
	"github.com/maltehedderich/mealplan-api/internal/metrics"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed means calls go through
	StateClosed State = iota
	// StateOpen means calls fail fast
	StateOpen
	// StateHalfOpen means a few trial calls test for recovery
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the provider while the circuit is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config contains circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes before closing
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing
	Timeout time.Duration
	// MaxRequests caps concurrent trial calls while half-open
	MaxRequests int
}

// DefaultConfig returns default circuit breaker configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MaxRequests:      1,
	}
}

// CircuitBreaker guards calls to one AI provider
type CircuitBreaker struct {
	name             string
	config           *Config
	clock            clock.Clock
	state            State
	failures         int
	successes        int
	halfOpenRequests int
	lastStateChange  time.Time
	mu               sync.Mutex
	logger           *logger.ComponentLogger
}

// New creates a closed circuit breaker
func New(name string, config *Config, clk clock.Clock) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	if clk == nil {
		clk = clock.System{}
	}
	metrics.SetCircuitBreakerState(name, int(StateClosed))
	return &CircuitBreaker{
		name:            name,
		config:          config,
		clock:           clk,
		state:           StateClosed,
		lastStateChange: clk.Now(),
		logger:          logger.Get().WithComponent("circuitbreaker"),
	}
}

// Execute runs fn unless the circuit is open. A call abandoned by its own
// caller says nothing about the provider and is not counted either way.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)

	if ctx.Err() == context.Canceled {
		cb.release()
		return err
	}
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.clock.Now().Sub(cb.lastStateChange) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.halfOpenRequests = 1
		return nil
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.config.MaxRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenRequests++
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenRequests > 0 {
		cb.halfOpenRequests--
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenRequests > 0 {
		cb.halfOpenRequests--
	}
	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.successes = 0

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

// setState must be called with cb.mu held
func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.clock.Now()
	if newState == StateClosed {
		cb.failures = 0
		cb.successes = 0
		cb.halfOpenRequests = 0
	}
	if newState == StateHalfOpen {
		cb.successes = 0
	}

	metrics.SetCircuitBreakerState(cb.name, int(newState))
	metrics.RecordCircuitBreakerTransition(cb.name, oldState.String(), newState.String())

	cb.logger.Warn("circuit breaker state changed", logger.Fields{
		"provider":  cb.name,
		"old_state": oldState.String(),
		"new_state": newState.String(),
		"failures":  cb.failures,
	})
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen reports whether calls currently fail fast
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// Name returns the provider name the breaker guards
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.failures = 0
}

// Manager hands out one breaker per provider
type Manager struct {
	breakers map[string]*CircuitBreaker
	config   *Config
	clock    clock.Clock
	mu       sync.Mutex
}

// NewManager creates a manager whose breakers share config
func NewManager(config *Config, clk clock.Clock) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		clock:    clk,
	}
}

// Get returns the breaker for provider, creating it on first use
func (m *Manager) Get(provider string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[provider]; ok {
		return cb
	}
	cb := New(provider, m.config, m.clock)
	m.breakers[provider] = cb
	return cb
}

// Open returns the providers whose circuit is open, sorted
func (m *Manager) Open() []string {
	m.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		breakers = append(breakers, cb)
	}
	m.mu.Unlock()

	var open []string
	for _, cb := range breakers {
		if cb.IsOpen() {
			open = append(open, cb.name)
		}
	}
	sort.Strings(open)
	return open
}
