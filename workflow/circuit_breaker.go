package workflow

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState is the state of a node's circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the recovery timeout elapses
	CircuitOpen
	// CircuitHalfOpen lets a limited number of trial calls through
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

// CircuitBreakerConfig tunes a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// RecoveryTimeout is how long an open circuit waits before probing.
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	// HalfOpenMaxCalls caps concurrent calls in flight while half open.
	HalfOpenMaxCalls int `json:"half_open_max_calls" yaml:"half_open_max_calls"`
	// SuccessThreshold is the number of half-open successes that closes the circuit.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
}

// DefaultCircuitBreakerConfig returns the default breaker tuning.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
		SuccessThreshold: 2,
	}
}

// CircuitEvent describes a breaker state change.
type CircuitEvent struct {
	NodeID    string       `json:"node_id"`
	From      CircuitState `json:"from"`
	To        CircuitState `json:"to"`
	Timestamp time.Time    `json:"timestamp"`
	Reason    string       `json:"reason"`
	Failures  int          `json:"failures"`
}

// CircuitListener receives breaker state changes. It is called
// synchronously while the breaker is locked and must not call back into it.
type CircuitListener func(CircuitEvent)

// CircuitBreaker guards the executor of one node.
type CircuitBreaker struct {
	nodeID   string
	cfg      CircuitBreakerConfig
	listener CircuitListener
	logger   *zap.Logger

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	inFlight    int
	lastFailure time.Time
	now         func() time.Time
}

// NewCircuitBreaker creates a closed breaker for nodeID. Thresholds below
// one are raised to one.
func NewCircuitBreaker(nodeID string, cfg CircuitBreakerConfig, listener CircuitListener, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.FailureThreshold = max(cfg.FailureThreshold, 1)
	cfg.HalfOpenMaxCalls = max(cfg.HalfOpenMaxCalls, 1)
	cfg.SuccessThreshold = max(cfg.SuccessThreshold, 1)
	return &CircuitBreaker{
		nodeID:   nodeID,
		cfg:      cfg,
		listener: listener,
		logger:   logger.With(zap.String("node_id", nodeID)),
		state:    CircuitClosed,
		now:      time.Now,
	}
}

// Allow reports whether a call may proceed. The returned error wraps
// ErrCircuitOpen.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		waited := cb.now().Sub(cb.lastFailure)
		if waited < cb.cfg.RecoveryTimeout {
			return fmt.Errorf("%w: node %s, %d consecutive failures, retry in %v",
				ErrCircuitOpen, cb.nodeID, cb.failures, cb.cfg.RecoveryTimeout-waited)
		}
		cb.transition(CircuitHalfOpen, "recovery timeout elapsed")
		cb.inFlight = 1
		cb.successes = 0
		return nil
	case CircuitHalfOpen:
		if cb.inFlight >= cb.cfg.HalfOpenMaxCalls {
			return fmt.Errorf("%w: node %s, %d trial calls in flight", ErrCircuitOpen, cb.nodeID, cb.inFlight)
		}
		cb.inFlight++
		return nil
	default:
		return nil
	}
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.inFlight = max(cb.inFlight-1, 0)
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.failures = 0
			cb.transition(CircuitClosed, fmt.Sprintf("%d half-open successes", cb.successes))
			cb.successes = 0
			cb.inFlight = 0
		}
	}
}

// RecordFailure reports a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(CircuitOpen, fmt.Sprintf("%d consecutive failures", cb.failures))
		}
	case CircuitHalfOpen:
		cb.successes = 0
		cb.inFlight = 0
		cb.transition(CircuitOpen, "half-open call failed")
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.successes, cb.inFlight = 0, 0, 0
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed, "reset")
	}
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to CircuitState, reason string) {
	from := cb.state
	cb.state = to

	cb.logger.Info("circuit breaker state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason),
		zap.Int("failures", cb.failures))

	if cb.listener != nil {
		cb.listener(CircuitEvent{
			NodeID:    cb.nodeID,
			From:      from,
			To:        to,
			Timestamp: cb.now(),
			Reason:    reason,
			Failures:  cb.failures,
		})
	}
}

// CircuitBreakerRegistry hands out one breaker per node id.
type CircuitBreakerRegistry struct {
	cfg      CircuitBreakerConfig
	listener CircuitListener
	logger   *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerRegistry creates an empty registry.
func NewCircuitBreakerRegistry(cfg CircuitBreakerConfig, listener CircuitListener, logger *zap.Logger) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		cfg:      cfg,
		listener: listener,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for nodeID, creating it on first use.
func (r *CircuitBreakerRegistry) Get(nodeID string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[nodeID]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[nodeID]; ok {
		return cb
	}
	cb = NewCircuitBreaker(nodeID, r.cfg, r.listener, r.logger)
	r.breakers[nodeID] = cb
	return cb
}

// States returns the state of every breaker created so far.
func (r *CircuitBreakerRegistry) States() map[string]CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]CircuitState, len(r.breakers))
	for id, cb := range r.breakers {
		out[id] = cb.State()
	}
	return out
}
