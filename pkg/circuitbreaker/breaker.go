package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/speedrun-hq/bridge-harness/pkg/logger"
	"github.com/speedrun-hq/bridge-harness/pkg/metrics"
)

// Config holds the breaker thresholds shared by every chain.
type Config struct {
	Enabled       bool
	Threshold     int
	FailureWindow time.Duration
	ResetTimeout  time.Duration
}

// CircuitBreaker stops scheduling work against a chain whose RPC keeps failing
type CircuitBreaker struct {
	chainID       int
	enabled       bool
	failureCount  int
	failureWindow time.Duration
	failThreshold int
	resetTimeout  time.Duration
	lastFailure   time.Time
	tripped       bool
	tripTime      time.Time
	now           func() time.Time
	logger        logger.Logger
	mu            sync.Mutex
}

// NewCircuitBreaker creates a breaker for a single chain
func NewCircuitBreaker(chainID int, cfg Config, log logger.Logger) *CircuitBreaker {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &CircuitBreaker{
		chainID:       chainID,
		enabled:       cfg.Enabled,
		failThreshold: cfg.Threshold,
		failureWindow: cfg.FailureWindow,
		resetTimeout:  cfg.ResetTimeout,
		now:           time.Now,
		logger:        log,
	}
}

// WithClock replaces the time source, for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
	return cb
}

// RecordFailure records a failure and trips the circuit if threshold is exceeded
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	if cb.tripped {
		if now.Sub(cb.tripTime) > cb.resetTimeout {
			cb.logger.InfoWithChain(cb.chainID, "Circuit breaker: attempting to reset after timeout")
			cb.setTripped(false)
			cb.failureCount = 0
		} else {
			return true
		}
	}

	if now.Sub(cb.lastFailure) > cb.failureWindow {
		cb.failureCount = 0
	}

	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.failThreshold {
		cb.setTripped(true)
		cb.tripTime = now
		cb.logger.ErrorWithChain(cb.chainID, "Circuit breaker tripped: %d failures in window", cb.failureCount)
		return true
	}

	return false
}

// RecordSuccess clears the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.tripped {
		cb.failureCount = 0
	}
}

// IsOpen returns true if the circuit is open (tripped)
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// half-open after the reset timeout: let the next scenario probe the chain
	if cb.tripped && cb.now().Sub(cb.tripTime) > cb.resetTimeout {
		cb.setTripped(false)
		cb.failureCount = 0
		return false
	}

	return cb.tripped
}

// Reset manually resets the circuit breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setTripped(false)
	cb.failureCount = 0
}

// State is a snapshot for the status endpoint.
type State struct {
	ChainID       int       `json:"chain_id"`
	Enabled       bool      `json:"enabled"`
	Open          bool      `json:"open"`
	FailureCount  int       `json:"failure_count"`
	FailThreshold int       `json:"fail_threshold"`
	LastFailure   time.Time `json:"last_failure,omitempty"`
	TripTime      time.Time `json:"trip_time,omitempty"`
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return State{
		ChainID:       cb.chainID,
		Enabled:       cb.enabled,
		Open:          cb.tripped,
		FailureCount:  cb.failureCount,
		FailThreshold: cb.failThreshold,
		LastFailure:   cb.lastFailure,
		TripTime:      cb.tripTime,
	}
}

func (cb *CircuitBreaker) setTripped(tripped bool) {
	cb.tripped = tripped
	v := 0.0
	if tripped {
		v = 1
	}
	metrics.CircuitOpen.WithLabelValues(fmt.Sprintf("%d", cb.chainID)).Set(v)
}

// Set holds one breaker per chain, created on first use.
type Set struct {
	cfg      Config
	logger   logger.Logger
	breakers map[int]*CircuitBreaker
	mu       sync.Mutex
}

func NewSet(cfg Config, log logger.Logger) *Set {
	return &Set{cfg: cfg, logger: log, breakers: make(map[int]*CircuitBreaker)}
}

// For returns the breaker guarding chainID.
func (s *Set) For(chainID int) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[chainID]
	if !ok {
		cb = NewCircuitBreaker(chainID, s.cfg, s.logger)
		s.breakers[chainID] = cb
	}
	return cb
}

// AnyOpen reports whether any of chainIDs is tripped, and which.
func (s *Set) AnyOpen(chainIDs ...int) (int, bool) {
	for _, id := range chainIDs {
		if s.For(id).IsOpen() {
			return id, true
		}
	}
	return 0, false
}

// States snapshots every breaker created so far.
func (s *Set) States() []State {
	s.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(s.breakers))
	for _, cb := range s.breakers {
		breakers = append(breakers, cb)
	}
	s.mu.Unlock()

	states := make([]State, 0, len(breakers))
	for _, cb := range breakers {
		states = append(states, cb.GetState())
	}
	return states
}
