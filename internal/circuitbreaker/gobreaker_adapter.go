// Package circuitbreaker guards calls to remote hosts with Sony's gobreaker.
// The two-step form is used so callers can ask whether a call is allowed
// before doing any work, and report the outcome afterwards.
package circuitbreaker

import (
	stderrors "errors"
	"fmt"
	"time"

	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned by Allow while a breaker rejects calls.
var ErrOpen = stderrors.New("circuit breaker open")

// Config holds the configuration for a circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures int
	// Timeout is how long the breaker stays open before allowing a trial request
	Timeout time.Duration
	// HalfOpenRequests is the number of trial calls allowed while half-open
	HalfOpenRequests int
}

func DefaultConfig() Config {
	return Config{
		MaxFailures:      5,
		Timeout:          60 * time.Second,
		HalfOpenRequests: 1,
	}
}

func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("MaxFailures must be positive, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive, got %v", c.Timeout)
	}
	if c.HalfOpenRequests <= 0 {
		return fmt.Errorf("HalfOpenRequests must be positive, got %d", c.HalfOpenRequests)
	}
	return nil
}

// State represents the current state of the circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// Stats is a snapshot of one breaker.
type Stats struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Failures            int    `json:"failures"`
	Successes           int    `json:"successes"`
}

// Breaker wraps a gobreaker.TwoStepCircuitBreaker.
type Breaker struct {
	name    string
	breaker *gobreaker.TwoStepCircuitBreaker
}

// New creates a breaker. An invalid config falls back to DefaultConfig.
func New(name string, config Config, logger logging.Logger) *Breaker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.Field{Key: "error", Value: err.Error()},
			logging.Field{Key: "name", Value: name},
		)
		config = DefaultConfig()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.HalfOpenRequests),
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.Field{Key: "breaker", Value: name},
				logging.Field{Key: "from", Value: from.String()},
				logging.Field{Key: "to", Value: to.String()},
			)
		},
	}

	return &Breaker{name: name, breaker: gobreaker.NewTwoStepCircuitBreaker(settings)}
}

// Allow asks whether a call may proceed. On success the caller must invoke
// done exactly once with the call's outcome.
func (b *Breaker) Allow() (done func(success bool), err error) {
	done, err = b.breaker.Allow()
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrOpen, b.name)
	}
	return done, err
}

// Execute runs fn when allowed. Errors that IsRetryable rejects count as
// successes for the breaker since the remote side answered.
func (b *Breaker) Execute(fn func() error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}
	callErr := fn()
	done(callErr == nil || !errors.IsRetryable(callErr))
	return callErr
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	switch b.breaker.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func (b *Breaker) IsOpen() bool {
	return b.breaker.State() == gobreaker.StateOpen
}

func (b *Breaker) Stats() Stats {
	counts := b.breaker.Counts()
	return Stats{
		Name:                b.name,
		State:               b.State().String(),
		ConsecutiveFailures: int(counts.ConsecutiveFailures),
		Failures:            int(counts.TotalFailures),
		Successes:           int(counts.TotalSuccesses),
	}
}
