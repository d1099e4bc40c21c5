package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/capshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/monitoring"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// Counts holds the statistics for the circuit breaker
type Counts = gobreaker.Counts

// Settings configures the circuit breaker behavior
type Settings struct {
	// MaxRequests is the number of requests allowed in half-open state
	MaxRequests uint32
	// Interval is the cyclic period of the closed state to clear counts
	Interval time.Duration
	// Timeout is the period of the open state until half-open
	Timeout time.Duration
	// FailureThreshold trips the breaker after this many consecutive failures.
	// Ignored when ReadyToTrip is set.
	FailureThreshold uint32
	// ReadyToTrip overrides FailureThreshold
	ReadyToTrip func(counts Counts) bool
	// IsSuccessful classifies errors; nil errors are always successes
	IsSuccessful func(err error) bool
	// OnStateChange is called whenever the state changes
	OnStateChange func(name string, from State, to State)
}

// Breaker guards calls to the remote capability service. Only transport
// failures count; a remote status code is a successful call.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a circuit breaker. logger and metrics may be nil.
func New(name string, settings Settings, logger *logging.Logger, metrics *monitoring.Metrics) *Breaker {
	if logger == nil {
		logger = logging.NewNop()
	}
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Interval == 0 {
		settings.Interval = 60 * time.Second
	}
	if settings.Timeout == 0 {
		settings.Timeout = 60 * time.Second
	}
	if settings.ReadyToTrip == nil {
		threshold := settings.FailureThreshold
		if threshold == 0 {
			threshold = 5
		}
		settings.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		}
	}

	metrics.SetBreakerState(name, int(StateClosed))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         name,
		MaxRequests:  settings.MaxRequests,
		Interval:     settings.Interval,
		Timeout:      settings.Timeout,
		ReadyToTrip:  settings.ReadyToTrip,
		IsSuccessful: settings.IsSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(name, int(to))
			if settings.OnStateChange != nil {
				settings.OnStateChange(name, from, to)
			}
		},
	})

	return &Breaker{cb: cb}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.cb.Name()
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	return b.cb.State()
}

// Counts returns a copy of the internal counts
func (b *Breaker) Counts() Counts {
	return b.cb.Counts()
}

// Execute runs req if the breaker accepts it
func (b *Breaker) Execute(req func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(req)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return nil, ErrCircuitOpen
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, ErrTooManyRequests
	}
	return result, err
}
