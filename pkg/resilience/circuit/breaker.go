// Package circuit provides a circuit breaker shared by the LLM and search adapters so a
// dead provider stops costing a full retry cycle on every call.
package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State of a breaker.
type State int

// Breaker states.
const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes a breaker.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// DefaultConfig opens after 5 consecutive failures and probes again after 30s.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	Cooldown:         30 * time.Second,
}

// ErrOpen is matched by every *OpenError.
var ErrOpen = errors.New("circuit open")

// OpenError is returned without calling the provider while the breaker is open.
type OpenError struct {
	Name  string
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s circuit breaker is %s", e.Name, e.State)
}

// Is makes errors.Is(err, ErrOpen) work.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Breaker tracks consecutive failures for one dependency.
type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	openedAt     time.Time
}

// New creates a closed breaker.
func New(name string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultConfig.SuccessThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig.Cooldown
	}
	return &Breaker{name: name, config: config, now: time.Now}
}

// Allow returns nil when a call may proceed, or an *OpenError.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return &OpenError{Name: b.name, State: Open}
		}
		b.state = HalfOpen
		b.successCount = 0
	}
	return nil
}

// Record feeds the outcome of an allowed call back into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failureCount = 0
		if b.state == HalfOpen {
			b.successCount++
			if b.successCount >= b.config.SuccessThreshold {
				b.state = Closed
				b.successCount = 0
			}
		}
		return
	}

	b.failureCount++
	if b.state == HalfOpen || b.failureCount >= b.config.FailureThreshold {
		b.state = Open
		b.openedAt = b.now()
		b.successCount = 0
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
}
