package resilience

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// State is a circuit breaker position.
type State uint32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned while the breaker is failing fast.
var ErrOpen = errors.New("circuit breaker open")

// Breaker stops hammering an endpoint that keeps failing.
type Breaker struct {
	cfg         BreakerConfig
	state       atomic.Uint32
	failures    atomic.Int32
	successes   atomic.Int32
	lastFailure atomic.Int64
	onChange    func(from, to State)
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults()}
}

// OnChange registers a transition callback.
func (b *Breaker) OnChange(fn func(from, to State)) *Breaker {
	b.onChange = fn
	return b
}

// Allow returns ErrOpen when the request should not be attempted.
func (b *Breaker) Allow() error {
	if State(b.state.Load()) != Open {
		return nil
	}
	last := b.lastFailure.Load()
	if last != 0 && time.Since(time.Unix(0, last)) <= b.cfg.ResetTimeout {
		return ErrOpen
	}
	b.transition(HalfOpen)
	return nil
}

// Success records a completed request.
func (b *Breaker) Success() {
	switch State(b.state.Load()) {
	case HalfOpen:
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.transition(Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

// Failure records a failed request.
func (b *Breaker) Failure() {
	b.lastFailure.Store(time.Now().UnixNano())
	n := b.failures.Add(1)
	switch State(b.state.Load()) {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		if n >= int32(b.cfg.Threshold) {
			b.transition(Open)
		}
	}
}

// State returns the current position.
func (b *Breaker) State() State { return State(b.state.Load()) }

// Reset closes the breaker.
func (b *Breaker) Reset() { b.transition(Closed) }

func (b *Breaker) transition(to State) {
	from := State(b.state.Swap(uint32(to)))
	if from == to {
		return
	}
	b.successes.Store(0)
	if to == Closed {
		b.failures.Store(0)
	}
	slog.Info("circuit breaker transition", "name", b.cfg.Name, "from", from, "to", to)
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// Do runs fn under breaker protection and returns its result.
// Only errors accepted by countable are recorded as failures.
func Do[T any](b *Breaker, countable func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	v, err := fn()
	if err != nil {
		if countable == nil || countable(err) {
			b.Failure()
		}
		return zero, err
	}
	b.Success()
	return v, nil
}
