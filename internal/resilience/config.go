package resilience

import "time"

const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 2

	DefaultMaxAttempts  = 3
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
	DefaultJitterFactor = 0.2

	// Session REST calls sit on the call-start path, so they give up quickly.
	SessionMaxAttempts = 3
	SessionBaseDelay   = 250 * time.Millisecond
	SessionMaxDelay    = 2 * time.Second
)

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	Name              string
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // time open before a trial request
	HalfOpenSuccesses int           // trial successes needed to close
}

// DefaultBreakerConfig returns general purpose settings.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:              name,
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}

// Strategy selects how the delay grows between attempts.
type Strategy int

const (
	Exponential Strategy = iota
	Linear
)

func (s Strategy) String() string {
	if s == Linear {
		return "linear"
	}
	return "exponential"
}

// RetryConfig tunes Retry and Delay.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration // 0 leaves linear delays uncapped
	JitterFactor float64       // 0 disables jitter
	Strategy     Strategy
	IsRetryable  func(error) bool
}

// SessionRetryConfig is used for the token and session endpoints.
func SessionRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  SessionMaxAttempts,
		BaseDelay:    SessionBaseDelay,
		MaxDelay:     SessionMaxDelay,
		JitterFactor: DefaultJitterFactor,
		Strategy:     Exponential,
		IsRetryable:  IsRetryable,
	}
}

// ReconnectConfig grows the delay by base on every attempt, with no jitter.
func ReconnectConfig(maxAttempts int, base time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		Strategy:    Linear,
		IsRetryable: func(error) bool { return true },
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 && c.Strategy == Exponential {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsRetryable
	}
	return c
}
