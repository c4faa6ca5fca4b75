package resilience

import (
	"math"
	"time"
)

type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32

	// fixed keeps a zero delay as "retry immediately" instead of falling back to the default.
	fixed bool
}

// DefaultConfig is the exponential policy used for infrastructure calls such as task publishing.
func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 500 * time.Millisecond,
		RetryMaxBackoff:     5 * time.Second,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// FixedRetry bounds an operation to maxRetries retries spaced by a constant delay.
// A zero delay retries immediately. The breaker is off unless the caller enables it.
func FixedRetry(maxRetries int, delay time.Duration) Config {
	cfg := DefaultConfig()
	cfg.RetryMaxAttempts = max(maxRetries, 0) + 1
	cfg.RetryInitialBackoff = delay
	cfg.RetryMaxBackoff = delay
	cfg.RetryMultiplier = 1
	cfg.BreakerEnabled = false
	cfg.fixed = true
	return cfg
}

// delay returns the wait after the given failed attempt (1-based).
func (c Config) delay(attempt int) time.Duration {
	d := float64(c.RetryInitialBackoff) * math.Pow(c.RetryMultiplier, float64(attempt-1))
	if d > float64(c.RetryMaxBackoff) {
		return c.RetryMaxBackoff
	}
	return time.Duration(d)
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if !out.fixed {
		if out.RetryInitialBackoff <= 0 {
			out.RetryInitialBackoff = def.RetryInitialBackoff
		}
		if out.RetryMaxBackoff <= 0 {
			out.RetryMaxBackoff = def.RetryMaxBackoff
		}
	}
	out.RetryMaxBackoff = max(out.RetryMaxBackoff, out.RetryInitialBackoff)
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	return out
}
