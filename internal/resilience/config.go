package resilience

import (
	"time"

	"golang.org/x/time/rate"
)

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, windowSecs, cooldownSecs, maxCooldownSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if windowSecs > 0 {
		cfg.Window = time.Duration(windowSecs) * time.Second
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	if maxCooldownSecs > 0 {
		cfg.MaxCooldown = time.Duration(maxCooldownSecs) * time.Second
	}
	return cfg
}

// FromRateConfig converts config values to a RateLimiterConfig.
func FromRateConfig(capacity int, refillPerSecond float64) RateLimiterConfig {
	cfg := DefaultRateLimiterConfig()
	if capacity > 0 {
		cfg.Capacity = float64(capacity)
	}
	if refillPerSecond > 0 {
		cfg.RefillRate = rate.Limit(refillPerSecond)
	}
	return cfg
}
