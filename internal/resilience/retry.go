package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig shapes the backoff between registry attempts. Zero values fall
// back to the defaults shown on each field.
type RetryConfig struct {
	MaxAttempts    int           // total attempts including the first; 3
	InitialBackoff time.Duration // delay before the first retry; 500ms
	MaxBackoff     time.Duration // ceiling for any single delay, jitter included; 30s
	Multiplier     float64       // growth per attempt; 2
	JitterFraction float64       // ± share of the delay randomized; 0.25

	// ShouldRetry decides which errors earn another attempt. IsTransient
	// when nil.
	ShouldRetry func(err error) bool

	// OnRetry runs before each backoff sleep with the 1-based retry number.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the registry's standard retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts
// cfg.MaxAttempts or ctx ends. The last error is returned.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for calls that produce a value. fn receives the zero-based
// attempt number.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var (
		zero T
		err  error
	)
	for attempt := 0; ; attempt++ {
		var val T
		if val, err = fn(ctx, attempt); err == nil {
			return val, nil
		}
		last := attempt+1 >= cfg.MaxAttempts
		if ctx.Err() != nil || !retryable(err) || last {
			return zero, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}
		if !sleep(ctx, computeBackoff(attempt, cfg)) {
			return zero, err
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	cfg.JitterFraction = max(cfg.JitterFraction, 0)
	return cfg
}

// computeBackoff returns InitialBackoff × Multiplier^attempt, shifted by up
// to ±JitterFraction and clamped to [0, MaxBackoff].
func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.JitterFraction > 0 {
		d += d * cfg.JitterFraction * (2*rand.Float64() - 1)
	}
	return time.Duration(min(max(d, 0), float64(cfg.MaxBackoff)))
}

// RetryLogger returns an OnRetry hook that logs each retry of operation
// against service.
func RetryLogger(service, operation string) func(int, error) {
	log := zap.L().With(
		zap.String("service", service),
		zap.String("operation", operation),
	)
	return func(attempt int, err error) {
		log.Warn("retrying operation",
			zap.Int("attempt", attempt),
			zap.String("class", ClassifyError(err)),
			zap.Error(err),
		)
	}
}
