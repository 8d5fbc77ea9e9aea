package resilience

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrCostExceedsCapacity is returned when a single acquisition asks for more
// tokens than the bucket can ever hold.
var ErrCostExceedsCapacity = eris.New("rate limiter: cost exceeds bucket capacity")

// RateLimiterConfig controls a token bucket.
type RateLimiterConfig struct {
	// Capacity is the maximum number of stored tokens. Default: 5.
	Capacity float64
	// RefillRate is the number of tokens added per second. Default: 5.
	RefillRate rate.Limit
}

// DefaultRateLimiterConfig returns a conservative 5 req/s bucket.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{Capacity: 5, RefillRate: 5}
}

// RateLimiterState is a consistent snapshot of a token bucket.
type RateLimiterState struct {
	Tokens              float64   `json:"tokens"`
	Capacity            float64   `json:"capacity"`
	RefillRatePerSecond float64   `json:"refill_rate_per_second"`
	LastRefillAt        time.Time `json:"last_refill_at"`
}

// RateLimiter is a token bucket that refills lazily at acquisition time.
// Tokens never go negative: a caller that cannot be served waits on a timer
// for exactly the deficit and then tries again.
type RateLimiter struct {
	mu           sync.Mutex
	tokens       float64
	capacity     float64
	refill       rate.Limit
	baseRefill   rate.Limit
	lastRefillAt time.Time

	// OnWait observes every suspension; used for metrics.
	OnWait func(d time.Duration)

	warn    rate.Sometimes
	nowFunc func() time.Time
}

// NewRateLimiter creates a full token bucket.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 5
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = 5
	}
	now := time.Now()
	return &RateLimiter{
		tokens:       cfg.Capacity,
		capacity:     cfg.Capacity,
		refill:       cfg.RefillRate,
		baseRefill:   cfg.RefillRate,
		lastRefillAt: now,
		warn:         rate.Sometimes{Interval: 30 * time.Second},
		nowFunc:      time.Now,
	}
}

// Acquire takes cost tokens, suspending the calling goroutine until enough
// are available. Only context cancellation or an impossible cost end the
// wait early; requests are never dropped.
func (l *RateLimiter) Acquire(ctx context.Context, cost float64) error {
	if cost <= 0 {
		cost = 1
	}
	if cost > l.capacity {
		return eris.Wrapf(ErrCostExceedsCapacity, "cost %.2f, capacity %.2f", cost, l.capacity)
	}

	for {
		wait := l.tryTake(cost)
		if wait == 0 {
			return nil
		}

		if l.OnWait != nil {
			l.OnWait(wait)
		}
		l.warn.Do(func() {
			zap.L().Warn("rate limiter saturated, waiting for tokens",
				zap.Duration("wait", wait),
				zap.Float64("cost", cost),
			)
		})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return eris.Wrap(ctx.Err(), "rate limiter: acquire")
		case <-timer.C:
		}
	}
}

// tryTake refills, then either deducts cost and returns 0 or returns the
// time until cost tokens will be available.
func (l *RateLimiter) tryTake(cost float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.tokens >= cost {
		l.tokens -= cost
		return 0
	}

	deficit := cost - l.tokens
	secs := deficit / float64(l.refill)
	wait := time.Duration(math.Ceil(secs * float64(time.Second)))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

func (l *RateLimiter) refillLocked() {
	now := l.nowFunc()
	elapsed := now.Sub(l.lastRefillAt)
	if elapsed <= 0 {
		return
	}
	l.tokens = math.Min(l.capacity, l.tokens+elapsed.Seconds()*float64(l.refill))
	l.lastRefillAt = now
}

// State returns a snapshot of the bucket after applying pending refill.
func (l *RateLimiter) State() RateLimiterState {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return RateLimiterState{
		Tokens:              l.tokens,
		Capacity:            l.capacity,
		RefillRatePerSecond: float64(l.refill),
		LastRefillAt:        l.lastRefillAt,
	}
}

// Throttle halves the refill rate after the upstream signals 429, down to a
// quarter of the configured rate.
func (l *RateLimiter) Throttle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	next := l.refill * 0.5
	if floor := l.baseRefill / 4; next < floor {
		next = floor
	}
	l.refill = next
	zap.L().Warn("rate limiter: reducing refill rate after 429",
		zap.Float64("refill_rate", float64(next)),
	)
}

// Recover raises a throttled refill rate by 20%, up to the configured rate.
func (l *RateLimiter) Recover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refill >= l.baseRefill {
		return
	}
	l.refillLocked()
	next := l.refill * 1.2
	if next > l.baseRefill {
		next = l.baseRefill
	}
	l.refill = next
}

// ServiceLimiters manages one token bucket per upstream endpoint.
type ServiceLimiters struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
	cfg      RateLimiterConfig
	onWait   func(service string, d time.Duration)
}

// NewServiceLimiters creates a registry of per-endpoint limiters sharing cfg.
func NewServiceLimiters(cfg RateLimiterConfig, onWait func(service string, d time.Duration)) *ServiceLimiters {
	return &ServiceLimiters{
		limiters: make(map[string]*RateLimiter),
		cfg:      cfg,
		onWait:   onWait,
	}
}

// Get returns the limiter for the named endpoint, creating one if needed.
func (sl *ServiceLimiters) Get(service string) *RateLimiter {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if l, ok := sl.limiters[service]; ok {
		return l
	}
	l := NewRateLimiter(sl.cfg)
	if sl.onWait != nil {
		l.OnWait = func(d time.Duration) { sl.onWait(service, d) }
	}
	sl.limiters[service] = l
	return l
}

// States returns a snapshot of every limiter.
func (sl *ServiceLimiters) States() map[string]RateLimiterState {
	sl.mu.Lock()
	limiters := make(map[string]*RateLimiter, len(sl.limiters))
	for k, v := range sl.limiters {
		limiters[k] = v
	}
	sl.mu.Unlock()

	states := make(map[string]RateLimiterState, len(limiters))
	for name, l := range limiters {
		states[name] = l.State()
	}
	return states
}
