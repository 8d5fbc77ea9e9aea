package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newClockedLimiter(cfg RateLimiterConfig, now *time.Time) *RateLimiter {
	l := NewRateLimiter(cfg)
	l.nowFunc = func() time.Time { return *now }
	l.lastRefillAt = *now
	return l
}

func TestRateLimiter_StartsFull(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{Capacity: 3, RefillRate: 1})
	st := l.State()
	if st.Tokens != 3 || st.Capacity != 3 {
		t.Errorf("expected full bucket of 3, got %+v", st)
	}
}

func TestRateLimiter_AcquireDeducts(t *testing.T) {
	now := time.Now()
	l := newClockedLimiter(RateLimiterConfig{Capacity: 5, RefillRate: 1}, &now)

	for i := 0; i < 5; i++ {
		if err := l.Acquire(context.Background(), 1); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if got := l.State().Tokens; got != 0 {
		t.Errorf("expected 0 tokens, got %v", got)
	}
}

func TestRateLimiter_RefillIsLazyAndCapped(t *testing.T) {
	now := time.Now()
	l := newClockedLimiter(RateLimiterConfig{Capacity: 4, RefillRate: 2}, &now)

	for i := 0; i < 4; i++ {
		_ = l.Acquire(context.Background(), 1)
	}

	now = now.Add(1 * time.Second)
	if got := l.State().Tokens; got != 2 {
		t.Errorf("expected 2 tokens after 1s at 2/s, got %v", got)
	}

	now = now.Add(1 * time.Hour)
	if got := l.State().Tokens; got != 4 {
		t.Errorf("expected tokens capped at capacity 4, got %v", got)
	}
}

func TestRateLimiter_TryTakeReportsDeficit(t *testing.T) {
	now := time.Now()
	l := newClockedLimiter(RateLimiterConfig{Capacity: 2, RefillRate: 4}, &now)

	if w := l.tryTake(2); w != 0 {
		t.Fatalf("expected immediate take, got wait %v", w)
	}
	w := l.tryTake(1)
	if w != 250*time.Millisecond {
		t.Errorf("expected 250ms wait for one token at 4/s, got %v", w)
	}
	if got := l.State().Tokens; got != 0 {
		t.Errorf("a refused take must not change tokens, got %v", got)
	}
}

func TestRateLimiter_WaitsThenSucceeds(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{Capacity: 1, RefillRate: 50})
	var waited time.Duration
	l.OnWait = func(d time.Duration) { waited += d }

	ctx := context.Background()
	if err := l.Acquire(ctx, 1); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Acquire(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("expected second acquire to wait for refill")
	}
	if waited == 0 {
		t.Error("expected OnWait to observe the suspension")
	}
}

func TestRateLimiter_ContextCancelled(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{Capacity: 1, RefillRate: 0.01})
	_ = l.Acquire(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestRateLimiter_CostExceedsCapacity(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{Capacity: 2, RefillRate: 1})
	err := l.Acquire(context.Background(), 3)
	if !errors.Is(err, ErrCostExceedsCapacity) {
		t.Errorf("expected ErrCostExceedsCapacity, got %v", err)
	}
}

func TestRateLimiter_TokensStayInBounds(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{Capacity: 3, RefillRate: 500})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Acquire(context.Background(), 1)
			st := l.State()
			if st.Tokens < 0 || st.Tokens > st.Capacity {
				t.Errorf("tokens out of bounds: %v", st.Tokens)
			}
		}()
	}
	wg.Wait()
}

func TestRateLimiter_ThrottleAndRecover(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{Capacity: 5, RefillRate: 8})

	l.Throttle()
	if got := l.State().RefillRatePerSecond; got != 4 {
		t.Errorf("expected 4/s after throttle, got %v", got)
	}
	l.Throttle()
	l.Throttle()
	if got := l.State().RefillRatePerSecond; got != 2 {
		t.Errorf("expected floor of 2/s, got %v", got)
	}

	for i := 0; i < 20; i++ {
		l.Recover()
	}
	if got := l.State().RefillRatePerSecond; got != 8 {
		t.Errorf("expected full recovery to 8/s, got %v", got)
	}
}

func TestServiceLimiters_PerEndpoint(t *testing.T) {
	var mu sync.Mutex
	waits := map[string]int{}
	sl := NewServiceLimiters(RateLimiterConfig{Capacity: 1, RefillRate: 100}, func(service string, _ time.Duration) {
		mu.Lock()
		waits[service]++
		mu.Unlock()
	})

	if sl.Get("entity") != sl.Get("entity") {
		t.Error("expected same limiter for same endpoint")
	}
	if sl.Get("entity") == sl.Get("awards") {
		t.Error("expected distinct limiters per endpoint")
	}

	ctx := context.Background()
	_ = sl.Get("entity").Acquire(ctx, 1)
	_ = sl.Get("entity").Acquire(ctx, 1)

	mu.Lock()
	defer mu.Unlock()
	if waits["entity"] == 0 {
		t.Error("expected entity limiter to report a wait")
	}
	if waits["awards"] != 0 {
		t.Error("awards limiter should not have waited")
	}

	states := sl.States()
	if len(states) != 2 {
		t.Errorf("expected 2 limiter states, got %d", len(states))
	}
}
