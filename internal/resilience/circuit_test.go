package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}
}

func newClockedBreaker(cfg CircuitBreakerConfig, now *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(cfg)
	cb.nowFunc = func() time.Time { return *now }
	return cb
}

func TestCircuitBreaker_ClosedState_PassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         1 * time.Minute,
	}
	cb := NewCircuitBreaker(cfg)

	failN(cb, 5)

	if cb.State() != CircuitOpen {
		t.Errorf("expected open state after %d failures, got %s", cfg.FailureThreshold, cb.State())
	}

	// The sixth call is rejected without running fn.
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsClosed(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         1 * time.Minute,
	}
	cb := NewCircuitBreaker(cfg)

	failN(cb, 2)

	failures, state := cb.Counters()
	if failures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", failures)
	}
	if state != CircuitClosed {
		t.Errorf("expected closed state, got %s", state)
	}

	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return nil
	})

	failures, _ = cb.Counters()
	if failures != 0 {
		t.Errorf("expected 0 consecutive failures after success, got %d", failures)
	}
}

func TestCircuitBreaker_WindowRestartsStreak(t *testing.T) {
	now := time.Now()
	cb := newClockedBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		Window:           10 * time.Second,
		Cooldown:         time.Minute,
	}, &now)

	failN(cb, 2)
	now = now.Add(time.Minute)
	failN(cb, 1)

	failures, state := cb.Counters()
	if failures != 1 {
		t.Errorf("expected streak restarted at 1, got %d", failures)
	}
	if state != CircuitClosed {
		t.Errorf("expected closed, got %s", state)
	}
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := time.Now()
	cb := newClockedBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         100 * time.Millisecond,
	}, &now)

	failN(cb, 2)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	now = now.Add(200 * time.Millisecond)

	if cb.State() != CircuitHalfOpen {
		t.Errorf("expected half_open state after cooldown, got %s", cb.State())
	}

	// Successful probe closes the circuit and clears the failure count.
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	failures, state := cb.Counters()
	if state != CircuitClosed {
		t.Errorf("expected closed state after successful probe, got %s", state)
	}
	if failures != 0 {
		t.Errorf("expected 0 failures after probe success, got %d", failures)
	}
}

func TestCircuitBreaker_HalfOpenFailure_ReopensWithDoubledCooldown(t *testing.T) {
	now := time.Now()
	cb := newClockedBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         100 * time.Millisecond,
		MaxCooldown:      300 * time.Millisecond,
	}, &now)

	failN(cb, 2)
	first := cb.Snapshot()
	if got := first.CooldownUntil.Sub(first.OpenedAt); got != 100*time.Millisecond {
		t.Fatalf("expected 100ms cooldown, got %v", got)
	}

	now = now.Add(150 * time.Millisecond)
	failN(cb, 1) // failed probe

	snap := cb.Snapshot()
	if snap.State != CircuitOpen {
		t.Fatalf("expected open after failed probe, got %s", snap.State)
	}
	if got := snap.CooldownUntil.Sub(snap.OpenedAt); got != 200*time.Millisecond {
		t.Errorf("expected doubled cooldown 200ms, got %v", got)
	}

	now = now.Add(250 * time.Millisecond)
	failN(cb, 1)
	snap = cb.Snapshot()
	if got := snap.CooldownUntil.Sub(snap.OpenedAt); got != 300*time.Millisecond {
		t.Errorf("expected cooldown capped at 300ms, got %v", got)
	}
}

func TestCircuitBreaker_HalfOpenSingleProbe(t *testing.T) {
	now := time.Now()
	cb := newClockedBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Second,
	}, &now)

	failN(cb, 1)
	now = now.Add(2 * time.Second)

	release := make(chan struct{})
	probing := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(_ context.Context) error {
			close(probing)
			<-release
			return nil
		})
	}()
	<-probing

	// A concurrent caller fails fast while the probe is in flight.
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("second caller must not reach upstream during probe")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen for concurrent caller, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_CancelledProbeReleasesSlot(t *testing.T) {
	now := time.Now()
	cb := newClockedBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Second,
	}, &now)

	failN(cb, 1)
	now = now.Add(2 * time.Second)

	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return context.Canceled
	})
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open after cancelled probe, got %s", cb.State())
	}

	var called bool
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("expected next caller to probe, err=%v called=%v", err, called)
	}
}

func TestCircuitBreaker_OnlyLegalTransitions(t *testing.T) {
	var mu sync.Mutex
	var edges []string
	now := time.Now()
	cb := newClockedBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Second,
		OnStateChange: func(from, to CircuitState) {
			mu.Lock()
			edges = append(edges, from.String()+"->"+to.String())
			mu.Unlock()
		},
	}, &now)

	failN(cb, 2)
	now = now.Add(2 * time.Second)
	failN(cb, 1)
	now = now.Add(5 * time.Second)
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })

	want := []string{
		"closed->open",
		"open->half_open",
		"half_open->open",
		"open->half_open",
		"half_open->closed",
	}
	if len(edges) != len(want) {
		t.Fatalf("expected %v, got %v", want, edges)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("edge %d: expected %s, got %s", i, want[i], edges[i])
		}
	}
}

func TestCircuitBreaker_ShouldTrip(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         1 * time.Minute,
		ShouldTrip: func(err error) bool {
			return err.Error() == "tripworthy"
		},
	}
	cb := NewCircuitBreaker(cfg)

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("non-tripworthy")
		})
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed (non-tripworthy errors), got %s", cb.State())
	}

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("tripworthy")
		})
	}
	if cb.State() != CircuitOpen {
		t.Errorf("expected open after tripworthy errors, got %s", cb.State())
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 100,
		Cooldown:         1 * time.Minute,
	})

	var wg sync.WaitGroup
	var calls atomic.Int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(_ context.Context) error {
				calls.Add(1)
				if i%2 == 0 {
					return errors.New("fail")
				}
				return nil
			})
			_ = cb.Snapshot()
		}()
	}
	wg.Wait()
	if calls.Load() != 100 {
		t.Errorf("expected 100 calls below threshold, got %d", calls.Load())
	}
}

func TestExecuteVal_CircuitOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         1 * time.Hour,
	})
	failN(cb, 1)

	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 42, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if val != 0 {
		t.Errorf("expected zero value, got %d", val)
	}
}

func TestServiceBreakers_GetOrCreate(t *testing.T) {
	sb := NewServiceBreakers(DefaultCircuitBreakerConfig(), nil)

	cb1 := sb.Get("entity")
	cb2 := sb.Get("entity")
	cb3 := sb.Get("opportunities")

	if cb1 != cb2 {
		t.Error("expected same breaker for same endpoint")
	}
	if cb1 == cb3 {
		t.Error("expected different breakers for different endpoints")
	}
}

func TestServiceBreakers_StatesAndHook(t *testing.T) {
	var changed []string
	sb := NewServiceBreakers(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         1 * time.Hour,
	}, func(service string, _, to CircuitState) {
		changed = append(changed, service+":"+to.String())
	})

	failN(sb.Get("entity"), 1)
	_ = sb.Get("awards")

	states := sb.States()
	if states["entity"].State != CircuitOpen {
		t.Errorf("expected entity=open, got %s", states["entity"].State)
	}
	if states["awards"].State != CircuitClosed {
		t.Errorf("expected awards=closed, got %s", states["awards"].State)
	}
	if len(changed) != 1 || changed[0] != "entity:open" {
		t.Errorf("expected one entity:open transition, got %v", changed)
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half_open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestCircuitBreaker_CallerCancellationIsNeutral(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
	})

	failN(cb, 1)
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return context.DeadlineExceeded
		})
	}

	failures, state := cb.Counters()
	if failures != 1 {
		t.Errorf("expected cancellation to leave failures at 1, got %d", failures)
	}
	if state != CircuitClosed {
		t.Errorf("expected closed, got %s", state)
	}
}
