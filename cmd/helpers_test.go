package main

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/sells-group/award-enricher/internal/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// testConfig returns a valid config backed by a temp-dir SQLite file and
// installs it as the package-level cfg.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{
		Store:       config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "test.db")},
		Registry:    config.RegistryConfig{BaseURL: "http://127.0.0.1:1", APIKey: "test-key", TimeoutSecs: 1},
		RateLimit:   config.RateLimitConfig{Capacity: 10, RefillPerSecond: 5},
		Circuit:     config.CircuitConfig{FailureThreshold: 5, WindowSecs: 60, CooldownSecs: 30, MaxCooldownSecs: 300},
		Retry:       config.RetryConfig{MaxAttempts: 3, BaseDelayMs: 500, MaxDelayMs: 30000, JitterFraction: 0.25},
		Match:       config.MatchConfig{AcceptThreshold: 0.75, AmbiguityEpsilon: 0.05, SuccessThreshold: 0.8},
		Consistency: config.ConsistencyConfig{AmountTolerance: 0.01, DateToleranceDays: 1},
		Batch:       config.BatchConfig{Workers: 2},
		Server:      config.ServerConfig{Port: 8080},
	}
	cfg = c
	return c
}
