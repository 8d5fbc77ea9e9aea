package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "award-enricher.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "https://api.sam.gov", cfg.Registry.BaseURL)
	assert.Equal(t, 10, cfg.Registry.TimeoutSecs)
	assert.Equal(t, 10, cfg.RateLimit.Capacity)
	assert.InDelta(t, 5.0, cfg.RateLimit.RefillPerSecond, 0.001)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 60, cfg.Circuit.WindowSecs)
	assert.Equal(t, 30, cfg.Circuit.CooldownSecs)
	assert.Equal(t, 300, cfg.Circuit.MaxCooldownSecs)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.InDelta(t, 0.75, cfg.Match.AcceptThreshold, 0.001)
	assert.InDelta(t, 0.05, cfg.Match.AmbiguityEpsilon, 0.001)
	assert.InDelta(t, 0.8, cfg.Match.SuccessThreshold, 0.001)
	assert.InDelta(t, 0.01, cfg.Consistency.AmountTolerance, 0.0001)
	assert.Equal(t, 1, cfg.Consistency.DateToleranceDays)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 500, cfg.Monitoring.ReviewQueueThreshold)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/awards
registry:
  api_key: file-key
match:
  accept_threshold: 0.7
batch:
  workers: 8
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/awards", cfg.Store.DatabaseURL)
	assert.Equal(t, "file-key", cfg.Registry.APIKey)
	assert.InDelta(t, 0.7, cfg.Match.AcceptThreshold, 0.001)
	assert.Equal(t, 8, cfg.Batch.Workers)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values.
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
registry:
  api_key: file-key
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("ENRICH_REGISTRY_API_KEY", "env-key")
	t.Setenv("ENRICH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Registry.APIKey)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("ENRICH_BATCH_WORKERS", "12")
	t.Setenv("ENRICH_RATE_LIMIT_REFILL_PER_SECOND", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Batch.Workers)
	assert.InDelta(t, 2.5, cfg.RateLimit.RefillPerSecond, 0.001)
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

// validDefaults returns a Config that passes validation in every mode.
func validDefaults(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Registry.APIKey = "key"
	return cfg
}

func TestValidate_DefaultsPass(t *testing.T) {
	cfg := validDefaults(t)
	for _, mode := range []string{"", "enrich", "serve", "import"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_UnknownMode(t *testing.T) {
	cfg := validDefaults(t)
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidate_EnrichRequiresAPIKey(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Registry.APIKey = ""

	err := cfg.Validate("enrich")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry.api_key is required")

	// Importing records needs no registry access.
	assert.NoError(t, cfg.Validate("import"))
}

func TestValidate_StoreDriver(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidate_Thresholds(t *testing.T) {
	cfg := validDefaults(t)

	cfg.Match.AcceptThreshold = 0
	assert.ErrorContains(t, cfg.Validate(""), "match.accept_threshold")

	cfg.Match.AcceptThreshold = 0.75
	cfg.Match.SuccessThreshold = 1.5
	assert.ErrorContains(t, cfg.Validate(""), "match.success_threshold")

	cfg.Match.SuccessThreshold = 0.8
	cfg.Match.AmbiguityEpsilon = -0.1
	assert.ErrorContains(t, cfg.Validate(""), "match.ambiguity_epsilon")

	cfg.Match.AmbiguityEpsilon = 0.05
	cfg.Consistency.AmountTolerance = -1
	assert.ErrorContains(t, cfg.Validate(""), "validate.amount_tolerance")
}

func TestValidate_WorkerBounds(t *testing.T) {
	cfg := validDefaults(t)

	cfg.Batch.Workers = 0
	assert.ErrorContains(t, cfg.Validate("enrich"), "batch.workers must be between 1 and 64")

	cfg.Batch.Workers = 65
	assert.ErrorContains(t, cfg.Validate("serve"), "batch.workers must be between 1 and 64")

	cfg.Batch.Workers = 64
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidate_ServePort(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Server.Port = 0

	assert.ErrorContains(t, cfg.Validate("serve"), "server.port must be 1-65535")
	assert.NoError(t, cfg.Validate("enrich"))

	cfg.Server.Port = 8080
	cfg.Monitoring.FailureRateThreshold = 1.5
	assert.ErrorContains(t, cfg.Validate("serve"), "monitoring.failure_rate_threshold")
}

func TestValidate_RateLimit(t *testing.T) {
	cfg := validDefaults(t)
	cfg.RateLimit.RefillPerSecond = 0
	assert.ErrorContains(t, cfg.Validate("enrich"), "rate_limit")
}
