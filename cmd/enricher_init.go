package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sells-group/award-enricher/internal/config"
	"github.com/sells-group/award-enricher/internal/enrich"
	"github.com/sells-group/award-enricher/internal/matcher"
	"github.com/sells-group/award-enricher/internal/monitoring"
	"github.com/sells-group/award-enricher/internal/orchestrator"
	"github.com/sells-group/award-enricher/internal/registry"
	"github.com/sells-group/award-enricher/internal/resilience"
	"github.com/sells-group/award-enricher/internal/store"
	"github.com/sells-group/award-enricher/internal/validate"
	"github.com/sells-group/award-enricher/pkg/samgov"
)

// enricherEnv holds the store, registry client, orchestrator and metrics
// needed by the enrich and serve commands.
type enricherEnv struct {
	Store        store.Store
	Registry     *registry.Client
	Orchestrator *orchestrator.Orchestrator
	Metrics      *monitoring.Metrics
}

// Close stops the workers and releases the store.
func (e *enricherEnv) Close() {
	if e.Orchestrator != nil {
		e.Orchestrator.Stop()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnricher validates config for mode, opens the store and builds the
// registry client and orchestrator. Workers are not started. Callers should
// defer env.Close().
func initEnricher(ctx context.Context, mode string) (*enricherEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	transport := samgov.NewClient(cfg.Registry.APIKey, samgov.WithBaseURL(cfg.Registry.BaseURL))
	client := registry.New(transport, registryConfig(cfg), registry.WithObserver(metrics))

	orch := orchestrator.New(orchestrator.Config{
		Workers: cfg.Batch.Workers,
		Worker:  enrich.Config{SuccessThreshold: cfg.Match.SuccessThreshold},
	}, orchestrator.Deps{
		Records: st,
		Fetcher: client,
		Matcher: matcher.New(matcher.Config{
			AcceptThreshold:  cfg.Match.AcceptThreshold,
			AmbiguityEpsilon: cfg.Match.AmbiguityEpsilon,
		}),
		Sink: st,
		Jobs: st,
		Validator: validate.New(validate.Config{
			AmountTolerance:   cfg.Consistency.AmountTolerance,
			AmountFloor:       validate.DefaultConfig().AmountFloor,
			DateToleranceDays: cfg.Consistency.DateToleranceDays,
		}),
		Observer: metrics,
	})

	zap.L().Info("enricher initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("registry", cfg.Registry.BaseURL),
		zap.Int("workers", cfg.Batch.Workers),
	)

	return &enricherEnv{
		Store:        st,
		Registry:     client,
		Orchestrator: orch,
		Metrics:      metrics,
	}, nil
}

// registryConfig converts the resilience sections of c.
func registryConfig(c *config.Config) registry.Config {
	retry := resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.BaseDelayMs, c.Retry.MaxDelayMs, c.Retry.JitterFraction)
	return registry.Config{
		RateLimit: resilience.FromRateConfig(c.RateLimit.Capacity, c.RateLimit.RefillPerSecond),
		Circuit:   resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.WindowSecs, c.Circuit.CooldownSecs, c.Circuit.MaxCooldownSecs),
		Retry:     retry,
		Timeout:   time.Duration(c.Registry.TimeoutSecs) * time.Second,
	}
}
