// Package registry is the resilient call surface over the external award
// registry. Every fetch passes through a per-endpoint token bucket, a
// per-endpoint circuit breaker and bounded retry with backoff, and is
// decoded into a typed payload at the boundary.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/award-enricher/internal/model"
	"github.com/sells-group/award-enricher/internal/resilience"
	"github.com/sells-group/award-enricher/pkg/samgov"
)

// Fetch outcomes reported to the Observer.
const (
	OutcomeSuccess     = "success"
	OutcomeNotFound    = "not_found"
	OutcomeInvalid     = "invalid"
	OutcomeTransient   = "transient"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeCancelled   = "cancelled"
)

// Observer receives client telemetry. All methods must be safe for
// concurrent use.
type Observer interface {
	ObserveFetch(endpoint, outcome string, elapsed time.Duration)
	ObserveBreakerTransition(endpoint, from, to string)
	ObserveLimiterWait(endpoint string, wait time.Duration)
}

// Config holds the resilience settings shared by every endpoint.
type Config struct {
	RateLimit resilience.RateLimiterConfig
	Circuit   resilience.CircuitBreakerConfig
	Retry     resilience.RetryConfig
	// Timeout bounds a single network attempt. Default: 10s.
	Timeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		RateLimit: resilience.DefaultRateLimiterConfig(),
		Circuit:   resilience.DefaultCircuitBreakerConfig(),
		Retry:     resilience.DefaultRetryConfig(),
		Timeout:   10 * time.Second,
	}
}

// EndpointHealth is the combined limiter and breaker state of one endpoint.
type EndpointHealth struct {
	Breaker resilience.CircuitBreakerState `json:"breaker"`
	Limiter resilience.RateLimiterState    `json:"limiter"`
}

// Client fetches enrichment payloads from the registry. Its limiters and
// breakers are owned by the instance, so separate clients never share
// endpoint state.
type Client struct {
	transport samgov.Client
	cfg       Config
	limiters  *resilience.ServiceLimiters
	breakers  *resilience.ServiceBreakers
	observer  Observer
	log       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithObserver attaches a telemetry observer.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// New creates a registry client over transport.
func New(transport samgov.Client, cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		transport: transport,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "registry")),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Only upstream trouble trips a breaker; not-found and contract
	// violations are answers from a healthy service.
	circuit := cfg.Circuit
	circuit.ShouldTrip = resilience.IsTransient
	c.breakers = resilience.NewServiceBreakers(circuit, c.onBreakerChange)
	c.limiters = resilience.NewServiceLimiters(cfg.RateLimit, c.onLimiterWait)

	for _, ep := range []samgov.Endpoint{samgov.EndpointEntity, samgov.EndpointOpportunities, samgov.EndpointAwards} {
		c.breakers.Get(string(ep))
		c.limiters.Get(string(ep))
	}
	return c
}

// Route returns the registry endpoint and section serving typ.
func Route(typ model.EnrichmentType) (samgov.Endpoint, string) {
	switch typ {
	case model.EnrichmentProgramOffice:
		return samgov.EndpointEntity, "office"
	case model.EnrichmentSolicitation:
		return samgov.EndpointOpportunities, "solicitation"
	case model.EnrichmentModifications:
		return samgov.EndpointAwards, "modifications"
	default:
		return samgov.EndpointEntity, "awardee"
	}
}

// Fetch retrieves and decodes the payload for key. Errors are one of
// ErrNotFound, *ValidationError, ErrTransientNetwork,
// resilience.ErrCircuitOpen or the caller's context error.
func (c *Client) Fetch(ctx context.Context, key EntityKey) (*model.Payload, error) {
	if !key.Type.Valid() || key.Value == "" {
		return nil, invalid(key.Type, "empty or unknown entity key", nil)
	}

	endpoint, section := Route(key.Type)
	limiter := c.limiters.Get(string(endpoint))
	breaker := c.breakers.Get(string(endpoint))
	start := time.Now()

	if err := limiter.Acquire(ctx, 1); err != nil {
		c.observe(endpoint, OutcomeCancelled, start)
		return nil, err
	}

	retryCfg := c.cfg.Retry
	retryCfg.ShouldRetry = resilience.IsTransient
	retryCfg.OnRetry = resilience.RetryLogger("registry", string(endpoint))

	attempts := 0
	payload, err := resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*model.Payload, error) {
		return resilience.DoVal(ctx, retryCfg, func(ctx context.Context, attempt int) (*model.Payload, error) {
			attempts = attempt + 1
			// The first token was taken before the breaker check.
			if attempt > 0 {
				if err := limiter.Acquire(ctx, 1); err != nil {
					return nil, err
				}
			}
			return c.attempt(ctx, limiter, endpoint, section, key)
		})
	})

	switch {
	case err == nil:
		c.observe(endpoint, OutcomeSuccess, start)
		return payload, nil
	case errors.Is(err, resilience.ErrCircuitOpen):
		c.observe(endpoint, OutcomeCircuitOpen, start)
		return nil, eris.Wrapf(err, "registry: %s", endpoint)
	case errors.Is(err, ErrNotFound):
		c.observe(endpoint, OutcomeNotFound, start)
		return nil, err
	case ctx.Err() != nil:
		c.observe(endpoint, OutcomeCancelled, start)
		return nil, eris.Wrapf(ctx.Err(), "registry: fetch %s", key)
	case resilience.IsTransient(err):
		c.observe(endpoint, OutcomeTransient, start)
		c.log.Warn("registry fetch exhausted retries",
			zap.String("endpoint", string(endpoint)),
			zap.String("key", key.String()),
			zap.Int("attempts", attempts),
			zap.Int("last_status", resilience.StatusCode(err)),
			zap.Error(err),
		)
		return nil, eris.Wrapf(ErrTransientNetwork, "%s after %d attempts: %v", key, attempts, err)
	default:
		c.observe(endpoint, OutcomeInvalid, start)
		return nil, err
	}
}

// attempt performs one bounded network call and classifies its outcome.
func (c *Client) attempt(ctx context.Context, limiter *resilience.RateLimiter, endpoint samgov.Endpoint, section string, key EntityKey) (*model.Payload, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := c.transport.Lookup(callCtx, endpoint, section, key.Value)
	if err == nil {
		limiter.Recover()
		return Decode(key.Type, body)
	}

	if errors.Is(err, samgov.ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "%s", key)
	}

	var se *samgov.StatusError
	if errors.As(err, &se) {
		if !se.Transient() {
			return nil, invalid(key.Type, fmt.Sprintf("request rejected with status %d", se.StatusCode), err)
		}
		if se.StatusCode == http.StatusTooManyRequests {
			limiter.Throttle()
		}
		return nil, resilience.NewTransientError(err, se.StatusCode)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if callCtx.Err() != nil {
		// Fresh error: the attempt deadline must not look like caller cancellation.
		return nil, resilience.NewTransientError(
			eris.Errorf("registry: %s call timed out after %s", endpoint, c.cfg.Timeout), 0)
	}

	// Anything else from the transport is a network-level failure.
	return nil, resilience.NewTransientError(err, 0)
}

// Health returns a snapshot of every endpoint's limiter and breaker.
func (c *Client) Health() map[string]EndpointHealth {
	breakers := c.breakers.States()
	limiters := c.limiters.States()
	out := make(map[string]EndpointHealth, len(breakers))
	for name, b := range breakers {
		out[name] = EndpointHealth{Breaker: b, Limiter: limiters[name]}
	}
	return out
}

func (c *Client) onBreakerChange(endpoint string, from, to resilience.CircuitState) {
	c.log.Warn("circuit breaker state change",
		zap.String("endpoint", endpoint),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	if c.observer != nil {
		c.observer.ObserveBreakerTransition(endpoint, from.String(), to.String())
	}
}

func (c *Client) onLimiterWait(endpoint string, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveLimiterWait(endpoint, d)
	}
}

func (c *Client) observe(endpoint samgov.Endpoint, outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveFetch(string(endpoint), outcome, time.Since(start))
	}
}
