package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/award-enricher/internal/model"
	"github.com/sells-group/award-enricher/internal/registry"
	"github.com/sells-group/award-enricher/internal/store"
)

// EndpointSnapshot is the resilience state of one registry endpoint.
type EndpointSnapshot struct {
	Name                string  `json:"name"`
	Breaker             string  `json:"breaker"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	Tokens              float64 `json:"tokens"`
	Capacity            float64 `json:"capacity"`
	RefillPerSecond     float64 `json:"refill_per_second"`
}

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	Records         int                        `json:"records"`
	JobsByStatus    map[model.JobStatus]int    `json:"jobs_by_status"`
	ResultsByStatus map[model.ResultStatus]int `json:"results_by_status"`
	ResultsTotal    int                        `json:"results_total"`
	FailureRate     float64                    `json:"failure_rate"`
	ReviewQueue     int                        `json:"review_queue"`
	Findings        int                        `json:"findings"`
	PendingItems    int                        `json:"pending_items"`
	Endpoints       []EndpointSnapshot         `json:"endpoints,omitempty"`
	CollectedAt     time.Time                  `json:"collected_at"`
}

// StatsSource supplies stored counts.
type StatsSource interface {
	Stats(ctx context.Context) (*store.Stats, error)
}

// HealthSource supplies per-endpoint limiter and breaker state.
type HealthSource interface {
	Health() map[string]registry.EndpointHealth
}

// QueueSource reports undispatched work items.
type QueueSource interface {
	Pending() int
}

// Collector gathers metrics from the store, the registry client and the
// orchestrator queue. health and queue may be nil, as in CLI use.
type Collector struct {
	stats  StatsSource
	health HealthSource
	queue  QueueSource
}

// NewCollector creates a new metrics collector.
func NewCollector(stats StatsSource, health HealthSource, queue QueueSource) *Collector {
	return &Collector{stats: stats, health: health, queue: queue}
}

// Collect gathers a snapshot of system metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	st, err := c.stats.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: stats")
	}

	snap := &MetricsSnapshot{
		Records:         st.Records,
		JobsByStatus:    st.JobsByStatus,
		ResultsByStatus: st.ResultsByStatus,
		ReviewQueue:     st.ReviewQueue,
		Findings:        st.Findings,
		CollectedAt:     time.Now().UTC(),
	}
	for _, n := range st.ResultsByStatus {
		snap.ResultsTotal += n
	}
	if snap.ResultsTotal > 0 {
		snap.FailureRate = float64(st.ResultsByStatus[model.ResultFailed]) / float64(snap.ResultsTotal)
	}

	if c.queue != nil {
		snap.PendingItems = c.queue.Pending()
	}

	if c.health != nil {
		for name, h := range c.health.Health() {
			snap.Endpoints = append(snap.Endpoints, EndpointSnapshot{
				Name:                name,
				Breaker:             h.Breaker.State.String(),
				ConsecutiveFailures: h.Breaker.ConsecutiveFailures,
				Tokens:              h.Limiter.Tokens,
				Capacity:            h.Limiter.Capacity,
				RefillPerSecond:     h.Limiter.RefillRatePerSecond,
			})
		}
		sort.Slice(snap.Endpoints, func(i, j int) bool { return snap.Endpoints[i].Name < snap.Endpoints[j].Name })
	}

	return snap, nil
}
