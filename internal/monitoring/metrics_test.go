package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/award-enricher/internal/model"
)

func TestMetrics_Observers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveFetch("entity", "success", 20*time.Millisecond)
	m.ObserveFetch("entity", "success", 30*time.Millisecond)
	m.ObserveFetch("entity", "transient", time.Second)
	m.ObserveBreakerTransition("entity", "closed", "open")
	m.ObserveLimiterWait("awards", 5*time.Millisecond)
	m.ObserveItem(model.EnrichmentAwardee, model.ResultSuccess, time.Millisecond)
	m.ObserveJob(model.JobCompleted)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RegistryFetches.WithLabelValues("entity", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryFetches.WithLabelValues("entity", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerTransitions.WithLabelValues("entity", "closed", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ItemOutcomes.WithLabelValues(string(model.EnrichmentAwardee), "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobOutcomes.WithLabelValues("completed")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("entity", "success", time.Millisecond)
		m.ObserveBreakerTransition("entity", "closed", "open")
		m.ObserveLimiterWait("entity", time.Millisecond)
		m.ObserveItem(model.EnrichmentAwardee, model.ResultFailed, time.Millisecond)
		m.ObserveJob(model.JobFailed)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveJob(model.JobCancelled)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `enricher_jobs_finished_total{status="cancelled"} 1`)
}
