package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/award-enricher/internal/model"
	"github.com/sells-group/award-enricher/internal/monitoring"
	"github.com/sells-group/award-enricher/internal/store"
)

// --- Jobs Mock ---

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) Submit(ctx context.Context, spec model.JobSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *mockJobs) Status(jobID string) (model.EnrichmentJob, error) {
	args := m.Called(jobID)
	return args.Get(0).(model.EnrichmentJob), args.Error(1)
}

func (m *mockJobs) List() []model.EnrichmentJob {
	args := m.Called()
	return args.Get(0).([]model.EnrichmentJob)
}

func (m *mockJobs) Cancel(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetJob(ctx context.Context, id string) (*model.EnrichmentJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.EnrichmentJob), args.Error(1)
}

func (m *mockStore) ListResults(ctx context.Context, recordID string) ([]model.EnrichmentResult, error) {
	args := m.Called(ctx, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.EnrichmentResult), args.Error(1)
}

func (m *mockStore) ListFindings(ctx context.Context, filter store.FindingFilter) ([]model.ConsistencyFinding, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ConsistencyFinding), args.Error(1)
}

func (m *mockStore) ReviewQueue(ctx context.Context, limit int) ([]model.EnrichmentResult, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.EnrichmentResult), args.Error(1)
}

func (m *mockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- Snapshotter Mock ---

type mockCollector struct {
	mock.Mock
}

func (m *mockCollector) Collect(ctx context.Context) (*monitoring.MetricsSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*monitoring.MetricsSnapshot), args.Error(1)
}
