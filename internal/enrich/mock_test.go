package enrich

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/award-enricher/internal/model"
	"github.com/sells-group/award-enricher/internal/registry"
)

// --- RecordSource Mock ---

type mockRecords struct {
	mock.Mock
}

func (m *mockRecords) GetRecord(ctx context.Context, id string) (*model.AwardRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AwardRecord), args.Error(1)
}

// --- Fetcher Mock ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, key registry.EntityKey) (*model.Payload, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payload), args.Error(1)
}

// --- Matcher Mock ---

type mockMatcher struct {
	mock.Mock
}

func (m *mockMatcher) Match(rec model.AwardRecord, candidates []model.RegistryEntity) (*model.MatchCandidate, error) {
	args := m.Called(rec, candidates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MatchCandidate), args.Error(1)
}
