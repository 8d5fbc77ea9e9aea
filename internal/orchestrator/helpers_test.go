package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/award-enricher/internal/model"
	"github.com/sells-group/award-enricher/internal/registry"
)

type memRecords struct {
	recs map[string]*model.AwardRecord
}

func newMemRecords(recs ...model.AwardRecord) *memRecords {
	m := &memRecords{recs: make(map[string]*model.AwardRecord)}
	for i := range recs {
		r := recs[i]
		m.recs[r.ID] = &r
	}
	return m
}

func (m *memRecords) GetRecord(_ context.Context, id string) (*model.AwardRecord, error) {
	r, ok := m.recs[id]
	if !ok {
		return nil, errors.New("no such record")
	}
	cp := *r
	return &cp, nil
}

type memSink struct {
	mu       sync.Mutex
	results  []model.EnrichmentResult
	findings []model.ConsistencyFinding
	failFor  map[string]bool
	nextID   int
}

func (s *memSink) WriteResult(_ context.Context, res *model.EnrichmentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[res.RecordID] {
		return errors.New("disk full")
	}
	s.nextID++
	res.ID = fmt.Sprintf("res-%d", s.nextID)
	s.results = append(s.results, *res)
	return nil
}

func (s *memSink) WriteFindings(_ context.Context, fs []model.ConsistencyFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, fs...)
	return nil
}

func (s *memSink) byRecord() map[string]model.EnrichmentResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.EnrichmentResult)
	for _, r := range s.results {
		out[r.RecordID] = r
	}
	return out
}

type memJobs struct {
	mu       sync.Mutex
	statuses map[string][]model.JobStatus
}

func (m *memJobs) SaveJob(_ context.Context, job model.EnrichmentJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuses == nil {
		m.statuses = make(map[string][]model.JobStatus)
	}
	m.statuses[job.ID] = append(m.statuses[job.ID], job.Status)
	return nil
}

func (m *memJobs) history(id string) []model.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.JobStatus(nil), m.statuses[id]...)
}

// scriptedFetcher answers from a map keyed by EntityKey.String() and counts
// calls per key. When gate is non-nil every call blocks until it is closed.
type scriptedFetcher struct {
	mu      sync.Mutex
	answers map[string]*model.Payload
	calls   map[string]int
	order   []string
	entered chan string
	gate    chan struct{}
}

func newScriptedFetcher(answers map[string]*model.Payload) *scriptedFetcher {
	return &scriptedFetcher{answers: answers, calls: make(map[string]int)}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, key registry.EntityKey) (*model.Payload, error) {
	k := key.String()
	f.mu.Lock()
	f.calls[k]++
	f.order = append(f.order, k)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- k
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if p, ok := f.answers[k]; ok {
		return p, nil
	}
	return nil, eris.Wrap(registry.ErrNotFound, k)
}

func (f *scriptedFetcher) callsFor(k string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[k]
}

func (f *scriptedFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *scriptedFetcher) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func awardee(cands ...model.RegistryEntity) *model.Payload {
	return &model.Payload{Type: model.EnrichmentAwardee, Awardee: &model.AwardeeHistory{Candidates: cands}}
}
