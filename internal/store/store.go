// Package store persists award records, append-only enrichment results,
// registry payloads, consistency findings and job snapshots.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/award-enricher/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// JobFilter specifies criteria for listing job snapshots.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// FindingFilter specifies criteria for listing consistency findings.
type FindingFilter struct {
	RecordID string `json:"record_id,omitempty"`
	Field    string `json:"field,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Stats summarizes stored state for monitoring and the stats command.
type Stats struct {
	Records         int                        `json:"records"`
	JobsByStatus    map[model.JobStatus]int    `json:"jobs_by_status"`
	ResultsByStatus map[model.ResultStatus]int `json:"results_by_status"`
	ReviewQueue     int                        `json:"review_queue"`
	Findings        int                        `json:"findings"`
}

// Store defines the persistence interface for the enrichment service. It
// satisfies enrich.RecordSource, orchestrator.ResultSink and
// orchestrator.JobRecorder.
type Store interface {
	// Records
	GetRecord(ctx context.Context, id string) (*model.AwardRecord, error)
	UpsertRecords(ctx context.Context, recs []model.AwardRecord) (int64, error)

	// Results (append-only)
	WriteResult(ctx context.Context, res *model.EnrichmentResult) error
	ListResults(ctx context.Context, recordID string) ([]model.EnrichmentResult, error)
	ReviewQueue(ctx context.Context, limit int) ([]model.EnrichmentResult, error)
	GetPayload(ctx context.Context, ref string) (*model.Payload, error)

	// Findings (append-only)
	WriteFindings(ctx context.Context, findings []model.ConsistencyFinding) error
	ListFindings(ctx context.Context, filter FindingFilter) ([]model.ConsistencyFinding, error)

	// Jobs
	SaveJob(ctx context.Context, job model.EnrichmentJob) error
	GetJob(ctx context.Context, id string) (*model.EnrichmentJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.EnrichmentJob, error)

	// Monitoring
	Stats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func limitOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func newStats() *Stats {
	return &Stats{
		JobsByStatus:    make(map[model.JobStatus]int),
		ResultsByStatus: make(map[model.ResultStatus]int),
	}
}
