package model

import "time"

// JobStatus represents the lifecycle state of an enrichment job.
type JobStatus string

const (
	JobQueued              JobStatus = "queued"
	JobRunning             JobStatus = "running"
	JobCompleted           JobStatus = "completed"
	JobCompletedWithErrors JobStatus = "completed_with_errors"
	JobFailed              JobStatus = "failed"
	JobCancelled           JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobCompletedWithErrors, JobFailed, JobCancelled:
		return true
	}
	return false
}

// rank orders statuses so that a job never moves backwards.
func (s JobStatus) rank() int {
	switch s {
	case JobQueued:
		return 0
	case JobRunning:
		return 1
	case JobCompleted, JobCompletedWithErrors, JobFailed, JobCancelled:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next is a legal, forward
// transition. Terminal states accept nothing.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() || next.rank() < 0 {
		return false
	}
	if next == JobFailed && s != JobQueued {
		return false
	}
	return next.rank() > s.rank()
}

// Counters tallies item outcomes for one enrichment type.
type Counters struct {
	Success       int `json:"success"`
	LowConfidence int `json:"low_confidence"`
	NotFound      int `json:"not_found"`
	Failed        int `json:"failed"`
}

// Add records one outcome.
func (c *Counters) Add(status ResultStatus) {
	switch status {
	case ResultSuccess:
		c.Success++
	case ResultLowConfidence:
		c.LowConfidence++
	case ResultNotFound:
		c.NotFound++
	default:
		c.Failed++
	}
}

// Total returns the number of recorded outcomes.
func (c Counters) Total() int {
	return c.Success + c.LowConfidence + c.NotFound + c.Failed
}

// JobSpec is the caller's request to enrich a set of records.
type JobSpec struct {
	RecordIDs       []string         `json:"record_ids" yaml:"record_ids"`
	EnrichmentTypes []EnrichmentType `json:"enrichment_types" yaml:"enrichment_types"`
	Priority        Priority         `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// EnrichmentJob is a snapshot of a batch of enrichment work.
type EnrichmentJob struct {
	ID              string                      `json:"id"`
	RecordIDs       []string                    `json:"record_ids"`
	EnrichmentTypes []EnrichmentType            `json:"enrichment_types"`
	Priority        Priority                    `json:"priority"`
	Status          JobStatus                   `json:"status"`
	Counters        map[EnrichmentType]Counters `json:"counters"`
	Total           int                         `json:"total"`
	Dispatched      int                         `json:"dispatched"`
	Error           string                      `json:"error,omitempty"`
	CreatedAt       time.Time                   `json:"created_at"`
	CompletedAt     *time.Time                  `json:"completed_at,omitempty"`
}

// Completed returns the number of items with a recorded outcome.
func (j *EnrichmentJob) Completed() int {
	n := 0
	for _, c := range j.Counters {
		n += c.Total()
	}
	return n
}
