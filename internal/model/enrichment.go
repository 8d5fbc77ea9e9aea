package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// EnrichmentType is one category of external data attached to a record.
type EnrichmentType string

const (
	EnrichmentAwardee       EnrichmentType = "awardee"
	EnrichmentProgramOffice EnrichmentType = "program_office"
	EnrichmentSolicitation  EnrichmentType = "solicitation"
	EnrichmentModifications EnrichmentType = "modifications"
)

// AllEnrichmentTypes lists every supported enrichment type in a stable order.
func AllEnrichmentTypes() []EnrichmentType {
	return []EnrichmentType{
		EnrichmentAwardee,
		EnrichmentProgramOffice,
		EnrichmentSolicitation,
		EnrichmentModifications,
	}
}

// Valid reports whether t is a known enrichment type.
func (t EnrichmentType) Valid() bool {
	switch t {
	case EnrichmentAwardee, EnrichmentProgramOffice, EnrichmentSolicitation, EnrichmentModifications:
		return true
	}
	return false
}

// ParseEnrichmentType converts a string into an EnrichmentType.
func ParseEnrichmentType(s string) (EnrichmentType, error) {
	t := EnrichmentType(s)
	if !t.Valid() {
		return "", eris.Errorf("unknown enrichment type: %q (valid: awardee, program_office, solicitation, modifications)", s)
	}
	return t, nil
}

// Priority selects the queue lane a job's work items are placed in.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ParsePriority converts a string into a Priority. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "", PriorityNormal:
		return PriorityNormal, nil
	case PriorityHigh:
		return PriorityHigh, nil
	default:
		return "", eris.Errorf("unknown priority: %q (valid: normal, high)", s)
	}
}

// EnrichmentRequest is one unit of work: a single record and enrichment type.
// It is passed by value and never modified after enqueue.
type EnrichmentRequest struct {
	JobID          string         `json:"job_id"`
	RecordID       string         `json:"record_id"`
	EnrichmentType EnrichmentType `json:"enrichment_type"`
	Priority       Priority       `json:"priority"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}

// ResultStatus is the outcome of a single enrichment request.
type ResultStatus string

const (
	ResultSuccess       ResultStatus = "success"
	ResultLowConfidence ResultStatus = "low_confidence"
	ResultNotFound      ResultStatus = "not_found"
	ResultFailed        ResultStatus = "failed"
)

// EnrichmentResult is the append-only record of one enrichment attempt.
// Re-enrichment produces a new result; results are never updated in place.
type EnrichmentResult struct {
	ID               string         `json:"id,omitempty"`
	JobID            string         `json:"job_id,omitempty"`
	RecordID         string         `json:"record_id"`
	EnrichmentType   EnrichmentType `json:"enrichment_type"`
	Status           ResultStatus   `json:"status"`
	Confidence       float64        `json:"confidence"`
	Tier             MatchTier      `json:"tier,omitempty"`
	ExternalEntityID string         `json:"external_entity_id,omitempty"`
	PayloadRef       string         `json:"payload_ref,omitempty"`
	NeedsReview      bool           `json:"needs_review"`
	ErrorDetail      string         `json:"error_detail,omitempty"`
	FetchedAt        time.Time      `json:"fetched_at"`

	// Payload is the decoded registry data. It is persisted separately by
	// the sink, which records its location in PayloadRef.
	Payload *Payload `json:"-"`
}

// ClampConfidence bounds a confidence value to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
