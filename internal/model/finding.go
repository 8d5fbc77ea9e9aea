package model

import "time"

// FindingKind describes how two overlapping values were compared.
type FindingKind string

const (
	FindingIdentifier FindingKind = "identifier"
	FindingAmount     FindingKind = "amount"
	FindingDate       FindingKind = "date"
	FindingCode       FindingKind = "code"
)

// ConsistencyFinding flags a disagreement between a local field and the
// value carried by an accepted enrichment result. Findings are review
// metadata; they never reject a result.
type ConsistencyFinding struct {
	ID             int64          `json:"id,omitempty"`
	ResultID       string         `json:"result_id,omitempty"`
	RecordID       string         `json:"record_id"`
	EnrichmentType EnrichmentType `json:"enrichment_type"`
	Field          string         `json:"field"`
	Kind           FindingKind    `json:"kind"`
	LocalValue     string         `json:"local_value"`
	ExternalValue  string         `json:"external_value"`
	Detail         string         `json:"detail,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
