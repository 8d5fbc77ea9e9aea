package model

// MatchTier is the strength class of identifier evidence behind a match.
type MatchTier string

const (
	TierExactIdentifier      MatchTier = "exact_identifier"
	TierGovernmentIdentifier MatchTier = "government_identifier"
	TierFuzzyName            MatchTier = "fuzzy_name"
)

// Rank orders tiers by strength; higher is stronger.
func (t MatchTier) Rank() int {
	switch t {
	case TierExactIdentifier:
		return 3
	case TierGovernmentIdentifier:
		return 2
	case TierFuzzyName:
		return 1
	default:
		return 0
	}
}

// MatchCandidate is a scored pairing between a local record and a registry
// entity. It only lives for the duration of one matching call.
type MatchCandidate struct {
	LocalRecordID    string    `json:"local_record_id"`
	ExternalEntityID string    `json:"external_entity_id"`
	Tier             MatchTier `json:"tier"`
	Confidence       float64   `json:"confidence"`
	Evidence         []string  `json:"evidence,omitempty"`
}
