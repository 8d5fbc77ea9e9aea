package model

import "time"

// AwardRecord is a locally held federal award that can be enriched with
// registry data. Identifier fields come from the source feed and are not
// trusted to be normalized.
type AwardRecord struct {
	ID                 string    `json:"id"`
	PIID               string    `json:"piid"`
	ExternalEntityID   string    `json:"external_entity_id,omitempty"` // registry UEI
	GovernmentID       string    `json:"government_id,omitempty"`      // CAGE or DUNS number
	AwardeeName        string    `json:"awardee_name"`
	City               string    `json:"city,omitempty"`
	State              string    `json:"state,omitempty"`
	Zip                string    `json:"zip,omitempty"`
	AwardYear          int       `json:"award_year,omitempty"`
	Amount             float64   `json:"amount"`
	SignedDate         time.Time `json:"signed_date"`
	AgencyCode         string    `json:"agency_code,omitempty"`
	OfficeCode         string    `json:"office_code,omitempty"`
	SolicitationNumber string    `json:"solicitation_number,omitempty"`
	NAICS              string    `json:"naics,omitempty"`
}

// RegistryEntity is a candidate entity returned by the external registry.
// Which kind of entity it is (awardee, office, notice, award) depends on the
// enrichment type that produced it.
type RegistryEntity struct {
	EntityID     string `json:"entity_id"`
	GovernmentID string `json:"government_id,omitempty"`
	Name         string `json:"name"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	Zip          string `json:"zip,omitempty"`
	ActiveYears  []int  `json:"active_years,omitempty"`
}

// ActiveIn reports whether the entity was active in the given year.
func (e RegistryEntity) ActiveIn(year int) bool {
	for _, y := range e.ActiveYears {
		if y == year {
			return true
		}
	}
	return false
}
