package model

import "time"

// Payload is the decoded registry response for one enrichment type. Exactly
// one of the type-specific fields is set, selected by Type.
type Payload struct {
	Type          EnrichmentType       `json:"type"`
	Awardee       *AwardeeHistory      `json:"awardee,omitempty"`
	ProgramOffice *ProgramOffice       `json:"program_office,omitempty"`
	Solicitation  *Solicitation        `json:"solicitation,omitempty"`
	Modifications *ModificationHistory `json:"modifications,omitempty"`
}

// Candidates returns the registry entities carried by the payload.
func (p *Payload) Candidates() []RegistryEntity {
	if p == nil {
		return nil
	}
	switch p.Type {
	case EnrichmentAwardee:
		if p.Awardee != nil {
			return p.Awardee.Candidates
		}
	case EnrichmentProgramOffice:
		if p.ProgramOffice != nil {
			return p.ProgramOffice.Candidates
		}
	case EnrichmentSolicitation:
		if p.Solicitation != nil {
			return p.Solicitation.Candidates
		}
	case EnrichmentModifications:
		if p.Modifications != nil {
			return p.Modifications.Candidates
		}
	}
	return nil
}

// AwardeeHistory is the registry's view of an awardee and its prior awards.
type AwardeeHistory struct {
	Candidates []RegistryEntity `json:"candidates"`
	Awards     []AwardSummary   `json:"awards,omitempty"`
}

// AwardSummary is one award listed in an awardee's history.
type AwardSummary struct {
	EntityID   string    `json:"entity_id"`
	PIID       string    `json:"piid"`
	Amount     float64   `json:"amount"`
	SignedDate time.Time `json:"signed_date"`
	AgencyCode string    `json:"agency_code,omitempty"`
}

// ProgramOffice is the registry's metadata for a contracting office.
type ProgramOffice struct {
	Candidates []RegistryEntity `json:"candidates"`
	AgencyCode string           `json:"agency_code"`
	AgencyName string           `json:"agency_name,omitempty"`
	OfficeCode string           `json:"office_code"`
	OfficeName string           `json:"office_name,omitempty"`
}

// Solicitation is the notice text a contract was awarded against.
type Solicitation struct {
	Candidates         []RegistryEntity `json:"candidates"`
	SolicitationNumber string           `json:"solicitation_number"`
	Title              string           `json:"title"`
	Description        string           `json:"description,omitempty"`
	NAICS              string           `json:"naics,omitempty"`
	PostedDate         time.Time        `json:"posted_date"`
}

// ModificationHistory lists the modifications made to an award.
type ModificationHistory struct {
	Candidates    []RegistryEntity `json:"candidates"`
	PIID          string           `json:"piid"`
	BaseAmount    float64          `json:"base_amount"`
	Modifications []Modification   `json:"modifications"`
}

// Modification is a single award modification.
type Modification struct {
	Number     string    `json:"number"`
	ActionDate time.Time `json:"action_date"`
	Amount     float64   `json:"amount"`
	Reason     string    `json:"reason,omitempty"`
}

// TotalObligated returns the base amount plus every modification amount.
func (h *ModificationHistory) TotalObligated() float64 {
	total := h.BaseAmount
	for _, m := range h.Modifications {
		total += m.Amount
	}
	return total
}
