package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/sells-group/award-enricher/internal/model"
)

// envelope is the outer shape of every registry response.
type envelope struct {
	Type model.EnrichmentType `json:"type"`
	Data json.RawMessage      `json:"data"`
}

// Decode validates a raw registry response into the payload variant for
// typ. Anything that does not fit is a *ValidationError.
func Decode(typ model.EnrichmentType, body []byte) (*model.Payload, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, invalid(typ, "empty body", nil)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, invalid(typ, "malformed envelope", err)
	}
	if env.Type != typ {
		return nil, invalid(typ, fmt.Sprintf("envelope type %q does not match request", env.Type), nil)
	}
	if len(env.Data) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return nil, invalid(typ, "missing data", nil)
	}

	p := &model.Payload{Type: typ}
	var err error
	switch typ {
	case model.EnrichmentAwardee:
		p.Awardee = &model.AwardeeHistory{}
		err = decodeInto(typ, env.Data, p.Awardee)
		if err == nil {
			err = checkAwardee(p.Awardee)
		}
	case model.EnrichmentProgramOffice:
		p.ProgramOffice = &model.ProgramOffice{}
		err = decodeInto(typ, env.Data, p.ProgramOffice)
		if err == nil {
			err = checkProgramOffice(p.ProgramOffice)
		}
	case model.EnrichmentSolicitation:
		p.Solicitation = &model.Solicitation{}
		err = decodeInto(typ, env.Data, p.Solicitation)
		if err == nil {
			err = checkSolicitation(p.Solicitation)
		}
	case model.EnrichmentModifications:
		p.Modifications = &model.ModificationHistory{}
		err = decodeInto(typ, env.Data, p.Modifications)
		if err == nil {
			err = checkModifications(p.Modifications)
		}
	default:
		return nil, invalid(typ, "unknown enrichment type", nil)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func decodeInto(typ model.EnrichmentType, data json.RawMessage, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return invalid(typ, "data does not match schema", err)
	}
	return nil
}

func checkCandidates(typ model.EnrichmentType, cands []model.RegistryEntity, requireName bool) error {
	for i, c := range cands {
		if c.EntityID == "" {
			return invalid(typ, fmt.Sprintf("candidate %d has no entity_id", i), nil)
		}
		if requireName && c.Name == "" {
			return invalid(typ, fmt.Sprintf("candidate %s has no name", c.EntityID), nil)
		}
	}
	return nil
}

func checkAmount(typ model.EnrichmentType, field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid(typ, field+" is not a finite number", nil)
	}
	return nil
}

func checkAwardee(h *model.AwardeeHistory) error {
	if err := checkCandidates(model.EnrichmentAwardee, h.Candidates, true); err != nil {
		return err
	}
	for _, a := range h.Awards {
		if a.PIID == "" {
			return invalid(model.EnrichmentAwardee, "award history entry has no piid", nil)
		}
		if err := checkAmount(model.EnrichmentAwardee, "award amount", a.Amount); err != nil {
			return err
		}
	}
	return nil
}

func checkProgramOffice(o *model.ProgramOffice) error {
	if o.AgencyCode == "" {
		return invalid(model.EnrichmentProgramOffice, "agency_code is required", nil)
	}
	return checkCandidates(model.EnrichmentProgramOffice, o.Candidates, false)
}

func checkSolicitation(s *model.Solicitation) error {
	if s.SolicitationNumber == "" {
		return invalid(model.EnrichmentSolicitation, "solicitation_number is required", nil)
	}
	return checkCandidates(model.EnrichmentSolicitation, s.Candidates, false)
}

func checkModifications(h *model.ModificationHistory) error {
	if h.PIID == "" {
		return invalid(model.EnrichmentModifications, "piid is required", nil)
	}
	if h.BaseAmount < 0 {
		return invalid(model.EnrichmentModifications, "base_amount is negative", nil)
	}
	for _, m := range h.Modifications {
		if m.Number == "" {
			return invalid(model.EnrichmentModifications, "modification has no number", nil)
		}
	}
	return checkCandidates(model.EnrichmentModifications, h.Candidates, false)
}
