package registry

import (

	"github.com/sells-group/award-enricher/internal/matcher"
	"github.com/sells-group/award-enricher/internal/model"
)

// EntityKey identifies one external lookup. Two work items with equal keys
// resolve to the same registry call.
type EntityKey struct {
	Type  model.EnrichmentType
	Value string
}

func (k EntityKey) String() string {
	return string(k.Type) + ":" + k.Value
}

// KeyFor derives the registry lookup key for a record and enrichment type.
// Awardee lookups prefer the UEI, then the normalized government id, then
// the normalized name scoped by state.
func KeyFor(rec model.AwardRecord, typ model.EnrichmentType) (EntityKey, error) {
	key := EntityKey{Type: typ}

	switch typ {
	case model.EnrichmentAwardee:
		switch {
		case matcher.NormalizeIdentifier(rec.ExternalEntityID) != "":
			key.Value = "uei:" + matcher.NormalizeIdentifier(rec.ExternalEntityID)
		case matcher.NormalizeGovID(rec.GovernmentID) != "":
			key.Value = "gov:" + matcher.NormalizeGovID(rec.GovernmentID)
		case matcher.NormalizeName(rec.AwardeeName) != "":
			key.Value = "name:" + matcher.NormalizeName(rec.AwardeeName)
			if st := matcher.NormalizeIdentifier(rec.State); st != "" {
				key.Value += "|" + st
			}
		default:
			return key, invalid(typ, "record has no awardee identifier or name", nil)
		}
	case model.EnrichmentProgramOffice:
		agency := matcher.NormalizeIdentifier(rec.AgencyCode)
		if agency == "" {
			return key, invalid(typ, "record has no agency code", nil)
		}
		key.Value = agency
		if office := matcher.NormalizeIdentifier(rec.OfficeCode); office != "" {
			key.Value += "/" + office
		}
	case model.EnrichmentSolicitation:
		sol := matcher.NormalizeIdentifier(rec.SolicitationNumber)
		if sol == "" {
			return key, invalid(typ, "record has no solicitation number", nil)
		}
		key.Value = sol
	case model.EnrichmentModifications:
		piid := matcher.NormalizePIID(rec.PIID)
		if piid == "" {
			return key, invalid(typ, "record has no PIID", nil)
		}
		key.Value = piid
	default:
		return key, invalid(typ, "unknown enrichment type", nil)
	}

	return key, nil
}
