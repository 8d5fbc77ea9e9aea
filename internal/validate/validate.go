// Package validate cross-checks accepted enrichment results against the
// local record and reports disagreements as review findings.
package validate

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sells-group/award-enricher/internal/matcher"
	"github.com/sells-group/award-enricher/internal/model"
)

// Config controls comparison tolerances.
type Config struct {
	// AmountTolerance is the relative difference allowed between amounts.
	// Default: 0.01.
	AmountTolerance float64
	// AmountFloor is the absolute difference always allowed. Default: 1.
	AmountFloor float64
	// DateToleranceDays is the calendar-day difference allowed. Default: 1.
	DateToleranceDays int
}

// DefaultConfig returns the default tolerances.
func DefaultConfig() Config {
	return Config{AmountTolerance: 0.01, AmountFloor: 1, DateToleranceDays: 1}
}

// Validator compares overlapping fields. It is stateless and safe for
// concurrent use.
type Validator struct {
	cfg     Config
	nowFunc func() time.Time
}

// New creates a Validator. Negative tolerances fall back to defaults.
func New(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.AmountTolerance < 0 {
		cfg.AmountTolerance = def.AmountTolerance
	}
	if cfg.AmountFloor < 0 {
		cfg.AmountFloor = def.AmountFloor
	}
	if cfg.DateToleranceDays < 0 {
		cfg.DateToleranceDays = def.DateToleranceDays
	}
	return &Validator{cfg: cfg, nowFunc: time.Now}
}

// Validate returns findings for an accepted result. Results without a
// payload, or with a status other than success or low_confidence, produce
// none.
func (v *Validator) Validate(rec model.AwardRecord, res model.EnrichmentResult) []model.ConsistencyFinding {
	if res.Payload == nil {
		return nil
	}
	if res.Status != model.ResultSuccess && res.Status != model.ResultLowConfidence {
		return nil
	}

	c := &collector{rec: rec, res: res, now: v.nowFunc().UTC()}
	p := res.Payload

	switch p.Type {
	case model.EnrichmentAwardee:
		if p.Awardee != nil {
			v.checkAwardee(c, p.Awardee)
		}
	case model.EnrichmentProgramOffice:
		if p.ProgramOffice != nil {
			c.code("agency_code", rec.AgencyCode, p.ProgramOffice.AgencyCode)
			c.code("office_code", rec.OfficeCode, p.ProgramOffice.OfficeCode)
		}
	case model.EnrichmentSolicitation:
		if s := p.Solicitation; s != nil {
			c.identifier("solicitation_number", rec.SolicitationNumber, s.SolicitationNumber)
			c.code("naics", rec.NAICS, s.NAICS)
			if !s.PostedDate.IsZero() && !rec.SignedDate.IsZero() &&
				days(rec.SignedDate, s.PostedDate) > v.cfg.DateToleranceDays {
				c.add("posted_date", model.FindingDate, formatDate(rec.SignedDate), formatDate(s.PostedDate),
					"solicitation posted after the award was signed")
			}
		}
	case model.EnrichmentModifications:
		if h := p.Modifications; h != nil {
			c.piid(rec.PIID, h.PIID)
			v.amount(c, "amount", rec.Amount, h.TotalObligated(), "base amount plus modifications")
		}
	}

	return c.findings
}

func (v *Validator) checkAwardee(c *collector, h *model.AwardeeHistory) {
	if c.res.ExternalEntityID != "" {
		c.identifier("external_entity_id", c.rec.ExternalEntityID, c.res.ExternalEntityID)
	}

	for _, cand := range h.Candidates {
		if cand.EntityID != c.res.ExternalEntityID {
			continue
		}
		if a, b := matcher.NormalizeGovID(c.rec.GovernmentID), matcher.NormalizeGovID(cand.GovernmentID); a != "" && b != "" && a != b {
			c.add("government_id", model.FindingIdentifier, c.rec.GovernmentID, cand.GovernmentID, "")
		}
		c.code("state", c.rec.State, cand.State)
		break
	}

	piid := matcher.NormalizePIID(c.rec.PIID)
	if piid == "" {
		return
	}
	for _, a := range h.Awards {
		if matcher.NormalizePIID(a.PIID) != piid {
			continue
		}
		v.amount(c, "amount", c.rec.Amount, a.Amount, "registry award history")
		v.date(c, "signed_date", c.rec.SignedDate, a.SignedDate)
		return
	}
}

func (v *Validator) amount(c *collector, field string, local, external float64, detail string) {
	if local == 0 || external == 0 {
		return
	}
	diff := math.Abs(local - external)
	tol := math.Max(v.cfg.AmountFloor, v.cfg.AmountTolerance*math.Max(math.Abs(local), math.Abs(external)))
	if diff > tol {
		c.add(field, model.FindingAmount, formatAmount(local), formatAmount(external),
			fmt.Sprintf("%s differs by %s", detail, formatAmount(diff)))
	}
}

func (v *Validator) date(c *collector, field string, local, external time.Time) {
	if local.IsZero() || external.IsZero() {
		return
	}
	d := days(local, external)
	if d < 0 {
		d = -d
	}
	if d > v.cfg.DateToleranceDays {
		c.add(field, model.FindingDate, formatDate(local), formatDate(external),
			fmt.Sprintf("%d days apart", d))
	}
}

// days returns the signed calendar-day difference b - a in UTC.
func days(a, b time.Time) int {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

type collector struct {
	rec      model.AwardRecord
	res      model.EnrichmentResult
	now      time.Time
	findings []model.ConsistencyFinding
}

func (c *collector) add(field string, kind model.FindingKind, local, external, detail string) {
	c.findings = append(c.findings, model.ConsistencyFinding{
		ResultID:       c.res.ID,
		RecordID:       c.rec.ID,
		EnrichmentType: c.res.EnrichmentType,
		Field:          field,
		Kind:           kind,
		LocalValue:     local,
		ExternalValue:  external,
		Detail:         detail,
		CreatedAt:      c.now,
	})
}

// identifier compares exactly after trimming and uppercasing.
func (c *collector) identifier(field, local, external string) {
	if local == "" || external == "" {
		return
	}
	if matcher.NormalizeIdentifier(local) != matcher.NormalizeIdentifier(external) {
		c.add(field, model.FindingIdentifier, local, external, "")
	}
}

// piid compares contract numbers ignoring dash formatting.
func (c *collector) piid(local, external string) {
	if local == "" || external == "" {
		return
	}
	if matcher.NormalizePIID(local) != matcher.NormalizePIID(external) {
		c.add("piid", model.FindingIdentifier, local, external, "")
	}
}

// code compares short codes case-insensitively.
func (c *collector) code(field, local, external string) {
	if local == "" || external == "" {
		return
	}
	if matcher.NormalizeIdentifier(local) != matcher.NormalizeIdentifier(external) {
		c.add(field, model.FindingCode, local, external, "")
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
