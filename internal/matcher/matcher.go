// Package matcher reconciles a local award record against registry
// candidates using tiered identifier evidence.
package matcher

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/award-enricher/internal/model"
)

// Confidence assigned to each identifier tier.
const (
	ExactIdentifierConfidence      = 1.0
	GovernmentIdentifierConfidence = 0.9
)

// scoreTolerance absorbs float noise when comparing scores against the
// threshold and epsilon.
const scoreTolerance = 1e-9

// Config controls fuzzy-name acceptance.
type Config struct {
	// AcceptThreshold is the minimum fuzzy score for a candidate to be
	// accepted. Default: 0.75.
	AcceptThreshold float64
	// AmbiguityEpsilon is the score distance within which two accepted
	// candidates are indistinguishable. Default: 0.05.
	AmbiguityEpsilon float64
}

// DefaultConfig returns the default matching thresholds.
func DefaultConfig() Config {
	return Config{AcceptThreshold: 0.75, AmbiguityEpsilon: 0.05}
}

// Scorer computes a fuzzy score in [0,1] for a record/candidate pair and
// the evidence that produced it.
type Scorer func(rec model.AwardRecord, cand model.RegistryEntity) (float64, []string)

// AmbiguousMatchError is returned when more than one fuzzy candidate clears
// the acceptance threshold within the ambiguity epsilon of the best.
type AmbiguousMatchError struct {
	RecordID   string
	Candidates []model.MatchCandidate
}

func (e *AmbiguousMatchError) Error() string {
	ids := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		ids[i] = fmt.Sprintf("%s=%.2f", c.ExternalEntityID, c.Confidence)
	}
	return fmt.Sprintf("ambiguous match for record %s: %v", e.RecordID, ids)
}

// Matcher picks the best registry candidate for a record. It holds no
// per-call state and is safe for concurrent use.
type Matcher struct {
	cfg    Config
	scorer Scorer
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithScorer replaces the default fuzzy scorer.
func WithScorer(s Scorer) Option {
	return func(m *Matcher) {
		m.scorer = s
	}
}

// New creates a Matcher.
func New(cfg Config, opts ...Option) *Matcher {
	def := DefaultConfig()
	if cfg.AcceptThreshold <= 0 {
		cfg.AcceptThreshold = def.AcceptThreshold
	}
	if cfg.AmbiguityEpsilon < 0 {
		cfg.AmbiguityEpsilon = def.AmbiguityEpsilon
	}
	m := &Matcher{cfg: cfg, scorer: DefaultScore}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match returns the best candidate for rec, or nil when nothing qualifies.
// Tiers apply in strict order: exact external identifier, normalized
// government identifier, then fuzzy name. An ambiguous fuzzy outcome returns
// *AmbiguousMatchError.
func (m *Matcher) Match(rec model.AwardRecord, candidates []model.RegistryEntity) (*model.MatchCandidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	// Sort once by entity id so every tier breaks ties the same way.
	sorted := make([]model.RegistryEntity, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EntityID < sorted[j].EntityID
	})

	if mc := matchExact(rec, sorted); mc != nil {
		return mc, nil
	}
	if mc := matchGovernment(rec, sorted); mc != nil {
		return mc, nil
	}
	return m.matchFuzzy(rec, sorted)
}

func matchExact(rec model.AwardRecord, cands []model.RegistryEntity) *model.MatchCandidate {
	want := NormalizeIdentifier(rec.ExternalEntityID)
	if want == "" {
		return nil
	}
	for _, c := range cands {
		if NormalizeIdentifier(c.EntityID) == want {
			return &model.MatchCandidate{
				LocalRecordID:    rec.ID,
				ExternalEntityID: c.EntityID,
				Tier:             model.TierExactIdentifier,
				Confidence:       ExactIdentifierConfidence,
				Evidence:         []string{"external_entity_id=" + want},
			}
		}
	}
	return nil
}

func matchGovernment(rec model.AwardRecord, cands []model.RegistryEntity) *model.MatchCandidate {
	want := NormalizeGovID(rec.GovernmentID)
	if want == "" {
		return nil
	}
	for _, c := range cands {
		if NormalizeGovID(c.GovernmentID) == want {
			return &model.MatchCandidate{
				LocalRecordID:    rec.ID,
				ExternalEntityID: c.EntityID,
				Tier:             model.TierGovernmentIdentifier,
				Confidence:       GovernmentIdentifierConfidence,
				Evidence:         []string{"government_id=" + want},
			}
		}
	}
	return nil
}

func (m *Matcher) matchFuzzy(rec model.AwardRecord, cands []model.RegistryEntity) (*model.MatchCandidate, error) {
	var accepted []model.MatchCandidate
	for _, c := range cands {
		score, evidence := m.scorer(rec, c)
		score = model.ClampConfidence(score)
		if score+scoreTolerance < m.cfg.AcceptThreshold {
			continue
		}
		accepted = append(accepted, model.MatchCandidate{
			LocalRecordID:    rec.ID,
			ExternalEntityID: c.EntityID,
			Tier:             model.TierFuzzyName,
			Confidence:       score,
			Evidence:         evidence,
		})
	}
	if len(accepted) == 0 {
		return nil, nil
	}

	// Highest score first; candidates arrive sorted by id, so a stable sort
	// keeps the lower id ahead on equal scores. Equal scores are rivals.
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Confidence > accepted[j].Confidence
	})

	best := accepted[0]
	var rivals []model.MatchCandidate
	for _, c := range accepted[1:] {
		if math.Abs(best.Confidence-c.Confidence) <= m.cfg.AmbiguityEpsilon+scoreTolerance {
			rivals = append(rivals, c)
		}
	}
	if len(rivals) > 0 {
		zap.L().Debug("matcher: ambiguous fuzzy match",
			zap.String("record_id", rec.ID),
			zap.String("best", best.ExternalEntityID),
			zap.Int("rivals", len(rivals)),
		)
		return nil, &AmbiguousMatchError{
			RecordID:   rec.ID,
			Candidates: append([]model.MatchCandidate{best}, rivals...),
		}
	}
	return &best, nil
}

// DefaultScore blends trigram name similarity with attribute agreement:
// 80% name, then state, city, ZIP prefix and active-year bonuses.
func DefaultScore(rec model.AwardRecord, cand model.RegistryEntity) (float64, []string) {
	a, b := NormalizeName(rec.AwardeeName), NormalizeName(cand.Name)
	if a == "" || b == "" {
		return 0, nil
	}

	sim := Similarity(a, b)
	score := 0.8 * sim
	evidence := []string{fmt.Sprintf("name_similarity=%.3f", sim)}

	if rec.State != "" && equalFold(rec.State, cand.State) {
		score += 0.08
		evidence = append(evidence, "state")
	}
	if rec.City != "" && NormalizeName(rec.City) == NormalizeName(cand.City) {
		score += 0.04
		evidence = append(evidence, "city")
	}
	if zp := zipPrefix(rec.Zip); zp != "" && zp == zipPrefix(cand.Zip) {
		score += 0.04
		evidence = append(evidence, "zip3")
	}
	if rec.AwardYear > 0 && cand.ActiveIn(rec.AwardYear) {
		score += 0.04
		evidence = append(evidence, "active_year")
	}

	return model.ClampConfidence(score), evidence
}

func equalFold(a, b string) bool {
	return NormalizeIdentifier(a) == NormalizeIdentifier(b)
}
