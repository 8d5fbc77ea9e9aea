// Package enrich turns one enrichment request into one EnrichmentResult.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/award-enricher/internal/matcher"
	"github.com/sells-group/award-enricher/internal/model"
	"github.com/sells-group/award-enricher/internal/registry"
)

// RecordSource loads local award records.
type RecordSource interface {
	GetRecord(ctx context.Context, id string) (*model.AwardRecord, error)
}

// Fetcher retrieves a decoded registry payload for an entity key.
type Fetcher interface {
	Fetch(ctx context.Context, key registry.EntityKey) (*model.Payload, error)
}

// Matcher picks the best candidate for a record.
type Matcher interface {
	Match(rec model.AwardRecord, candidates []model.RegistryEntity) (*model.MatchCandidate, error)
}

// Config controls result classification.
type Config struct {
	// SuccessThreshold is the minimum match confidence for a success
	// result. Default: 0.8.
	SuccessThreshold float64
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{SuccessThreshold: 0.8}
}

// Worker processes single enrichment requests. It keeps no state between
// calls; identical requests against identical external state yield
// identical results apart from FetchedAt.
type Worker struct {
	records RecordSource
	fetcher Fetcher
	matcher Matcher
	cfg     Config
	nowFunc func() time.Time
}

// NewWorker creates a Worker.
func NewWorker(records RecordSource, fetcher Fetcher, m Matcher, cfg Config) *Worker {
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	return &Worker{
		records: records,
		fetcher: fetcher,
		matcher: m,
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// Process runs one request to completion. It never returns an error: every
// failure, including a panic in a collaborator, is captured in the result.
func (w *Worker) Process(ctx context.Context, req model.EnrichmentRequest) (res model.EnrichmentResult) {
	res = model.EnrichmentResult{
		JobID:          req.JobID,
		RecordID:       req.RecordID,
		EnrichmentType: req.EnrichmentType,
	}
	log := zap.L().With(
		zap.String("component", "enrich"),
		zap.String("record_id", req.RecordID),
		zap.String("type", string(req.EnrichmentType)),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("enrich: recovered panic", zap.Any("panic", r))
			res.Status = model.ResultFailed
			res.Confidence = 0
			res.ErrorDetail = fmt.Sprintf("panic: %v", r)
			res.Payload = nil
		}
		res.Confidence = model.ClampConfidence(res.Confidence)
		if res.FetchedAt.IsZero() {
			res.FetchedAt = w.nowFunc().UTC()
		}
	}()

	rec, err := w.records.GetRecord(ctx, req.RecordID)
	if err != nil {
		return fail(res, fmt.Sprintf("load record: %v", err))
	}
	if rec == nil {
		return fail(res, "load record: record not found")
	}

	key, err := registry.KeyFor(*rec, req.EnrichmentType)
	if err != nil {
		return fail(res, err.Error())
	}

	payload, err := w.fetcher.Fetch(ctx, key)
	res.FetchedAt = w.nowFunc().UTC()
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			res.Status = model.ResultNotFound
			return res
		}
		log.Debug("enrich: fetch failed", zap.String("key", key.String()), zap.Error(err))
		return fail(res, err.Error())
	}

	mc, err := w.matcher.Match(*rec, payload.Candidates())
	var amb *matcher.AmbiguousMatchError
	switch {
	case errors.As(err, &amb):
		res.Status = model.ResultLowConfidence
		res.NeedsReview = true
		res.Tier = model.TierFuzzyName
		res.Confidence = amb.Candidates[0].Confidence
		res.ErrorDetail = amb.Error()
		res.Payload = payload
		return res
	case err != nil:
		return fail(res, fmt.Sprintf("match: %v", err))
	case mc == nil:
		res.Status = model.ResultNotFound
		res.ErrorDetail = "no candidate matched"
		return res
	}

	res.Confidence = mc.Confidence
	res.Tier = mc.Tier
	res.ExternalEntityID = mc.ExternalEntityID
	res.Payload = payload
	if mc.Confidence >= w.cfg.SuccessThreshold {
		res.Status = model.ResultSuccess
	} else {
		res.Status = model.ResultLowConfidence
		res.NeedsReview = true
	}
	return res
}

func fail(res model.EnrichmentResult, detail string) model.EnrichmentResult {
	res.Status = model.ResultFailed
	res.ErrorDetail = detail
	return res
}
