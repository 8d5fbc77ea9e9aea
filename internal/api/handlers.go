package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/award-enricher/internal/model"
	"github.com/sells-group/award-enricher/internal/orchestrator"
	"github.com/sells-group/award-enricher/internal/store"
)

const (
	defaultReviewLimit = 100
	maxBodyBytes       = 1 << 20
)

type submitResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
	Error  string          `json:"error,omitempty"`
}

type recordResultsResponse struct {
	RecordID string                     `json:"record_id"`
	Results  []model.EnrichmentResult   `json:"results"`
	Findings []model.ConsistencyFinding `json:"findings"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var spec model.JobSpec
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.jobs.Submit(r.Context(), spec)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidJob) {
			writeJSON(w, http.StatusBadRequest, submitResponse{JobID: id, Status: model.JobFailed, Error: err.Error()})
			return
		}
		s.log.Error("submit job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{JobID: id, Status: model.JobQueued})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := model.JobStatus(r.URL.Query().Get("status"))
	jobs := s.jobs.List()
	out := make([]model.EnrichmentJob, 0, len(jobs))
	for _, j := range jobs {
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, j)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.jobs.Status(id)
	if err == nil {
		writeJSON(w, http.StatusOK, job)
		return
	}
	if !errors.Is(err, orchestrator.ErrJobNotFound) {
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}

	// Jobs from earlier processes survive only as stored snapshots.
	stored, err := s.store.GetJob(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case err != nil:
		s.log.Error("get stored job failed", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "job lookup failed")
	default:
		writeJSON(w, http.StatusOK, stored)
	}
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, orchestrator.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.log.Error("cancel job failed", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}

	job, err := s.jobs.Status(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleRecordResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	results, err := s.store.ListResults(ctx, id)
	if err != nil {
		s.log.Error("list results failed", zap.String("record_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list results failed")
		return
	}
	findings, err := s.store.ListFindings(ctx, store.FindingFilter{RecordID: id})
	if err != nil {
		s.log.Error("list findings failed", zap.String("record_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list findings failed")
		return
	}

	if results == nil {
		results = []model.EnrichmentResult{}
	}
	if findings == nil {
		findings = []model.ConsistencyFinding{}
	}
	writeJSON(w, http.StatusOK, recordResultsResponse{RecordID: id, Results: results, Findings: findings})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	limit := defaultReviewLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	results, err := s.store.ReviewQueue(r.Context(), limit)
	if err != nil {
		s.log.Error("review queue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "review queue failed")
		return
	}
	if results == nil {
		results = []model.EnrichmentResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeError(w, http.StatusNotFound, "stats not enabled")
		return
	}
	snap, err := s.collector.Collect(r.Context())
	if err != nil {
		s.log.Error("collect stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
