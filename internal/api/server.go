// Package api exposes the HTTP interface for the capture engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
	"github.com/JakeFAU/repo-capture-engine/internal/intake"
	"github.com/JakeFAU/repo-capture-engine/internal/lifecycle"
	"github.com/JakeFAU/repo-capture-engine/internal/rollout"
)

// Config tunes the HTTP surface.
type Config struct {
	RequestTimeout time.Duration
	AuthEnabled    bool
	APIKey         string
}

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// Server wires HTTP handlers to the intake pipeline and stores.
type Server struct {
	router    chi.Router
	intake    *intake.Service
	jobs      capture.JobStore
	repos     capture.RepositoryStore
	lifecycle *lifecycle.Manager
	rollout   *rollout.Controller
	ready     ReadyFunc
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	cfg Config,
	intakeSvc *intake.Service,
	jobs capture.JobStore,
	repos capture.RepositoryStore,
	manager *lifecycle.Manager,
	controller *rollout.Controller,
	ready ReadyFunc,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		intake:    intakeSvc,
		jobs:      jobs,
		repos:     repos,
		lifecycle: manager,
		rollout:   controller,
		ready:     ready,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/captures", s.submitCapture)
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Post("/retry", s.forceRetry)
		})
		r.Route("/repositories/{repo_id}", func(r chi.Router) {
			r.Get("/", s.getRepository)
			r.Put("/", s.putRepository)
		})
		r.Route("/rollout", func(r chi.Router) {
			r.Get("/", s.getRollout)
			r.Put("/", s.setRollout)
			r.Post("/emergency-stop", s.emergencyStop)
			r.Post("/resume", s.resumeRollout)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type captureRequest struct {
	RepositoryID string          `json:"repository_id"`
	JobType      string          `json:"job_type"`
	ResourceID   string          `json:"resource_id"`
	Trigger      string          `json:"trigger"`
	BatchSize    int             `json:"batch_size"`
	DataAgeHours int             `json:"data_age_hours"`
	Metadata     json.RawMessage `json:"metadata"`
}

type captureResponse struct {
	JobID         string `json:"job_id,omitempty"`
	Processor     string `json:"processor,omitempty"`
	Score         int    `json:"score,omitempty"`
	Suppressed    bool   `json:"suppressed,omitempty"`
	ExistingJobID string `json:"existing_job_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (s *Server) submitCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	jobType := capture.JobType(req.JobType)
	metadata, err := decodeMetadata(jobType, req.Metadata)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	decision, err := s.intake.Submit(r.Context(), capture.CaptureRequest{
		RepositoryID: req.RepositoryID,
		Type:         jobType,
		ResourceID:   req.ResourceID,
		Trigger:      capture.TriggerSource(req.Trigger),
		BatchSize:    req.BatchSize,
		DataAge:      time.Duration(req.DataAgeHours) * time.Hour,
		Metadata:     metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, capture.ErrNotFound):
			writeError(w, http.StatusNotFound, "repository not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	switch {
	case decision.Suppressed:
		writeJSON(w, http.StatusOK, captureResponse{Suppressed: true})
	case decision.Duplicate:
		writeJSON(w, http.StatusConflict, captureResponse{
			Error:         "active job already exists",
			ExistingJobID: decision.ExistingJobID,
		})
	default:
		writeJSON(w, http.StatusAccepted, captureResponse{
			JobID:     decision.JobID,
			Processor: string(decision.Processor),
			Score:     decision.Score,
		})
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, capture.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) forceRetry(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.lifecycle.ForceRetry(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, capture.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, capture.ErrInvalidInput):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(capture.JobStatusRetryPending),
	})
}

type repositoryRequest struct {
	Owner          string `json:"owner"`
	Name           string `json:"name"`
	PriorityTier   string `json:"priority_tier"`
	WebhookEnabled bool   `json:"webhook_enabled"`
}

func (s *Server) putRepository(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "repo_id")
	var req repositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Owner == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "owner and name are required")
		return
	}
	priority := capture.PriorityTier(req.PriorityTier)
	switch priority {
	case capture.PriorityHigh, capture.PriorityMedium, capture.PriorityLow:
	case "":
		priority = capture.PriorityLow
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown priority tier %q", req.PriorityTier))
		return
	}

	repo := capture.Repository{
		ID:             repoID,
		Owner:          req.Owner,
		Name:           req.Name,
		PriorityTier:   priority,
		WebhookEnabled: req.WebhookEnabled,
	}
	// Preserve classification state across updates; a fresh repository
	// starts small and is reclassified on first submit.
	if existing, err := s.repos.GetRepository(r.Context(), repoID); err == nil {
		repo.SizeTier = existing.SizeTier
		repo.Metrics = existing.Metrics
		repo.SizeCalculatedAt = existing.SizeCalculatedAt
		repo.LastWebhookEventAt = existing.LastWebhookEventAt
	} else {
		repo.SizeTier = capture.SizeSmall
	}
	if err := s.repos.SaveRepository(r.Context(), repo); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repository": repo})
}

func (s *Server) getRepository(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "repo_id")
	repo, err := s.repos.GetRepository(r.Context(), repoID)
	if err != nil {
		if errors.Is(err, capture.ErrNotFound) {
			writeError(w, http.StatusNotFound, "repository not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repository": repo})
}

func (s *Server) getRollout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.rollout.Snapshot())
}

type rolloutRequest struct {
	Percentage int    `json:"percentage"`
	Reason     string `json:"reason"`
}

func (s *Server) setRollout(w http.ResponseWriter, r *http.Request) {
	var req rolloutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Reason == "" {
		req.Reason = "operator update"
	}
	if err := s.rollout.SetRollout(r.Context(), req.Percentage, req.Reason); err != nil {
		if errors.Is(err, capture.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.rollout.Snapshot())
}

func (s *Server) emergencyStop(w http.ResponseWriter, r *http.Request) {
	var req rolloutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "operator emergency stop"
	}
	if err := s.rollout.EmergencyStop(r.Context(), req.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.rollout.Snapshot())
}

func (s *Server) resumeRollout(w http.ResponseWriter, r *http.Request) {
	var req rolloutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "operator resume"
	}
	if err := s.rollout.Resume(r.Context(), req.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.rollout.Snapshot())
}

// decodeMetadata parses the request's metadata object into the variant for
// the job type. A missing object defers to the intake defaults.
func decodeMetadata(t capture.JobType, raw json.RawMessage) (capture.Metadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m capture.Metadata
	switch t {
	case capture.JobTypeSync:
		m = &capture.SyncMetadata{}
	case capture.JobTypeDetailFetch:
		m = &capture.DetailFetchMetadata{}
	case capture.JobTypeReviewFetch:
		m = &capture.ReviewFetchMetadata{}
	case capture.JobTypeCommentFetch:
		m = &capture.CommentFetchMetadata{}
	case capture.JobTypeCommitAnalysis:
		m = &capture.CommitAnalysisMetadata{}
	case capture.JobTypeClassification:
		m = &capture.ClassificationMetadata{}
	default:
		return nil, fmt.Errorf("unknown job type %q", t)
	}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", t, err)
	}
	return m, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
