// Package api exposes the HTTP interface for the archiver service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/intel-archiver/internal/archiver"
	"github.com/JakeFAU/intel-archiver/internal/config"
	"github.com/JakeFAU/intel-archiver/internal/crawler"
	"github.com/JakeFAU/intel-archiver/internal/metrics"
	"github.com/JakeFAU/intel-archiver/internal/pipeline"
	"github.com/JakeFAU/intel-archiver/internal/runregistry"
)

// Workflow starts, stops and reports runs.
type Workflow interface {
	Start(ctx context.Context, trig pipeline.Trigger) (pipeline.RunHandle, error)
	Stop(ctx context.Context) (pipeline.StopResult, error)
	Status(ctx context.Context) (runregistry.Record, bool, error)
}

// ArtifactDeleter removes archived artifacts.
type ArtifactDeleter interface {
	Delete(ctx context.Context, id uuid.UUID, force bool) error
}

// Server wires HTTP handlers to the orchestrator and the archiver.
type Server struct {
	router    chi.Router
	workflow  Workflow
	artifacts ArtifactDeleter
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(workflow Workflow, artifacts ArtifactDeleter, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		workflow:  workflow,
		artifacts: artifacts,
		logger:    logger,
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/workflow", func(r chi.Router) {
			r.Post("/start", s.startWorkflow)
			r.Post("/stop", s.stopWorkflow)
			r.Get("/status", s.workflowStatus)
		})
		r.Delete("/artifacts/{artifact_id}", s.deleteArtifact)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) startWorkflow(w http.ResponseWriter, r *http.Request) {
	var trig pipeline.Trigger
	if err := json.NewDecoder(r.Body).Decode(&trig); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if trig.CrawlDepth < 0 {
		s.writeError(w, http.StatusBadRequest, "crawl_depth must be >= 0")
		return
	}
	for i, src := range trig.Sources {
		tt, err := crawler.ParseTargetType(string(src.TargetType))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		trig.Sources[i].TargetType = tt
	}

	handle, err := s.workflow.Start(r.Context(), trig)
	switch {
	case errors.Is(err, pipeline.ErrNoActiveSources):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, runregistry.ErrRunInProgress):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("workflow start failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to start workflow")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": handle.RunID, "status": "accepted"})
}

func (s *Server) stopWorkflow(w http.ResponseWriter, r *http.Request) {
	result, err := s.workflow.Stop(r.Context())
	if err != nil {
		s.logger.Error("workflow stop failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to stop workflow")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(result)})
}

func (s *Server) workflowStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := s.workflow.Status(r.Context())
	if err != nil {
		s.logger.Error("workflow status failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read workflow status")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, string(pipeline.StopNoRunFound))
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "artifact_id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		force, err = strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
	}
	err = s.artifacts.Delete(r.Context(), id, force)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, crawler.ErrArtifactNotFound):
		s.writeError(w, http.StatusNotFound, "artifact not found")
	case errors.Is(err, archiver.ErrStorageDelete):
		// The row is kept; the caller may retry with force=true.
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("artifact delete failed", zap.String("artifact_id", id.String()), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to delete artifact")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				if auth, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					key = auth
				}
			}
			if key != expected {
				writeJSONTo(w, http.StatusForbidden, map[string]string{"error": "unauthorized"}, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSONTo(w, status, payload, s.logger)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSONTo(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
