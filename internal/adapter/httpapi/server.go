package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/step6836/CloudRAG/config"
	"github.com/step6836/CloudRAG/internal/domain"
	"github.com/step6836/CloudRAG/internal/usecase"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Service serves the query, listing, stats and refresh endpoints.
type Service struct {
	retrieve *usecase.RetrieveUseCase
	stats    *usecase.StatsUseCase
	index    *usecase.IndexUseCase
	logger   *slog.Logger
}

// New creates the HTTP service.
func New(retrieve *usecase.RetrieveUseCase, stats *usecase.StatsUseCase, index *usecase.IndexUseCase, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{retrieve: retrieve, stats: stats, index: index, logger: logger}
}

// Router returns the chi router for the API.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHealth)
	r.Get("/companies", s.handleCompanies)
	r.Get("/transcripts/{company}", s.handleTranscripts)
	r.Post("/query", s.handleQuery)
	r.Get("/stats", s.handleStats)
	r.Get("/cost", s.handleCost)
	r.Post("/refresh", s.handleRefresh)
	return r
}

// ListenAndServe serves on cfg.Addr until ctx is cancelled.
func (s *Service) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	s.logger.Info("api listening", "addr", cfg.Addr)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "online",
		"message":       "CloudRAG API is running",
		"version":       Version,
		"index_vectors": s.index.Snapshot().Len(),
	})
}

func (s *Service) handleCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.stats.Companies(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"companies": companies,
		"total":     len(companies),
	})
}

func (s *Service) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	company := chi.URLParam(r, "company")
	transcripts, err := s.stats.Transcripts(r.Context(), company)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"company":     company,
		"transcripts": transcripts,
	})
}

func (s *Service) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req domain.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	result, err := s.retrieve.Query(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Service) handleCost(w http.ResponseWriter, r *http.Request) {
	cost, err := s.stats.Cost(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cost)
}

func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	report, err := s.index.Refresh(r.Context(), nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCorruptState),
		errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, domain.ErrRefreshInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
