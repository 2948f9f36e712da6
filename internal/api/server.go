// Package api exposes the processing worker over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/newsletter-worker/internal/config"
	"github.com/sells-group/newsletter-worker/internal/model"
	"github.com/sells-group/newsletter-worker/internal/pipeline"
	"github.com/sells-group/newsletter-worker/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	store     store.Store
	processor *pipeline.Processor
	cfg       config.PipelineConfig
}

func NewServer(st store.Store, processor *pipeline.Processor, cfg config.PipelineConfig) *Server {
	return &Server{store: st, processor: processor, cfg: cfg}
}

// Router builds the chi mux with the worker's routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/process", s.handleProcess)
	r.Get("/companies", s.handleListCompanies)
	r.Post("/emails", s.handleCreateEmail)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type processRequest struct {
	UserID    string `json:"userId"`
	BatchSize int    `json:"batchSize"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	params := pipeline.Params{
		UserID:         req.UserID,
		BatchSize:      req.BatchSize,
		Origin:         pipeline.RequestOrigin(r),
		ForwardHeaders: pipeline.ForwardableHeaders(r.Header),
	}

	// Continuation requests are accepted immediately and run detached, so
	// the run that scheduled them can report success without waiting for
	// another full time budget.
	if r.Header.Get(pipeline.ContinuationHeader) != "" {
		go func() {
			if _, err := s.processor.Run(context.WithoutCancel(r.Context()), params); err != nil {
				zap.L().Error("continuation run failed",
					zap.String("user_id", params.UserID),
					zap.Error(err))
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"userId": req.UserID,
		})
		return
	}

	result, err := s.processor.Run(r.Context(), params)
	if err != nil {
		zap.L().Error("processing run failed",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch pending emails")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	companies, err := s.store.ListCompanies(r.Context(), userID, limit)
	if err != nil {
		zap.L().Error("failed to list companies",
			zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list companies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"companies": companies,
		"count":     len(companies),
	})
}

type createEmailRequest struct {
	UserID     string `json:"userId"`
	Subject    string `json:"subject"`
	Content    string `json:"content"`
	RawContent string `json:"rawContent"`
}

// handleCreateEmail enqueues an email for a later processing run.
func (s *Server) handleCreateEmail(w http.ResponseWriter, r *http.Request) {
	var req createEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	email := &model.Email{
		UserID:     req.UserID,
		Subject:    req.Subject,
		Content:    req.Content,
		RawContent: req.RawContent,
	}
	if err := s.store.CreateEmail(r.Context(), email); err != nil {
		zap.L().Error("failed to enqueue email",
			zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue email")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": email.ID})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
