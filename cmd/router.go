package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/sdr-cli/internal/ingest"
	"github.com/sells-group/sdr-cli/internal/model"
	"github.com/sells-group/sdr-cli/internal/monitoring"
	"github.com/sells-group/sdr-cli/internal/pipeline"
	"github.com/sells-group/sdr-cli/internal/store"
)

// pinger reports store reachability for /health.
type pinger interface {
	Ping(ctx context.Context) error
}

// server holds the HTTP handlers for the console API.
type server struct {
	ingest    *ingest.Service
	collector *monitoring.Collector
	trigger   ingest.Trigger
	db        pinger
}

func newRouter(s *server, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.health)
	r.Get("/stats", s.stats)
	r.Post("/leads", s.addLead)
	r.Post("/leads/import", s.importLeads)
	r.Post("/leads/{id}/ready", s.confirmMeeting)
	r.Post("/leads/{id}/check", s.toggleChecked)
	r.Post("/leads/{id}/meeting", s.scheduleMeeting)
	r.Post("/leads/{id}/close", s.closeLead)
	r.Post("/leads/{id}/responded", s.markResponded)
	r.Post("/cycles/{kind}", s.triggerCycle)
	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		zap.L().Warn("health: store unreachable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Collect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) addLead(w http.ResponseWriter, r *http.Request) {
	var in ingest.LeadInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	lead, err := s.ingest.AddLead(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

func (s *server) importLeads(w http.ResponseWriter, r *http.Request) {
	var rows []ingest.LeadInput
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected a JSON array of leads"})
		return
	}
	res, err := s.ingest.ImportLeads(r.Context(), rows)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *server) confirmMeeting(w http.ResponseWriter, r *http.Request) {
	lead, err := s.ingest.ConfirmMeeting(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *server) toggleChecked(w http.ResponseWriter, r *http.Request) {
	lead, err := s.ingest.ToggleChecked(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

type meetingRequest struct {
	Link string    `json:"link"`
	Date time.Time `json:"date"`
}

func (s *server) scheduleMeeting(w http.ResponseWriter, r *http.Request) {
	var req meetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected link and an RFC 3339 date"})
		return
	}
	lead, err := s.ingest.ScheduleMeeting(r.Context(), chi.URLParam(r, "id"), req.Link, req.Date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *server) closeLead(w http.ResponseWriter, r *http.Request) {
	lead, err := s.ingest.CloseLead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *server) markResponded(w http.ResponseWriter, r *http.Request) {
	msg, err := s.ingest.MarkResponded(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *server) triggerCycle(w http.ResponseWriter, r *http.Request) {
	kind, err := pipeline.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	queued := s.trigger.Submit(kind)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"kind":   kind,
		"queued": queued,
	})
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ingest.ErrInvalidLead):
		status = http.StatusBadRequest
	case errors.Is(err, ingest.ErrDuplicateLead), errors.Is(err, store.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}
