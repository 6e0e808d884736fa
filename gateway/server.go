// Package gateway exposes the coordination service over HTTP: request
// submission and lifecycle operations under /v1, the audit trail, and a
// server-sent-events bridge over the live state-change fanout.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/viant/hitl"
	mrequest "github.com/viant/hitl/model/request"
	"github.com/viant/hitl/service/audit"
	"github.com/viant/hitl/service/engine"
)

// Server serves the HTTP API for a coordination service.
type Server struct {
	service *hitl.Service
	config  hitl.GatewayConfig
	logger  zerolog.Logger
	server  *http.Server
}

// New creates a gateway for the supplied service. The listen address and
// API keys come from the service configuration.
func New(service *hitl.Service, logger zerolog.Logger) *Server {
	return &Server{
		service: service,
		config:  service.Config().Gateway,
		logger:  logger,
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Get("/healthz", s.handleHealth)
	mux.Group(func(r chi.Router) {
		r.Use(s.logRequests)
		r.Use(s.authenticate)
		r.Post("/v1/requests", s.handleSubmit)
		r.Get("/v1/requests", s.handleList)
		r.Get("/v1/requests/{requestID}", s.handleGet)
		r.Delete("/v1/requests/{requestID}", s.handleCancel)
		r.Post("/v1/requests/{requestID}/respond", s.handleRespond)
		r.Get("/v1/audit", s.handleAudit)
		r.Get("/v1/events", s.handleEvents)
	})
	return mux
}

// ListenAndServe runs the gateway until ctx is cancelled, then shuts the
// listener down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Router(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()
	s.logger.Info().Str("addr", s.config.Addr).Msg("gateway listening")
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var input hitl.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && input.IdempotencyKey == "" {
		input.IdempotencyKey = key
	}
	created, err := s.service.Submit(r.Context(), &input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestID")
	aRequest, err := s.service.Get(r.Context(), id, r.URL.Query().Get("actor"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, aRequest)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := hitl.ListFilter{
		AgentID:     query.Get("agent_id"),
		State:       mrequest.State(query.Get("state")),
		Intent:      mrequest.Intent(query.Get("intent")),
		Urgency:     mrequest.Urgency(query.Get("urgency")),
		ResponderID: query.Get("responder_id"),
		Limit:       intParam(query.Get("limit")),
		Offset:      intParam(query.Get("offset")),
	}
	if filter.State != "" && !filter.State.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown state: "+string(filter.State))
		return
	}
	matched, err := s.service.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": matched,
		"count":    len(matched),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestID")
	cancelled, err := s.service.Cancel(r.Context(), id, r.URL.Query().Get("actor"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

type respondInput struct {
	ResponseData map[string]interface{} `json:"response_data"`
	RespondedBy  string                 `json:"responded_by"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestID")
	var input respondInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if input.RespondedBy == "" {
		writeError(w, http.StatusBadRequest, "responded_by is required")
		return
	}
	responded, err := s.service.Respond(r.Context(), id, input.ResponseData, input.RespondedBy)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, responded)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	events, err := s.service.AuditTrail(r.Context(), audit.Query{
		RequestID: query.Get("request_id"),
		EventType: query.Get("event_type"),
		Limit:     intParam(query.Get("limit")),
		Offset:    intParam(query.Get("offset")),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// authenticate enforces the configured bearer API keys. With no keys
// configured the gateway is open, which is the embedded/dev setup.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.APIKeys) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		supplied := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		for _, key := range s.config.APIKeys {
			if supplied != "" && supplied == key {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "missing or invalid API key")
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("elapsed", time.Since(started)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush lets the SSE handler stream through the logging wrapper.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hitl.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, hitl.ErrNotCancellable),
		engine.IsInvalidTransition(err),
		engine.IsConcurrentModification(err):
		writeError(w, http.StatusConflict, err.Error())
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// isValidationError distinguishes rejected input from storage faults; the
// service reports the former as plain "... is required"/"... must be"
// errors before touching the store.
func isValidationError(err error) bool {
	message := err.Error()
	return strings.Contains(message, "is required") ||
		strings.Contains(message, "must be")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func intParam(value string) int {
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
