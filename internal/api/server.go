// Package api is the HTTP interface to session management: a thin JSON
// layer over the coordinator with no business logic of its own.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"livesync/internal/coordinator"
	"livesync/pkg/types"
)

type Server struct {
	coordinator *coordinator.Coordinator
	router      *mux.Router
	logger      *slog.Logger
}

func NewServer(c *coordinator.Coordinator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		coordinator: c,
		router:      mux.NewRouter(),
		logger:      logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.jsonMiddleware)

	s.router.HandleFunc("/api/sessions", s.createSession).Methods(http.MethodPost)
	s.router.HandleFunc("/api/sessions/{code}", s.getSession).Methods(http.MethodGet)
	s.router.HandleFunc("/api/sessions/{code}", s.endSession).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/sessions/{code}/sync", s.setSync).Methods(http.MethodPut)
	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
}

// ServeHTTP applies CORS headers ahead of routing so preflight requests
// succeed for any path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.router.ServeHTTP(w, r)
}

type createSessionResponse struct {
	Code string `json:"code"`
}

type setSyncRequest struct {
	Enabled bool `json:"enabled"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sessionCode, err := s.coordinator.CreateSession()
	if err != nil {
		if errors.Is(err, types.ErrGenerationExhausted) {
			s.sendError(w, "no session codes available, retry later", http.StatusServiceUnavailable)
			return
		}
		s.sendError(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, createSessionResponse{Code: sessionCode}, http.StatusCreated)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.coordinator.SessionInfo(mux.Vars(r)["code"])
	if err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	s.sendJSON(w, info, http.StatusOK)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.EndSession(mux.Vars(r)["code"]); err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setSync(w http.ResponseWriter, r *http.Request) {
	var req setSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.coordinator.SetSyncEnabled(mux.Vars(r)["code"], req.Enabled); err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// sendCoordinatorError maps the coordinator's error taxonomy onto HTTP
// status codes.
func (s *Server) sendCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrInvalidCodeFormat):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, types.ErrSessionNotFound):
		s.sendError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, types.ErrSessionEnded):
		s.sendError(w, err.Error(), http.StatusGone)
	default:
		s.logger.Error("unexpected coordinator error", "error", err)
		s.sendError(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, status int) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, msg string, status int) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
