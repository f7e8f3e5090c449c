// Package httpapi exposes the REST and websocket surface of the dispatch
// core. Handlers translate between the wire and the lifecycle manager; all
// policy lives below this layer.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/chat"
	"github.com/example/emergency-dispatch/internal/dispatch"
	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/hub"
	"github.com/example/emergency-dispatch/internal/ingest"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/storage"
)

// PrincipalVerifier resolves a bearer token to an authenticated principal.
type PrincipalVerifier interface {
	Verify(ctx context.Context, token string) (models.Principal, error)
}

type Server struct {
	Dispatch *dispatch.Service
	Store    storage.Store
	Hub      *hub.Hub
	Chat     *chat.Router
	Verifier PrincipalVerifier
	Kafka    *ingest.KafkaProducer
	GeoIndex *geo.RedisGeo

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the router; all dependencies are injected so tests can
// construct a server around an in-memory store.
func NewServer(d *dispatch.Service, store storage.Store, h *hub.Hub, c *chat.Router, v PrincipalVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Dispatch: d,
		Store:    store,
		Hub:      h,
		Chat:     c,
		Verifier: v,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/emergencies", s.handleCreateAlert).Methods("POST")
	api.HandleFunc("/emergencies/active", s.handleActiveAlerts).Methods("GET")
	api.HandleFunc("/emergencies/user", s.handleUserHistory).Methods("GET")
	api.HandleFunc("/emergencies/recent", s.handleRecentAlerts).Methods("GET")
	api.HandleFunc("/emergencies/assign", s.handleAssign).Methods("POST")
	api.HandleFunc("/emergencies/{id:[0-9]+}/resolve", s.handleResolve).Methods("POST")

	api.HandleFunc("/ambulances", s.handleAmbulances).Methods("GET")
	api.HandleFunc("/ambulances/available", s.handleAvailableAmbulances).Methods("GET")
	api.HandleFunc("/ambulances/nearby", s.handleNearbyAmbulances).Methods("GET")
	api.HandleFunc("/facilities/nearby", s.handleNearbyFacilities).Methods("GET")

	s.mux.HandleFunc("/internal/ambulances/locations", s.handleAmbulanceTelemetry).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/ws/chat", s.handleChatWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto status codes. Anything
// unclassified is a persistence or programming failure: logged with
// context, surfaced as a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
	case errors.Is(err, apperr.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "not authenticated"})
	case errors.Is(err, apperr.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "not authorized"})
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"message": err.Error()})
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"message": err.Error()})
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal server error"})
	}
}
