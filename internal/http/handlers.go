package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/storage"
)

// createAlertRequest accepts coordinates as either JSON numbers or decimal
// strings; mobile clients historically send strings.
type createAlertRequest struct {
	Latitude      json.Number `json:"latitude"`
	Longitude     json.Number `json:"longitude"`
	EmergencyType string      `json:"emergencyType"`
	Description   string      `json:"description"`
}

func parseCoord(n json.Number, name string) (float64, error) {
	if n.String() == "" {
		return 0, apperr.Validationf("%s is required", name)
	}
	f, err := n.Float64()
	if err != nil {
		return 0, apperr.Validationf("%s is not a number", name)
	}
	return f, nil
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		s.writeError(w, r, apperr.ErrUnauthenticated)
		return
	}
	var req createAlertRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, apperr.Validationf("invalid request body"))
		return
	}
	lat, err := parseCoord(req.Latitude, "latitude")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lon, err := parseCoord(req.Longitude, "longitude")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	alert, err := s.Dispatch.Create(r.Context(), p, storage.NewAlert{
		Latitude:      lat,
		Longitude:     lon,
		EmergencyType: req.EmergencyType,
		Description:   req.Description,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.Dispatch.Active(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		s.writeError(w, r, apperr.ErrUnauthenticated)
		return
	}
	alerts, err := s.Dispatch.UserHistory(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.Dispatch.Recent(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		s.writeError(w, r, apperr.ErrUnauthenticated)
		return
	}
	var req struct {
		EmergencyID int64 `json:"emergencyId"`
		AmbulanceID int64 `json:"ambulanceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.Validationf("invalid request body"))
		return
	}
	alert, err := s.Dispatch.Assign(r.Context(), p, req.EmergencyID, req.AmbulanceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		s.writeError(w, r, apperr.ErrUnauthenticated)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, r, apperr.Validationf("invalid alert id"))
		return
	}
	alert, err := s.Dispatch.Resolve(r.Context(), p, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleAmbulances(w http.ResponseWriter, r *http.Request) {
	units, err := s.Store.Ambulances(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, units)
}

func (s *Server) handleAvailableAmbulances(w http.ResponseWriter, r *http.Request) {
	units, err := s.Store.AvailableAmbulances(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, units)
}

func queryCoords(r *http.Request) (float64, float64, error) {
	latStr := r.URL.Query().Get("latitude")
	lonStr := r.URL.Query().Get("longitude")
	if latStr == "" || lonStr == "" {
		return 0, 0, apperr.Validationf("latitude and longitude required")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, apperr.Validationf("latitude is not a number")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return 0, 0, apperr.Validationf("longitude is not a number")
	}
	return lat, lon, nil
}

func (s *Server) handleNearbyAmbulances(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := queryCoords(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ranked, err := s.Dispatch.NearbyAmbulances(r.Context(), lat, lon)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

func (s *Server) handleNearbyFacilities(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := queryCoords(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ranked, err := s.Dispatch.NearbyFacilities(r.Context(), lat, lon)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

// handleAmbulanceTelemetry ingests a unit position report: published to
// Kafka when configured (the consumer maintains the Redis GEO index), and
// always written through to the store so proximity queries see it.
func (s *Server) handleAmbulanceTelemetry(w http.ResponseWriter, r *http.Request) {
	var loc models.AmbulanceLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		s.writeError(w, r, apperr.Validationf("invalid request body"))
		return
	}
	if loc.Updated.IsZero() {
		loc.Updated = time.Now().UTC()
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(loc); err != nil {
			s.logger.Warn("telemetry publish failed", "ambulance_id", loc.ID, "error", err)
		}
	}
	unit, err := s.Store.UpdateAmbulanceLocation(r.Context(), loc.ID, loc.Latitude, loc.Longitude)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.GeoIndex != nil {
		if err := s.GeoIndex.Upsert(r.Context(), unit); err != nil {
			s.logger.Warn("geo index upsert failed", "ambulance_id", unit.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
