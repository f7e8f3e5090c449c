// Package dispatch owns the emergency alert lifecycle: creation,
// ambulance assignment, and resolution, plus the proximity queries used to
// rank candidate units and facilities.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/eta"
	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/observability"
	"github.com/example/emergency-dispatch/internal/storage"
)

// RecentLimit caps the dashboard's recent-alerts query.
const RecentLimit = 5

// Broadcaster receives a persisted alert for real-time fan-out. The hub
// implements it; a nil Broadcaster disables fan-out (tests, consumer).
type Broadcaster interface {
	BroadcastAlert(alert models.EmergencyAlert)
}

// GeoIndex is the optional Redis-backed pre-filter for unit proximity.
type GeoIndex interface {
	NearbyIDs(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]int64, error)
}

// Service is the alert lifecycle manager.
type Service struct {
	Store     storage.Store
	Broadcast Broadcaster
	GeoIndex  GeoIndex
	ETAClient eta.Client
	ETACache  *eta.Cache
	Logger    *slog.Logger

	RadiusKm        float64
	DefaultSpeedMps float64
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) radius() float64 {
	if s.RadiusKm > 0 {
		return s.RadiusKm
	}
	return geo.DefaultRadiusKm
}

func validCoord(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Create persists a new alert in the active state and fans it out to
// subscribed dashboards. The owner is always the supplied principal.
func (s *Service) Create(ctx context.Context, p models.Principal, in storage.NewAlert) (models.EmergencyAlert, error) {
	if !validCoord(in.Latitude, in.Longitude) {
		return models.EmergencyAlert{}, apperr.Validationf("latitude/longitude out of range")
	}
	if in.EmergencyType == "" {
		return models.EmergencyAlert{}, apperr.Validationf("emergencyType is required")
	}
	in.UserID = p.UserID

	alert, err := s.Store.CreateAlert(ctx, in)
	if err != nil {
		return models.EmergencyAlert{}, err
	}
	observability.AlertsCreated.Inc()
	s.logger().Info("alert created",
		"alert_id", alert.ID, "user_id", alert.UserID, "type", alert.EmergencyType)
	if s.Broadcast != nil {
		s.Broadcast.BroadcastAlert(alert)
	}
	return alert, nil
}

// Assign dispatches an ambulance to an alert. Only response-team and admin
// principals may call it. Losing the race for a unit returns ErrConflict.
func (s *Service) Assign(ctx context.Context, p models.Principal, alertID, ambulanceID int64) (models.EmergencyAlert, error) {
	if !p.CanDispatch() {
		return models.EmergencyAlert{}, apperr.ErrUnauthorized
	}
	alert, err := s.Store.AssignAmbulance(ctx, alertID, ambulanceID)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			observability.AssignConflict.Inc()
		}
		return models.EmergencyAlert{}, err
	}
	observability.AlertsAssigned.Inc()
	s.logger().Info("ambulance assigned",
		"alert_id", alertID, "ambulance_id", ambulanceID, "by_user", p.UserID)
	return alert, nil
}

// Resolve closes an alert. The same role gate as Assign applies, and the
// linked unit is released back to available if still dispatched.
func (s *Service) Resolve(ctx context.Context, p models.Principal, alertID int64) (models.EmergencyAlert, error) {
	if !p.CanDispatch() {
		return models.EmergencyAlert{}, apperr.ErrUnauthorized
	}
	alert, err := s.Store.ResolveAlert(ctx, alertID)
	if err != nil {
		return models.EmergencyAlert{}, err
	}
	observability.AlertsResolved.Inc()
	s.logger().Info("alert resolved", "alert_id", alertID, "by_user", p.UserID)
	return alert, nil
}

func (s *Service) Active(ctx context.Context) ([]models.EmergencyAlert, error) {
	return s.Store.ActiveAlerts(ctx)
}

func (s *Service) UserHistory(ctx context.Context, userID int64) ([]models.EmergencyAlert, error) {
	return s.Store.AlertsByUser(ctx, userID)
}

func (s *Service) Recent(ctx context.Context) ([]models.EmergencyAlert, error) {
	return s.Store.RecentAlerts(ctx, RecentLimit)
}

// RankedUnit is a nearby ambulance with its distance and estimated travel
// time to the query point.
type RankedUnit struct {
	Unit       models.AmbulanceUnit `json:"unit"`
	DistanceKm float64              `json:"distanceKm"`
	EtaSeconds float64              `json:"etaSeconds"`
}

// RankedFacility is a nearby medical facility with its distance.
type RankedFacility struct {
	Facility   models.MedicalFacility `json:"facility"`
	DistanceKm float64                `json:"distanceKm"`
}

// NearbyAmbulances ranks units within the proximity radius of the point,
// closest first. Units with unknown location are excluded.
func (s *Service) NearbyAmbulances(ctx context.Context, lat, lon float64) ([]RankedUnit, error) {
	if !validCoord(lat, lon) {
		return nil, apperr.Validationf("latitude/longitude out of range")
	}
	units, err := s.candidateUnits(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	ranked := geo.Nearby(lat, lon, units, s.radius(), func(u models.AmbulanceUnit) (float64, float64, bool) {
		if !u.HasLocation() {
			return 0, 0, false
		}
		return *u.Latitude, *u.Longitude, true
	})
	out := make([]RankedUnit, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, RankedUnit{
			Unit:       r.Candidate,
			DistanceKm: r.DistanceKm,
			EtaSeconds: s.estimateETA(r.Candidate, lat, lon, r.DistanceKm),
		})
	}
	return out, nil
}

// candidateUnits consults the Redis GEO index when present to avoid a full
// fleet scan; the ranking itself always re-runs on fresh store data.
func (s *Service) candidateUnits(ctx context.Context, lat, lon float64) ([]models.AmbulanceUnit, error) {
	if s.GeoIndex == nil {
		return s.Store.Ambulances(ctx)
	}
	ids, err := s.GeoIndex.NearbyIDs(ctx, lat, lon, s.radius(), 64)
	if err != nil {
		s.logger().Warn("geo index lookup failed, falling back to full scan", "error", err)
		return s.Store.Ambulances(ctx)
	}
	units := make([]models.AmbulanceUnit, 0, len(ids))
	for _, id := range ids {
		u, err := s.Store.GetAmbulance(ctx, id)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue // index lag; unit was removed
			}
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func (s *Service) estimateETA(u models.AmbulanceUnit, lat, lon, distanceKm float64) float64 {
	if u.HasLocation() && s.ETAClient != nil {
		if s.ETACache != nil {
			if v, ok := s.ETACache.Get(*u.Latitude, *u.Longitude, lat, lon); ok {
				return v
			}
		}
		if v, err := s.ETAClient.EstimateSeconds(*u.Latitude, *u.Longitude, lat, lon); err == nil {
			if s.ETACache != nil {
				s.ETACache.Set(*u.Latitude, *u.Longitude, lat, lon, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(distanceKm, s.DefaultSpeedMps)
}

// NearbyFacilities ranks medical facilities within the proximity radius.
func (s *Service) NearbyFacilities(ctx context.Context, lat, lon float64) ([]RankedFacility, error) {
	if !validCoord(lat, lon) {
		return nil, apperr.Validationf("latitude/longitude out of range")
	}
	facilities, err := s.Store.Facilities(ctx)
	if err != nil {
		return nil, err
	}
	ranked := geo.Nearby(lat, lon, facilities, s.radius(), func(f models.MedicalFacility) (float64, float64, bool) {
		return f.Latitude, f.Longitude, true
	})
	out := make([]RankedFacility, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, RankedFacility{Facility: r.Candidate, DistanceKm: r.DistanceKm})
	}
	return out, nil
}
