package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/models"
)

// NewAlert is the caller-supplied portion of an emergency alert. The store
// assigns id, status and creation timestamp.
type NewAlert struct {
	UserID        int64
	Latitude      float64
	Longitude     float64
	EmergencyType string
	Description   string
}

// Store is the persistence contract for the dispatch core. Writes are
// atomic per entity; the two-entity assign and resolve operations are
// applied as single logical operations by every implementation.
type Store interface {
	// Alerts.
	CreateAlert(ctx context.Context, in NewAlert) (models.EmergencyAlert, error)
	GetAlert(ctx context.Context, id int64) (models.EmergencyAlert, error)
	ActiveAlerts(ctx context.Context) ([]models.EmergencyAlert, error)
	AlertsByUser(ctx context.Context, userID int64) ([]models.EmergencyAlert, error)
	RecentAlerts(ctx context.Context, limit int) ([]models.EmergencyAlert, error)
	// AssignAmbulance moves the alert to in_progress and the unit to
	// dispatched. The unit update is conditional on it still being
	// available; a lost race returns ErrConflict with neither entity
	// modified.
	AssignAmbulance(ctx context.Context, alertID, ambulanceID int64) (models.EmergencyAlert, error)
	// ResolveAlert marks the alert resolved and, if a unit is still
	// dispatched for it, releases that unit back to available.
	ResolveAlert(ctx context.Context, id int64) (models.EmergencyAlert, error)

	// Ambulance units.
	Ambulances(ctx context.Context) ([]models.AmbulanceUnit, error)
	AvailableAmbulances(ctx context.Context) ([]models.AmbulanceUnit, error)
	GetAmbulance(ctx context.Context, id int64) (models.AmbulanceUnit, error)
	UpdateAmbulanceStatus(ctx context.Context, id int64, status models.AmbulanceStatus) (models.AmbulanceUnit, error)
	UpdateAmbulanceLocation(ctx context.Context, id int64, lat, lon float64) (models.AmbulanceUnit, error)

	// Medical facilities (read-mostly reference data).
	Facilities(ctx context.Context) ([]models.MedicalFacility, error)

	// Users, consumed as opaque principals.
	GetUser(ctx context.Context, id int64) (models.User, error)

	// Chat audit trail.
	SaveChatMessage(ctx context.Context, msg models.ChatMessage) error
}

// MemoryStore is the deterministic, synchronous implementation used for
// tests and local runs. It seeds the same sample fleet and facilities the
// production dataset starts from.
type MemoryStore struct {
	mu         sync.RWMutex
	alerts     map[int64]models.EmergencyAlert
	ambulances map[int64]models.AmbulanceUnit
	facilities map[int64]models.MedicalFacility
	users      map[int64]models.User
	chat       []models.ChatMessage

	alertSeq     int64
	ambulanceSeq int64
	facilitySeq  int64

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		alerts:     make(map[int64]models.EmergencyAlert),
		ambulances: make(map[int64]models.AmbulanceUnit),
		facilities: make(map[int64]models.MedicalFacility),
		users:      make(map[int64]models.User),
		now:        time.Now,
	}
	s.seed()
	return s
}

func f64(v float64) *float64 { return &v }

func (s *MemoryStore) seed() {
	for _, u := range []models.AmbulanceUnit{
		{Name: "Ambulance Unit 103", Latitude: f64(37.7749), Longitude: f64(-122.4194), Status: models.AmbulanceAvailable},
		{Name: "Ambulance Unit 105", Latitude: f64(37.7833), Longitude: f64(-122.4167), Status: models.AmbulanceAvailable},
		{Name: "MedEvac Helicopter", Latitude: f64(37.8044), Longitude: f64(-122.2711), Status: models.AmbulanceAvailable},
	} {
		s.ambulanceSeq++
		u.ID = s.ambulanceSeq
		s.ambulances[u.ID] = u
	}
	for _, f := range []models.MedicalFacility{
		{Name: "City General Hospital", Type: "Hospital", Address: "123 Main St, Cityville", Latitude: 37.7749, Longitude: -122.4194, Phone: "555-123-4567", OpenHours: "24/7", Rating: "4.8"},
		{Name: "Urgent Care Center", Type: "Urgent Care", Address: "456 Oak Ave, Townsville", Latitude: 37.7833, Longitude: -122.4167, Phone: "555-987-6543", OpenHours: "8AM-10PM", Rating: "4.5"},
		{Name: "HealthPlus Pharmacy", Type: "Pharmacy", Address: "789 Elm St, Villageton", Latitude: 37.7894, Longitude: -122.4107, Phone: "555-456-7890", OpenHours: "9AM-9PM", Rating: "4.2"},
	} {
		s.facilitySeq++
		f.ID = s.facilitySeq
		s.facilities[f.ID] = f
	}
}

// PutUser registers a principal-backing user, primarily for tests and the
// in-memory auth setup.
func (s *MemoryStore) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutAmbulance inserts or replaces a unit directly, for tests and seeding.
func (s *MemoryStore) PutAmbulance(u models.AmbulanceUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		s.ambulanceSeq++
		u.ID = s.ambulanceSeq
	}
	s.ambulances[u.ID] = u
}

func (s *MemoryStore) CreateAlert(ctx context.Context, in NewAlert) (models.EmergencyAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alertSeq++
	a := models.EmergencyAlert{
		ID:            s.alertSeq,
		UserID:        in.UserID,
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		EmergencyType: in.EmergencyType,
		Description:   in.Description,
		Status:        models.AlertActive,
		CreatedAt:     s.now().UTC(),
	}
	s.alerts[a.ID] = a
	return a, nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, id int64) (models.EmergencyAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return models.EmergencyAlert{}, apperr.NotFoundf("alert %d", id)
	}
	return a, nil
}

func (s *MemoryStore) ActiveAlerts(ctx context.Context) ([]models.EmergencyAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.EmergencyAlert, 0)
	for _, a := range s.alerts {
		if a.Status == models.AlertActive {
			out = append(out, a)
		}
	}
	sortAlertsNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) AlertsByUser(ctx context.Context, userID int64) ([]models.EmergencyAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.EmergencyAlert, 0)
	for _, a := range s.alerts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sortAlertsNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) RecentAlerts(ctx context.Context, limit int) ([]models.EmergencyAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.EmergencyAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a)
	}
	sortAlertsNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AssignAmbulance(ctx context.Context, alertID, ambulanceID int64) (models.EmergencyAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return models.EmergencyAlert{}, apperr.NotFoundf("alert %d", alertID)
	}
	unit, ok := s.ambulances[ambulanceID]
	if !ok {
		return models.EmergencyAlert{}, apperr.NotFoundf("ambulance %d", ambulanceID)
	}
	if alert.Status == models.AlertResolved {
		return models.EmergencyAlert{}, apperr.Conflictf("alert %d already resolved", alertID)
	}
	// Optimistic check: the unit must still be available at write time.
	if unit.Status != models.AmbulanceAvailable {
		return models.EmergencyAlert{}, apperr.Conflictf("ambulance %d is %s", ambulanceID, unit.Status)
	}
	// Re-assignment releases the previously dispatched unit first, so the
	// one-unit-per-alert invariant holds.
	if alert.AmbulanceID != nil && *alert.AmbulanceID != ambulanceID {
		if prev, ok := s.ambulances[*alert.AmbulanceID]; ok && prev.Status == models.AmbulanceDispatched {
			prev.Status = models.AmbulanceAvailable
			s.ambulances[prev.ID] = prev
		}
	}
	unit.Status = models.AmbulanceDispatched
	s.ambulances[unit.ID] = unit

	alert.Status = models.AlertInProgress
	id := ambulanceID
	alert.AmbulanceID = &id
	s.alerts[alert.ID] = alert
	return alert, nil
}

func (s *MemoryStore) ResolveAlert(ctx context.Context, id int64) (models.EmergencyAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return models.EmergencyAlert{}, apperr.NotFoundf("alert %d", id)
	}
	if !models.CanTransition(alert.Status, models.AlertResolved) {
		return models.EmergencyAlert{}, apperr.Conflictf("alert %d already resolved", id)
	}
	if alert.AmbulanceID != nil {
		if unit, ok := s.ambulances[*alert.AmbulanceID]; ok && unit.Status == models.AmbulanceDispatched {
			unit.Status = models.AmbulanceAvailable
			s.ambulances[unit.ID] = unit
		}
	}
	alert.Status = models.AlertResolved
	s.alerts[alert.ID] = alert
	return alert, nil
}

func (s *MemoryStore) Ambulances(ctx context.Context) ([]models.AmbulanceUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AmbulanceUnit, 0, len(s.ambulances))
	for _, u := range s.ambulances {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AvailableAmbulances(ctx context.Context) ([]models.AmbulanceUnit, error) {
	all, _ := s.Ambulances(ctx)
	out := all[:0]
	for _, u := range all {
		if u.Status == models.AmbulanceAvailable {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetAmbulance(ctx context.Context, id int64) (models.AmbulanceUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.ambulances[id]
	if !ok {
		return models.AmbulanceUnit{}, apperr.NotFoundf("ambulance %d", id)
	}
	return u, nil
}

func (s *MemoryStore) UpdateAmbulanceStatus(ctx context.Context, id int64, status models.AmbulanceStatus) (models.AmbulanceUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.ambulances[id]
	if !ok {
		return models.AmbulanceUnit{}, apperr.NotFoundf("ambulance %d", id)
	}
	u.Status = status
	s.ambulances[id] = u
	return u, nil
}

func (s *MemoryStore) UpdateAmbulanceLocation(ctx context.Context, id int64, lat, lon float64) (models.AmbulanceUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.ambulances[id]
	if !ok {
		return models.AmbulanceUnit{}, apperr.NotFoundf("ambulance %d", id)
	}
	u.Latitude, u.Longitude = &lat, &lon
	s.ambulances[id] = u
	return u, nil
}

func (s *MemoryStore) Facilities(ctx context.Context) ([]models.MedicalFacility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.MedicalFacility, 0, len(s.facilities))
	for _, f := range s.facilities {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id int64) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, apperr.NotFoundf("user %d", id)
	}
	return u, nil
}

func (s *MemoryStore) SaveChatMessage(ctx context.Context, msg models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = append(s.chat, msg)
	return nil
}

// ChatMessages returns the recorded audit trail, for tests.
func (s *MemoryStore) ChatMessages() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatMessage, len(s.chat))
	copy(out, s.chat)
	return out
}

// sortAlertsNewestFirst orders by creation time descending, breaking ties
// by id descending so results stay deterministic within one timestamp.
func sortAlertsNewestFirst(alerts []models.EmergencyAlert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].ID > alerts[j].ID
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
}
