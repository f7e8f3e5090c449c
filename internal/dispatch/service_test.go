package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/storage"
)

type fakeBroadcaster struct {
	alerts []models.EmergencyAlert
}

func (f *fakeBroadcaster) BroadcastAlert(a models.EmergencyAlert) {
	f.alerts = append(f.alerts, a)
}

type fakeGeoIndex struct {
	ids []int64
	err error
}

func (f *fakeGeoIndex) NearbyIDs(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]int64, error) {
	return f.ids, f.err
}

func newService(t *testing.T) (*Service, *storage.MemoryStore, *fakeBroadcaster) {
	t.Helper()
	store := storage.NewMemoryStore()
	bc := &fakeBroadcaster{}
	return &Service{Store: store, Broadcast: bc}, store, bc
}

var (
	citizen    = models.Principal{UserID: 1, Role: models.RoleUser}
	responder  = models.Principal{UserID: 2, Role: models.RoleResponseTeam}
	supervisor = models.Principal{UserID: 3, Role: models.RoleAdmin}
)

func TestCreateAlert(t *testing.T) {
	svc, _, bc := newService(t)

	alert, err := svc.Create(context.Background(), citizen, storage.NewAlert{
		Latitude:      37.7749,
		Longitude:     -122.4194,
		EmergencyType: "medical",
		Description:   "chest pain",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if alert.Status != models.AlertActive {
		t.Errorf("expected status active, got %s", alert.Status)
	}
	if alert.AmbulanceID != nil {
		t.Errorf("new alert must not have an ambulance, got %v", *alert.AmbulanceID)
	}
	if alert.CreatedAt.IsZero() {
		t.Error("createdAt not set")
	}
	if alert.UserID != citizen.UserID {
		t.Errorf("owner should be the creating principal, got %d", alert.UserID)
	}
	if len(bc.alerts) != 1 || bc.alerts[0].ID != alert.ID {
		t.Errorf("alert not broadcast: %v", bc.alerts)
	}
}

func TestCreateAlertValidation(t *testing.T) {
	svc, _, _ := newService(t)

	cases := []struct {
		name string
		in   storage.NewAlert
	}{
		{"latitude out of range", storage.NewAlert{Latitude: 91, Longitude: 0, EmergencyType: "fire"}},
		{"longitude out of range", storage.NewAlert{Latitude: 0, Longitude: -200, EmergencyType: "fire"}},
		{"missing type", storage.NewAlert{Latitude: 37.7, Longitude: -122.4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), citizen, tc.in); !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestAssignAmbulance(t *testing.T) {
	svc, store, _ := newService(t)
	alert, _ := svc.Create(context.Background(), citizen, storage.NewAlert{Latitude: 37.77, Longitude: -122.41, EmergencyType: "medical"})

	assigned, err := svc.Assign(context.Background(), responder, alert.ID, 1)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.Status != models.AlertInProgress {
		t.Errorf("expected in_progress, got %s", assigned.Status)
	}
	if assigned.AmbulanceID == nil || *assigned.AmbulanceID != 1 {
		t.Errorf("expected ambulance 1 linked, got %v", assigned.AmbulanceID)
	}
	unit, _ := store.GetAmbulance(context.Background(), 1)
	if unit.Status != models.AmbulanceDispatched {
		t.Errorf("unit should be dispatched, got %s", unit.Status)
	}
}

func TestAssignSameUnitTwiceConflicts(t *testing.T) {
	svc, _, _ := newService(t)
	first, _ := svc.Create(context.Background(), citizen, storage.NewAlert{Latitude: 37.77, Longitude: -122.41, EmergencyType: "medical"})
	second, _ := svc.Create(context.Background(), citizen, storage.NewAlert{Latitude: 37.78, Longitude: -122.42, EmergencyType: "fire"})

	if _, err := svc.Assign(context.Background(), responder, first.ID, 1); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	if _, err := svc.Assign(context.Background(), supervisor, second.ID, 1); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for busy unit, got %v", err)
	}
}

func TestAssignRoleGate(t *testing.T) {
	svc, _, _ := newService(t)
	alert, _ := svc.Create(context.Background(), citizen, storage.NewAlert{Latitude: 37.77, Longitude: -122.41, EmergencyType: "medical"})

	if _, err := svc.Assign(context.Background(), citizen, alert.ID, 1); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for plain user, got %v", err)
	}
}

func TestAssignUnknownIDs(t *testing.T) {
	svc, _, _ := newService(t)
	alert, _ := svc.Create(context.Background(), citizen, storage.NewAlert{Latitude: 37.77, Longitude: -122.41, EmergencyType: "medical"})

	if _, err := svc.Assign(context.Background(), responder, 999, 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown alert, got %v", err)
	}
	if _, err := svc.Assign(context.Background(), responder, alert.ID, 999); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown ambulance, got %v", err)
	}
}

func TestResolveReleasesUnit(t *testing.T) {
	svc, store, _ := newService(t)
	alert, _ := svc.Create(context.Background(), citizen, storage.NewAlert{Latitude: 37.77, Longitude: -122.41, EmergencyType: "medical"})
	if _, err := svc.Assign(context.Background(), responder, alert.ID, 2); err != nil {
		t.Fatalf("assign: %v", err)
	}

	resolved, err := svc.Resolve(context.Background(), responder, alert.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != models.AlertResolved {
		t.Errorf("expected resolved, got %s", resolved.Status)
	}
	unit, _ := store.GetAmbulance(context.Background(), 2)
	if unit.Status != models.AmbulanceAvailable {
		t.Errorf("unit should be released, got %s", unit.Status)
	}
}

func TestResolveErrors(t *testing.T) {
	svc, _, _ := newService(t)
	alert, _ := svc.Create(context.Background(), citizen, storage.NewAlert{Latitude: 37.77, Longitude: -122.41, EmergencyType: "medical"})

	if _, err := svc.Resolve(context.Background(), citizen, alert.ID); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for plain user, got %v", err)
	}
	if _, err := svc.Resolve(context.Background(), supervisor, 999); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Resolve(context.Background(), supervisor, alert.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := svc.Resolve(context.Background(), supervisor, alert.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for already resolved alert, got %v", err)
	}
}

func TestActiveExcludesResolved(t *testing.T) {
	svc, _, _ := newService(t)
	a, _ := svc.Create(context.Background(), citizen, storage.NewAlert{Latitude: 37.77, Longitude: -122.41, EmergencyType: "medical"})
	b, _ := svc.Create(context.Background(), citizen, storage.NewAlert{Latitude: 37.78, Longitude: -122.42, EmergencyType: "fire"})
	if _, err := svc.Resolve(context.Background(), responder, a.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	active, err := svc.Active(context.Background())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0].ID != b.ID {
		t.Fatalf("expected only the unresolved alert, got %v", active)
	}
}

func TestRecentCapsAndOrders(t *testing.T) {
	svc, _, _ := newService(t)
	var lastID int64
	for i := 0; i < RecentLimit+2; i++ {
		a, err := svc.Create(context.Background(), citizen, storage.NewAlert{
			Latitude: 37.77, Longitude: -122.41, EmergencyType: fmt.Sprintf("type-%d", i),
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		lastID = a.ID
	}

	recent, err := svc.Recent(context.Background())
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != RecentLimit {
		t.Fatalf("expected %d alerts, got %d", RecentLimit, len(recent))
	}
	if recent[0].ID != lastID {
		t.Errorf("expected newest alert first, got id %d", recent[0].ID)
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].CreatedAt.After(recent[i-1].CreatedAt) {
			t.Errorf("alerts not newest-first at index %d", i)
		}
	}
}

func TestNearbyAmbulances(t *testing.T) {
	svc, _, _ := newService(t)

	// Query from the seeded downtown unit's position: two units are within
	// the 10km radius, the helicopter across the bay is not.
	ranked, err := svc.NearbyAmbulances(context.Background(), 37.7749, -122.4194)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 units in radius, got %d", len(ranked))
	}
	if ranked[0].Unit.ID != 1 {
		t.Errorf("expected colocated unit first, got %d", ranked[0].Unit.ID)
	}
	if ranked[0].DistanceKm > ranked[1].DistanceKm {
		t.Error("results not sorted by distance")
	}
	if ranked[1].EtaSeconds <= 0 {
		t.Errorf("expected positive ETA for distant unit, got %f", ranked[1].EtaSeconds)
	}
}

func TestNearbyAmbulancesSkipsUnlocated(t *testing.T) {
	svc, store, _ := newService(t)
	store.PutAmbulance(models.AmbulanceUnit{Name: "No GPS", Status: models.AmbulanceAvailable})

	ranked, err := svc.NearbyAmbulances(context.Background(), 37.7749, -122.4194)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	for _, r := range ranked {
		if !r.Unit.HasLocation() {
			t.Errorf("unlocated unit %q leaked into results", r.Unit.Name)
		}
	}
}

func TestNearbyAmbulancesUsesGeoIndex(t *testing.T) {
	svc, _, _ := newService(t)
	svc.GeoIndex = &fakeGeoIndex{ids: []int64{2}}

	ranked, err := svc.NearbyAmbulances(context.Background(), 37.7749, -122.4194)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(ranked) != 1 || ranked[0].Unit.ID != 2 {
		t.Fatalf("expected only the indexed unit, got %v", ranked)
	}
}

func TestNearbyAmbulancesFallsBackWhenIndexFails(t *testing.T) {
	svc, _, _ := newService(t)
	svc.GeoIndex = &fakeGeoIndex{err: errors.New("redis down")}

	ranked, err := svc.NearbyAmbulances(context.Background(), 37.7749, -122.4194)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected full-scan fallback to find 2 units, got %d", len(ranked))
	}
}

func TestNearbyFacilities(t *testing.T) {
	svc, _, _ := newService(t)

	ranked, err := svc.NearbyFacilities(context.Background(), 37.7749, -122.4194)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(ranked) != 3 {
		t.Fatalf("expected 3 seeded facilities in radius, got %d", len(ranked))
	}
	if ranked[0].Facility.Name != "City General Hospital" {
		t.Errorf("expected colocated hospital first, got %q", ranked[0].Facility.Name)
	}
	if _, err := svc.NearbyFacilities(context.Background(), 200, 0); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for bad coords, got %v", err)
	}
}
