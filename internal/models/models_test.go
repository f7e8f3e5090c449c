package models

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to AlertStatus
		want     bool
	}{
		{AlertActive, AlertInProgress, true},
		{AlertActive, AlertResolved, true},
		{AlertInProgress, AlertResolved, true},
		{AlertInProgress, AlertActive, false},
		{AlertResolved, AlertActive, false},
		{AlertResolved, AlertResolved, false},
		{AlertActive, AlertStatus("bogus"), false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanDispatch(t *testing.T) {
	for role, want := range map[Role]bool{
		RoleUser:         false,
		RoleSupport:      false,
		RoleResponseTeam: true,
		RoleAdmin:        true,
	} {
		p := Principal{UserID: 1, Role: role}
		if p.CanDispatch() != want {
			t.Errorf("CanDispatch for %s = %v, want %v", role, !want, want)
		}
	}
}

func TestAmbulanceHasLocation(t *testing.T) {
	lat, lon := 37.7, -122.4
	if (AmbulanceUnit{Latitude: &lat, Longitude: &lon}).HasLocation() == false {
		t.Error("unit with both coordinates should have a location")
	}
	if (AmbulanceUnit{Latitude: &lat}).HasLocation() {
		t.Error("unit missing longitude must not report a location")
	}
	if (AmbulanceUnit{}).HasLocation() {
		t.Error("unit with no coordinates must not report a location")
	}
}
