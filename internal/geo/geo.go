package geo

import (
	"math"
	"sort"
)

// earthRadiusKm is the spherical-earth approximation used everywhere.
const earthRadiusKm = 6371.0

// DefaultRadiusKm is the proximity radius applied when a caller does not
// override it.
const DefaultRadiusKm = 10.0

// DistanceKm returns the great-circle distance between two coordinates in
// kilometers using the haversine formula. Identical points return 0. NaN
// inputs propagate NaN; callers must filter before ranking.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// Coords extracts a candidate's coordinates. ok=false excludes the
// candidate from matching (unknown location).
type Coords[T any] func(T) (lat, lon float64, ok bool)

// Ranked pairs a candidate with its computed distance from the query point.
type Ranked[T any] struct {
	Candidate  T       `json:"candidate"`
	DistanceKm float64 `json:"distanceKm"`
}

// Nearby filters candidates to those within radiusKm of (lat, lon) and
// returns them sorted ascending by distance. Candidates with missing or
// non-finite coordinates are dropped. The sort is stable: equidistant
// candidates keep their input order.
func Nearby[T any](lat, lon float64, candidates []T, radiusKm float64, coords Coords[T]) []Ranked[T] {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	out := make([]Ranked[T], 0, len(candidates))
	for _, c := range candidates {
		clat, clon, ok := coords(c)
		if !ok {
			continue
		}
		d := DistanceKm(lat, lon, clat, clon)
		// NaN comparisons are false, so this also drops NaN distances.
		if !(d <= radiusKm) {
			continue
		}
		out = append(out, Ranked[T]{Candidate: c, DistanceKm: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}
