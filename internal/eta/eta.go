// Package eta estimates ambulance travel time to a scene. The naive
// estimator divides straight-line distance by an average speed; an OSRM
// client can be plugged in for road-network estimates.
package eta

import (
	"fmt"
	"sync"
	"time"
)

// Client is the interface used to get road-network ETAs.
type Client interface {
	EstimateSeconds(fromLat, fromLon, toLat, toLon float64) (float64, error)
}

// EstimateSeconds is the fallback estimator: distanceKm at speedMps.
func EstimateSeconds(distanceKm, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 10.0 // city driving default
	}
	return distanceKm * 1000 / speedMps
}

// Cache memoizes ETA lookups keyed by coordinate pair with a TTL, so a
// burst of nearby queries does not hammer the routing backend.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func key(fromLat, fromLon, toLat, toLon float64) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", fromLat, fromLon, toLat, toLon)
}

func (c *Cache) Get(fromLat, fromLon, toLat, toLon float64) (float64, bool) {
	k := key(fromLat, fromLon, toLat, toLon)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(fromLat, fromLon, toLat, toLon, v float64) {
	k := key(fromLat, fromLon, toLat, toLon)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}
