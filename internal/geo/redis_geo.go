package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/emergency-dispatch/internal/models"
)

// RedisGeo mirrors ambulance positions into a Redis GEO set so proximity
// lookups stay cheap when the fleet is large. It is an optional accelerator;
// the store remains the source of truth for unit status.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

// Upsert records a unit's position and status metadata.
func (r *RedisGeo) Upsert(ctx context.Context, u models.AmbulanceUnit) error {
	if !u.HasLocation() {
		return nil
	}
	id := strconv.FormatInt(u.ID, 10)
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: *u.Longitude,
		Latitude:  *u.Latitude,
		Name:      id,
	}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(id), map[string]interface{}{
		"status":  string(u.Status),
		"updated": time.Now().UTC().Format(time.RFC3339),
	}).Err()
}

// NearbyIDs returns unit ids within radiusKm of the point, closest first.
func (r *RedisGeo) NearbyIDs(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]int64, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{
		Radius: radiusKm,
		Unit:   "km",
		Count:  limit,
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(res))
	for _, g := range res {
		id, err := strconv.ParseInt(g.Name, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *RedisGeo) Close() error { return r.client.Close() }

func metaKey(id string) string { return "ambulance:meta:" + id }
