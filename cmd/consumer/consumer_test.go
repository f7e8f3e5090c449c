package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/emergency-dispatch/internal/models"
)

type fakeUpdater struct {
	geoFailures  int
	hsetFailures int
	geoCalls     int
	hsetCalls    int
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoFailures > 0 {
		f.geoFailures--
		return errors.New("geoadd failed")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hsetCalls++
	if f.hsetFailures > 0 {
		f.hsetFailures--
		return errors.New("hset failed")
	}
	return nil
}

func sampleLocation() models.AmbulanceLocation {
	return models.AmbulanceLocation{ID: 7, Latitude: 37.7749, Longitude: -122.4194, Updated: time.Now()}
}

func TestUpdateRedisWithRetrySucceedsFirstTry(t *testing.T) {
	f := &fakeUpdater{}
	if err := updateRedisWithRetry(context.Background(), f, "ambulances_geo", sampleLocation(), 3, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.geoCalls != 1 || f.hsetCalls != 1 {
		t.Fatalf("expected single geo and hset call, got geo=%d hset=%d", f.geoCalls, f.hsetCalls)
	}
}

func TestUpdateRedisWithRetryRecoversAfterFailures(t *testing.T) {
	f := &fakeUpdater{geoFailures: 2}
	start := time.Now()
	if err := updateRedisWithRetry(context.Background(), f, "ambulances_geo", sampleLocation(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// two failures mean two backoff sleeps of 10ms and 20ms
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("expected backoff of at least 30ms, took %s", elapsed)
	}
	if f.geoCalls != 3 {
		t.Fatalf("expected 3 geo attempts, got %d", f.geoCalls)
	}
}

func TestUpdateRedisWithRetryExhaustsAttempts(t *testing.T) {
	f := &fakeUpdater{geoFailures: 5}
	err := updateRedisWithRetry(context.Background(), f, "ambulances_geo", sampleLocation(), 3, time.Millisecond)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if f.geoCalls != 3 {
		t.Fatalf("expected 3 geo attempts, got %d", f.geoCalls)
	}
}

func TestUpdateRedisWithRetryHSetFailure(t *testing.T) {
	f := &fakeUpdater{hsetFailures: 5}
	err := updateRedisWithRetry(context.Background(), f, "ambulances_geo", sampleLocation(), 2, time.Millisecond)
	if err == nil {
		t.Fatal("expected error when metadata write keeps failing")
	}
}
