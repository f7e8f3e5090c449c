package eta

import (
	"testing"
	"time"
)

func TestEstimateSeconds(t *testing.T) {
	if got := EstimateSeconds(1, 10); got != 100 {
		t.Errorf("1km at 10m/s = %f, want 100", got)
	}
	// Non-positive speed falls back to the city-driving default.
	if got := EstimateSeconds(1, 0); got != 100 {
		t.Errorf("default speed estimate = %f, want 100", got)
	}
	if got := EstimateSeconds(0, 10); got != 0 {
		t.Errorf("zero distance = %f, want 0", got)
	}
}

func TestCacheHitAndExpiry(t *testing.T) {
	c := NewCache(20 * time.Millisecond)
	if _, ok := c.Get(1, 2, 3, 4); ok {
		t.Fatal("empty cache must miss")
	}
	c.Set(1, 2, 3, 4, 42)
	if v, ok := c.Get(1, 2, 3, 4); !ok || v != 42 {
		t.Fatalf("expected hit with 42, got %f %v", v, ok)
	}
	if _, ok := c.Get(1, 2, 3, 5); ok {
		t.Fatal("different destination must miss")
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get(1, 2, 3, 4); ok {
		t.Fatal("entry past its ttl must miss")
	}
}
