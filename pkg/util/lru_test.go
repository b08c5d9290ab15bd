package util

import (
	"testing"
	"time"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	cache, err := NewLRU[string, int](2, 0)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}

	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Get("a") // a becomes most recently used
	cache.Put("c", 3)

	if _, ok := cache.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if v, ok := cache.Get("a"); !ok || v != 1 {
		t.Errorf("a missing after eviction round: %v %v", v, ok)
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}
}

func TestLRUTTLExpiry(t *testing.T) {
	cache, err := NewLRU[string, int](10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}

	cache.Put("a", 1)
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("fresh entry must be readable")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.Get("a"); ok {
		t.Error("expired entry must not be returned")
	}
}

func TestLRURejectsInvalidCapacity(t *testing.T) {
	if _, err := NewLRU[string, int](0, 0); err == nil {
		t.Error("capacity 0 must be rejected")
	}
}
