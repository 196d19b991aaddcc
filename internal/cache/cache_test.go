package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

func TestLRUBasicOperations(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(val) != "v1" {
		t.Errorf("got %q, want v1", val)
	}

	// Miss returns nil, nil.
	val, err = c.Get(ctx, "missing")
	if err != nil || val != nil {
		t.Errorf("miss: val=%v err=%v", val, err)
	}

	if err := c.Delete(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	val, _ = c.Get(ctx, "k1")
	if val != nil {
		t.Error("value survived delete")
	}
}

func TestLRUExpiry(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "k1", []byte("v1"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	val, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != nil {
		t.Error("expired value still returned")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache(2)
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v1"), time.Minute)
	c.Set(ctx, "k2", []byte("v2"), time.Minute)
	c.Get(ctx, "k1") // touch k1 so k2 is the oldest
	c.Set(ctx, "k3", []byte("v3"), time.Minute)

	if val, _ := c.Get(ctx, "k2"); val != nil {
		t.Error("k2 should have been evicted")
	}
	if val, _ := c.Get(ctx, "k1"); val == nil {
		t.Error("k1 should have survived")
	}

	size, capacity := c.Stats()
	if size != 2 || capacity != 2 {
		t.Errorf("stats = %d/%d, want 2/2", size, capacity)
	}
}

func TestLRUCounterWindow(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementCounter(ctx, "ingest", time.Minute)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Errorf("count = %d, want %d", got, want)
		}
	}

	// A fresh window restarts the count.
	got, err := c.IncrementCounter(ctx, "burst", 10*time.Millisecond)
	if err != nil || got != 1 {
		t.Fatalf("first increment: %d, %v", got, err)
	}
	time.Sleep(20 * time.Millisecond)
	got, err = c.IncrementCounter(ctx, "burst", 10*time.Millisecond)
	if err != nil || got != 1 {
		t.Errorf("post-window increment = %d, want 1", got)
	}
}

func TestNewFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 5})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()

	if _, err := New(domain.CacheConfig{Type: "bogus"}); err == nil {
		t.Fatal("expected error for unknown cache type")
	}
}

func TestTopInsightsHelpers(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	// Miss first.
	got, err := GetTopInsights(ctx, c, 5)
	if err != nil || got != nil {
		t.Fatalf("miss: %v, %v", got, err)
	}

	insights := []*domain.ScoredEvent{
		{
			Event:     domain.Event{ID: "evt-1", UserID: "u1"},
			RiskScore: 0.9,
			Severity:  domain.SeverityHigh,
			Reasons:   []string{"FAILED_MFA"},
		},
	}
	if err := SetTopInsights(ctx, c, 5, insights, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err = GetTopInsights(ctx, c, 5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0].Event.ID != "evt-1" || got[0].RiskScore != 0.9 {
		t.Errorf("round trip changed insights: %+v", got)
	}

	// A different limit is a different key.
	if other, _ := GetTopInsights(ctx, c, 10); other != nil {
		t.Error("limit 10 should miss")
	}

	InvalidateTopInsights(ctx, c, 5)
	if got, _ := GetTopInsights(ctx, c, 5); got != nil {
		t.Error("value survived invalidation")
	}
}
