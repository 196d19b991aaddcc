package velocity

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/sentinel/internal/cache"
)

func newTestTracker(t *testing.T, threshold int64) *Tracker {
	t.Helper()
	c := cache.NewLRUCache(100)
	t.Cleanup(func() { c.Close() })
	return NewTracker(c, time.Minute, threshold)
}

func TestRecordCountsPerUser(t *testing.T) {
	tracker := newTestTracker(t, 0)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := tracker.Record(ctx, "u001")
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if count != i {
			t.Errorf("expected count %d, got %d", i, count)
		}
	}

	// A different user has an independent counter.
	count, err := tracker.Record(ctx, "u002")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected count 1 for new user, got %d", count)
	}
}

func TestRecordRequiresUserID(t *testing.T) {
	tracker := newTestTracker(t, 0)

	if _, err := tracker.Record(context.Background(), ""); err == nil {
		t.Error("expected error for empty userID")
	}
}

func TestIsBurst(t *testing.T) {
	tracker := newTestTracker(t, 5)

	if tracker.IsBurst(5) {
		t.Error("count at threshold should not be a burst")
	}
	if !tracker.IsBurst(6) {
		t.Error("count above threshold should be a burst")
	}
}

func TestBurstDisabledByZeroThreshold(t *testing.T) {
	tracker := newTestTracker(t, 0)

	if tracker.IsBurst(1000000) {
		t.Error("threshold 0 must disable burst reporting")
	}
}

func TestNilCacheIsNoop(t *testing.T) {
	tracker := NewTracker(nil, time.Minute, 5)

	count, err := tracker.Record(context.Background(), "u001")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected count 0 with nil cache, got %d", count)
	}
}
