// Package velocity tracks short-window ingest activity per user.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// DefaultWindow is the counting window for burst detection.
const DefaultWindow = 5 * time.Minute

// Tracker counts events per user over a sliding window using cache
// counters. It is a fast online signal: the feature builder computes the
// exact login window offline, this catches floods at ingest time.
type Tracker struct {
	cache     domain.Cache
	window    time.Duration
	threshold int64
}

// NewTracker creates a tracker. threshold <= 0 disables burst reporting.
func NewTracker(cache domain.Cache, window time.Duration, threshold int64) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		cache:     cache,
		window:    window,
		threshold: threshold,
	}
}

// Record counts one event for the user and returns the user's running
// count within the window.
func (t *Tracker) Record(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("userID is required")
	}
	if t.cache == nil {
		return 0, nil
	}
	return t.cache.IncrementCounter(ctx, counterKey(userID), t.window)
}

// IsBurst reports whether a running count crosses the burst threshold.
func (t *Tracker) IsBurst(count int64) bool {
	return t.threshold > 0 && count > t.threshold
}

// Threshold returns the configured burst threshold.
func (t *Tracker) Threshold() int64 {
	return t.threshold
}

func counterKey(userID string) string {
	return "velocity:user:" + userID
}
