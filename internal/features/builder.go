// Package features derives the numeric feature matrix from raw event
// batches.
package features

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

const (
	// amountWindow bounds the trailing per-user window for amount
	// statistics; the statistic is 0 until the event has at least
	// minPriorObs prior observations.
	amountWindow = 50
	minPriorObs  = 5

	// loginWindow bounds the trailing per-user window for the login
	// count.
	loginWindow = 30
)

// Builder converts raw events into feature vectors using a fixed policy
// and categorical vocabulary. It is safe for concurrent use once
// constructed.
type Builder struct {
	policy     *domain.Policy
	maxWorkers int
}

// NewBuilder creates a feature builder. maxWorkers bounds the per-user
// derivation concurrency.
func NewBuilder(p *domain.Policy, maxWorkers int) *Builder {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Builder{policy: p, maxWorkers: maxWorkers}
}

// Batch is the builder output: events sorted by (user, timestamp) with a
// feature vector per event, plus the canonical column list and any rows
// skipped under SkipRecord.
type Batch struct {
	Events   []*domain.Event
	Features []domain.FeatureVector
	Columns  []string
	Skipped  []*domain.MalformedEventError
}

// Matrix returns the feature rows as a dense float matrix in column order.
func (b *Batch) Matrix() [][]float64 {
	m := make([][]float64, len(b.Features))
	for i := range b.Features {
		m[i] = b.Features[i].Row()
	}
	return m
}

// Build validates events and derives one feature vector per valid event.
// Rolling statistics are computed per user in timestamp order, never
// looking ahead; users are processed in parallel since their windows are
// independent. batchPolicy decides whether a malformed row fails the
// whole batch or is skipped and reported.
func (b *Builder) Build(events []*domain.Event, vocab domain.Vocabulary, batchPolicy domain.BatchPolicy) (*Batch, error) {
	valid := make([]*domain.Event, 0, len(events))
	var skipped []*domain.MalformedEventError
	for i, e := range events {
		if err := ValidateEvent(i, e); err != nil {
			if batchPolicy == domain.FailBatch {
				return nil, err
			}
			skipped = append(skipped, err)
			continue
		}
		valid = append(valid, e)
	}

	// Stable sort keeps ingestion order for equal timestamps.
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].UserID != valid[j].UserID {
			return valid[i].UserID < valid[j].UserID
		}
		return valid[i].Timestamp.Before(valid[j].Timestamp)
	})

	features := make([]domain.FeatureVector, len(valid))

	// Per-user contiguous ranges after the sort.
	type span struct{ start, end int }
	var spans []span
	for start := 0; start < len(valid); {
		end := start + 1
		for end < len(valid) && valid[end].UserID == valid[start].UserID {
			end++
		}
		spans = append(spans, span{start, end})
		start = end
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, b.maxWorkers)
	for _, s := range spans {
		wg.Add(1)
		go func(s span) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			b.buildUser(valid[s.start:s.end], features[s.start:s.end], vocab)
		}(s)
	}
	wg.Wait()

	return &Batch{
		Events:   valid,
		Features: features,
		Columns:  append([]string(nil), domain.FeatureColumns...),
		Skipped:  skipped,
	}, nil
}

// buildUser walks one user's events in timestamp order and fills in the
// corresponding feature vectors.
func (b *Builder) buildUser(events []*domain.Event, out []domain.FeatureVector, vocab domain.Vocabulary) {
	amounts := make([]float64, len(events))

	for i, e := range events {
		ts := e.Timestamp.UTC()
		hour := ts.Hour()
		amounts[i] = e.Amount

		fv := domain.FeatureVector{
			Hour:          hour,
			DayOfWeek:     mondayWeekday(ts.Weekday()),
			Amount:        e.Amount,
			EventTypeCode: vocab.Code(domain.VocabEventType, string(e.EventType)),
			CountryCode:   vocab.Code(domain.VocabCountry, e.Country),
			ChannelCode:   vocab.Code(domain.VocabChannel, string(e.Channel)),
			RoleCode:      vocab.Code(domain.VocabRole, e.Role),
			IsPrivileged:  e.IsPrivileged,
			MFASuccess:    e.MFASuccess,
		}
		if b.policy.IsOffHours(hour) {
			fv.OffHours = 1
		}

		if i >= minPriorObs {
			start := i + 1 - amountWindow
			if start < 0 {
				start = 0
			}
			fv.AmountRollMean, fv.AmountRollStd = meanStd(amounts[start : i+1])
		}

		loginStart := i + 1 - loginWindow
		if loginStart < 0 {
			loginStart = 0
		}
		for _, prev := range events[loginStart : i+1] {
			if prev.EventType == domain.EventLogin {
				fv.LoginCntWindow++
			}
		}

		if i > 0 {
			prev := events[i-1]
			fv.GeoKmFromPrev = HaversineKm(prev.Lat, prev.Lon, e.Lat, e.Lon)
		}

		out[i] = fv
	}
}

// mondayWeekday converts Go's Sunday=0 weekday to Monday=0.
func mondayWeekday(w time.Weekday) int {
	return (int(w) + 6) % 7
}

// meanStd computes the mean and sample standard deviation of xs.
func meanStd(xs []float64) (float64, float64) {
	n := float64(len(xs))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / n

	if n < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / (n - 1))
}

// ValidateEvent checks one event against the derivation contract. Ingest
// uses it too, so rows the scorer would skip are rejected at the edge.
func ValidateEvent(index int, e *domain.Event) *domain.MalformedEventError {
	if e == nil {
		return &domain.MalformedEventError{Index: index, Field: "event", Reason: "nil record"}
	}
	if e.UserID == "" {
		return &domain.MalformedEventError{Index: index, Field: "user_id", Reason: "missing"}
	}
	if e.Timestamp.IsZero() {
		return &domain.MalformedEventError{Index: index, Field: "timestamp", Reason: "missing"}
	}
	if !knownEventType(e.EventType) {
		return &domain.MalformedEventError{Index: index, Field: "event_type", Reason: "unknown value " + string(e.EventType)}
	}
	if e.Amount < 0 {
		return &domain.MalformedEventError{Index: index, Field: "amount", Reason: "negative"}
	}
	if e.Country == "" {
		return &domain.MalformedEventError{Index: index, Field: "country", Reason: "missing"}
	}
	if e.Channel != domain.ChannelWeb && e.Channel != domain.ChannelMobile && e.Channel != domain.ChannelBranch {
		return &domain.MalformedEventError{Index: index, Field: "channel", Reason: "unknown value " + string(e.Channel)}
	}
	if e.IsPrivileged != 0 && e.IsPrivileged != 1 {
		return &domain.MalformedEventError{Index: index, Field: "is_privileged", Reason: "must be 0 or 1"}
	}
	if e.MFASuccess != 0 && e.MFASuccess != 1 {
		return &domain.MalformedEventError{Index: index, Field: "mfa_success", Reason: "must be 0 or 1"}
	}
	return nil
}

func knownEventType(t domain.EventType) bool {
	for _, k := range domain.KnownEventTypes {
		if t == k {
			return true
		}
	}
	return false
}
