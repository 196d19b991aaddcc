// Package synth generates deterministic synthetic event datasets for
// demos, benchmarks, and tests.
package synth

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// location is a home base a user's activity clusters around.
type location struct {
	country string
	lat     float64
	lon     float64
}

var locations = []location{
	{"CA", 43.6532, -79.3832},   // Toronto
	{"CA", 49.2827, -123.1207},  // Vancouver
	{"CA", 45.4215, -75.6972},   // Ottawa
	{"US", 40.7128, -74.0060},   // New York
	{"US", 37.7749, -122.4194},  // San Francisco
	{"GB", 51.5074, -0.1278},    // London
	{"IN", 19.0760, 72.8777},    // Mumbai
	{"SG", 1.3521, 103.8198},    // Singapore
}

var channels = []domain.Channel{domain.ChannelWeb, domain.ChannelMobile, domain.ChannelBranch}

// Options controls the generated dataset. The same Options always yield
// the same events.
type Options struct {
	Days  int
	Users int
	Seed  int64

	// Start anchors the window; zero means Days ago from now.
	Start time.Time
}

// DefaultOptions mirrors the documented demo dataset.
func DefaultOptions() Options {
	return Options{Days: 7, Users: 100, Seed: 7}
}

// Generate produces a sorted synthetic event stream with a small fraction
// of injected anomalies (oversized transfers from a high-risk country with
// failed MFA).
func Generate(opts Options) []*domain.Event {
	if opts.Days <= 0 {
		opts.Days = 7
	}
	if opts.Users <= 0 {
		opts.Users = 100
	}
	start := opts.Start
	if start.IsZero() {
		start = time.Now().UTC().AddDate(0, 0, -opts.Days)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	var events []*domain.Event

	for u := 0; u < opts.Users; u++ {
		userID := fmt.Sprintf("user_%05d", u)
		role := "user"
		if rng.Float64() <= 0.05 {
			role = "admin"
		}
		home := locations[rng.Intn(len(locations))]
		eventsPerDay := 5 + rng.Intn(15)

		for d := 0; d < opts.Days; d++ {
			base := start.AddDate(0, 0, d)
			for n := 0; n < eventsPerDay; n++ {
				et := pickEventType(rng)
				ts := base.Add(time.Duration(rng.Intn(24*60)) * time.Minute)

				loc := home
				if rng.Float64() < 0.15 { // occasional travel
					loc = locations[rng.Intn(len(locations))]
				}
				lat := clamp(rng.NormFloat64()*0.5+loc.lat, -80, 80)
				lon := clamp(rng.NormFloat64()*0.5+loc.lon, -170, 170)

				var amount float64
				if et == domain.EventWireTransfer {
					amount = round2(math.Abs(rng.NormFloat64()*12000 + 15000))
				}

				isPriv := 0
				if role != "user" {
					isPriv = 1
				}
				mfa := 1
				if rng.Float64() <= 0.05 {
					mfa = 0
				}

				events = append(events, &domain.Event{
					ID:           fmt.Sprintf("%s-%d-%d", userID, d, n),
					Timestamp:    ts,
					UserID:       userID,
					Role:         role,
					EventType:    et,
					Amount:       amount,
					Country:      loc.country,
					Lat:          round4(lat),
					Lon:          round4(lon),
					Channel:      pickChannel(rng),
					IsPrivileged: isPriv,
					MFASuccess:   mfa,
					DeviceID:     fmt.Sprintf("dev_%d", 1+rng.Intn(4999)),
					IP:           fmt.Sprintf("10.%d.%d.%d", rng.Intn(255), rng.Intn(255), 1+rng.Intn(254)),
				})
			}
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	injectAnomalies(events, rng)
	return events
}

// injectAnomalies turns a small sample of rows into obvious incidents.
func injectAnomalies(events []*domain.Event, rng *rand.Rand) {
	n := len(events) / 200
	if n < 20 {
		n = 20
	}
	if n > len(events) {
		n = len(events)
	}
	for _, i := range rng.Perm(len(events))[:n] {
		e := events[i]
		e.Amount = e.Amount*8 + 100000
		e.MFASuccess = 0
		e.Country = "RU"
	}
}

func pickEventType(rng *rand.Rand) domain.EventType {
	r := rng.Float64()
	switch {
	case r < 0.45:
		return domain.EventLogin
	case r < 0.50:
		return domain.EventWireTransfer
	case r < 0.85:
		return domain.EventView
	case r < 0.87:
		return domain.EventChangeBeneficiary
	case r < 0.93:
		return domain.EventPasswordReset
	default:
		return domain.EventMFAChallenge
	}
}

func pickChannel(rng *rand.Rand) domain.Channel {
	r := rng.Float64()
	switch {
	case r < 0.6:
		return channels[0]
	case r < 0.95:
		return channels[1]
	default:
		return channels[2]
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
