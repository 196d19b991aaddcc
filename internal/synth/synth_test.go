package synth

import (
	"testing"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

func TestGenerateBasics(t *testing.T) {
	opts := Options{Days: 2, Users: 10, Seed: 123, Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	events := Generate(opts)

	if len(events) == 0 {
		t.Fatal("no events generated")
	}
	for i, e := range events {
		if e.UserID == "" || e.Timestamp.IsZero() || e.Country == "" {
			t.Fatalf("event %d missing required fields: %+v", i, e)
		}
		if i > 0 && events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Fatalf("events not sorted at %d", i)
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	opts := Options{Days: 2, Users: 10, Seed: 7, Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	a := Generate(opts)
	b := Generate(opts)

	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if *a[i] != *b[i] {
			t.Fatalf("event %d differs between runs", i)
		}
	}
}

func TestGenerateInjectsAnomalies(t *testing.T) {
	opts := Options{Days: 3, Users: 20, Seed: 7, Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	events := Generate(opts)

	var injected int
	for _, e := range events {
		if e.Country == "RU" && e.MFASuccess == 0 && e.Amount >= 100000 {
			injected++
		}
	}
	if injected < 20 {
		t.Fatalf("expected at least 20 injected anomalies, got %d", injected)
	}
}

func TestGeneratedEventsPassValidation(t *testing.T) {
	opts := Options{Days: 1, Users: 5, Seed: 9, Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	for i, e := range Generate(opts) {
		if e.Amount < 0 {
			t.Fatalf("event %d has negative amount", i)
		}
		known := false
		for _, k := range domain.KnownEventTypes {
			if e.EventType == k {
				known = true
			}
		}
		if !known {
			t.Fatalf("event %d has unknown type %s", i, e.EventType)
		}
	}
}
