package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/features"
)

func testPolicy() *domain.Policy {
	p := domain.DefaultPolicy()
	p.HighRiskCountries = map[string]bool{"KP": true, "IR": true}
	return p
}

func newTestEngine(t *testing.T, p *domain.Policy) *Engine {
	t.Helper()
	e, err := NewEngine(p, 4)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func quietEvent() (*domain.Event, *domain.FeatureVector) {
	e := &domain.Event{
		ID:        "evt-1",
		Timestamp: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
		UserID:    "u1",
		Role:      "analyst",
		EventType: domain.EventView,
		Country:   "GB",
		Channel:   domain.ChannelWeb,
	}
	return e, &domain.FeatureVector{Hour: 11, MFASuccess: 1}
}

func TestNoRulesFireOnQuietEvent(t *testing.T) {
	engine := newTestEngine(t, testPolicy())
	e, f := quietEvent()
	if got := engine.EvaluateOne(e, f); len(got) != 0 {
		t.Fatalf("expected no reasons, got %v", got)
	}
}

func TestOffHoursLargeTransfer(t *testing.T) {
	engine := newTestEngine(t, testPolicy())

	e, f := quietEvent()
	e.EventType = domain.EventWireTransfer
	e.Amount = 60000
	f.OffHours = 1

	got := engine.EvaluateOne(e, f)
	if len(got) != 1 || got[0] != CodeOffHoursLargeTransfer {
		t.Fatalf("reasons = %v, want [%s]", got, CodeOffHoursLargeTransfer)
	}

	// Same transfer inside business hours does not fire.
	f.OffHours = 0
	if got := engine.EvaluateOne(e, f); len(got) != 0 {
		t.Fatalf("expected no reasons inside hours, got %v", got)
	}

	// Boundary: amount exactly at the threshold does not fire.
	f.OffHours = 1
	e.Amount = testPolicy().LargeTransferAmount
	if got := engine.EvaluateOne(e, f); len(got) != 0 {
		t.Fatalf("threshold amount should not fire, got %v", got)
	}
}

func TestHighRiskCountry(t *testing.T) {
	engine := newTestEngine(t, testPolicy())
	e, f := quietEvent()
	e.Country = "KP"
	got := engine.EvaluateOne(e, f)
	if len(got) != 1 || got[0] != CodeHighRiskCountry {
		t.Fatalf("reasons = %v, want [%s]", got, CodeHighRiskCountry)
	}
}

func TestGeoImpossibleTravel(t *testing.T) {
	engine := newTestEngine(t, testPolicy())
	e, f := quietEvent()

	f.GeoKmFromPrev = 1499.9
	if got := engine.EvaluateOne(e, f); len(got) != 0 {
		t.Fatalf("distance under limit should not fire, got %v", got)
	}
	f.GeoKmFromPrev = 1500 // exactly at the limit fires
	got := engine.EvaluateOne(e, f)
	if len(got) != 1 || got[0] != CodeGeoImpossibleTravel {
		t.Fatalf("reasons = %v, want [%s]", got, CodeGeoImpossibleTravel)
	}
}

// Two logins an hour apart from Toronto and Mumbai: the derived distance
// must trip the travel rule on the second event without any hand-set
// feature values.
func TestImpossibleTravelAcrossConsecutiveEvents(t *testing.T) {
	engine := newTestEngine(t, testPolicy())

	events := []*domain.Event{
		{
			ID:         "evt-toronto",
			Timestamp:  time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
			UserID:     "u7",
			Role:       "client",
			EventType:  domain.EventLogin,
			Country:    "CA",
			Lat:        43.65,
			Lon:        -79.38,
			Channel:    domain.ChannelWeb,
			MFASuccess: 1,
		},
		{
			ID:         "evt-mumbai",
			Timestamp:  time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
			UserID:     "u7",
			Role:       "client",
			EventType:  domain.EventLogin,
			Country:    "IN",
			Lat:        19.07,
			Lon:        72.87,
			Channel:    domain.ChannelWeb,
			MFASuccess: 1,
		},
	}

	vocab := features.BuildVocabulary(events)
	batch, err := features.NewBuilder(testPolicy(), 0).Build(events, vocab, domain.FailBatch)
	if err != nil {
		t.Fatalf("build features: %v", err)
	}
	if batch.Features[1].GeoKmFromPrev < 12000 {
		t.Fatalf("Toronto to Mumbai derived as %.0f km", batch.Features[1].GeoKmFromPrev)
	}

	if got := engine.EvaluateOne(batch.Events[0], &batch.Features[0]); len(got) != 0 {
		t.Errorf("first event reasons = %v, want none", got)
	}
	got := engine.EvaluateOne(batch.Events[1], &batch.Features[1])
	if len(got) != 1 || got[0] != CodeGeoImpossibleTravel {
		t.Fatalf("second event reasons = %v, want [%s]", got, CodeGeoImpossibleTravel)
	}
}

func TestPrivilegedSensitiveAction(t *testing.T) {
	engine := newTestEngine(t, testPolicy())
	e, f := quietEvent()
	e.IsPrivileged = 1

	for _, et := range []domain.EventType{domain.EventChangeBeneficiary, domain.EventPasswordReset} {
		e.EventType = et
		got := engine.EvaluateOne(e, f)
		if len(got) != 1 || got[0] != CodePrivilegedSensitiveAction {
			t.Errorf("%s: reasons = %v, want [%s]", et, got, CodePrivilegedSensitiveAction)
		}
	}

	// Unprivileged user doing the same thing is fine.
	e.IsPrivileged = 0
	e.EventType = domain.EventPasswordReset
	if got := engine.EvaluateOne(e, f); len(got) != 0 {
		t.Errorf("unprivileged reset fired %v", got)
	}
}

func TestFailedMFA(t *testing.T) {
	engine := newTestEngine(t, testPolicy())
	e, f := quietEvent()
	e.EventType = domain.EventMFAChallenge
	e.MFASuccess = 0

	got := engine.EvaluateOne(e, f)
	if len(got) != 1 || got[0] != CodeFailedMFA {
		t.Fatalf("reasons = %v, want [%s]", got, CodeFailedMFA)
	}

	e.MFASuccess = 1
	if got := engine.EvaluateOne(e, f); len(got) != 0 {
		t.Fatalf("successful challenge fired %v", got)
	}
}

func TestReasonOrderIsStable(t *testing.T) {
	engine := newTestEngine(t, testPolicy())

	// Trip every built-in at once.
	e := &domain.Event{
		ID:           "evt-all",
		Timestamp:    time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC),
		UserID:       "u1",
		Role:         "admin",
		EventType:    domain.EventWireTransfer,
		Amount:       100000,
		Country:      "IR",
		Channel:      domain.ChannelWeb,
		IsPrivileged: 1,
	}
	f := &domain.FeatureVector{Hour: 2, OffHours: 1, GeoKmFromPrev: 9000}

	got := engine.EvaluateOne(e, f)
	want := []string{CodeOffHoursLargeTransfer, CodeHighRiskCountry, CodeGeoImpossibleTravel}
	if len(got) != len(want) {
		t.Fatalf("reasons = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reasons = %v, want %v", got, want)
		}
	}
}

func TestCustomRuleAppendsAfterBuiltins(t *testing.T) {
	p := testPolicy()
	p.CustomRules = []domain.CustomRule{
		{Code: "BIG_ROUND_AMOUNT", Expression: `amount >= 10000.0 && amount == double(int(amount / 1000.0)) * 1000.0`},
	}
	engine := newTestEngine(t, p)
	if engine.CustomRulesCount() != 1 {
		t.Fatalf("custom rules = %d, want 1", engine.CustomRulesCount())
	}

	e, f := quietEvent()
	e.Country = "KP"
	e.Amount = 20000

	got := engine.EvaluateOne(e, f)
	want := []string{CodeHighRiskCountry, "BIG_ROUND_AMOUNT"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("reasons = %v, want %v", got, want)
	}
}

func TestCustomRuleCompileErrorIsFatal(t *testing.T) {
	p := testPolicy()
	p.CustomRules = []domain.CustomRule{
		{Code: "BROKEN", Expression: `amount >>> 1`},
	}
	_, err := NewEngine(p, 4)
	var malformed *domain.MalformedPolicyError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedPolicyError, got %v", err)
	}

	p.CustomRules = []domain.CustomRule{
		{Code: "NOT_BOOL", Expression: `amount + 1.0`},
	}
	if _, err := NewEngine(p, 4); !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedPolicyError for non-bool rule, got %v", err)
	}
}

func TestEvaluateAllAlignsWithInput(t *testing.T) {
	engine := newTestEngine(t, testPolicy())

	events := make([]*domain.Event, 0, 3)
	features := make([]domain.FeatureVector, 0, 3)

	quiet, qf := quietEvent()
	events = append(events, quiet)
	features = append(features, *qf)

	risky, rf := quietEvent()
	risky.Country = "KP"
	events = append(events, risky)
	features = append(features, *rf)

	mfa, mf := quietEvent()
	mfa.EventType = domain.EventMFAChallenge
	mfa.MFASuccess = 0
	events = append(events, mfa)
	mf.MFASuccess = 0
	features = append(features, *mf)

	reasons, err := engine.EvaluateAll(context.Background(), events, features)
	if err != nil {
		t.Fatalf("evaluate all: %v", err)
	}
	if len(reasons) != 3 {
		t.Fatalf("got %d reason lists, want 3", len(reasons))
	}
	if len(reasons[0]) != 0 {
		t.Errorf("quiet event reasons = %v", reasons[0])
	}
	if len(reasons[1]) != 1 || reasons[1][0] != CodeHighRiskCountry {
		t.Errorf("risky event reasons = %v", reasons[1])
	}
	if len(reasons[2]) != 1 || reasons[2][0] != CodeFailedMFA {
		t.Errorf("mfa event reasons = %v", reasons[2])
	}
}

func TestEvaluateAllLengthMismatch(t *testing.T) {
	engine := newTestEngine(t, testPolicy())
	e, _ := quietEvent()
	if _, err := engine.EvaluateAll(context.Background(), []*domain.Event{e}, nil); err == nil {
		t.Fatal("expected error on misaligned inputs")
	}
}
