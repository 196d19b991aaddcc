package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/synth"
)

func testEvents(t *testing.T) []*domain.Event {
	t.Helper()
	return synth.Generate(synth.Options{
		Days:  3,
		Users: 30,
		Seed:  7,
		Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
}

func testEngine(t *testing.T, policy *domain.Policy) *Engine {
	t.Helper()
	if policy == nil {
		policy = domain.DefaultPolicy()
		policy.HighRiskCountries = map[string]bool{"RU": true, "KP": true}
	}
	cfg := domain.ModelConfig{Trees: 40, SubsampleSize: 64, Seed: 13, Contamination: 0.02}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := New(policy, cfg, logger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestTrainThenScore(t *testing.T) {
	e := testEngine(t, nil)
	events := testEvents(t)

	m, report, err := e.Train(context.Background(), events, domain.FailBatch)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if report.Rows != len(events) {
		t.Errorf("trained on %d rows, want %d", report.Rows, len(events))
	}
	if len(report.Columns) != len(domain.FeatureColumns) {
		t.Errorf("got %d columns, want %d", len(report.Columns), len(domain.FeatureColumns))
	}
	want := int(math.Round(0.02 * float64(report.Rows)))
	if report.ExpectedAnomalies != want {
		t.Errorf("expected anomalies = %d, want %d", report.ExpectedAnomalies, want)
	}

	res, err := e.Score(context.Background(), m, events, domain.FailBatch)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if len(res.Scored) != len(events) {
		t.Fatalf("scored %d events, want %d", len(res.Scored), len(events))
	}

	var high int
	for i, s := range res.Scored {
		if s.RiskScore < 0 || s.RiskScore > 1 {
			t.Fatalf("event %d risk out of range: %v", i, s.RiskScore)
		}
		if s.AnomalyProb < 0 || s.AnomalyProb > 1 {
			t.Fatalf("event %d anomaly prob out of range: %v", i, s.AnomalyProb)
		}
		if s.Summary == "" {
			t.Fatalf("event %d has no summary", i)
		}
		if s.Severity == domain.SeverityHigh {
			high++
		}
	}
	// The generator injects unambiguous incidents; some must surface.
	if high == 0 {
		t.Error("no high-severity events found in a dataset with injected anomalies")
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	e := testEngine(t, nil)
	events := testEvents(t)

	m, _, err := e.Train(context.Background(), events, domain.FailBatch)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	r1, err := e.Score(context.Background(), m, events, domain.FailBatch)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	r2, err := e.Score(context.Background(), m, events, domain.FailBatch)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	for i := range r1.Scored {
		a, b := r1.Scored[i], r2.Scored[i]
		if a.RiskScore != b.RiskScore || a.Severity != b.Severity {
			t.Fatalf("event %d scored differently across runs", i)
		}
		if len(a.Reasons) != len(b.Reasons) {
			t.Fatalf("event %d reasons differ across runs", i)
		}
	}
}

func TestScoreUsesTrainedVocabulary(t *testing.T) {
	e := testEngine(t, nil)
	events := testEvents(t)

	m, _, err := e.Train(context.Background(), events, domain.FailBatch)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	// A country the model never saw must still score, encoded as unseen.
	novel := &domain.Event{
		ID:        "novel-1",
		Timestamp: time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC),
		UserID:    "user_xyz",
		Role:      "user",
		EventType: domain.EventView,
		Country:   "AQ",
		Channel:   domain.ChannelWeb,
		MFASuccess: 1,
	}
	res, err := e.Score(context.Background(), m, []*domain.Event{novel}, domain.FailBatch)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if got := res.Scored[0].Features.CountryCode; got != domain.UnseenCategoryCode {
		t.Errorf("novel country encoded as %d, want %d", got, domain.UnseenCategoryCode)
	}
}

func TestScoreSkipRecordReportsRows(t *testing.T) {
	e := testEngine(t, nil)
	events := testEvents(t)

	m, _, err := e.Train(context.Background(), events, domain.FailBatch)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	bad := &domain.Event{ID: "bad", Timestamp: time.Now(), UserID: "", Country: "GB"}
	res, err := e.Score(context.Background(), m, append(events[:10:10], bad), domain.SkipRecord)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if len(res.Scored) != 10 {
		t.Errorf("scored %d events, want 10", len(res.Scored))
	}
	if len(res.Skipped) != 1 {
		t.Errorf("skipped %d rows, want 1", len(res.Skipped))
	}
}

func TestTrainRejectsMalformedUnderFailBatch(t *testing.T) {
	e := testEngine(t, nil)
	bad := &domain.Event{ID: "bad", Timestamp: time.Now(), UserID: "u", Country: "GB"}

	_, _, err := e.Train(context.Background(), []*domain.Event{bad}, domain.FailBatch)
	var malformed *domain.MalformedEventError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedEventError, got %v", err)
	}
}

func TestNewRejectsBrokenCustomRules(t *testing.T) {
	p := domain.DefaultPolicy()
	p.CustomRules = []domain.CustomRule{{Code: "X", Expression: "not valid ("}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := New(p, domain.ModelConfig{Trees: 10, Seed: 1}, logger); err == nil {
		t.Fatal("expected constructor error for a broken custom rule")
	}
}
