// Package engine orchestrates the scoring pipeline: feature derivation,
// anomaly inference, rule evaluation, fusion, and narrative rendering.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/features"
	"github.com/opensource-finance/sentinel/internal/fusion"
	"github.com/opensource-finance/sentinel/internal/model"
	"github.com/opensource-finance/sentinel/internal/narrative"
	"github.com/opensource-finance/sentinel/internal/rules"
)

var tracer = otel.Tracer("sentinel-engine")

// Engine runs training and scoring under one policy. The policy and the
// compiled rules are fixed at construction; swapping policies means
// constructing a new engine.
type Engine struct {
	policy  *domain.Policy
	builder *features.Builder
	rules   *rules.Engine
	cfg     domain.ModelConfig
	logger  *slog.Logger
}

// New builds an engine for the given policy and model settings. Custom
// rule compilation failures surface here, before any data is touched.
func New(policy *domain.Policy, cfg domain.ModelConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ruleEngine, err := rules.NewEngine(policy, 0)
	if err != nil {
		return nil, fmt.Errorf("build rule engine: %w", err)
	}
	return &Engine{
		policy:  policy,
		builder: features.NewBuilder(policy, 0),
		rules:   ruleEngine,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// TrainReport summarizes a training run. ExpectedAnomalies is the
// contamination share of the training rows, so operators can sanity-check
// high-severity volume against what the model was configured to expect.
type TrainReport struct {
	Rows              int                           `json:"rows"`
	Columns           []string                      `json:"columns"`
	ExpectedAnomalies int                           `json:"expectedAnomalies"`
	Skipped           []*domain.MalformedEventError `json:"-"`
}

// Train derives features from the events, fits the vocabulary off the
// training data, and trains the anomaly model on the standardized matrix.
func (e *Engine) Train(ctx context.Context, events []*domain.Event, batchPolicy domain.BatchPolicy) (*model.Model, *TrainReport, error) {
	ctx, span := tracer.Start(ctx, "engine.Train")
	defer span.End()
	span.SetAttributes(attribute.Int("events.count", len(events)))
	start := time.Now()

	vocab := features.BuildVocabulary(events)
	batch, err := e.builder.Build(events, vocab, batchPolicy)
	if err != nil {
		return nil, nil, fmt.Errorf("derive features: %w", err)
	}
	if len(batch.Events) == 0 {
		return nil, nil, fmt.Errorf("train: no valid events in batch")
	}

	m, err := model.Train(batch.Matrix(), batch.Columns, vocab, e.cfg)
	if err != nil {
		return nil, nil, err
	}

	expected := int(math.Round(e.cfg.Contamination * float64(len(batch.Events))))

	e.logger.Info("model trained",
		"rows", len(batch.Events),
		"skipped", len(batch.Skipped),
		"trees", e.cfg.Trees,
		"expected_anomalies", expected,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return m, &TrainReport{
		Rows:              len(batch.Events),
		Columns:           batch.Columns,
		ExpectedAnomalies: expected,
		Skipped:           batch.Skipped,
	}, nil
}

// ScoreResult is one scoring run's output: scored events in (user,
// timestamp) order plus the rows skipped under SkipRecord.
type ScoreResult struct {
	Scored  []*domain.ScoredEvent
	Skipped []*domain.MalformedEventError
}

// Score runs the full pipeline over one batch using a trained model.
// Features are encoded with the model's stored vocabulary, never a
// batch-local one, and the feature columns are checked against the
// model schema before inference.
func (e *Engine) Score(ctx context.Context, m *model.Model, events []*domain.Event, batchPolicy domain.BatchPolicy) (*ScoreResult, error) {
	ctx, span := tracer.Start(ctx, "engine.Score")
	defer span.End()
	span.SetAttributes(attribute.Int("events.count", len(events)))
	start := time.Now()

	batch, err := e.builder.Build(events, m.Schema.Vocabulary, batchPolicy)
	if err != nil {
		return nil, fmt.Errorf("derive features: %w", err)
	}

	probs, err := m.Infer(batch.Matrix(), batch.Columns)
	if err != nil {
		return nil, err
	}

	reasons, err := e.rules.EvaluateAll(ctx, batch.Events, batch.Features)
	if err != nil {
		return nil, fmt.Errorf("evaluate rules: %w", err)
	}

	now := time.Now().UTC()
	scored := make([]*domain.ScoredEvent, len(batch.Events))
	var alerts int
	for i, ev := range batch.Events {
		s := &domain.ScoredEvent{
			Event:       *ev,
			Features:    batch.Features[i],
			AnomalyProb: probs[i],
			Reasons:     reasons[i],
			ScoredAt:    now,
		}
		s.RiskScore = fusion.Fuse(s.AnomalyProb, s.Reasons, e.policy)
		s.Severity = fusion.Bucket(s.RiskScore)
		s.Summary = narrative.Summarize(s)
		if s.Severity == domain.SeverityHigh {
			alerts++
		}
		scored[i] = s
	}

	e.logger.Info("batch scored",
		"rows", len(scored),
		"skipped", len(batch.Skipped),
		"high_severity", alerts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &ScoreResult{Scored: scored, Skipped: batch.Skipped}, nil
}

// Policy returns the engine's policy.
func (e *Engine) Policy() *domain.Policy { return e.policy }
