// Package worker provides async batch scoring driven by the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/engine"
	"github.com/opensource-finance/sentinel/internal/metrics"
	"github.com/opensource-finance/sentinel/internal/model"
)

// Worker scores ingested events asynchronously. An ingest notification on
// the bus wakes it; it drains unscored events from the repository in
// batches, persists the insights, and publishes scored/alert messages.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	engine *engine.Engine

	mu    sync.RWMutex
	model *model.Model

	batchSize   int
	batchPolicy domain.BatchPolicy

	subscriptions []domain.Subscription
	wake          chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// BatchSize bounds how many unscored events one pass picks up.
	BatchSize int

	// BatchPolicy controls malformed-row handling during async scoring.
	// SkipRecord is the sensible default: one bad row must not wedge the
	// queue.
	BatchPolicy domain.BatchPolicy
}

// NewWorker creates an async scoring worker. The model may be nil at
// construction and supplied later via SetModel (after a /train call).
func NewWorker(bus domain.EventBus, repo domain.Repository, eng *engine.Engine, m *model.Model, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:         bus,
		repo:        repo,
		engine:      eng,
		model:       m,
		batchSize:   cfg.BatchSize,
		batchPolicy: cfg.BatchPolicy,
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetModel swaps the model used for subsequent batches.
func (w *Worker) SetModel(m *model.Model) {
	w.mu.Lock()
	w.model = m
	w.mu.Unlock()
}

// Model returns the currently loaded model, or nil.
func (w *Worker) Model() *model.Model {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.model
}

// Start subscribes to ingest notifications and begins the scoring loop.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicEventsIngested, func(ctx context.Context, msg *domain.Message) error {
		select {
		case w.wake <- struct{}{}:
		default:
			// A wakeup is already pending; the loop drains everything.
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe to ingest topic: %w", err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.wg.Add(1)
	go w.loop()

	slog.Info("scoring worker started", "batch_size", w.batchSize)
	return nil
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.wake:
			w.drain()
		}
	}
}

// drain scores unscored events until the backlog is empty.
func (w *Worker) drain() {
	for {
		n, err := w.ScoreOnce(w.ctx)
		if err != nil {
			slog.Error("async scoring pass failed", "error", err)
			return
		}
		if n == 0 {
			return
		}
	}
}

// ScoreOnce picks up one batch of unscored events, scores and persists
// it, and publishes the results. Rows skipped under SkipRecord are
// marked in the repository so they leave the queue instead of blocking
// it. Returns the number of events consumed from the queue (scored plus
// skipped), so callers keep draining as long as progress is made.
func (w *Worker) ScoreOnce(ctx context.Context) (int, error) {
	m := w.Model()
	if m == nil {
		return 0, fmt.Errorf("no model loaded")
	}

	events, err := w.repo.ListUnscored(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list unscored: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	start := time.Now()
	res, err := w.engine.Score(ctx, m, events, w.batchPolicy)
	if err != nil {
		return 0, err
	}
	if err := w.repo.SaveInsights(ctx, res.Scored); err != nil {
		return 0, fmt.Errorf("save insights: %w", err)
	}

	// A malformed head-of-queue must not starve newer valid events:
	// skipped rows are marked out of the unscored queue.
	if len(res.Skipped) > 0 {
		skippedIDs := make([]string, 0, len(res.Skipped))
		for _, se := range res.Skipped {
			if se.Index < 0 || se.Index >= len(events) {
				continue
			}
			skippedIDs = append(skippedIDs, events[se.Index].ID)
			slog.Warn("skipping malformed event",
				"event_id", events[se.Index].ID,
				"error", se.Error(),
			)
		}
		if err := w.repo.MarkSkipped(ctx, skippedIDs); err != nil {
			return 0, fmt.Errorf("mark skipped: %w", err)
		}
	}

	metrics.EventsScored.Add(float64(len(res.Scored)))
	metrics.EventsSkipped.Add(float64(len(res.Skipped)))
	metrics.ScoreBatchDuration.Observe(time.Since(start).Seconds())

	var alerts int
	for _, s := range res.Scored {
		metrics.InsightSeverity.WithLabelValues(string(s.Severity)).Inc()
		if s.Severity != domain.SeverityHigh {
			continue
		}
		alerts++
		payload, _ := json.Marshal(s)
		if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"event_id", s.Event.ID,
				"error", err,
			)
		}
	}
	metrics.AlertsPublished.Add(float64(alerts))

	summary, _ := json.Marshal(map[string]any{
		"scored":  len(res.Scored),
		"skipped": len(res.Skipped),
		"alerts":  alerts,
	})
	if err := w.bus.Publish(ctx, domain.TopicInsightsScored, summary); err != nil {
		slog.Error("failed to publish scored summary", "error", err)
	}

	slog.Info("batch scored async",
		"scored", len(res.Scored),
		"skipped", len(res.Skipped),
		"alerts", alerts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return len(res.Scored) + len(res.Skipped), nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("scoring worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	ModelLoaded       bool     `json:"modelLoaded"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		ModelLoaded:       w.Model() != nil,
	}
}
