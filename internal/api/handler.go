package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/sentinel/internal/artifact"
	"github.com/opensource-finance/sentinel/internal/cache"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/engine"
	"github.com/opensource-finance/sentinel/internal/features"
	"github.com/opensource-finance/sentinel/internal/metrics"
	"github.com/opensource-finance/sentinel/internal/synth"
	"github.com/opensource-finance/sentinel/internal/velocity"
	"github.com/opensource-finance/sentinel/internal/worker"
)

const (
	defaultInsightsLimit = 50
	maxInsightsLimit     = 1000
	kpiSampleLimit       = 1000
	trainEventLimit      = 100000

	topInsightsTTL = 30 * time.Second
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *engine.Engine
	worker   *worker.Worker
	store    *artifact.FileStore
	velocity *velocity.Tracker
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, c domain.Cache, bus domain.EventBus, eng *engine.Engine, wrk *worker.Worker, store *artifact.FileStore, tracker *velocity.Tracker, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    c,
		bus:      bus,
		engine:   eng,
		worker:   wrk,
		store:    store,
		velocity: tracker,
		version:  version,
	}
}

// IngestRequest is the request body for POST /events.
type IngestRequest struct {
	Events []*domain.Event `json:"events"`
}

// IngestResponse is the response for POST /events. Scoring is never
// implicit: events are persisted as unscored and a notification is
// published for the async worker.
type IngestResponse struct {
	Status string   `json:"status"`
	Rows   int      `json:"rows"`
	IDs    []string `json:"ids"`
}

// Ingest handles POST /events requests.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Events) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "events is required and must be non-empty",
		})
		return
	}

	ids := make([]string, 0, len(req.Events))
	for i, e := range req.Events {
		if e != nil {
			if e.ID == "" {
				e.ID = uuid.New().String()
			}
			if e.Timestamp.IsZero() {
				e.Timestamp = time.Now().UTC()
			}
		}
		// Full feature validation at the edge: a row the scorer would
		// only skip later is rejected here instead of persisted.
		if err := features.ValidateEvent(i, e); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		ids = append(ids, e.ID)

		if h.velocity != nil {
			count, err := h.velocity.Record(ctx, e.UserID)
			if err == nil && h.velocity.IsBurst(count) {
				slog.Warn("ingest burst detected",
					"user_id", e.UserID,
					"count", count,
					"threshold", h.velocity.Threshold(),
				)
			}
		}
	}

	if err := h.repo.SaveEvents(ctx, req.Events); err != nil {
		slog.Error("failed to save events", "count", len(req.Events), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save events",
		})
		return
	}

	metrics.EventsIngested.Add(float64(len(req.Events)))

	notice, _ := json.Marshal(map[string]any{"rows": len(req.Events)})
	if err := h.bus.Publish(ctx, domain.TopicEventsIngested, notice); err != nil {
		slog.Error("failed to publish ingest notification", "error", err)
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{
		Status: "ingested",
		Rows:   len(req.Events),
		IDs:    ids,
	})
}

// GetEvent retrieves an event by ID.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID := chi.URLParam(r, "id")

	if eventID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "event id is required",
		})
		return
	}

	event, err := h.repo.GetEvent(ctx, eventID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "event not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// TrainRequest is the request body for POST /train. With an empty body
// the model trains on every stored event. A synthetic block trains on a
// generated dataset instead, which is how a fresh deployment bootstraps
// before real traffic arrives.
type TrainRequest struct {
	Synthetic *SyntheticSpec `json:"synthetic,omitempty"`
	Limit     int            `json:"limit,omitempty"`
}

// SyntheticSpec configures synthetic training data generation.
type SyntheticSpec struct {
	Days  int   `json:"days"`
	Users int   `json:"users"`
	Seed  int64 `json:"seed"`
}

// TrainResponse is the response for POST /train.
type TrainResponse struct {
	Status            string   `json:"status"`
	Rows              int      `json:"rows"`
	Skipped           int      `json:"skipped"`
	Columns           []string `json:"columns"`
	ExpectedAnomalies int      `json:"expectedAnomalies"`
	Source            string   `json:"source"`
}

// Train handles POST /train: trains the anomaly model, persists the
// artifact trio, and hot-swaps the model into the async worker.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	var (
		events []*domain.Event
		source string
	)
	if req.Synthetic != nil {
		opts := synth.DefaultOptions()
		if req.Synthetic.Days > 0 {
			opts.Days = req.Synthetic.Days
		}
		if req.Synthetic.Users > 0 {
			opts.Users = req.Synthetic.Users
		}
		if req.Synthetic.Seed != 0 {
			opts.Seed = req.Synthetic.Seed
		}
		events = synth.Generate(opts)
		source = "synthetic"
	} else {
		limit := req.Limit
		if limit <= 0 {
			limit = trainEventLimit
		}
		var err error
		events, err = h.repo.ListEvents(ctx, time.Time{}, limit)
		if err != nil {
			slog.Error("failed to list events for training", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to load training events",
			})
			return
		}
		source = "stored"
	}

	if len(events) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "no events available to train on",
		})
		return
	}

	m, report, err := h.engine.Train(ctx, events, domain.SkipRecord)
	if err != nil {
		slog.Error("training failed", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "training failed: " + err.Error(),
		})
		return
	}

	if h.store != nil {
		if err := h.store.Save(m); err != nil {
			slog.Error("failed to persist model artifact", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to persist model artifact",
			})
			return
		}
	}
	if h.worker != nil {
		h.worker.SetModel(m)
	}

	slog.Info("model trained",
		"rows", report.Rows,
		"skipped", len(report.Skipped),
		"source", source,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, TrainResponse{
		Status:            "trained",
		Rows:              report.Rows,
		Skipped:           len(report.Skipped),
		Columns:           report.Columns,
		ExpectedAnomalies: report.ExpectedAnomalies,
		Source:            source,
	})
}

// Score handles POST /score: synchronously drains the unscored backlog
// through the worker. The async path covers steady-state traffic; this
// endpoint exists for operators who want scoring to happen now.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.worker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "scoring worker not available",
		})
		return
	}

	total := 0
	for {
		n, err := h.worker.ScoreOnce(ctx)
		if err != nil {
			slog.Error("scoring pass failed", "error", err)
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": "scoring failed: " + err.Error(),
			})
			return
		}
		if n == 0 {
			break
		}
		total += n
	}

	cache.InvalidateTopInsights(ctx, h.cache, defaultInsightsLimit)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "scored",
		"rows":   total,
	})
}

// ListInsights handles GET /insights?limit=, returning scored insights
// ordered by risk descending. Results for the default limit are served
// from cache between scoring runs.
func (h *Handler) ListInsights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryLimit(r, defaultInsightsLimit)

	if cached, err := cache.GetTopInsights(ctx, h.cache, limit); err == nil && cached != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"insights": cached,
			"count":    len(cached),
			"cached":   true,
		})
		return
	}

	insights, err := h.repo.TopInsights(ctx, limit)
	if err != nil {
		slog.Error("failed to list insights", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list insights",
		})
		return
	}

	if err := cache.SetTopInsights(ctx, h.cache, limit, insights, topInsightsTTL); err != nil {
		slog.Warn("failed to cache insights", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"insights": insights,
		"count":    len(insights),
		"cached":   false,
	})
}

// GetInsight retrieves a scored insight by event ID.
func (h *Handler) GetInsight(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID := chi.URLParam(r, "id")

	if eventID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "event id is required",
		})
		return
	}

	insight, err := h.repo.GetInsight(ctx, eventID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "insight not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, insight)
}

// InsightsByUser handles GET /insights/user/{id}.
func (h *Handler) InsightsByUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")

	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}

	insights, err := h.repo.InsightsByUser(ctx, userID, queryLimit(r, defaultInsightsLimit))
	if err != nil {
		slog.Error("failed to list insights by user", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list insights",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"insights": insights,
		"count":    len(insights),
	})
}

// KPIResponse is the response for GET /insights/kpis.
type KPIResponse struct {
	Total  int     `json:"total"`
	High   int     `json:"high"`
	Medium int     `json:"medium"`
	Low    int     `json:"low"`
	Avg    float64 `json:"avg"`
}

// KPIs handles GET /insights/kpis, aggregating the highest-risk
// insights into dashboard counters.
func (h *Handler) KPIs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	insights, err := h.repo.TopInsights(ctx, kpiSampleLimit)
	if err != nil {
		slog.Error("failed to load insights for kpis", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute kpis",
		})
		return
	}

	var resp KPIResponse
	var sum float64
	for _, s := range insights {
		resp.Total++
		sum += s.RiskScore
		switch s.Severity {
		case domain.SeverityHigh:
			resp.High++
		case domain.SeverityMedium:
			resp.Medium++
		default:
			resp.Low++
		}
	}
	if resp.Total > 0 {
		resp.Avg = math.Round(sum/float64(resp.Total)*1000) / 1000
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic. The
// model flag tells operators whether scoring will succeed yet.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	modelLoaded := h.worker != nil && h.worker.Model() != nil
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":       true,
		"modelLoaded": modelLoaded,
	})
}

func queryLimit(r *http.Request, def int) int {
	limit := def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxInsightsLimit {
		limit = maxInsightsLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
