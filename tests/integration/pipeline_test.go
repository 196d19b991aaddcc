//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Sentinel
// behavioral risk scoring engine.
//
// These tests verify the COMPLETE scoring pipeline:
//
//	Events → Features → Anomaly Model → Rules → Fusion → Insights
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. EVENT: One account action (login, wire_transfer, view,
//    change_beneficiary, password_reset, mfa_challenge)
//
// 2. FEATURES: Per-event derived attributes - time of day, rolling
//    amount statistics, login counts, distance from previous location,
//    encoded categoricals
//
// 3. ANOMALY SCORE: Isolation-forest probability in [0,1], batch-relative
//
// 4. REASONS: Deterministic rule codes (OFF_HOURS_LARGE_TRANSFER,
//    HIGH_RISK_COUNTRY, GEO_IMPOSSIBLE_TRAVEL, ...)
//
// 5. INSIGHT: Event + features + anomaly probability + reasons + fused
//    risk score + severity + narrative summary
//
// The tests expect a running server with a fresh database:
//
//	SENTINEL_DB=$(mktemp -d)/sentinel.db go run cmd/sentinel/main.go
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func loadConfig() TestConfig {
	baseURL := os.Getenv("SENTINEL_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

func requireServer(t *testing.T, cfg TestConfig) {
	t.Helper()
	resp, err := http.Get(cfg.BaseURL + "/health")
	if err != nil {
		t.Skipf("server not reachable at %s: %v", cfg.BaseURL, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Skipf("server unhealthy at %s: status %d", cfg.BaseURL, resp.StatusCode)
	}
}

type apiEvent struct {
	ID           string    `json:"id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"userId"`
	Role         string    `json:"role"`
	EventType    string    `json:"eventType"`
	Amount       float64   `json:"amount"`
	Country      string    `json:"country"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Channel      string    `json:"channel"`
	IsPrivileged int       `json:"isPrivileged"`
	MFASuccess   int       `json:"mfaSuccess"`
}

type apiInsight struct {
	Event       apiEvent `json:"event"`
	AnomalyProb float64  `json:"anomalyProb"`
	Reasons     []string `json:"reasons"`
	RiskScore   float64  `json:"riskScore"`
	Severity    string   `json:"severity"`
	Summary     string   `json:"summary"`
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

// normalEvents builds a small run of daytime logins for one user.
func normalEvents(userID string, n int) []apiEvent {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	events := make([]apiEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, apiEvent{
			Timestamp:  base.Add(time.Duration(i) * 10 * time.Minute),
			UserID:     userID,
			Role:       "client",
			EventType:  "login",
			Country:    "US",
			Lat:        40.71,
			Lon:        -74.00,
			Channel:    "web",
			MFASuccess: 1,
		})
	}
	return events
}

func TestFullPipeline(t *testing.T) {
	cfg := loadConfig()
	requireServer(t, cfg)

	// 1. Train on synthetic data so the worker has a model.
	status := postJSON(t, cfg.BaseURL+"/train", map[string]any{
		"synthetic": map[string]any{"days": 3, "users": 50, "seed": 7},
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("train failed with status %d", status)
	}

	// 2. Ingest a suspicious sequence: off-hours large wire from a new
	// country after an impossible jump.
	userID := fmt.Sprintf("it-user-%d", time.Now().UnixNano())
	events := normalEvents(userID, 6)
	events = append(events, apiEvent{
		Timestamp:  time.Date(2026, 3, 3, 2, 30, 0, 0, time.UTC),
		UserID:     userID,
		Role:       "client",
		EventType:  "wire_transfer",
		Amount:     95000,
		Country:    "RU",
		Lat:        55.75,
		Lon:        37.61,
		Channel:    "web",
		MFASuccess: 0,
	})

	var ingestResp struct {
		Rows int      `json:"rows"`
		IDs  []string `json:"ids"`
	}
	status = postJSON(t, cfg.BaseURL+"/events", map[string]any{"events": events}, &ingestResp)
	if status != http.StatusAccepted {
		t.Fatalf("ingest failed with status %d", status)
	}
	if ingestResp.Rows != len(events) {
		t.Fatalf("expected %d rows ingested, got %d", len(events), ingestResp.Rows)
	}

	// 3. The async worker should pick the batch up from the bus. Poll
	// for the suspicious event's insight; fall back to explicit /score
	// if async has not landed in time.
	suspiciousID := ingestResp.IDs[len(ingestResp.IDs)-1]
	var insight apiInsight
	deadline := time.Now().Add(10 * time.Second)
	for {
		if getJSON(t, cfg.BaseURL+"/insights/"+suspiciousID, &insight) == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			postJSON(t, cfg.BaseURL+"/score", nil, nil)
			if getJSON(t, cfg.BaseURL+"/insights/"+suspiciousID, &insight) != http.StatusOK {
				t.Fatal("insight never appeared, even after explicit scoring")
			}
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	// 4. The suspicious event must carry rule reasons and a summary.
	if len(insight.Reasons) == 0 {
		t.Error("expected rule reasons on the suspicious event")
	}
	if insight.Summary == "" {
		t.Error("expected a narrative summary")
	}
	if insight.RiskScore <= 0 {
		t.Errorf("expected positive risk score, got %v", insight.RiskScore)
	}

	// 5. Insights listing and KPIs must include the scored batch.
	var list struct {
		Count int `json:"count"`
	}
	if getJSON(t, cfg.BaseURL+"/insights?limit=10", &list) != http.StatusOK {
		t.Fatal("insights listing failed")
	}
	if list.Count == 0 {
		t.Error("expected non-empty insights listing")
	}

	var kpis struct {
		Total  int     `json:"total"`
		High   int     `json:"high"`
		Medium int     `json:"medium"`
		Low    int     `json:"low"`
		Avg    float64 `json:"avg"`
	}
	if getJSON(t, cfg.BaseURL+"/insights/kpis", &kpis) != http.StatusOK {
		t.Fatal("kpis failed")
	}
	if kpis.Total == 0 {
		t.Error("expected nonzero kpi total")
	}
	if kpis.High+kpis.Medium+kpis.Low != kpis.Total {
		t.Errorf("kpi buckets %d+%d+%d do not sum to total %d",
			kpis.High, kpis.Medium, kpis.Low, kpis.Total)
	}

	// 6. Per-user view returns the whole sequence.
	var byUser struct {
		Count int `json:"count"`
	}
	if getJSON(t, cfg.BaseURL+"/insights/user/"+userID, &byUser) != http.StatusOK {
		t.Fatal("insights by user failed")
	}
	if byUser.Count != len(events) {
		t.Errorf("expected %d insights for %s, got %d", len(events), userID, byUser.Count)
	}
}

func TestIngestValidation(t *testing.T) {
	cfg := loadConfig()
	requireServer(t, cfg)

	// Empty batch
	if status := postJSON(t, cfg.BaseURL+"/events", map[string]any{"events": []apiEvent{}}, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for empty batch, got %d", status)
	}

	// Missing user
	if status := postJSON(t, cfg.BaseURL+"/events", map[string]any{
		"events": []apiEvent{{EventType: "login", Timestamp: time.Now().UTC()}},
	}, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for missing userId, got %d", status)
	}
}

func TestUnknownEventAndInsight(t *testing.T) {
	cfg := loadConfig()
	requireServer(t, cfg)

	if status := getJSON(t, cfg.BaseURL+"/events/does-not-exist", nil); status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown event, got %d", status)
	}
	if status := getJSON(t, cfg.BaseURL+"/insights/does-not-exist", nil); status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown insight, got %d", status)
	}
}
