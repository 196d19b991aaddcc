// Benchmark tool for testing Sentinel against synthetic account activity.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -days 14 -users 200
//
// This tool:
//   1. Generates a synthetic dataset with injected anomalies (known labels)
//   2. Ingests the events into Sentinel, then trains and scores
//   3. Compares Sentinel's severity with the injected-anomaly labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/synth"
)

// labeledEvent pairs an event with its injected-anomaly ground truth.
type labeledEvent struct {
	Event     *domain.Event
	IsAnomaly bool
}

// IngestRequest matches the Sentinel POST /events body.
type IngestRequest struct {
	Events []*domain.Event `json:"events"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Injected anomaly flagged high severity
	FalsePositives int64 // Normal activity flagged high severity
	TrueNegatives  int64 // Normal activity scored below high
	FalseNegatives int64 // Injected anomaly scored below high (missed!)

	TotalProcessed int64
	TotalAnomalies int64
	TotalNormal    int64
	TotalErrors    int64

	FetchTimeMs int64
}

func main() {
	// Parse flags
	baseURL := flag.String("url", "http://localhost:8080", "Sentinel base URL")
	days := flag.Int("days", 14, "Days of synthetic activity")
	users := flag.Int("users", 200, "Number of synthetic users")
	seed := flag.Int64("seed", 7, "Generation seed")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	batchSize := flag.Int("batch", 500, "Ingest batch size")
	verbose := flag.Bool("verbose", false, "Print each misclassified event")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        SENTINEL BENCHMARK - Injected Anomaly Detection        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nSentinel URL: %s\n", *baseURL)
	fmt.Printf("Days:         %d\n", *days)
	fmt.Printf("Users:        %d\n", *users)
	fmt.Printf("Seed:         %d\n", *seed)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Println()

	// Check Sentinel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Sentinel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Sentinel is running:")
		fmt.Println("  go run cmd/sentinel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Sentinel is healthy")

	// Generate labeled dataset
	fmt.Printf("\nGenerating synthetic dataset...\n")
	labeled := generateLabeled(*days, *users, *seed)
	anomalies := 0
	for _, le := range labeled {
		if le.IsAnomaly {
			anomalies++
		}
	}
	fmt.Printf("✓ Generated %d events\n", len(labeled))
	fmt.Printf("  - Anomalies:  %d (%.2f%%)\n", anomalies, 100*float64(anomalies)/float64(len(labeled)))
	fmt.Printf("  - Normal:     %d (%.2f%%)\n", len(labeled)-anomalies, 100*float64(len(labeled)-anomalies)/float64(len(labeled)))

	client := &http.Client{Timeout: 60 * time.Second}

	// Ingest
	fmt.Printf("\nIngesting in batches of %d...\n", *batchSize)
	ingestStart := time.Now()
	if err := ingestAll(client, *baseURL, labeled, *batchSize); err != nil {
		fmt.Printf("ERROR: ingest failed: %v\n", err)
		os.Exit(1)
	}
	ingestDur := time.Since(ingestStart)
	fmt.Printf("✓ Ingested %d events in %v (%.0f ev/sec)\n",
		len(labeled), ingestDur.Round(time.Millisecond), float64(len(labeled))/ingestDur.Seconds())

	// Train on the stored events
	fmt.Println("\nTraining model on stored events...")
	trainStart := time.Now()
	if err := postJSON(client, *baseURL+"/train", map[string]any{}, nil); err != nil {
		fmt.Printf("ERROR: training failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Trained in %v\n", time.Since(trainStart).Round(time.Millisecond))

	// Score the backlog
	fmt.Println("\nScoring backlog...")
	scoreStart := time.Now()
	var scoreResp struct {
		Rows int `json:"rows"`
	}
	if err := postJSON(client, *baseURL+"/score", nil, &scoreResp); err != nil {
		fmt.Printf("ERROR: scoring failed: %v\n", err)
		os.Exit(1)
	}
	scoreDur := time.Since(scoreStart)
	fmt.Printf("✓ Scored %d events in %v (%.0f ev/sec)\n",
		scoreResp.Rows, scoreDur.Round(time.Millisecond), float64(scoreResp.Rows)/scoreDur.Seconds())

	// Fetch insights and compare with labels
	fmt.Printf("\nFetching insights with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := compareInsights(client, *baseURL, labeled, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

// generateLabeled produces the synthetic dataset and recovers the
// injected-anomaly labels from the injection signature: rewritten rows
// get the high-risk country and a six-figure amount floor.
func generateLabeled(days, users int, seed int64) []labeledEvent {
	opts := synth.DefaultOptions()
	opts.Days = days
	opts.Users = users
	opts.Seed = seed
	events := synth.Generate(opts)

	labeled := make([]labeledEvent, len(events))
	for i, e := range events {
		labeled[i] = labeledEvent{
			Event:     e,
			IsAnomaly: e.Country == "RU" && e.Amount >= 100000 && e.MFASuccess == 0,
		}
	}
	return labeled
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func ingestAll(client *http.Client, baseURL string, labeled []labeledEvent, batchSize int) error {
	for start := 0; start < len(labeled); start += batchSize {
		end := start + batchSize
		if end > len(labeled) {
			end = len(labeled)
		}
		batch := make([]*domain.Event, 0, end-start)
		for _, le := range labeled[start:end] {
			batch = append(batch, le.Event)
		}
		if err := postJSON(client, baseURL+"/events", IngestRequest{Events: batch}, nil); err != nil {
			return fmt.Errorf("batch at offset %d: %w", start, err)
		}
	}
	return nil
}

func postJSON(client *http.Client, url string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func compareInsights(client *http.Client, baseURL string, labeled []labeledEvent, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan labeledEvent, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &http.Client{Timeout: 10 * time.Second}

			for le := range work {
				start := time.Now()
				insight, err := fetchInsight(c, baseURL, le.Event.ID)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.FetchTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", le.Event.ID, err)
					}
					continue
				}

				if le.IsAnomaly {
					atomic.AddInt64(&metrics.TotalAnomalies, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNormal, 1)
				}

				predicted := insight.Severity == domain.SeverityHigh
				actual := le.IsAnomaly

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose && predicted != actual {
					fmt.Printf("✗ %-8s | Type: %-18s | Amount: $%12.2f | Anomaly: %-5v | Sev: %-6s | Risk: %.2f\n",
						le.Event.UserID,
						le.Event.EventType,
						le.Event.Amount,
						le.IsAnomaly,
						insight.Severity,
						insight.RiskScore,
					)
				}
			}
		}()
	}

	for _, le := range labeled {
		work <- le
	}
	close(work)

	wg.Wait()

	return metrics
}

func fetchInsight(client *http.Client, baseURL, eventID string) (*domain.ScoredEvent, error) {
	resp, err := client.Get(baseURL + "/insights/" + eventID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var insight domain.ScoredEvent
	if err := json.NewDecoder(resp.Body).Decode(&insight); err != nil {
		return nil, err
	}
	return &insight, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Anomalies:  %d\n", m.TotalAnomalies)
	fmt.Printf("   Total Normal:     %d\n", m.TotalNormal)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    HIGH        OTHER")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  A  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           N  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of high-severity insights, how many were injected)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of injected anomalies, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalAnomalies > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalAnomalies) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalAnomalies) * 100
		fmt.Printf("   Anomalies Detected: %d / %d (%.2f%%)\n", m.TruePositives, m.TotalAnomalies, detectionRate)
		fmt.Printf("   Anomalies Missed:   %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalAnomalies, missRate)
	}
	if m.TotalNormal > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNormal) * 100
		fmt.Printf("   False Alarms:       %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNormal, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.FetchTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f ev/sec\n", tps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most injected anomalies")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some anomalies")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant anomalies being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most anomalies are being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
