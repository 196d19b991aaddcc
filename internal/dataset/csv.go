// Package dataset reads event batches from CSV and writes scored
// insights back out, matching the flat file layout the pipeline CLI
// exchanges with analysts.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// eventHeader is the required input column set, in canonical order.
var eventHeader = []string{
	"timestamp", "user_id", "role", "event_type", "amount", "country",
	"lat", "lon", "channel", "is_privileged", "mfa_success", "device_id", "ip",
}

// ReadEvents parses an event CSV. The header may order columns freely but
// must include every canonical column; rows with unparseable values are
// malformed, surfaced per the usual batch policy at the caller.
func ReadEvents(r io.Reader) ([]*domain.Event, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, want := range eventHeader {
		if _, ok := idx[want]; !ok {
			return nil, fmt.Errorf("read csv: missing column %q", want)
		}
	}

	var events []*domain.Event
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", row, err)
		}
		e, err := parseEvent(rec, idx, row)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// ReadEventsFile is ReadEvents over a file path.
func ReadEventsFile(path string) ([]*domain.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()
	events, err := ReadEvents(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return events, nil
}

func parseEvent(rec []string, idx map[string]int, row int) (*domain.Event, error) {
	get := func(col string) string { return strings.TrimSpace(rec[idx[col]]) }

	ts, err := parseTimestamp(get("timestamp"))
	if err != nil {
		return nil, fmt.Errorf("csv row %d: timestamp: %w", row, err)
	}
	amount, err := parseFloat(get("amount"))
	if err != nil {
		return nil, fmt.Errorf("csv row %d: amount: %w", row, err)
	}
	lat, err := parseFloat(get("lat"))
	if err != nil {
		return nil, fmt.Errorf("csv row %d: lat: %w", row, err)
	}
	lon, err := parseFloat(get("lon"))
	if err != nil {
		return nil, fmt.Errorf("csv row %d: lon: %w", row, err)
	}
	isPriv, err := parseBit(get("is_privileged"))
	if err != nil {
		return nil, fmt.Errorf("csv row %d: is_privileged: %w", row, err)
	}
	mfa, err := parseBit(get("mfa_success"))
	if err != nil {
		return nil, fmt.Errorf("csv row %d: mfa_success: %w", row, err)
	}

	return &domain.Event{
		ID:           fmt.Sprintf("row-%d", row),
		Timestamp:    ts,
		UserID:       get("user_id"),
		Role:         get("role"),
		EventType:    domain.EventType(get("event_type")),
		Amount:       amount,
		Country:      get("country"),
		Lat:          lat,
		Lon:          lon,
		Channel:      domain.Channel(get("channel")),
		IsPrivileged: isPriv,
		MFASuccess:   mfa,
		DeviceID:     get("device_id"),
		IP:           get("ip"),
	}, nil
}

// parseTimestamp accepts RFC 3339 or the space-separated variant.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseBit(s string) (int, error) {
	switch s {
	case "", "0":
		return 0, nil
	case "1":
		return 1, nil
	default:
		return 0, fmt.Errorf("want 0 or 1, got %q", s)
	}
}

// WriteEvents writes an event batch in the canonical column order.
func WriteEvents(w io.Writer, events []*domain.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(eventHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range events {
		rec := []string{
			e.Timestamp.UTC().Format(time.RFC3339),
			e.UserID,
			e.Role,
			string(e.EventType),
			strconv.FormatFloat(e.Amount, 'f', 2, 64),
			e.Country,
			strconv.FormatFloat(e.Lat, 'f', 4, 64),
			strconv.FormatFloat(e.Lon, 'f', 4, 64),
			string(e.Channel),
			strconv.Itoa(e.IsPrivileged),
			strconv.Itoa(e.MFASuccess),
			e.DeviceID,
			e.IP,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEventsFile is WriteEvents to a file path.
func WriteEventsFile(path string, events []*domain.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create events file: %w", err)
	}
	defer f.Close()
	if err := WriteEvents(f, events); err != nil {
		return err
	}
	return f.Close()
}

var insightHeader = []string{
	"timestamp", "user_id", "event_type", "country", "amount",
	"anomaly_proba", "reasons", "risk_score", "sev", "summary",
}

// WriteInsights writes scored events sorted by risk descending, keeping
// at most limit rows. limit <= 0 means no cap.
func WriteInsights(w io.Writer, scored []*domain.ScoredEvent, limit int) error {
	ordered := make([]*domain.ScoredEvent, len(scored))
	copy(ordered, scored)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].RiskScore > ordered[j].RiskScore
	})
	if limit > 0 && limit < len(ordered) {
		ordered = ordered[:limit]
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(insightHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, s := range ordered {
		rec := []string{
			s.Event.Timestamp.UTC().Format(time.RFC3339),
			s.Event.UserID,
			string(s.Event.EventType),
			s.Event.Country,
			strconv.FormatFloat(s.Event.Amount, 'f', 2, 64),
			strconv.FormatFloat(s.AnomalyProb, 'f', 6, 64),
			strings.Join(s.Reasons, "|"),
			strconv.FormatFloat(s.RiskScore, 'f', 6, 64),
			string(s.Severity),
			s.Summary,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteInsightsFile is WriteInsights to a file path.
func WriteInsightsFile(path string, scored []*domain.ScoredEvent, limit int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create insights file: %w", err)
	}
	defer f.Close()
	if err := WriteInsights(f, scored, limit); err != nil {
		return err
	}
	return f.Close()
}
