// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const eventColumns = `id, timestamp, user_id, role, event_type, amount, country,
	   lat, lon, channel, is_privileged, mfa_success, device_id, ip`

// SaveEvents stores a batch of raw events in one transaction. Re-ingesting
// an existing event ID is a no-op rather than an error.
func (r *SQLRepository) SaveEvents(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO events (
			id, timestamp, user_id, role, event_type, amount, country,
			lat, lon, channel, is_privileged, mfa_success, device_id, ip,
			scored, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO NOTHING
	`

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range events {
		if e.ID == "" {
			return fmt.Errorf("%w: event ID is required", ErrInvalidInput)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Timestamp.UTC(), e.UserID, e.Role, string(e.EventType),
			e.Amount, e.Country, e.Lat, e.Lon, string(e.Channel),
			e.IsPrivileged, e.MFASuccess, e.DeviceID, e.IP, now,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetEvent retrieves one event by ID.
func (r *SQLRepository) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event ID is required", ErrInvalidInput)
	}

	query := `SELECT ` + eventColumns + ` FROM events WHERE id = ?`

	e, err := scanEvent(r.db.QueryRowContext(ctx, r.rebind(query), eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// ListEvents returns events at or after since, oldest first.
func (r *SQLRepository) ListEvents(ctx context.Context, since time.Time, limit int) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE timestamp >= ?
		ORDER BY timestamp ASC
		LIMIT ?
	`
	return r.queryEvents(ctx, r.rebind(query), since.UTC(), normalizeLimit(limit))
}

// ListUnscored returns ingested events awaiting scoring, oldest first.
func (r *SQLRepository) ListUnscored(ctx context.Context, limit int) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE scored = 0
		ORDER BY timestamp ASC
		LIMIT ?
	`
	return r.queryEvents(ctx, r.rebind(query), normalizeLimit(limit))
}

// MarkSkipped removes malformed events from the unscored queue without
// producing an insight. The rows keep their data and stay readable via
// GetEvent/ListEvents; they just stop blocking ListUnscored.
func (r *SQLRepository) MarkSkipped(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.rebind(`UPDATE events SET scored = -1 WHERE id = ?`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range eventIDs {
		if id == "" {
			return fmt.Errorf("%w: event ID is required", ErrInvalidInput)
		}
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *SQLRepository) queryEvents(ctx context.Context, query string, args ...any) ([]*domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var e domain.Event
	var eventType, channel string
	var deviceID, ip sql.NullString

	err := row.Scan(
		&e.ID, &e.Timestamp, &e.UserID, &e.Role, &eventType,
		&e.Amount, &e.Country, &e.Lat, &e.Lon, &channel,
		&e.IsPrivileged, &e.MFASuccess, &deviceID, &ip,
	)
	if err != nil {
		return nil, err
	}

	e.EventType = domain.EventType(eventType)
	e.Channel = domain.Channel(channel)
	e.DeviceID = deviceID.String
	e.IP = ip.String
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

// SaveInsights stores scored insights and marks the underlying events as
// scored, in one transaction. Re-scoring an event overwrites its insight.
func (r *SQLRepository) SaveInsights(ctx context.Context, insights []*domain.ScoredEvent) error {
	if len(insights) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insertQuery := `
		INSERT INTO insights (
			event_id, user_id, anomaly_proba, reasons, risk_score,
			severity, summary, features, scored_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			anomaly_proba = excluded.anomaly_proba,
			reasons = excluded.reasons,
			risk_score = excluded.risk_score,
			severity = excluded.severity,
			summary = excluded.summary,
			features = excluded.features,
			scored_at = excluded.scored_at
	`
	insertStmt, err := tx.PrepareContext(ctx, r.rebind(insertQuery))
	if err != nil {
		return err
	}
	defer insertStmt.Close()

	markStmt, err := tx.PrepareContext(ctx, r.rebind(`UPDATE events SET scored = 1 WHERE id = ?`))
	if err != nil {
		return err
	}
	defer markStmt.Close()

	for _, s := range insights {
		if s.Event.ID == "" {
			return fmt.Errorf("%w: insight event ID is required", ErrInvalidInput)
		}
		features, err := json.Marshal(s.Features)
		if err != nil {
			return err
		}
		if _, err := insertStmt.ExecContext(ctx,
			s.Event.ID, s.Event.UserID, s.AnomalyProb,
			strings.Join(s.Reasons, "|"), s.RiskScore,
			string(s.Severity), s.Summary, string(features), s.ScoredAt.UTC(),
		); err != nil {
			return err
		}
		if _, err := markStmt.ExecContext(ctx, s.Event.ID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const insightJoin = `
	SELECT e.id, e.timestamp, e.user_id, e.role, e.event_type, e.amount,
		   e.country, e.lat, e.lon, e.channel, e.is_privileged,
		   e.mfa_success, e.device_id, e.ip,
		   i.anomaly_proba, i.reasons, i.risk_score, i.severity,
		   i.summary, i.features, i.scored_at
	FROM insights i
	JOIN events e ON e.id = i.event_id
`

// GetInsight retrieves one scored insight by event ID.
func (r *SQLRepository) GetInsight(ctx context.Context, eventID string) (*domain.ScoredEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event ID is required", ErrInvalidInput)
	}

	query := insightJoin + ` WHERE i.event_id = ?`
	s, err := scanInsight(r.db.QueryRowContext(ctx, r.rebind(query), eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// TopInsights returns insights ordered by risk score descending.
func (r *SQLRepository) TopInsights(ctx context.Context, limit int) ([]*domain.ScoredEvent, error) {
	query := insightJoin + `
		ORDER BY i.risk_score DESC, e.timestamp DESC
		LIMIT ?
	`
	return r.queryInsights(ctx, r.rebind(query), normalizeLimit(limit))
}

// InsightsByUser returns one user's insights, riskiest first.
func (r *SQLRepository) InsightsByUser(ctx context.Context, userID string, limit int) ([]*domain.ScoredEvent, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", ErrInvalidInput)
	}

	query := insightJoin + `
		WHERE i.user_id = ?
		ORDER BY i.risk_score DESC, e.timestamp DESC
		LIMIT ?
	`
	return r.queryInsights(ctx, r.rebind(query), userID, normalizeLimit(limit))
}

func (r *SQLRepository) queryInsights(ctx context.Context, query string, args ...any) ([]*domain.ScoredEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var insights []*domain.ScoredEvent
	for rows.Next() {
		s, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, s)
	}
	return insights, rows.Err()
}

func scanInsight(row rowScanner) (*domain.ScoredEvent, error) {
	var s domain.ScoredEvent
	var eventType, channel, severity, reasons, features string
	var deviceID, ip sql.NullString

	err := row.Scan(
		&s.Event.ID, &s.Event.Timestamp, &s.Event.UserID, &s.Event.Role,
		&eventType, &s.Event.Amount, &s.Event.Country,
		&s.Event.Lat, &s.Event.Lon, &channel,
		&s.Event.IsPrivileged, &s.Event.MFASuccess, &deviceID, &ip,
		&s.AnomalyProb, &reasons, &s.RiskScore, &severity,
		&s.Summary, &features, &s.ScoredAt,
	)
	if err != nil {
		return nil, err
	}

	s.Event.EventType = domain.EventType(eventType)
	s.Event.Channel = domain.Channel(channel)
	s.Event.DeviceID = deviceID.String
	s.Event.IP = ip.String
	s.Event.Timestamp = s.Event.Timestamp.UTC()
	s.Severity = domain.Severity(severity)
	s.ScoredAt = s.ScoredAt.UTC()
	if reasons != "" {
		s.Reasons = strings.Split(reasons, "|")
	}
	if err := json.Unmarshal([]byte(features), &s.Features); err != nil {
		return nil, fmt.Errorf("failed to parse stored features for %s: %w", s.Event.ID, err)
	}
	return &s, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
