package repository

// Schema definitions for Sentinel storage.
// Compatible with both SQLite and PostgreSQL.

const schemaEvents = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    timestamp TIMESTAMP NOT NULL,
    user_id TEXT NOT NULL,
    role TEXT NOT NULL,
    event_type TEXT NOT NULL,
    amount REAL NOT NULL,
    country TEXT NOT NULL,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    channel TEXT NOT NULL,
    is_privileged INTEGER NOT NULL DEFAULT 0,
    mfa_success INTEGER NOT NULL DEFAULT 1,
    device_id TEXT,
    ip TEXT,
    -- 0 = awaiting scoring, 1 = scored, -1 = skipped as malformed
    scored INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_unscored ON events(scored, timestamp);
`

const schemaInsights = `
CREATE TABLE IF NOT EXISTS insights (
    event_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    anomaly_proba REAL NOT NULL,
    reasons TEXT NOT NULL,
    risk_score REAL NOT NULL,
    severity TEXT NOT NULL,
    summary TEXT NOT NULL,
    features TEXT NOT NULL,
    scored_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_insights_user ON insights(user_id);
CREATE INDEX IF NOT EXISTS idx_insights_risk ON insights(risk_score);
CREATE INDEX IF NOT EXISTS idx_insights_severity ON insights(severity);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEvents,
		schemaInsights,
	}
}
