package domain

import (
	"context"
	"time"
)

// Repository defines the interface for event and insight persistence.
// Raw events and scored insights are stored separately so that "ingested
// but not yet scored" is an explicit, queryable state.
type Repository interface {
	// Event operations
	SaveEvents(ctx context.Context, events []*Event) error
	GetEvent(ctx context.Context, eventID string) (*Event, error)
	ListEvents(ctx context.Context, since time.Time, limit int) ([]*Event, error)

	// ListUnscored returns events that have been ingested but not yet
	// scored, in timestamp order.
	ListUnscored(ctx context.Context, limit int) ([]*Event, error)

	// MarkSkipped takes events out of the unscored queue without an
	// insight. Rows that fail feature validation must not sit at the head
	// of the queue forever; they stay stored and inspectable but are no
	// longer returned by ListUnscored.
	MarkSkipped(ctx context.Context, eventIDs []string) error

	// Insight operations. SaveInsights also marks the underlying events
	// as scored.
	SaveInsights(ctx context.Context, insights []*ScoredEvent) error
	GetInsight(ctx context.Context, eventID string) (*ScoredEvent, error)
	TopInsights(ctx context.Context, limit int) ([]*ScoredEvent, error)
	InsightsByUser(ctx context.Context, userID string, limit int) ([]*ScoredEvent, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
