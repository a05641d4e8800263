package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConfig contains PostgreSQL connection settings for the audit trail.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          TEXT PRIMARY KEY,
	timestamp   TIMESTAMPTZ NOT NULL,
	actor_email TEXT,
	actor_ip    TEXT,
	action      TEXT NOT NULL,
	resource    TEXT,
	request_id  TEXT,
	user_agent  TEXT,
	request_uri TEXT,
	success     BOOLEAN NOT NULL,
	error       TEXT,
	metadata    JSONB
);
CREATE INDEX IF NOT EXISTS audit_events_timestamp_idx ON audit_events (timestamp DESC);
CREATE INDEX IF NOT EXISTS audit_events_actor_idx ON audit_events (actor_email);`

// PostgresAuditStore implements AuditStore using PostgreSQL.
type PostgresAuditStore struct {
	db *sql.DB
}

// NewPostgresAuditStore wraps an open database handle.
func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

// OpenPostgresAuditStore connects with lib/pq, verifies the connection and
// creates the audit table if needed.
func OpenPostgresAuditStore(ctx context.Context, cfg PostgresConfig) (*PostgresAuditStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := NewPostgresAuditStore(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates the audit table and its indexes.
func (s *PostgresAuditStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *PostgresAuditStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DBStats exposes pool statistics for the metrics updater.
func (s *PostgresAuditStore) DBStats() sql.DBStats {
	return s.db.Stats()
}

// Close closes the database connection.
func (s *PostgresAuditStore) Close() error {
	return s.db.Close()
}

// CreateAuditEvent records a new audit event.
func (s *PostgresAuditStore) CreateAuditEvent(ctx context.Context, event *AuditEvent) error {
	if event.ID == "" {
		event.ID = generateAuditID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var metadata sql.NullString
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO audit_events (
			id, timestamp, actor_email, actor_ip, action, resource,
			request_id, user_agent, request_uri, success, error, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.Timestamp, nullString(event.ActorEmail), nullString(event.ActorIP),
		string(event.Action), nullString(event.Resource),
		nullString(event.RequestID), nullString(event.UserAgent), nullString(event.RequestURI),
		event.Success, nullString(event.Error), metadata,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns audit events matching the filter, newest first.
func (s *PostgresAuditStore) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]*AuditEvent, int64, error) {
	where, args := buildAuditWhere(filter)

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	query := `
		SELECT id, timestamp, actor_email, actor_ip, action, resource,
		       request_id, user_agent, request_uri, success, error, metadata
		FROM audit_events` + where + " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		var event AuditEvent
		var actorEmail, actorIP, resource, requestID, userAgent, requestURI, errMsg, metadata sql.NullString
		if err := rows.Scan(
			&event.ID, &event.Timestamp, &actorEmail, &actorIP, &event.Action, &resource,
			&requestID, &userAgent, &requestURI, &event.Success, &errMsg, &metadata,
		); err != nil {
			return nil, 0, fmt.Errorf("scan audit event: %w", err)
		}

		event.ActorEmail = actorEmail.String
		event.ActorIP = actorIP.String
		event.Resource = resource.String
		event.RequestID = requestID.String
		event.UserAgent = userAgent.String
		event.RequestURI = requestURI.String
		event.Error = errMsg.String
		if metadata.Valid && metadata.String != "" && metadata.String != "null" {
			_ = json.Unmarshal([]byte(metadata.String), &event.Metadata)
		}
		events = append(events, &event)
	}

	return events, total, rows.Err()
}

// GetAuditStats returns aggregated audit statistics.
func (s *PostgresAuditStore) GetAuditStats(ctx context.Context, filter AuditFilter) (*AuditStats, error) {
	where, args := buildAuditWhere(filter)

	stats := &AuditStats{
		ActionCounts: make(map[string]int64),
	}

	basicQuery := `
		SELECT
			COUNT(*) AS total_events,
			COUNT(*) FILTER (WHERE success = true) AS success_count,
			COUNT(*) FILTER (WHERE success = false) AS failure_count,
			COUNT(DISTINCT actor_email) AS unique_actors
		FROM audit_events` + where

	if err := s.db.QueryRowContext(ctx, basicQuery, args...).Scan(
		&stats.TotalEvents, &stats.SuccessCount, &stats.FailureCount, &stats.UniqueActors,
	); err != nil {
		return nil, fmt.Errorf("query basic stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT action, COUNT(*) FROM audit_events"+where+" GROUP BY action", args...)
	if err != nil {
		return nil, fmt.Errorf("query action counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var action string
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("scan action count: %w", err)
		}
		stats.ActionCounts[action] = count
	}
	return stats, rows.Err()
}

// DeleteAuditEvents deletes audit events older than the specified time.
func (s *PostgresAuditStore) DeleteAuditEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete audit events: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return deleted, nil
}

func buildAuditWhere(filter AuditFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if !filter.StartTime.IsZero() {
		add("timestamp >= $%d", filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		add("timestamp <= $%d", filter.EndTime)
	}
	if filter.ActorEmail != nil {
		add("actor_email = $%d", *filter.ActorEmail)
	}
	if filter.Action != nil {
		add("action = $%d", string(*filter.Action))
	}
	if filter.Success != nil {
		add("success = $%d", *filter.Success)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ensure PostgresAuditStore implements AuditStore
var _ AuditStore = (*PostgresAuditStore)(nil)
