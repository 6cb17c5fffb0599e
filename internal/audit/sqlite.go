package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore persists audit entries in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the audit database at path.
// An empty path uses an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS routing_audit (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			confidence REAL NOT NULL,
			latency_ms INTEGER NOT NULL,
			cost_estimate REAL NOT NULL,
			escalation_reason TEXT,
			user_id TEXT,
			cancelled INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_routing_audit_conversation
			ON routing_audit(conversation_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

// Insert stores an entry, assigning id and timestamp when unset.
func (s *SQLiteStore) Insert(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return nil
	}
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routing_audit
			(id, conversation_id, request_id, tier, confidence, latency_ms,
			 cost_estimate, escalation_reason, user_id, cancelled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, entry.ConversationID, entry.RequestID, entry.Tier,
		entry.Confidence, entry.LatencyMS, entry.CostEstimate,
		entry.EscalationReason, entry.UserID, boolToInt(entry.Cancelled), createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, request_id, tier, confidence, latency_ms,
		       cost_estimate, escalation_reason, user_id, cancelled, created_at
		FROM routing_audit ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var reason, userID sql.NullString
		var cancelled int
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.RequestID, &e.Tier,
			&e.Confidence, &e.LatencyMS, &e.CostEstimate,
			&reason, &userID, &cancelled, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EscalationReason = reason.String
		e.UserID = userID.String
		e.Cancelled = cancelled != 0
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
