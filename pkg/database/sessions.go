package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SessionRecord is a persisted research session
type SessionRecord struct {
	ID            uuid.UUID       `json:"id"`
	Title         string          `json:"title"`
	State         json.RawMessage `json:"state,omitempty"`
	Block         json.RawMessage `json:"block,omitempty"`
	UserMessageID string          `json:"user_message_id"`
	DeltaCursor   int             `json:"delta_cursor"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LogRecord is one row of research_logs
type LogRecord struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (db *PostgresDB) CreateSession(ctx context.Context, id uuid.UUID, title string) (*SessionRecord, error) {
	query := `
		INSERT INTO research_sessions (id, title)
		VALUES ($1, $2)
		RETURNING id, title, user_message_id, delta_cursor, created_at, updated_at
	`
	rec := &SessionRecord{}
	err := db.Pool.QueryRow(ctx, query, id, title).Scan(
		&rec.ID, &rec.Title, &rec.UserMessageID, &rec.DeltaCursor, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return rec, nil
}

func (db *PostgresDB) GetSession(ctx context.Context, id uuid.UUID) (*SessionRecord, error) {
	query := `
		SELECT id, title, state, block, user_message_id, delta_cursor, created_at, updated_at
		FROM research_sessions
		WHERE id = $1
	`
	rec := &SessionRecord{}
	err := db.Pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Title, &rec.State, &rec.Block, &rec.UserMessageID, &rec.DeltaCursor, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return rec, nil
}

func (db *PostgresDB) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	query := `
		SELECT id, title, user_message_id, delta_cursor, created_at, updated_at
		FROM research_sessions
		ORDER BY updated_at DESC
		LIMIT $1
	`
	rows, err := db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.UserMessageID, &rec.DeltaCursor, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

// SaveSessionState stores the latest snapshot of a session
func (db *PostgresDB) SaveSessionState(ctx context.Context, id uuid.UUID, state, block json.RawMessage, userMessageID string, cursor int) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE research_sessions
		SET state = $2, block = $3, user_message_id = $4, delta_cursor = $5, updated_at = NOW()
		WHERE id = $1
	`, id, state, block, userMessageID, cursor)
	if err != nil {
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}

const insertDeltaQuery = `
	INSERT INTO research_deltas (session_id, seq, payload)
	VALUES ($1, $2, $3)
	ON CONFLICT (session_id, seq) DO NOTHING
`

// deltaBatch queues one insert per delta, numbered from start
func deltaBatch(sessionID uuid.UUID, start int, deltas []json.RawMessage) *pgx.Batch {
	batch := &pgx.Batch{}
	for i, d := range deltas {
		batch.Queue(insertDeltaQuery, sessionID, start+i, []byte(d))
	}
	return batch
}

// AppendDeltas stores deltas received for a session. start is the sequence
// number of the first one.
func (db *PostgresDB) AppendDeltas(ctx context.Context, sessionID uuid.UUID, start int, deltas []json.RawMessage) error {
	if len(deltas) == 0 {
		return nil
	}

	br := db.Pool.SendBatch(ctx, deltaBatch(sessionID, start, deltas))
	defer br.Close()

	for range deltas {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert delta: %w", err)
		}
	}
	return nil
}

// LoadDeltas returns a session's deltas in stream order
func (db *PostgresDB) LoadDeltas(ctx context.Context, sessionID uuid.UUID) ([]json.RawMessage, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT payload FROM research_deltas
		WHERE session_id = $1
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load deltas: %w", err)
	}
	defer rows.Close()

	var deltas []json.RawMessage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan delta: %w", err)
		}
		deltas = append(deltas, json.RawMessage(payload))
	}
	return deltas, rows.Err()
}

func (db *PostgresDB) InsertLog(ctx context.Context, sessionID uuid.UUID, ts time.Time, level, message string, metadata json.RawMessage) error {
	query := `
		INSERT INTO research_logs (session_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := db.Pool.Exec(ctx, query, sessionID, ts, level, message, metadata)
	return err
}

func (db *PostgresDB) GetSessionLogs(ctx context.Context, sessionID uuid.UUID) ([]LogRecord, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE session_id = $1
		ORDER BY id ASC
	`
	rows, err := db.Pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	return collectLogs(rows)
}

// collectLogs closes rows and fails on the first scan or iteration error
func collectLogs(rows pgx.Rows) ([]LogRecord, error) {
	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LogRecord, error) {
		var l LogRecord
		err := row.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	return logs, nil
}
