package database

import (
	"context"
	"errors"
	"fmt"
)

func (db *PostgresDB) InitSchema(ctx context.Context) error {
	// 1. Research Sessions Table
	sessionsQuery := `
		CREATE TABLE IF NOT EXISTS research_sessions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			title TEXT NOT NULL DEFAULT 'New Research',
			state JSONB,
			block JSONB,
			user_message_id TEXT NOT NULL DEFAULT '',
			delta_cursor INTEGER NOT NULL DEFAULT -1,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, sessionsQuery); err != nil {
		return fmt.Errorf("failed to create research_sessions table: %w", err)
	}

	// 2. Deltas received for each session, in stream order
	deltasQuery := `
		CREATE TABLE IF NOT EXISTS research_deltas (
			session_id UUID NOT NULL REFERENCES research_sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			payload JSONB NOT NULL,
			received_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (session_id, seq)
		);
	`
	if _, err := db.Pool.Exec(ctx, deltasQuery); err != nil {
		return fmt.Errorf("failed to create research_deltas table: %w", err)
	}

	// 3. Research Logs Table
	logsQuery := `
		CREATE TABLE IF NOT EXISTS research_logs (
			id SERIAL PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES research_sessions(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create research_logs table: %w", err)
	}

	// Indexes for faster querying
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_logs_session_id ON research_logs(session_id)"); err != nil {
		return fmt.Errorf("failed to create index on research_logs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_sessions_updated_at ON research_sessions(updated_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on research_sessions: %w", err)
	}

	return nil
}

// ErrUserTableMissing is returned by MigrateUsername when the auth provider has
// not created its user table yet.
var ErrUserTableMissing = errors.New(`"User" table not found`)

// UsernameMigration reports what MigrateUsername found and did
type UsernameMigration struct {
	ColumnExisted bool  `json:"column_existed"`
	ColumnPresent bool  `json:"column_present"`
	Backfilled    int64 `json:"backfilled"`
}

// MigrateUsername adds the username column to the auth provider's "User" table
// and fills missing usernames with the local part of the email address.
func (db *PostgresDB) MigrateUsername(ctx context.Context) (*UsernameMigration, error) {
	var tableExists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = 'User'
		)
	`).Scan(&tableExists)
	if err != nil {
		return nil, fmt.Errorf("failed to check for User table: %w", err)
	}
	if !tableExists {
		return nil, ErrUserTableMissing
	}

	report := &UsernameMigration{}
	if report.ColumnExisted, err = db.hasUsernameColumn(ctx); err != nil {
		return nil, err
	}

	if _, err := db.Pool.Exec(ctx, `ALTER TABLE "User" ADD COLUMN IF NOT EXISTS "username" VARCHAR(64)`); err != nil {
		return nil, fmt.Errorf("failed to add username column: %w", err)
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE "User"
		SET "username" = SPLIT_PART(email, '@', 1)
		WHERE "username" IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to backfill usernames: %w", err)
	}
	report.Backfilled = tag.RowsAffected()

	if report.ColumnPresent, err = db.hasUsernameColumn(ctx); err != nil {
		return nil, err
	}
	return report, nil
}

func (db *PostgresDB) hasUsernameColumn(ctx context.Context) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'User' AND column_name = 'username'
		)
	`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username column: %w", err)
	}
	return exists, nil
}
