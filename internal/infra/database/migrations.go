package database

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order at startup. Idempotent by construction.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS recipients (
		id BIGSERIAL PRIMARY KEY,
		telegram_id BIGINT NOT NULL UNIQUE,
		phone_number VARCHAR(20) NOT NULL,
		first_name VARCHAR(100) NOT NULL,
		last_name VARCHAR(100),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		title VARCHAR(200) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		photo_id VARCHAR(200),
		occurs_at TIMESTAMPTZ NOT NULL,
		created_by BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS events_occurs_at_idx ON events (occurs_at)`,
	// The uniqueness constraint is the engine's at-most-once guarantee; it
	// must live in the store, not in application locking. event_id carries no
	// foreign key on purpose: delivery history outlives deleted events.
	`CREATE TABLE IF NOT EXISTS deliveries (
		id BIGSERIAL PRIMARY KEY,
		event_id BIGINT NOT NULL,
		recipient_id BIGINT NOT NULL REFERENCES recipients(id),
		kind VARCHAR(32) NOT NULL,
		sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT deliveries_event_recipient_kind_unique UNIQUE (event_id, recipient_id, kind)
	)`,
}

// RunMigrations creates the schema if it does not exist yet.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
