package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"event_reminder_bot/internal/domain/event"
)

// Custom errors specific to the event repository.
var ErrEventNotFound = fmt.Errorf("event not found")

type PostgresEventRepository struct {
	db *sql.DB
}

func NewPostgresEventRepository(db *sql.DB) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

func (r *PostgresEventRepository) Create(ctx context.Context, ev *event.Event) error {
	query := `INSERT INTO events (title, description, photo_id, occurs_at, created_by)
               VALUES ($1, $2, $3, $4, $5)
               RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		ev.Title, ev.Description, ev.PhotoID, ev.OccursAt.UTC(), ev.CreatedBy,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating event: %w", err)
	}
	return nil
}

func (r *PostgresEventRepository) GetByID(ctx context.Context, id int64) (*event.Event, error) {
	query := `SELECT id, title, description, photo_id, occurs_at, created_by, created_at
               FROM events WHERE id = $1`
	ev := &event.Event{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&ev.ID, &ev.Title, &ev.Description, &ev.PhotoID, &ev.OccursAt, &ev.CreatedBy, &ev.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("error getting event by ID: %w", err)
	}
	ev.OccursAt = ev.OccursAt.UTC()
	return ev, nil
}

func (r *PostgresEventRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *PostgresEventRepository) ListUpcoming(ctx context.Context, afterOrIncluding time.Time) ([]*event.Event, error) {
	query := `SELECT id, title, description, photo_id, occurs_at, created_by, created_at
               FROM events WHERE occurs_at >= $1 ORDER BY occurs_at`
	rows, err := r.db.QueryContext(ctx, query, afterOrIncluding.UTC())
	if err != nil {
		return nil, fmt.Errorf("error querying upcoming events: %w", err)
	}
	defer rows.Close()

	events := make([]*event.Event, 0)
	for rows.Next() {
		ev := &event.Event{}
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Description, &ev.PhotoID, &ev.OccursAt, &ev.CreatedBy, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning event row: %w", err)
		}
		ev.OccursAt = ev.OccursAt.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}
