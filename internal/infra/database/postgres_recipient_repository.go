package database

import (
	"context"
	"database/sql"
	"fmt"

	"event_reminder_bot/internal/domain/recipient"
)

// Custom errors specific to the recipient repository.
var ErrRecipientNotFound = fmt.Errorf("recipient not found")

type PostgresRecipientRepository struct {
	db *sql.DB
}

func NewPostgresRecipientRepository(db *sql.DB) *PostgresRecipientRepository {
	return &PostgresRecipientRepository{db: db}
}

// Upsert creates the recipient or refreshes an existing registration keyed
// by telegram_id, mirroring the original ON CONFLICT registration flow.
func (r *PostgresRecipientRepository) Upsert(ctx context.Context, rec *recipient.Recipient) error {
	query := `INSERT INTO recipients (telegram_id, phone_number, first_name, last_name, is_active)
               VALUES ($1, $2, $3, $4, $5)
               ON CONFLICT (telegram_id) DO UPDATE SET
                   phone_number = EXCLUDED.phone_number,
                   first_name = EXCLUDED.first_name,
                   last_name = EXCLUDED.last_name,
                   is_active = EXCLUDED.is_active,
                   updated_at = NOW()
               RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		rec.TelegramID, rec.PhoneNumber, rec.FirstName, rec.LastName, rec.IsActive,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error upserting recipient: %w", err)
	}
	return nil
}

func (r *PostgresRecipientRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*recipient.Recipient, error) {
	query := `SELECT id, telegram_id, phone_number, first_name, last_name, is_active, created_at, updated_at
               FROM recipients WHERE telegram_id = $1`
	rec := &recipient.Recipient{}
	err := r.db.QueryRowContext(ctx, query, telegramID).Scan(
		&rec.ID, &rec.TelegramID, &rec.PhoneNumber, &rec.FirstName, &rec.LastName,
		&rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("error getting recipient by Telegram ID: %w", err)
	}
	return rec, nil
}

func (r *PostgresRecipientRepository) Update(ctx context.Context, rec *recipient.Recipient) error {
	query := `UPDATE recipients
               SET phone_number = $1, first_name = $2, last_name = $3, is_active = $4, updated_at = NOW()
               WHERE id = $5
               RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query,
		rec.PhoneNumber, rec.FirstName, rec.LastName, rec.IsActive, rec.ID,
	).Scan(&rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrRecipientNotFound
		}
		return fmt.Errorf("error updating recipient: %w", err)
	}
	return nil
}

func (r *PostgresRecipientRepository) ListActive(ctx context.Context) ([]*recipient.Recipient, error) {
	query := `SELECT id, telegram_id, phone_number, first_name, last_name, is_active, created_at, updated_at
               FROM recipients WHERE is_active = TRUE ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying active recipients: %w", err)
	}
	defer rows.Close()

	recipients := make([]*recipient.Recipient, 0)
	for rows.Next() {
		rec := &recipient.Recipient{}
		if err := rows.Scan(
			&rec.ID, &rec.TelegramID, &rec.PhoneNumber, &rec.FirstName, &rec.LastName,
			&rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning recipient row: %w", err)
		}
		recipients = append(recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recipient rows: %w", err)
	}
	return recipients, nil
}
