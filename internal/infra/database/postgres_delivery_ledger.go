package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"event_reminder_bot/internal/domain/reminder"
)

// PostgresDeliveryLedger is the durable firing ledger. The
// deliveries_event_recipient_kind_unique constraint makes
// TryRecordDelivery the single race-safe source of truth for "already
// sent": concurrent dispatchers cannot both win the insert.
type PostgresDeliveryLedger struct {
	db *sql.DB
}

func NewPostgresDeliveryLedger(db *sql.DB) *PostgresDeliveryLedger {
	return &PostgresDeliveryLedger{db: db}
}

// TryRecordDelivery inserts a delivery record if absent. Returns false when
// the (event, recipient, kind) triple is already recorded.
func (l *PostgresDeliveryLedger) TryRecordDelivery(ctx context.Context, eventID, recipientID int64, kind reminder.Kind, sentAt time.Time) (bool, error) {
	query := `INSERT INTO deliveries (event_id, recipient_id, kind, sent_at)
               VALUES ($1, $2, $3, $4)
               ON CONFLICT (event_id, recipient_id, kind) DO NOTHING`
	res, err := l.db.ExecContext(ctx, query, eventID, recipientID, kind, sentAt.UTC())
	if err != nil {
		return false, fmt.Errorf("error recording delivery: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error checking delivery insert result: %w", err)
	}
	return affected == 1, nil
}

func (l *PostgresDeliveryLedger) HasDelivery(ctx context.Context, eventID, recipientID int64, kind reminder.Kind) (bool, error) {
	query := `SELECT EXISTS (
                   SELECT 1 FROM deliveries
                   WHERE event_id = $1 AND recipient_id = $2 AND kind = $3
               )`
	var exists bool
	if err := l.db.QueryRowContext(ctx, query, eventID, recipientID, kind).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking delivery record: %w", err)
	}
	return exists, nil
}

func (l *PostgresDeliveryLedger) ListDeliveredRecipients(ctx context.Context, eventID int64, kind reminder.Kind) ([]int64, error) {
	query := `SELECT recipient_id FROM deliveries WHERE event_id = $1 AND kind = $2 ORDER BY recipient_id`
	rows, err := l.db.QueryContext(ctx, query, eventID, kind)
	if err != nil {
		return nil, fmt.Errorf("error querying delivered recipients: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning delivered recipient row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivered recipient rows: %w", err)
	}
	return ids, nil
}
