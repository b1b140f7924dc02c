package recipient

import (
	"context"
)

// Repository defines the operations for persisting and retrieving Recipient entities.
type Repository interface {
	// Upsert creates the recipient or refreshes an existing registration
	// keyed by Telegram id.
	Upsert(ctx context.Context, r *Recipient) error
	GetByTelegramID(ctx context.Context, telegramID int64) (*Recipient, error)
	Update(ctx context.Context, r *Recipient) error
	ListActive(ctx context.Context) ([]*Recipient, error)
}
