package event

import (
	"context"
	"time"
)

// Repository defines the operations for persisting and retrieving Event entities.
type Repository interface {
	Create(ctx context.Context, ev *Event) error
	GetByID(ctx context.Context, id int64) (*Event, error)
	Delete(ctx context.Context, id int64) error
	// ListUpcoming returns events whose occurrence instant is at or after the
	// given instant, ordered by occurrence. Callers pass an instant in the
	// past to include events still inside the catch-up window.
	ListUpcoming(ctx context.Context, afterOrIncluding time.Time) ([]*Event, error)
}
