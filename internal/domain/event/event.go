package event

import (
	"database/sql"
	"time"
)

// Event is an occurrence recipients are reminded about.
// Corresponds to the 'events' table.
type Event struct {
	ID          int64
	Title       string
	Description string
	PhotoID     sql.NullString // Telegram file id, optional
	OccursAt    time.Time      // absolute occurrence instant, stored in UTC
	CreatedBy   int64
	CreatedAt   time.Time
}
