package recipient

import (
	"database/sql"
	"time"
)

// Recipient is a registered user who receives event reminders.
type Recipient struct {
	ID          int64
	TelegramID  int64 // delivery handle
	PhoneNumber string
	FirstName   string
	LastName    sql.NullString // To handle optional last name
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
