package reminder

import (
	"context"
	"time"
)

// Outcome classifies the terminal state of a single delivery attempt.
type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeSkipped        Outcome = "skipped_duplicate" // ledger already has the record
	OutcomeRetrying       Outcome = "retrying"
	OutcomeFailed         Outcome = "failed" // per-recipient retries exhausted
	OutcomeLedgerConflict Outcome = "ledger_conflict"
	OutcomeCoalesced      Outcome = "coalesced" // stale misfire merged into a newer one
	OutcomeDropped        Outcome = "dropped"   // job retries exhausted at the loop level
)

// Ledger records which (event, recipient, kind) triples have been delivered.
// It is the sole source of truth for "already sent": the store's uniqueness
// constraint, not application locking, prevents double sends when dispatch
// attempts race after a misfire or across instances.
type Ledger interface {
	// TryRecordDelivery inserts a delivery record if absent. It returns false
	// when the record already exists, atomically and race-safe.
	TryRecordDelivery(ctx context.Context, eventID, recipientID int64, kind Kind, sentAt time.Time) (bool, error)
	HasDelivery(ctx context.Context, eventID, recipientID int64, kind Kind) (bool, error)
	// ListDeliveredRecipients returns the recipient ids that already hold a
	// record for the given event and kind.
	ListDeliveredRecipients(ctx context.Context, eventID int64, kind Kind) ([]int64, error)
}

// Observer receives the outcome of every dispatch attempt. Implementations
// must be fire-and-forget: never block and never panic back into the caller.
type Observer interface {
	Record(eventID, recipientID int64, kind Kind, outcome Outcome)
}
