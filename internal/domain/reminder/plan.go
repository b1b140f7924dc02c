package reminder

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoOffsets is returned when the configured offset list is empty.
// This is a configuration error and must be fatal at startup.
var ErrNoOffsets = errors.New("reminder offset list is empty")

// Kind identifies a specific reminder offset relative to an event's
// occurrence instant (e.g. "T-24h" fires one day before).
type Kind string

// KindInitial marks the announcement sent when an event is created or when a
// freshly registered recipient is caught up with existing events. It is never
// scheduled; it exists so the ledger can deduplicate announcements too.
const KindInitial Kind = "initial"

// Offset relates a reminder to the occurrence instant. A positive Before
// means the reminder fires before the event; a negative Before fires after.
// Grace optionally narrows the misfire window for this kind alone; zero
// defers to the engine-wide window. A "started 15 minutes ago" reminder
// firing hours late is noise, so such kinds typically carry a tight grace.
type Offset struct {
	Before   time.Duration
	Kind     Kind
	Template string
	Grace    time.Duration
}

// PlannedReminder is a single computed reminder instant.
type PlannedReminder struct {
	FireAt   time.Time
	Kind     Kind
	Template string
	Grace    time.Duration
}

// Plan is the ordered sequence of reminder instants for one event.
type Plan []PlannedReminder

// DefaultOffsets mirrors the reminder ladder the bot has always used.
func DefaultOffsets() []Offset {
	return []Offset{
		{Before: 24 * time.Hour, Kind: "T-24h", Template: "Event starts in 1 day"},
		{Before: 6 * time.Hour, Kind: "T-6h", Template: "Event starts in 6 hours"},
		{Before: time.Hour, Kind: "T-1h", Template: "Event starts in 1 hour"},
		{Before: 15 * time.Minute, Kind: "T-15m", Template: "Event starts in 15 minutes"},
		{Before: -15 * time.Minute, Kind: "T+15m", Template: "Event started 15 minutes ago"},
	}
}

// ValidateOffsets checks an offset list for configuration mistakes.
func ValidateOffsets(offsets []Offset) error {
	if len(offsets) == 0 {
		return ErrNoOffsets
	}
	seen := make(map[Kind]struct{}, len(offsets))
	for i, o := range offsets {
		if o.Kind == "" {
			return fmt.Errorf("offset %d: kind tag is empty", i)
		}
		if o.Kind == KindInitial {
			return fmt.Errorf("offset %d: kind %q is reserved", i, KindInitial)
		}
		if _, dup := seen[o.Kind]; dup {
			return fmt.Errorf("offset %d: duplicate kind tag %q", i, o.Kind)
		}
		seen[o.Kind] = struct{}{}
	}
	return nil
}

// ComputePlan derives the reminder instants for an event occurring at
// occursAt. It is pure and deterministic: the same inputs always produce the
// same plan, so plans are re-derivable from event data after a restart and
// never need to be persisted. Instants already in the past are still emitted;
// catch-up logic downstream decides whether they fire immediately or are
// skipped against the ledger.
func ComputePlan(occursAt time.Time, offsets []Offset) (Plan, error) {
	if err := ValidateOffsets(offsets); err != nil {
		return nil, err
	}
	occursAt = occursAt.UTC()
	plan := make(Plan, 0, len(offsets))
	for _, o := range offsets {
		plan = append(plan, PlannedReminder{
			FireAt:   occursAt.Add(-o.Before),
			Kind:     o.Kind,
			Template: o.Template,
			Grace:    o.Grace,
		})
	}
	return plan, nil
}
