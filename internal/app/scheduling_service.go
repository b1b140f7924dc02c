package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"event_reminder_bot/internal/domain/event"
	"event_reminder_bot/internal/domain/recipient"
	"event_reminder_bot/internal/domain/reminder"
	"event_reminder_bot/internal/infra/scheduler"
)

// SchedulingConfig holds the orchestrator's knobs.
type SchedulingConfig struct {
	Offsets      []reminder.Offset
	MisfireGrace time.Duration
}

// SchedulingService is the public entry point of the reminder engine. It
// turns event writes into armed jobs and re-derives the whole job set on
// startup; jobs are never persisted because plan + ledger reconstruct them.
type SchedulingService struct {
	cfg        SchedulingConfig
	events     event.Repository
	recipients recipient.Repository
	ledger     reminder.Ledger
	jobs       *scheduler.JobStore
	clock      scheduler.Clock
	logger     *logrus.Entry
}

func NewSchedulingService(
	cfg SchedulingConfig,
	events event.Repository,
	recipients recipient.Repository,
	ledger reminder.Ledger,
	jobs *scheduler.JobStore,
	logger *logrus.Entry,
) (*SchedulingService, error) {
	if err := reminder.ValidateOffsets(cfg.Offsets); err != nil {
		return nil, fmt.Errorf("invalid offset configuration: %w", err)
	}
	return &SchedulingService{
		cfg:        cfg,
		events:     events,
		recipients: recipients,
		ledger:     ledger,
		jobs:       jobs,
		clock:      scheduler.SystemClock,
		logger:     logger,
	}, nil
}

// WithClock overrides the time source.
func (s *SchedulingService) WithClock(clock scheduler.Clock) *SchedulingService {
	s.clock = clock
	return s
}

// OnEventCreatedOrUpdated invalidates any jobs armed for a previous
// occurrence instant of this event and arms a fresh plan. Re-arming an
// unchanged event is idempotent: job keys are deterministic and Upsert
// replaces by key. Kinds whose ledger records already cover the whole active
// roster are skipped, and stale kinds superseded by a later stale kind are
// coalesced away at derivation time. The job store holds no durable record
// of coalescing, so the same rule must apply on every re-derivation or a
// reconcile pass would resurrect the reminders a previous tick dropped.
func (s *SchedulingService) OnEventCreatedOrUpdated(ctx context.Context, ev *event.Event) error {
	s.jobs.CancelEvent(ev.ID)

	plan, err := reminder.ComputePlan(ev.OccursAt, s.cfg.Offsets)
	if err != nil {
		return fmt.Errorf("compute reminder plan for event %d: %w", ev.ID, err)
	}

	roster, err := s.recipients.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list recipients for event %d: %w", ev.ID, err)
	}

	now := s.clock()
	latestStale := latestStaleKind(plan, now, s.cfg.MisfireGrace)

	armed := 0
	for _, planned := range plan {
		if isStale(planned, now, s.cfg.MisfireGrace) && planned.Kind != latestStale {
			s.logger.WithFields(logrus.Fields{
				"event_id": ev.ID,
				"kind":     planned.Kind,
				"fire_at":  planned.FireAt.Format(time.RFC3339),
			}).Info("Skipping stale reminder superseded by a later one")
			continue
		}
		covered, err := s.kindFullyCovered(ctx, ev.ID, planned.Kind, roster)
		if err != nil {
			return fmt.Errorf("check ledger coverage for event %d kind %s: %w", ev.ID, planned.Kind, err)
		}
		if covered {
			s.logger.WithFields(logrus.Fields{
				"event_id": ev.ID,
				"kind":     planned.Kind,
			}).Debug("Reminder already fully delivered, not re-arming")
			continue
		}
		s.jobs.Upsert(scheduler.Job{
			Key:      scheduler.JobKey(ev.ID, planned.Kind),
			EventID:  ev.ID,
			Kind:     planned.Kind,
			Template: planned.Template,
			DueAt:    planned.FireAt,
			Grace:    planned.Grace,
		})
		armed++
	}

	s.logger.WithFields(logrus.Fields{
		"event_id":  ev.ID,
		"occurs_at": ev.OccursAt.UTC().Format(time.RFC3339),
		"armed":     armed,
	}).Info("Reminder jobs armed")
	return nil
}

// OnEventDeleted cancels all pending jobs for the event. Delivery records are
// historical and stay untouched.
func (s *SchedulingService) OnEventDeleted(eventID int64) {
	removed := s.jobs.CancelEvent(eventID)
	s.logger.WithFields(logrus.Fields{
		"event_id": eventID,
		"removed":  removed,
	}).Info("Reminder jobs cancelled for deleted event")
}

// OnStartup is the sole recovery mechanism after a restart: every event still
// inside the catch-up window is re-armed. Past-due kinds fire on the first
// tick unless the ledger shows them delivered.
func (s *SchedulingService) OnStartup(ctx context.Context) error {
	return s.Reconcile(ctx)
}

// Reconcile re-derives jobs for every event whose reminders can still be
// relevant. Run at startup and periodically to heal drift.
func (s *SchedulingService) Reconcile(ctx context.Context) error {
	horizon := s.clock().Add(-(s.cfg.MisfireGrace + maxAfterOffset(s.cfg.Offsets)))

	events, err := s.events.ListUpcoming(ctx, horizon)
	if err != nil {
		return fmt.Errorf("list events for reconciliation: %w", err)
	}

	for _, ev := range events {
		if err := s.OnEventCreatedOrUpdated(ctx, ev); err != nil {
			// One broken event must not keep the rest unarmed.
			s.logger.WithError(err).WithField("event_id", ev.ID).Error("Failed to re-arm event")
		}
	}

	s.logger.WithField("events", len(events)).Info("Reconciliation pass complete")
	return nil
}

// kindFullyCovered reports whether every active recipient already holds a
// delivery record for (eventID, kind). An empty roster is never considered
// covered: recipients registering later still need the job armed.
func (s *SchedulingService) kindFullyCovered(ctx context.Context, eventID int64, kind reminder.Kind, roster []*recipient.Recipient) (bool, error) {
	if len(roster) == 0 {
		return false, nil
	}
	deliveredIDs, err := s.ledger.ListDeliveredRecipients(ctx, eventID, kind)
	if err != nil {
		return false, err
	}
	delivered := make(map[int64]struct{}, len(deliveredIDs))
	for _, id := range deliveredIDs {
		delivered[id] = struct{}{}
	}
	for _, r := range roster {
		if _, ok := delivered[r.ID]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// isStale reports whether the planned instant is past its misfire window.
// Mirrors the scheduler loop's coalescing staleness check.
func isStale(p reminder.PlannedReminder, now time.Time, defaultGrace time.Duration) bool {
	grace := defaultGrace
	if p.Grace > 0 {
		grace = p.Grace
	}
	return now.Sub(p.FireAt) > grace
}

// latestStaleKind returns the stale plan entry with the most recent fire
// instant, or "" when nothing is stale. Earlier stale kinds are superseded
// by it regardless of delivery state: once a later reminder's window has
// passed, sending an earlier one would only mislead.
func latestStaleKind(plan reminder.Plan, now time.Time, defaultGrace time.Duration) reminder.Kind {
	var (
		latest reminder.Kind
		fireAt time.Time
	)
	for _, p := range plan {
		if !isStale(p, now, defaultGrace) {
			continue
		}
		if latest == "" || p.FireAt.After(fireAt) {
			latest = p.Kind
			fireAt = p.FireAt
		}
	}
	return latest
}

// maxAfterOffset returns how far past the occurrence instant the latest
// reminder fires (zero when all offsets are before the event).
func maxAfterOffset(offsets []reminder.Offset) time.Duration {
	var max time.Duration
	for _, o := range offsets {
		if o.Before < 0 && -o.Before > max {
			max = -o.Before
		}
	}
	return max
}
