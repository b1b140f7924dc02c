package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"event_reminder_bot/internal/domain/event"
	"event_reminder_bot/internal/domain/recipient"
	"event_reminder_bot/internal/domain/reminder"
	domainTelegram "event_reminder_bot/internal/domain/telegram"
	"event_reminder_bot/internal/infra/scheduler"
)

// Custom application-level errors for event management.
var (
	ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")
	ErrOccurrenceInPast   = fmt.Errorf("event occurrence instant is in the past")
)

// EventService owns the ordinary CRUD glue around events: create, list,
// delete, plus the creation announcement broadcast. Scheduling itself is
// delegated to the SchedulingService.
type EventService struct {
	events          event.Repository
	recipients      recipient.Repository
	ledger          reminder.Ledger
	scheduling      *SchedulingService
	client          domainTelegram.Client
	adminTelegramID int64
	notifyTimeout   time.Duration
	displayLoc      *time.Location
	clock           scheduler.Clock
	logger          *logrus.Entry
}

func NewEventService(
	events event.Repository,
	recipients recipient.Repository,
	ledger reminder.Ledger,
	scheduling *SchedulingService,
	client domainTelegram.Client,
	adminTelegramID int64,
	notifyTimeout time.Duration,
	displayLoc *time.Location,
	logger *logrus.Entry,
) *EventService {
	return &EventService{
		events:          events,
		recipients:      recipients,
		ledger:          ledger,
		scheduling:      scheduling,
		client:          client,
		adminTelegramID: adminTelegramID,
		notifyTimeout:   notifyTimeout,
		displayLoc:      displayLoc,
		clock:           scheduler.SystemClock,
		logger:          logger,
	}
}

// CreateEvent persists the event, announces it to every active recipient and
// arms its reminder plan.
func (s *EventService) CreateEvent(ctx context.Context, performingAdminID int64, ev *event.Event) error {
	if performingAdminID != s.adminTelegramID {
		return ErrAdminNotAuthorized
	}
	if !ev.OccursAt.After(s.clock()) {
		return ErrOccurrenceInPast
	}

	ev.OccursAt = ev.OccursAt.UTC()
	if err := s.events.Create(ctx, ev); err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"event_id":  ev.ID,
		"occurs_at": ev.OccursAt.Format(time.RFC3339),
	}).Info("Event created")

	s.announceCreation(ctx, ev)

	if err := s.scheduling.OnEventCreatedOrUpdated(ctx, ev); err != nil {
		return fmt.Errorf("failed to arm reminders for event %d: %w", ev.ID, err)
	}
	return nil
}

// DeleteEvent removes the event row and cancels its pending reminder jobs.
// Delivery records for the event are kept as history.
func (s *EventService) DeleteEvent(ctx context.Context, performingAdminID int64, eventID int64) error {
	if performingAdminID != s.adminTelegramID {
		return ErrAdminNotAuthorized
	}
	if err := s.events.Delete(ctx, eventID); err != nil {
		return err // ErrEventNotFound propagates as-is
	}
	s.scheduling.OnEventDeleted(eventID)
	return nil
}

// ListUpcoming returns future events, soonest first.
func (s *EventService) ListUpcoming(ctx context.Context, performingAdminID int64) ([]*event.Event, error) {
	if performingAdminID != s.adminTelegramID {
		return nil, ErrAdminNotAuthorized
	}
	return s.events.ListUpcoming(ctx, s.clock())
}

// announceCreation broadcasts the new event to all active recipients and
// records each announcement in the ledger so a catch-up pass never repeats
// it. Per-recipient failures are contained: the announcement is best-effort,
// reminders carry the guarantee.
func (s *EventService) announceCreation(ctx context.Context, ev *event.Event) {
	roster, err := s.recipients.ListActive(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("event_id", ev.ID).Error("Failed to list recipients for announcement")
		return
	}

	caption := fmt.Sprintf(
		"🎉 New Event Created! 🎉\n\n📌 Title: %s\n📅 Date: %s\n⏰ Time: %s\n\n📝 Description:\n%s\n\nSee you there! 🤝",
		ev.Title,
		ev.OccursAt.In(s.displayLoc).Format("02 January 2006 (Monday)"),
		ev.OccursAt.In(s.displayLoc).Format("15:04"),
		ev.Description,
	)

	for _, r := range roster {
		sendCtx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
		err := s.client.SendPhoto(sendCtx, r.TelegramID, photoID(ev), caption, nil)
		cancel()
		logCtx := s.logger.WithFields(logrus.Fields{"event_id": ev.ID, "recipient_id": r.ID})
		if err != nil {
			logCtx.WithError(err).Error("Failed to send event creation announcement")
			continue
		}
		if _, err := s.ledger.TryRecordDelivery(ctx, ev.ID, r.ID, reminder.KindInitial, time.Now().UTC()); err != nil {
			logCtx.WithError(err).Error("Failed to record announcement delivery")
		}
	}
}
