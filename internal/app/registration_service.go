package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"event_reminder_bot/internal/domain/event"
	"event_reminder_bot/internal/domain/recipient"
	"event_reminder_bot/internal/domain/reminder"
	domainTelegram "event_reminder_bot/internal/domain/telegram"
	"event_reminder_bot/internal/infra/scheduler"
)

// RegistrationService registers recipients and catches a fresh registration
// up with events that already exist. Future reminder kinds need no per-user
// work: the dispatcher resolves the roster at fire time.
type RegistrationService struct {
	recipients    recipient.Repository
	events        event.Repository
	ledger        reminder.Ledger
	client        domainTelegram.Client
	notifyTimeout time.Duration
	displayLoc    *time.Location
	clock         scheduler.Clock
	logger        *logrus.Entry
}

func NewRegistrationService(
	recipients recipient.Repository,
	events event.Repository,
	ledger reminder.Ledger,
	client domainTelegram.Client,
	notifyTimeout time.Duration,
	displayLoc *time.Location,
	logger *logrus.Entry,
) *RegistrationService {
	return &RegistrationService{
		recipients:    recipients,
		events:        events,
		ledger:        ledger,
		client:        client,
		notifyTimeout: notifyTimeout,
		displayLoc:    displayLoc,
		clock:         scheduler.SystemClock,
		logger:        logger,
	}
}

// Register upserts the recipient; repeating /start refreshes the details
// instead of failing.
func (s *RegistrationService) Register(ctx context.Context, telegramID int64, phone, firstName, lastName string) (*recipient.Recipient, error) {
	r := &recipient.Recipient{
		TelegramID:  telegramID,
		PhoneNumber: phone,
		FirstName:   firstName,
		IsActive:    true,
	}
	if lastName != "" {
		r.LastName = sql.NullString{String: lastName, Valid: true}
	}
	if err := s.recipients.Upsert(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to register recipient: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"recipient_id": r.ID,
		"telegram_id":  telegramID,
	}).Info("Recipient registered")
	return r, nil
}

// Deactivate takes the recipient out of the reminder roster. The row stays
// so their delivery history survives and /start can bring them back.
func (s *RegistrationService) Deactivate(ctx context.Context, telegramID int64) error {
	r, err := s.recipients.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return fmt.Errorf("failed to load recipient %d: %w", telegramID, err)
	}
	if !r.IsActive {
		return nil
	}
	r.IsActive = false
	if err := s.recipients.Update(ctx, r); err != nil {
		return fmt.Errorf("failed to deactivate recipient %d: %w", telegramID, err)
	}
	s.logger.WithFields(logrus.Fields{
		"recipient_id": r.ID,
		"telegram_id":  telegramID,
	}).Info("Recipient deactivated")
	return nil
}

// Reactivate puts a previously stopped recipient back on the roster.
func (s *RegistrationService) Reactivate(ctx context.Context, r *recipient.Recipient) error {
	if r.IsActive {
		return nil
	}
	r.IsActive = true
	if err := s.recipients.Update(ctx, r); err != nil {
		return fmt.Errorf("failed to reactivate recipient %d: %w", r.TelegramID, err)
	}
	s.logger.WithFields(logrus.Fields{
		"recipient_id": r.ID,
		"telegram_id":  r.TelegramID,
	}).Info("Recipient reactivated")
	return nil
}

// CatchUpNewRecipient sends the new recipient the details of every upcoming
// event they have not been announced yet, recording each under the initial
// kind so repeated registrations stay silent.
func (s *RegistrationService) CatchUpNewRecipient(ctx context.Context, r *recipient.Recipient) error {
	upcoming, err := s.events.ListUpcoming(ctx, s.clock())
	if err != nil {
		return fmt.Errorf("failed to list upcoming events: %w", err)
	}

	var pending []*event.Event
	for _, ev := range upcoming {
		announced, err := s.ledger.HasDelivery(ctx, ev.ID, r.ID, reminder.KindInitial)
		if err != nil {
			return fmt.Errorf("failed to check announcement for event %d: %w", ev.ID, err)
		}
		if !announced {
			pending = append(pending, ev)
		}
	}

	if len(pending) == 0 {
		s.send(ctx, r.TelegramID, "", "👋 Welcome! There are no upcoming events at the moment.\nYou'll receive notifications when new events are created!")
		return nil
	}

	eventWord := "events"
	if len(pending) == 1 {
		eventWord = "event"
	}
	s.send(ctx, r.TelegramID, "", fmt.Sprintf("🎉 Welcome! There are %d upcoming %s.\nI'll send you the details now...", len(pending), eventWord))

	for _, ev := range pending {
		caption := fmt.Sprintf(
			"📅 Upcoming Event:\n\n📌 Title: %s\n⏰ Date: %s\n🕒 Time: %s\n\n📝 Description:\n%s",
			ev.Title,
			ev.OccursAt.In(s.displayLoc).Format("02 January 2006 (Monday)"),
			ev.OccursAt.In(s.displayLoc).Format("15:04"),
			ev.Description,
		)
		if !s.send(ctx, r.TelegramID, photoID(ev), caption) {
			continue
		}
		if _, err := s.ledger.TryRecordDelivery(ctx, ev.ID, r.ID, reminder.KindInitial, time.Now().UTC()); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"event_id":     ev.ID,
				"recipient_id": r.ID,
			}).Error("Failed to record catch-up announcement")
		}
	}
	return nil
}

func (s *RegistrationService) send(ctx context.Context, chatID int64, photo, text string) bool {
	sendCtx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()
	var err error
	if photo == "" {
		err = s.client.SendMessage(sendCtx, chatID, text, nil)
	} else {
		err = s.client.SendPhoto(sendCtx, chatID, photo, text, nil)
	}
	if err != nil {
		s.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to send catch-up message")
		return false
	}
	return true
}
