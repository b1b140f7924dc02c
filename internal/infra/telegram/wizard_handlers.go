package telegram

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"event_reminder_bot/internal/app"
	"event_reminder_bot/internal/domain/event"
	"event_reminder_bot/internal/infra/session"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// Wizard step identifiers stored in the session. A user is inside a wizard
// exactly while a session with one of these steps exists.
const (
	stepRegPhone     = "reg_phone"
	stepRegFirstName = "reg_first_name"
	stepRegLastName  = "reg_last_name"

	stepEventTitle       = "event_title"
	stepEventDescription = "event_description"
	stepEventPhoto       = "event_photo"
	stepEventDate        = "event_date"
	stepEventTime        = "event_time"
)

const (
	dateButtonFormat = "02 January (Monday)"
	dateStorageKey   = "date"
)

// RegisterWizardHandlers wires the message handlers that drive the
// registration and event creation wizards. Plain messages are routed by the
// step recorded in the sender's session; users without a session are ignored.
func RegisterWizardHandlers(ctx context.Context, b *telebot.Bot, deps HandlerDeps, baseLogger *logrus.Entry) {
	b.Handle(telebot.OnText, func(c telebot.Context) error {
		sess, err := deps.Sessions.Get(ctx, c.Sender().ID)
		if err == session.ErrNotFound {
			return nil
		}
		if err != nil {
			baseLogger.WithError(err).WithField("sender_id", c.Sender().ID).Error("Failed to load session")
			return c.Send("❌ Something went wrong. Please try again later.")
		}

		stepLogger := baseLogger.WithFields(logrus.Fields{
			"sender_id": c.Sender().ID,
			"step":      sess.Step,
		})

		switch sess.Step {
		case stepRegPhone:
			return handlePhoneText(ctx, c, deps, sess, stepLogger)
		case stepRegFirstName:
			return handleFirstName(ctx, c, deps, sess, stepLogger)
		case stepRegLastName:
			return handleLastName(ctx, c, deps, sess, stepLogger)
		case stepEventTitle:
			return handleEventTitle(ctx, c, deps, sess, stepLogger)
		case stepEventDescription:
			return handleEventDescription(ctx, c, deps, sess, stepLogger)
		case stepEventPhoto:
			if strings.EqualFold(strings.TrimSpace(c.Text()), "/skip") {
				return advanceToDate(ctx, c, deps, sess, stepLogger)
			}
			return c.Send("📷 Please send a photo for the event, or type /skip to continue without one.")
		case stepEventDate:
			return handleEventDate(ctx, c, deps, sess, stepLogger)
		case stepEventTime:
			return handleEventTime(ctx, c, deps, sess, stepLogger)
		default:
			stepLogger.Warn("Unknown session step, clearing session")
			if err := deps.Sessions.Delete(ctx, c.Sender().ID); err != nil {
				stepLogger.WithError(err).Error("Failed to clear session")
			}
			return c.Send("❌ Something went wrong. Please start over.", removeKeyboard())
		}
	})

	b.Handle(telebot.OnContact, func(c telebot.Context) error {
		sess, err := deps.Sessions.Get(ctx, c.Sender().ID)
		if err == session.ErrNotFound {
			return nil
		}
		if err != nil {
			baseLogger.WithError(err).WithField("sender_id", c.Sender().ID).Error("Failed to load session")
			return c.Send("❌ Something went wrong. Please try again later.")
		}
		if sess.Step != stepRegPhone {
			return nil
		}

		contact := c.Message().Contact
		if contact == nil || contact.PhoneNumber == "" {
			return c.Send("❌ I could not read that contact. Please try again.")
		}
		return acceptPhone(ctx, c, deps, sess, contact.PhoneNumber, baseLogger.WithFields(logrus.Fields{
			"sender_id": c.Sender().ID,
			"step":      sess.Step,
		}))
	})

	b.Handle(telebot.OnPhoto, func(c telebot.Context) error {
		sess, err := deps.Sessions.Get(ctx, c.Sender().ID)
		if err == session.ErrNotFound {
			return nil
		}
		if err != nil {
			baseLogger.WithError(err).WithField("sender_id", c.Sender().ID).Error("Failed to load session")
			return c.Send("❌ Something went wrong. Please try again later.")
		}
		if sess.Step != stepEventPhoto {
			return nil
		}

		photo := c.Message().Photo
		if photo == nil || photo.FileID == "" {
			return c.Send("❌ I could not read that photo. Please try again, or type /skip.")
		}
		sess.Set("photo_id", photo.FileID)
		return advanceToDate(ctx, c, deps, sess, baseLogger.WithFields(logrus.Fields{
			"sender_id": c.Sender().ID,
			"step":      sess.Step,
		}))
	})
}

func handlePhoneText(ctx context.Context, c telebot.Context, deps HandlerDeps, sess *session.Session, logger *logrus.Entry) error {
	return acceptPhone(ctx, c, deps, sess, c.Text(), logger)
}

func acceptPhone(ctx context.Context, c telebot.Context, deps HandlerDeps, sess *session.Session, raw string, logger *logrus.Entry) error {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if len(digits) < 10 || len(digits) > 15 {
		return c.Send("❌ That does not look like a valid phone number. Please try again.")
	}

	sess.Set("phone", "+"+digits)
	sess.Step = stepRegFirstName
	if err := deps.Sessions.Put(ctx, c.Sender().ID, sess); err != nil {
		logger.WithError(err).Error("Failed to save session")
		return c.Send("❌ Something went wrong. Please try again later.")
	}
	return c.Send("Great! Now, please enter your first name:", removeKeyboard())
}

func handleFirstName(ctx context.Context, c telebot.Context, deps HandlerDeps, sess *session.Session, logger *logrus.Entry) error {
	name := strings.TrimSpace(c.Text())
	if !validNameLength(name) {
		return c.Send("❌ The first name must be between 1 and 100 characters. Please try again.")
	}

	sess.Set("first_name", name)
	sess.Step = stepRegLastName
	if err := deps.Sessions.Put(ctx, c.Sender().ID, sess); err != nil {
		logger.WithError(err).Error("Failed to save session")
		return c.Send("❌ Something went wrong. Please try again later.")
	}
	return c.Send("And your last name? (type /skip if you prefer not to share it)")
}

func handleLastName(ctx context.Context, c telebot.Context, deps HandlerDeps, sess *session.Session, logger *logrus.Entry) error {
	lastName := strings.TrimSpace(c.Text())
	if strings.EqualFold(lastName, "/skip") {
		lastName = ""
	} else if !validNameLength(lastName) {
		return c.Send("❌ The last name must be between 1 and 100 characters. Please try again.")
	}

	rec, err := deps.Registration.Register(ctx, c.Sender().ID, sess.Get("phone"), sess.Get("first_name"), lastName)
	if err != nil {
		logger.WithError(err).Error("Failed to register recipient")
		return c.Send("❌ Registration failed. Please try again later.")
	}
	if err := deps.Sessions.Delete(ctx, c.Sender().ID); err != nil {
		logger.WithError(err).Error("Failed to clear session")
	}

	logger.WithField("recipient_id", rec.ID).Info("Recipient registered")
	if err := c.Send(fmt.Sprintf("🎉 You're all set, %s! I will remind you about upcoming events.", rec.FirstName)); err != nil {
		return err
	}

	if err := deps.Registration.CatchUpNewRecipient(ctx, rec); err != nil {
		logger.WithError(err).Error("Failed to catch up new recipient on upcoming events")
	}
	return nil
}

func handleEventTitle(ctx context.Context, c telebot.Context, deps HandlerDeps, sess *session.Session, logger *logrus.Entry) error {
	title := strings.TrimSpace(c.Text())
	if title == "" {
		return c.Send("❌ The title cannot be empty. Please enter the event title:")
	}

	sess.Set("title", title)
	sess.Step = stepEventDescription
	if err := deps.Sessions.Put(ctx, c.Sender().ID, sess); err != nil {
		logger.WithError(err).Error("Failed to save session")
		return c.Send("❌ Something went wrong. Please try again later.")
	}
	return c.Send("📝 Please enter the event description:")
}

func handleEventDescription(ctx context.Context, c telebot.Context, deps HandlerDeps, sess *session.Session, logger *logrus.Entry) error {
	description := strings.TrimSpace(c.Text())
	if description == "" {
		return c.Send("❌ The description cannot be empty. Please enter the event description:")
	}

	sess.Set("description", description)
	sess.Step = stepEventPhoto
	if err := deps.Sessions.Put(ctx, c.Sender().ID, sess); err != nil {
		logger.WithError(err).Error("Failed to save session")
		return c.Send("❌ Something went wrong. Please try again later.")
	}
	return c.Send("📷 Please send a photo for the event, or type /skip to continue without one.")
}

func advanceToDate(ctx context.Context, c telebot.Context, deps HandlerDeps, sess *session.Session, logger *logrus.Entry) error {
	sess.Step = stepEventDate
	if err := deps.Sessions.Put(ctx, c.Sender().ID, sess); err != nil {
		logger.WithError(err).Error("Failed to save session")
		return c.Send("❌ Something went wrong. Please try again later.")
	}
	return c.Send("📅 On which date does the event take place?", dateKeyboard(time.Now().In(deps.Location)))
}

func handleEventDate(ctx context.Context, c telebot.Context, deps HandlerDeps, sess *session.Session, logger *logrus.Entry) error {
	text := strings.TrimSpace(c.Text())
	// Buttons carry a weekday suffix like "25 December (Thursday)".
	if idx := strings.Index(text, " ("); idx > 0 {
		text = text[:idx]
	}

	parsed, err := time.Parse("2 January", text)
	if err != nil {
		return c.Send("❌ I could not understand that date. Please pick one from the keyboard or type it like \"25 December\".")
	}

	now := time.Now().In(deps.Location)
	date := time.Date(now.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, deps.Location)
	sess.Set(dateStorageKey, date.Format("2006-01-02"))
	sess.Step = stepEventTime
	if err := deps.Sessions.Put(ctx, c.Sender().ID, sess); err != nil {
		logger.WithError(err).Error("Failed to save session")
		return c.Send("❌ Something went wrong. Please try again later.")
	}
	return c.Send("⏰ At what time? Pick one below or type it like \"18:30\".", timeKeyboard())
}

func handleEventTime(ctx context.Context, c telebot.Context, deps HandlerDeps, sess *session.Session, logger *logrus.Entry) error {
	parsedTime, err := time.Parse("15:04", strings.TrimSpace(c.Text()))
	if err != nil {
		return c.Send("❌ I could not understand that time. Please use the HH:MM format, for example \"18:30\".")
	}
	date, err := time.ParseInLocation("2006-01-02", sess.Get(dateStorageKey), deps.Location)
	if err != nil {
		logger.WithError(err).Error("Corrupt date in session")
		if err := deps.Sessions.Delete(ctx, c.Sender().ID); err != nil {
			logger.WithError(err).Error("Failed to clear session")
		}
		return c.Send("❌ Something went wrong. Please start over with /create_event.", removeKeyboard())
	}

	occursAt := time.Date(
		date.Year(), date.Month(), date.Day(),
		parsedTime.Hour(), parsedTime.Minute(), 0, 0,
		deps.Location,
	)

	ev := &event.Event{
		Title:       sess.Get("title"),
		Description: sess.Get("description"),
		OccursAt:    occursAt.UTC(),
		CreatedBy:   c.Sender().ID,
	}
	if photoID := sess.Get("photo_id"); photoID != "" {
		ev.PhotoID = sql.NullString{String: photoID, Valid: true}
	}

	if err := deps.Events.CreateEvent(ctx, c.Sender().ID, ev); err != nil {
		if err == app.ErrOccurrenceInPast {
			return c.Send("❌ That time is already in the past. Please enter a different time:")
		}
		logger.WithError(err).Error("Failed to create event")
		return c.Send("❌ Failed to create the event. Please try again later.", removeKeyboard())
	}
	if err := deps.Sessions.Delete(ctx, c.Sender().ID); err != nil {
		logger.WithError(err).Error("Failed to clear session")
	}

	logger.WithField("event_id", ev.ID).Info("Event created via wizard")
	return c.Send(fmt.Sprintf(
		"✅ Event \"%s\" created for %s at %s. Announcements are on their way and reminders are scheduled.",
		ev.Title,
		occursAt.Format("02 January 2006 (Monday)"),
		occursAt.Format("15:04"),
	), removeKeyboard())
}

func validNameLength(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= 1 && n <= 100
}

func phoneKeyboard() *telebot.ReplyMarkup {
	kb := &telebot.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	kb.Reply(kb.Row(kb.Contact("📱 Share Phone Number")))
	return kb
}

// dateKeyboard offers the next seven days, one per row.
func dateKeyboard(now time.Time) *telebot.ReplyMarkup {
	kb := &telebot.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	var rows []telebot.Row
	for i := 0; i < 7; i++ {
		day := now.AddDate(0, 0, i)
		rows = append(rows, kb.Row(kb.Text(day.Format(dateButtonFormat))))
	}
	kb.Reply(rows...)
	return kb
}

func timeKeyboard() *telebot.ReplyMarkup {
	kb := &telebot.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	var rows []telebot.Row
	for hour := 8; hour < 22; hour += 4 {
		row := make([]telebot.Btn, 0, 4)
		for h := hour; h < hour+4 && h < 22; h++ {
			row = append(row, kb.Text(fmt.Sprintf("%02d:00", h)))
		}
		rows = append(rows, kb.Row(row...))
	}
	kb.Reply(rows...)
	return kb
}

func removeKeyboard() *telebot.ReplyMarkup {
	return &telebot.ReplyMarkup{RemoveKeyboard: true}
}
