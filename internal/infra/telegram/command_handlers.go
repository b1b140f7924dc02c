package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"event_reminder_bot/internal/app"
	"event_reminder_bot/internal/domain/recipient"
	idb "event_reminder_bot/internal/infra/database"
	"event_reminder_bot/internal/infra/session"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// maxMessageLength is Telegram's hard cap for a single text message. Listings
// are split into chunks below this before sending.
const maxMessageLength = 4000

// HandlerDeps bundles the services and infrastructure the bot handlers use.
type HandlerDeps struct {
	Registration *app.RegistrationService
	Events       *app.EventService
	Recipients   recipient.Repository
	Sessions     *session.Store
	AdminID      int64
	Location     *time.Location
}

// RegisterCommandHandlers registers the slash-command handlers for both
// regular users and the administrator.
func RegisterCommandHandlers(ctx context.Context, b *telebot.Bot, deps HandlerDeps, baseLogger *logrus.Entry) {
	b.Handle("/start", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/start",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		r, err := deps.Recipients.GetByTelegramID(ctx, c.Sender().ID)
		if err == nil {
			if !r.IsActive {
				if err := deps.Registration.Reactivate(ctx, r); err != nil {
					handlerLogger.WithError(err).Error("Failed to reactivate recipient")
					return c.Send("❌ Something went wrong. Please try again later.")
				}
				return c.Send("👋 Welcome back! Event reminders are on again.\nUse /stop any time to pause them.")
			}
			return c.Send("👋 Welcome back! You are already registered.\nUse /help to see what I can do.")
		}
		if err != idb.ErrRecipientNotFound {
			handlerLogger.WithError(err).Error("Failed to look up recipient")
			return c.Send("❌ Something went wrong. Please try again later.")
		}

		sess := &session.Session{Step: stepRegPhone}
		if err := deps.Sessions.Put(ctx, c.Sender().ID, sess); err != nil {
			handlerLogger.WithError(err).Error("Failed to start registration session")
			return c.Send("❌ Something went wrong. Please try again later.")
		}
		return c.Send(
			"👋 Welcome! Let's get you registered so you never miss an event.\n\nPlease share your phone number using the button below, or type it in.",
			phoneKeyboard(),
		)
	})

	b.Handle("/stop", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/stop",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if err := deps.Registration.Deactivate(ctx, c.Sender().ID); err != nil {
			if errors.Is(err, idb.ErrRecipientNotFound) {
				return c.Send("You are not registered yet. Use /start to sign up.")
			}
			handlerLogger.WithError(err).Error("Failed to deactivate recipient")
			return c.Send("❌ Something went wrong. Please try again later.")
		}
		return c.Send("🔕 Reminders paused. Use /start whenever you want them back.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		help := "ℹ️ Available commands:\n" +
			"/start - register to receive event reminders\n" +
			"/stop - pause reminders without losing your registration\n" +
			"/cancel - abort the current action\n" +
			"/help - show this message"
		if c.Sender().ID == deps.AdminID {
			help += "\n\n🔑 Admin commands:\n" +
				"/create_event - create a new event\n" +
				"/list_events - list upcoming events\n" +
				"/delete_event <id> - delete an event and its pending reminders"
		}
		return c.Send(help)
	})

	b.Handle("/cancel", func(c telebot.Context) error {
		if err := deps.Sessions.Delete(ctx, c.Sender().ID); err != nil {
			baseLogger.WithError(err).WithField("sender_id", c.Sender().ID).Error("Failed to clear session")
		}
		return c.Send("✅ Cancelled.", removeKeyboard())
	})

	b.Handle("/create_event", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/create_event",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != deps.AdminID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("❌ You are not authorized to use this command.")
		}

		sess := &session.Session{Step: stepEventTitle}
		if err := deps.Sessions.Put(ctx, c.Sender().ID, sess); err != nil {
			handlerLogger.WithError(err).Error("Failed to start event creation session")
			return c.Send("❌ Something went wrong. Please try again later.")
		}
		return c.Send("📝 Let's create a new event.\n\nPlease enter the event title:")
	})

	b.Handle("/list_events", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/list_events",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		events, err := deps.Events.ListUpcoming(ctx, c.Sender().ID)
		if err != nil {
			if err == app.ErrAdminNotAuthorized {
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send("❌ You are not authorized to use this command.")
			}
			handlerLogger.WithError(err).Error("Failed to list events")
			return c.Send("❌ Failed to load events. Please try again later.")
		}
		if len(events) == 0 {
			return c.Send("📭 No upcoming events.")
		}

		now := time.Now().In(deps.Location)
		var blocks []string
		for _, ev := range events {
			occursLocal := ev.OccursAt.In(deps.Location)
			blocks = append(blocks, fmt.Sprintf(
				"ID: %d\n📌 %s\n⏰ %s at %s\n⏳ %s",
				ev.ID,
				ev.Title,
				occursLocal.Format("02 January 2006 (Monday)"),
				occursLocal.Format("15:04"),
				timeUntil(now, occursLocal),
			))
		}

		for _, msg := range chunkBlocks("📅 Upcoming Events:", blocks) {
			if err := c.Send(msg); err != nil {
				return err
			}
		}
		return nil
	})

	b.Handle("/delete_event", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/delete_event",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		args := c.Args()
		if len(args) != 1 {
			return c.Send("Usage: /delete_event <id>")
		}
		eventID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("❌ The event id must be a number.")
		}

		err = deps.Events.DeleteEvent(ctx, c.Sender().ID, eventID)
		if err != nil {
			logWithError := handlerLogger.WithError(err).WithField("event_id", eventID)
			switch err {
			case app.ErrAdminNotAuthorized:
				logWithError.Warn("Unauthorized access attempt")
				return c.Send("❌ You are not authorized to use this command.")
			case idb.ErrEventNotFound:
				logWithError.Warn("Event not found")
				return c.Send(fmt.Sprintf("❌ Event %d was not found.", eventID))
			default:
				logWithError.Error("Failed to delete event")
				return c.Send("❌ Failed to delete the event. Please try again later.")
			}
		}

		handlerLogger.WithField("event_id", eventID).Info("Event deleted")
		return c.Send(fmt.Sprintf("🗑 Event %d deleted. Its pending reminders were cancelled.", eventID))
	})
}

// timeUntil renders the distance to a future instant as a coarse human
// readable countdown.
func timeUntil(now, target time.Time) string {
	d := target.Sub(now)
	if d <= 0 {
		return "happening now"
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d day(s)", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d hour(s)", hours))
	}
	if len(parts) == 0 || (days == 0 && minutes > 0) {
		parts = append(parts, fmt.Sprintf("%d minute(s)", minutes))
	}
	return "in " + strings.Join(parts, ", ")
}

// chunkBlocks joins blocks into messages that stay under Telegram's length
// limit, repeating the header on each chunk.
func chunkBlocks(header string, blocks []string) []string {
	var messages []string
	current := header
	for _, block := range blocks {
		if len(current)+len(block)+2 > maxMessageLength {
			messages = append(messages, current)
			current = header
		}
		current += "\n\n" + block
	}
	messages = append(messages, current)
	return messages
}
