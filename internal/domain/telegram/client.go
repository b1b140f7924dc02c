package telegram

import (
	"context"

	"gopkg.in/telebot.v3"
)

// Client defines an interface for delivering messages via a Telegram bot.
// This helps in decoupling the application logic from the specific bot
// library. The context carries the caller-imposed delivery timeout.
type Client interface {
	SendMessage(ctx context.Context, recipientChatID int64, text string, options *telebot.SendOptions) error
	// SendPhoto sends a photo by Telegram file id with a caption. An empty
	// photoID falls back to a plain text message.
	SendPhoto(ctx context.Context, recipientChatID int64, photoID, caption string, options *telebot.SendOptions) error
}
