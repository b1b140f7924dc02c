package telegram

import (
	"context"

	"golang.org/x/time/rate"
	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements the domain telegram.Client interface using the
// gopkg.in/telebot.v3 library. Sends are rate limited to stay under
// Telegram's broadcast ceiling; the limiter wait respects the caller's
// delivery timeout.
type TelebotAdapter struct {
	bot     *telebot.Bot
	limiter *rate.Limiter
}

func NewTelebotAdapter(b *telebot.Bot, ratePerSec int) *TelebotAdapter {
	if ratePerSec <= 0 {
		ratePerSec = 25
	}
	return &TelebotAdapter{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

// SendMessage sends a text message to the specified recipient.
func (tba *TelebotAdapter) SendMessage(ctx context.Context, recipientChatID int64, text string, options *telebot.SendOptions) error {
	if err := tba.limiter.Wait(ctx); err != nil {
		return err
	}
	if options == nil {
		options = &telebot.SendOptions{}
	}
	_, err := tba.bot.Send(&telebot.User{ID: recipientChatID}, text, options)
	return err
}

// SendPhoto sends a photo by Telegram file id with a caption. An empty
// photoID degrades to a plain text message.
func (tba *TelebotAdapter) SendPhoto(ctx context.Context, recipientChatID int64, photoID, caption string, options *telebot.SendOptions) error {
	if photoID == "" {
		return tba.SendMessage(ctx, recipientChatID, caption, options)
	}
	if err := tba.limiter.Wait(ctx); err != nil {
		return err
	}
	if options == nil {
		options = &telebot.SendOptions{}
	}
	photo := &telebot.Photo{
		File:    telebot.File{FileID: photoID},
		Caption: caption,
	}
	_, err := tba.bot.Send(&telebot.User{ID: recipientChatID}, photo, options)
	return err
}
