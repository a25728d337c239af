package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sender is the slice of *tgbotapi.BotAPI the notifier needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts event summaries to one chat, e.g. the teacher's.
type Telegram struct {
	bot    sender
	chatID int64
	only   map[EventType]bool
}

func NewTelegram(token string, chatID int64, only ...EventType) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegram(bot, chatID, only...), nil
}

func newTelegram(bot sender, chatID int64, only ...EventType) *Telegram {
	t := &Telegram{bot: bot, chatID: chatID}
	if len(only) > 0 {
		t.only = make(map[EventType]bool, len(only))
		for _, et := range only {
			t.only[et] = true
		}
	}
	return t
}

func (t *Telegram) Notify(ctx context.Context, ev Event) error {
	if t.only != nil && !t.only[ev.Type] {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("[%s] %s", ev.Type, ev.Summary))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
