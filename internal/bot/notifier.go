// Package bot sends pipeline run summaries to a Telegram chat.
package bot

import (
	"context"
	"fmt"
	"unicode/utf8"

	tgbot "github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"
)

// maxMessageRunes is Telegram's limit for a single text message.
const maxMessageRunes = 4096

// Notifier delivers a short text report.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop discards every report. Used when Telegram is not configured.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// TelegramNotifier posts reports to one chat.
type TelegramNotifier struct {
	bot    *tgbot.Bot
	chatID int64
	log    logrus.FieldLogger
}

// NewTelegramNotifier creates the bot client. The token is checked against the
// Telegram API right away, so a bad token fails at startup rather than after a run.
func NewTelegramNotifier(token string, chatID int64, logger logrus.FieldLogger, opts ...tgbot.Option) (*TelegramNotifier, error) {
	log := logger.WithField("component", "telegram_notifier")

	b, err := tgbot.New(token, opts...)
	if err != nil {
		log.WithError(err).Error("Failed to create Telegram bot instance")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	log.WithField("chat_id", chatID).Info("Telegram notifier initialized")
	return &TelegramNotifier{
		bot:    b,
		chatID: chatID,
		log:    log,
	}, nil
}

// Notify sends text, truncated to the message size limit.
func (n *TelegramNotifier) Notify(ctx context.Context, text string) error {
	_, err := n.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: n.chatID,
		Text:   truncate(text, maxMessageRunes),
	})
	if err != nil {
		n.log.WithError(err).Error("Failed to send run summary")
		return fmt.Errorf("send telegram message: %w", err)
	}
	n.log.Debug("Run summary sent")
	return nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}
