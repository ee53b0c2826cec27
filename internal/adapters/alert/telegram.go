// Package alert implements ports.AlertSink over Telegram, for out-of-band
// notification when nobody is watching the console.
//
// Grounded on yohannesjx-sniperterminal's NotificationService: a
// lazily-constructed tgbotapi.BotAPI, a single target chat ID, and
// fire-and-forget sends so a slow or failing Telegram API never blocks
// the caller's hot path.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/alexrivas/mirrorbot/internal/ports"
)

// Telegram sends AlertSink notifications to a single Telegram chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// New builds a Telegram sink. token is the bot's API token and chatID the
// destination chat, both sourced from the environment and never logged.
func New(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("alert.New: init bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

var _ ports.AlertSink = (*Telegram)(nil)

// Notify sends the event as a Markdown message. Send happens in the
// background — a Telegram outage must never stall the gate or executor.
func (t *Telegram) Notify(_ context.Context, severity ports.Severity, event string, fields map[string]string) error {
	if t.chatID == 0 {
		return nil // no chat bound yet; drop rather than error the caller
	}

	msg := tgbotapi.NewMessage(t.chatID, formatMessage(severity, event, fields))
	msg.ParseMode = "Markdown"

	go func() {
		if _, err := t.bot.Send(msg); err != nil {
			slog.Warn("telegram: send failed", "event", event, "err", err)
		}
	}()
	return nil
}

func formatMessage(severity ports.Severity, event string, fields map[string]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *%s*", icon(severity), event)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n*%s:* %s", k, fields[k])
	}
	return sb.String()
}

func icon(s ports.Severity) string {
	switch s {
	case ports.SeverityCritical:
		return "🔴"
	case ports.SeverityHigh:
		return "🟠"
	case ports.SeverityWarning:
		return "🟡"
	default:
		return "ℹ️"
	}
}
