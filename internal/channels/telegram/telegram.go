// Package telegram implements the Telegram observer channel: an
// external collaborator that subscribes to the Event Bus and posts
// fleet notifications to a set of allowed chat IDs. It never calls into
// the Registry Store, Agent Manager, or Task Manager directly — only
// through internal/facade, the same boundary every other collaborator
// crosses (spec.md §1, §6).
//
// Grounded on internal/channels/telegram.go's tgbotapi.NewBotAPI /
// tgbotapi.NewMessage wiring and reconnect-with-backoff shape, trimmed
// to one direction: Nox has no inbound chat-task routing, so this
// channel only observes and notifies.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/noxhq/nox/internal/bus"
	"github.com/noxhq/nox/internal/channels"
	"github.com/noxhq/nox/internal/facade"
	"github.com/noxhq/nox/internal/registry"
)

var _ channels.Channel = (*Channel)(nil)

// Channel posts task/agent lifecycle notifications to Telegram.
type Channel struct {
	bot        *tgbotapi.BotAPI
	facade     *facade.Facade
	allowedIDs []int64
	logger     *slog.Logger
}

// New constructs a Channel. token and allowedIDs come from
// config.TelegramConfig; f is the Request Facade whose Subscribe feed
// drives notifications.
func New(token string, allowedIDs []int64, f *facade.Facade, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	return &Channel{bot: bot, facade: f, allowedIDs: allowedIDs, logger: logger}, nil
}

// Name identifies this channel for logging/diagnostics.
func (c *Channel) Name() string { return "telegram" }

// Start implements channels.Channel: subscribes to the Event Bus and
// pushes a notification for every TaskCompleted and AgentStatusChanged
// event until ctx is cancelled.
func (c *Channel) Start(ctx context.Context) error {
	sub := c.facade.Subscribe()
	defer c.facade.Unsubscribe(sub)

	c.logger.Info("telegram channel started", "bot", c.bot.Self.UserName, "allowed_chats", len(c.allowedIDs))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Ch():
			if !ok {
				return nil
			}
			c.notify(ev)
		}
	}
}

func (c *Channel) notify(ev bus.Event) {
	text := formatEvent(ev)
	if text == "" {
		return
	}
	for _, chatID := range c.allowedIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := c.bot.Send(msg); err != nil {
			c.logger.Warn("telegram: failed to send notification", "chat_id", chatID, "error", err)
		}
	}
}

// formatEvent renders the subset of bus.Event kinds worth notifying a
// human observer about; everything else returns "" (skipped).
func formatEvent(ev bus.Event) string {
	switch ev.Kind {
	case bus.KindTaskCompleted:
		p := ev.TaskCompleted
		if p.Result == bus.TaskResultOk {
			return fmt.Sprintf("✅ task %s completed", p.ID)
		}
		return fmt.Sprintf("❌ task %s failed", p.ID)
	case bus.KindAgentStatusChanged:
		p := ev.AgentStatus
		if p.To == registry.AgentError {
			return fmt.Sprintf("⚠️ agent %s entered Error", p.ID)
		}
		return ""
	default:
		return ""
	}
}
