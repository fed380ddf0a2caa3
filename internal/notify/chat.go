package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stockpulse/alert-engine/internal/domain"
)

// ChatTransport sends alert notifications over Telegram, trimmed from
// the teacher's interactive admin bot (internal/bot/handler.go) down
// to the single outbound Send this domain needs — no command parsing,
// no keyboards, no conversation state.
type ChatTransport struct {
	bot *tgbotapi.BotAPI
}

func NewChatTransport(bot *tgbotapi.BotAPI) *ChatTransport {
	return &ChatTransport{bot: bot}
}

func (c *ChatTransport) Send(ctx context.Context, channel domain.NotificationChannel, recipient domain.Recipient, n domain.AlertNotification) error {
	if channel != domain.ChannelChat {
		return nil
	}
	if recipient.TelegramChatID == 0 {
		return fmt.Errorf("%w: no telegram chat id for user %d", domain.ErrNotificationPermanent, recipient.UserID)
	}

	msg := tgbotapi.NewMessage(recipient.TelegramChatID, renderMessage(n))
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := c.bot.Send(msg); err != nil {
		if isChatNotFound(err) {
			return fmt.Errorf("%w: %v", domain.ErrNotificationPermanent, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrNotificationTransient, err)
	}
	return nil
}

// isChatNotFound recognizes Telegram's "chat not found" class of
// errors, which mean the chat id is stale and retrying is pointless
// (§8, S6).
func isChatNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "chat not found") || strings.Contains(msg, "bot was blocked")
}

func renderMessage(n domain.AlertNotification) string {
	return fmt.Sprintf(
		"*%s* — %s\nPosition: %s | Price: %s\nEntry: %s | SL: %s | Target: %s",
		n.TradingSymbol, n.Status, n.Position, n.CurrentPrice.String(),
		n.EntryPrice.String(), n.StopLoss.String(), n.TargetPrice.String(),
	)
}

var _ domain.NotificationTransport = (*ChatTransport)(nil)
