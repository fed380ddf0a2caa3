package notify

import (
	"context"
	"fmt"

	"github.com/stockpulse/alert-engine/internal/domain"
)

// PushSender is the external push gateway collaborator (APNs/FCM or
// equivalent), explicitly out of scope for this core per the
// specification; PushTransport only adapts the domain notification
// shape to whatever concrete sender is injected at wiring time.
type PushSender interface {
	Send(ctx context.Context, deviceToken, title, body string) error
}

// PushTransport delivers alert notifications best-effort. A missing
// device token is reported as ErrNotificationPermanent and a gateway
// failure as ErrNotificationTransient; push is sent directly by
// Dispatcher rather than through a Worker, so neither is retried and
// neither disables the channel (§4.6, "best-effort fire-and-forget").
type PushTransport struct {
	sender PushSender
}

func NewPushTransport(sender PushSender) *PushTransport {
	return &PushTransport{sender: sender}
}

func (p *PushTransport) Send(ctx context.Context, channel domain.NotificationChannel, recipient domain.Recipient, n domain.AlertNotification) error {
	if channel != domain.ChannelPush {
		return nil
	}
	if recipient.DeviceToken == "" {
		return fmt.Errorf("%w: no device token for user %d", domain.ErrNotificationPermanent, recipient.UserID)
	}

	title := fmt.Sprintf("%s %s", n.TradingSymbol, n.Status)
	body := fmt.Sprintf("Price %s, entry %s", n.CurrentPrice.String(), n.EntryPrice.String())
	if err := p.sender.Send(ctx, recipient.DeviceToken, title, body); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationTransient, err)
	}
	return nil
}

var _ domain.NotificationTransport = (*PushTransport)(nil)
