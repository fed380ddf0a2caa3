package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/stockpulse/alert-engine/internal/domain"
)

// EmailTransport sends alert notifications over SMTP. The actual SMTP
// relay is an external collaborator (out of scope per the
// specification's non-goals); net/smtp is used here because no
// third-party mail client appears anywhere in the retrieved corpus
// (see DESIGN.md) and the protocol itself is simple enough that the
// standard library is the idiomatic choice.
type EmailTransport struct {
	addr string
	auth smtp.Auth
	from string
}

func NewEmailTransport(host string, port int, username, password, from string) *EmailTransport {
	return &EmailTransport{
		addr: fmt.Sprintf("%s:%d", host, port),
		auth: smtp.PlainAuth("", username, password, host),
		from: from,
	}
}

func (e *EmailTransport) Send(ctx context.Context, channel domain.NotificationChannel, recipient domain.Recipient, n domain.AlertNotification) error {
	if channel != domain.ChannelEmail {
		return nil
	}
	if recipient.Email == "" {
		return fmt.Errorf("%w: no email address for user %d", domain.ErrNotificationPermanent, recipient.UserID)
	}

	subject := fmt.Sprintf("Alert %s: %s is %s", n.TradingSymbol, n.Position, n.Status)
	body := fmt.Sprintf(
		"Your alert on %s transitioned to %s at price %s.\nEntry: %s  Stop loss: %s  Target: %s\n",
		n.TradingSymbol, n.Status, n.CurrentPrice.String(), n.EntryPrice.String(), n.StopLoss.String(), n.TargetPrice.String(),
	)
	msg := []byte("Subject: " + subject + "\r\n\r\n" + body)

	if err := smtp.SendMail(e.addr, e.auth, e.from, []string{recipient.Email}, msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationTransient, err)
	}
	return nil
}

var _ domain.NotificationTransport = (*EmailTransport)(nil)
