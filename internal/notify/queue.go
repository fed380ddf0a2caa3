// Package notify implements the notification dispatch pipeline
// (§4.6): a durable Postgres-backed job queue per channel, workers
// that poll with SELECT ... FOR UPDATE SKIP LOCKED, rate limiting per
// channel, retry with exponential backoff, and permanent-failure
// channel disabling.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/stockpulse/alert-engine/internal/domain"
)

// pushSendTimeout bounds a single fire-and-forget push attempt so a
// stuck gateway call can't leak goroutines across restarts.
const pushSendTimeout = 5 * time.Second

// Job is one queued notification attempt.
type Job struct {
	ID          int64
	Channel     domain.NotificationChannel
	Priority    int
	Attempts    int
	Payload     domain.AlertNotification
	Recipient   domain.Recipient
	NextAttempt time.Time
}

// Queue is the durable store surface the dispatcher and workers need.
// It is implemented by postgres.NotificationQueue; there is no
// job-queue library anywhere in the retrieved corpus, so this
// generalizes the teacher's optimistic-locking Postgres write pattern
// into a poll-and-claim queue instead (see DESIGN.md).
type Queue interface {
	Enqueue(ctx context.Context, channel domain.NotificationChannel, priority int, recipient domain.Recipient, n domain.AlertNotification) error
	ClaimBatch(ctx context.Context, channel domain.NotificationChannel, limit int) ([]Job, error)
	MarkDone(ctx context.Context, jobID int64) error
	MarkRetry(ctx context.Context, jobID int64, nextAttempt time.Time) error
	MarkPermanentFailure(ctx context.Context, jobID int64) error
	PurgeCompleted(ctx context.Context, olderThan time.Duration) (int64, error)
}

// DispatcherMetrics is the narrow observability hook a Dispatcher
// reports through; implemented by *metrics.Registry. Nil-safe.
type DispatcherMetrics interface {
	IncNotificationsEnqueued(channel string)
	IncNotificationsSent(channel string)
	IncNotificationsFailed(channel string)
}

// Dispatcher is the Enqueue entry point the Alert Engine calls: it
// resolves the alert's owner into per-channel recipients and fans the
// notification out to every channel the user has enabled. Email and
// chat go through the durable queue and its retrying Worker; push goes
// straight to its transport, fire-and-forget (§4.6: push has no
// at-least-once guarantee, so it carries no queue and no retry).
type Dispatcher struct {
	queue   Queue
	users   UserLookup
	push    domain.NotificationTransport
	logger  *slog.Logger
	metrics DispatcherMetrics
}

// SetMetrics attaches the observability hook after construction.
func (d *Dispatcher) SetMetrics(m DispatcherMetrics) {
	d.metrics = m
}

// UserLookup resolves a user ID to its current notification handles;
// implemented by postgres.UserRepository.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// NewDispatcher wires the durable queue for email/chat and a direct
// push transport for the fire-and-forget push path.
func NewDispatcher(queue Queue, users UserLookup, push domain.NotificationTransport) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		users:  users,
		push:   push,
		logger: slog.Default().With("component", "notify_dispatcher"),
	}
}

// Enqueue implements alertengine.NotificationEnqueuer. Email and chat
// are queued, one durable job per enabled channel; push, if a device
// token is set, is sent directly and does not touch the queue.
func (d *Dispatcher) Enqueue(ctx context.Context, n domain.AlertNotification, priority int) error {
	u, err := d.users.GetByID(ctx, n.UserID)
	if err != nil {
		return err
	}
	if u == nil {
		return nil
	}

	recipient := domain.Recipient{
		UserID:         u.ID,
		Email:          u.Email,
		DeviceToken:    u.DeviceToken,
		TelegramChatID: u.TelegramChatID,
	}

	if recipient.Email != "" {
		if err := d.queue.Enqueue(ctx, domain.ChannelEmail, priority, recipient, n); err != nil {
			return err
		}
		d.reportEnqueued(domain.ChannelEmail)
	}
	if recipient.DeviceToken != "" {
		d.sendPushFireAndForget(recipient, n)
	}
	if u.TelegramEnabled && recipient.TelegramChatID != 0 {
		if err := d.queue.Enqueue(ctx, domain.ChannelChat, priority, recipient, n); err != nil {
			return err
		}
		d.reportEnqueued(domain.ChannelChat)
	}
	return nil
}

// sendPushFireAndForget dispatches a push notification on its own
// goroutine so Enqueue never blocks on the push gateway, and drops the
// result on failure instead of retrying (§4.6, push is best-effort).
func (d *Dispatcher) sendPushFireAndForget(recipient domain.Recipient, n domain.AlertNotification) {
	if d.push == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushSendTimeout)
		defer cancel()
		if err := d.push.Send(ctx, domain.ChannelPush, recipient, n); err != nil {
			d.logger.Error("push send failed", "user_id", recipient.UserID, "err", err)
			if d.metrics != nil {
				d.metrics.IncNotificationsFailed(string(domain.ChannelPush))
			}
			return
		}
		if d.metrics != nil {
			d.metrics.IncNotificationsSent(string(domain.ChannelPush))
		}
	}()
}

func (d *Dispatcher) reportEnqueued(channel domain.NotificationChannel) {
	if d.metrics != nil {
		d.metrics.IncNotificationsEnqueued(string(channel))
	}
}
