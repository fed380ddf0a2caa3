package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/stockpulse/alert-engine/internal/domain"
)

const claimBatchSize = 50

// Metrics is the narrow observability hook a Worker reports through;
// implemented by *metrics.Registry. Nil-safe.
type Metrics interface {
	IncNotificationsSent(channel string)
	IncNotificationsRetried(channel string)
	IncNotificationsFailed(channel string)
	IncChannelsDisabled(channel string)
}

// Worker polls one channel's queue, applies a per-channel rate limit,
// and sends each claimed job through a domain.NotificationTransport,
// retrying transient failures with exponential backoff up to
// maxAttempts and disabling the channel on a permanent failure (S6).
type Worker struct {
	channel     domain.NotificationChannel
	queue       Queue
	transport   domain.NotificationTransport
	disabler    domain.ChannelDisabler
	limiter     *rate.Limiter
	logger      *slog.Logger
	metrics     Metrics
	pollPeriod  time.Duration
	maxAttempts int
	retryBase   time.Duration
}

func NewWorker(
	channel domain.NotificationChannel,
	queue Queue,
	transport domain.NotificationTransport,
	disabler domain.ChannelDisabler,
	ratePerSecond int,
	pollPeriod time.Duration,
	maxAttempts int,
	retryBase time.Duration,
) *Worker {
	return &Worker{
		channel:     channel,
		queue:       queue,
		transport:   transport,
		disabler:    disabler,
		limiter:     rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond),
		logger:      slog.Default().With("component", "notify_worker", "channel", channel),
		pollPeriod:  pollPeriod,
		maxAttempts: maxAttempts,
		retryBase:   retryBase,
	}
}

// SetMetrics attaches the observability hook after construction, kept
// separate from NewWorker's already-long parameter list.
func (w *Worker) SetMetrics(m Metrics) {
	w.metrics = m
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	jobs, err := w.queue.ClaimBatch(ctx, w.channel, claimBatchSize)
	if err != nil {
		w.logger.Error("claim batch failed", "err", err)
		return
	}
	for _, job := range jobs {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	err := w.transport.Send(ctx, w.channel, job.Recipient, job.Payload)
	if err == nil {
		if err := w.queue.MarkDone(ctx, job.ID); err != nil {
			w.logger.Error("mark done failed", "job_id", job.ID, "err", err)
		}
		if w.metrics != nil {
			w.metrics.IncNotificationsSent(string(w.channel))
		}
		return
	}

	if errors.Is(err, domain.ErrNotificationPermanent) {
		w.logger.Warn("notification permanently failed, disabling channel", "job_id", job.ID, "user_id", job.Recipient.UserID)
		if err := w.queue.MarkPermanentFailure(ctx, job.ID); err != nil {
			w.logger.Error("mark permanent failure failed", "job_id", job.ID, "err", err)
		}
		if w.disabler != nil {
			if err := w.disabler.DisableChannel(ctx, job.Recipient.UserID, w.channel); err != nil {
				w.logger.Error("disable channel failed", "user_id", job.Recipient.UserID, "err", err)
			}
		}
		if w.metrics != nil {
			w.metrics.IncNotificationsFailed(string(w.channel))
			w.metrics.IncChannelsDisabled(string(w.channel))
		}
		return
	}

	if job.Attempts+1 >= w.maxAttempts {
		w.logger.Error("notification exhausted retries", "job_id", job.ID, "attempts", job.Attempts+1, "err", err)
		if err := w.queue.MarkPermanentFailure(ctx, job.ID); err != nil {
			w.logger.Error("mark permanent failure after retry exhaustion failed", "job_id", job.ID, "err", err)
		}
		if w.metrics != nil {
			w.metrics.IncNotificationsFailed(string(w.channel))
		}
		return
	}

	delay := w.retryBase * time.Duration(1<<uint(job.Attempts))
	if err := w.queue.MarkRetry(ctx, job.ID, time.Now().Add(delay)); err != nil {
		w.logger.Error("mark retry failed", "job_id", job.ID, "err", err)
	}
	if w.metrics != nil {
		w.metrics.IncNotificationsRetried(string(w.channel))
	}
}
