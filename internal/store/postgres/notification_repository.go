package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/stockpulse/alert-engine/internal/domain"
	"github.com/stockpulse/alert-engine/internal/notify"
)

// NotificationQueue is the durable job queue behind notify.Queue.
// There is no job-queue library anywhere in the retrieved example
// corpus, so this generalizes the teacher's optimistic-locking,
// Postgres-polling idiom (repository_old.go's UpdateTaskState plus
// cmd/bot's production polling loop) into a
// SELECT ... FOR UPDATE SKIP LOCKED claim instead (see DESIGN.md).
type NotificationQueue struct {
	db *DB
}

func NewNotificationQueue(db *DB) *NotificationQueue {
	return &NotificationQueue{db: db}
}

type notificationPayload struct {
	AlertID       int64           `json:"alert_id"`
	TradingSymbol string          `json:"trading_symbol"`
	Status        string          `json:"status"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	StopLoss      decimal.Decimal `json:"stop_loss"`
	TargetPrice   decimal.Decimal `json:"target_price"`
	Position      string          `json:"position"`
	TradeType     string          `json:"trade_type"`
	Level         int             `json:"level"`
	TriggeredAt   time.Time       `json:"triggered_at"`
}

func toPayload(n domain.AlertNotification) notificationPayload {
	return notificationPayload{
		AlertID:       n.AlertID,
		TradingSymbol: n.TradingSymbol,
		Status:        string(n.Status),
		CurrentPrice:  n.CurrentPrice,
		EntryPrice:    n.EntryPrice,
		StopLoss:      n.StopLoss,
		TargetPrice:   n.TargetPrice,
		Position:      string(n.Position),
		TradeType:     n.TradeType,
		Level:         n.Level,
		TriggeredAt:   n.TriggeredAt,
	}
}

func (p notificationPayload) toDomain(userID int64) domain.AlertNotification {
	return domain.AlertNotification{
		AlertID:       p.AlertID,
		UserID:        userID,
		TradingSymbol: p.TradingSymbol,
		Status:        domain.AlertStatus(p.Status),
		CurrentPrice:  p.CurrentPrice,
		EntryPrice:    p.EntryPrice,
		StopLoss:      p.StopLoss,
		TargetPrice:   p.TargetPrice,
		Position:      domain.Position(p.Position),
		TradeType:     p.TradeType,
		Level:         p.Level,
		TriggeredAt:   p.TriggeredAt,
	}
}

func (q *NotificationQueue) Enqueue(ctx context.Context, channel domain.NotificationChannel, priority int, recipient domain.Recipient, n domain.AlertNotification) error {
	payload, err := json.Marshal(toPayload(n))
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	const stmt = `
		INSERT INTO notification_jobs
			(channel, priority, user_id, email, device_token, telegram_chat_id, payload, attempts, status, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 'pending', NOW(), NOW())
	`
	_, err = q.db.ExecContext(ctx, stmt,
		channel, priority, recipient.UserID, recipient.Email, recipient.DeviceToken, recipient.TelegramChatID, payload,
	)
	if err != nil {
		return fmt.Errorf("enqueue notification job: %w", err)
	}
	return nil
}

func (q *NotificationQueue) ClaimBatch(ctx context.Context, channel domain.NotificationChannel, limit int) ([]notify.Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim batch begin tx: %w", err)
	}
	defer tx.Rollback()

	const selectStmt = `
		SELECT id, priority, user_id, email, device_token, telegram_chat_id, payload, attempts
		FROM notification_jobs
		WHERE channel = $1 AND status = 'pending' AND next_attempt_at <= NOW()
		ORDER BY priority ASC, created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, selectStmt, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch select: %w", err)
	}

	var jobs []notify.Job
	var ids []int64
	for rows.Next() {
		var j notify.Job
		var email, deviceToken sql.NullString
		var telegramChatID sql.NullInt64
		var payloadRaw []byte

		if err := rows.Scan(&j.ID, &j.Priority, &j.Recipient.UserID, &email, &deviceToken, &telegramChatID, &payloadRaw, &j.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("claim batch scan: %w", err)
		}
		var p notificationPayload
		if err := json.Unmarshal(payloadRaw, &p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("claim batch unmarshal payload: %w", err)
		}

		j.Channel = channel
		j.Recipient.Email = email.String
		j.Recipient.DeviceToken = deviceToken.String
		j.Recipient.TelegramChatID = telegramChatID.Int64
		j.Payload = p.toDomain(j.Recipient.UserID)

		jobs = append(jobs, j)
		ids = append(ids, j.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) > 0 {
		const markClaimed = `UPDATE notification_jobs SET status = 'claimed' WHERE id = ANY($1)`
		if _, err := tx.ExecContext(ctx, markClaimed, pq.Array(ids)); err != nil {
			return nil, fmt.Errorf("claim batch mark claimed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim batch commit: %w", err)
	}
	return jobs, nil
}

func (q *NotificationQueue) MarkDone(ctx context.Context, jobID int64) error {
	const stmt = `UPDATE notification_jobs SET status = 'done', completed_at = NOW() WHERE id = $1`
	_, err := q.db.ExecContext(ctx, stmt, jobID)
	if err != nil {
		return fmt.Errorf("mark done %d: %w", jobID, err)
	}
	return nil
}

func (q *NotificationQueue) MarkRetry(ctx context.Context, jobID int64, nextAttempt time.Time) error {
	const stmt = `
		UPDATE notification_jobs
		SET status = 'pending', attempts = attempts + 1, next_attempt_at = $2
		WHERE id = $1
	`
	_, err := q.db.ExecContext(ctx, stmt, jobID, nextAttempt)
	if err != nil {
		return fmt.Errorf("mark retry %d: %w", jobID, err)
	}
	return nil
}

func (q *NotificationQueue) MarkPermanentFailure(ctx context.Context, jobID int64) error {
	const stmt = `UPDATE notification_jobs SET status = 'failed', completed_at = NOW() WHERE id = $1`
	_, err := q.db.ExecContext(ctx, stmt, jobID)
	if err != nil {
		return fmt.Errorf("mark permanent failure %d: %w", jobID, err)
	}
	return nil
}

func (q *NotificationQueue) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	const stmt = `
		DELETE FROM notification_jobs
		WHERE status IN ('done', 'failed') AND completed_at < $1
	`
	res, err := q.db.ExecContext(ctx, stmt, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge completed notification jobs: %w", err)
	}
	return res.RowsAffected()
}

var _ notify.Queue = (*NotificationQueue)(nil)
