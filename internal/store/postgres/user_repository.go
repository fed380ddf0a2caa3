package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stockpulse/alert-engine/internal/domain"
)

// UserRepository reads hydrated recipients and implements the
// per-channel disable step from §4.6 (S6), grounded on the teacher's
// UserRepository (repository_old.go).
type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	const query = `
		SELECT id, email, device_token, telegram_chat_id, telegram_enabled
		FROM users WHERE id = $1
	`
	var u domain.User
	var email, deviceToken sql.NullString
	var telegramChatID sql.NullInt64
	var telegramEnabled sql.NullBool

	err := r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &email, &deviceToken, &telegramChatID, &telegramEnabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	u.Email = email.String
	u.DeviceToken = deviceToken.String
	u.TelegramChatID = telegramChatID.Int64
	u.TelegramEnabled = telegramEnabled.Bool
	return &u, nil
}

// DisableChannel implements domain.ChannelDisabler. For chat it clears
// telegram_chat_id/telegram_enabled per S6; other channels have no
// per-user disable flag in this schema, so for them it does nothing
// and returns nil.
func (r *UserRepository) DisableChannel(ctx context.Context, userID int64, channel domain.NotificationChannel) error {
	if channel != domain.ChannelChat {
		return nil
	}
	const query = `
		UPDATE users SET telegram_enabled = FALSE, telegram_chat_id = NULL WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("disable chat channel for user %d: %w", userID, err)
	}
	return nil
}

var _ domain.ChannelDisabler = (*UserRepository)(nil)
