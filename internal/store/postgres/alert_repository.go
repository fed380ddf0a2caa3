package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/stockpulse/alert-engine/internal/domain"
)

// AlertRepository is the durable store for alerts, grounded on the
// teacher's TaskRepository (repository_old.go): row scanning into
// domain structs, and its per-row UPDATE, generalized here to a single
// bulk statement built per call. The bulk statement does not check a
// row version.
type AlertRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db, logger: slog.Default().With("component", "alert_repository")}
}

func (r *AlertRepository) LoadNonTerminal(ctx context.Context) ([]domain.Alert, error) {
	const query = `
		SELECT a.id, a.user_id, a.instrument_key, a.trading_symbol, a.position,
		       a.entry_price, a.stop_loss, a.target_price, a.level, a.trade_type,
		       a.status, a.entry_crossed, a.last_ltp, a.created_at, a.updated_at,
		       u.id, u.email, u.device_token, u.telegram_chat_id, u.telegram_enabled
		FROM alerts a
		JOIN users u ON u.id = a.user_id
		WHERE a.status NOT IN ($1, $2)
	`
	rows, err := r.db.QueryContext(ctx, query, domain.StatusSLHit, domain.StatusTargetHit)
	if err != nil {
		return nil, fmt.Errorf("load non-terminal alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		a, err := scanAlertWithOwner(rows)
		if err != nil {
			r.logger.Error("skipping alert row with unhydratable owner", "err", err)
			continue
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAlertWithOwner(rows *sql.Rows) (*domain.Alert, error) {
	var a domain.Alert
	var lastLTP sql.NullString
	var deviceToken, email sql.NullString
	var telegramChatID sql.NullInt64
	var telegramEnabled sql.NullBool

	err := rows.Scan(
		&a.ID, &a.UserID, &a.InstrumentKey, &a.TradingSymbol, &a.Position,
		&a.EntryPrice, &a.StopLoss, &a.TargetPrice, &a.Level, &a.TradeType,
		&a.Status, &a.EntryCrossed, &lastLTP, &a.CreatedAt, &a.UpdatedAt,
		&a.Owner.ID, &email, &deviceToken, &telegramChatID, &telegramEnabled,
	)
	if err != nil {
		return nil, fmt.Errorf("scan alert row: %w", err)
	}

	if lastLTP.Valid {
		d, err := decimal.NewFromString(lastLTP.String)
		if err == nil {
			a.LastLTP = &d
		}
	}
	a.Owner.Email = email.String
	a.Owner.DeviceToken = deviceToken.String
	a.Owner.TelegramChatID = telegramChatID.Int64
	a.Owner.TelegramEnabled = telegramEnabled.Bool

	if !a.Owner.HasValidOwner() {
		return nil, fmt.Errorf("alert %d: owner %d could not be hydrated", a.ID, a.UserID)
	}
	return &a, nil
}

// BulkWrite persists every update from one tick in a single statement,
// unnesting four parallel arrays into the row set the UPDATE joins
// against, generalizing the teacher's per-row UPDATE into a set-based
// bulk write per §4.4's "single bulk call per tick" requirement.
const bulkWriteStmt = `
	UPDATE alerts AS a
	SET status = v.status,
	    entry_crossed = v.entry_crossed,
	    last_ltp = v.last_ltp,
	    updated_at = NOW()
	FROM (
		SELECT * FROM unnest($1::bigint[], $2::text[], $3::boolean[], $4::numeric[])
			AS v(id, status, entry_crossed, last_ltp)
	) AS v
	WHERE a.id = v.id
`

func (r *AlertRepository) BulkWrite(ctx context.Context, updates []domain.AlertUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	ids := make([]int64, len(updates))
	statuses := make([]string, len(updates))
	entryCrossed := make([]bool, len(updates))
	lastLTPs := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.Alert.ID
		statuses[i] = string(u.NewStatus)
		entryCrossed[i] = u.EntryCrossed
		lastLTPs[i] = u.LTP.String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrDurableStoreBulkFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, bulkWriteStmt,
		pq.Array(ids), pq.Array(statuses), pq.Array(entryCrossed), pq.Array(lastLTPs),
	); err != nil {
		return fmt.Errorf("%w: %d updates: %v", domain.ErrDurableStoreBulkFailed, len(updates), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrDurableStoreBulkFailed, err)
	}
	return nil
}

func (r *AlertRepository) DistinctInstruments(ctx context.Context) ([]domain.Symbol, error) {
	const query = `
		SELECT DISTINCT instrument_key FROM alerts WHERE status NOT IN ($1, $2)
	`
	rows, err := r.db.QueryContext(ctx, query, domain.StatusSLHit, domain.StatusTargetHit)
	if err != nil {
		return nil, fmt.Errorf("distinct instruments: %w", err)
	}
	defer rows.Close()

	var out []domain.Symbol
	for rows.Next() {
		var s domain.Symbol
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *AlertRepository) CountNonTerminal(ctx context.Context, sym domain.Symbol) (int, error) {
	const query = `
		SELECT COUNT(*) FROM alerts WHERE instrument_key = $1 AND status NOT IN ($2, $3)
	`
	var n int
	err := r.db.QueryRowContext(ctx, query, sym, domain.StatusSLHit, domain.StatusTargetHit).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count non-terminal for %s: %w", sym, err)
	}
	return n, nil
}

var _ domain.AlertRepository = (*AlertRepository)(nil)
