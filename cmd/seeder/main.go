package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/stockpulse/alert-engine/internal/config"
	"github.com/stockpulse/alert-engine/internal/domain"
	"github.com/stockpulse/alert-engine/internal/store/postgres"
)

// Seeder fills a local database with a demo user, an upstream bearer
// token, and a handful of alerts covering both positions, so the
// engine and its live/notification paths can be exercised without the
// external HTTP/auth/instrument-catalog collaborators running.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.Env != "local" {
		log.Fatal("seeder allowed only in local environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		log.Fatalf("database connect failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	userID, err := seedUser(ctx, db)
	if err != nil {
		log.Fatalf("seed user failed: %v", err)
	}
	logger.Info("seeded user", "user_id", userID)

	if cfg.Crypto.EncryptionKey != "" {
		tokenRepo, err := postgres.NewTokenRepository(db, cfg.Crypto.EncryptionKey)
		if err != nil {
			log.Fatalf("token repository init failed: %v", err)
		}
		if err := seedUpstreamToken(ctx, db, tokenRepo); err != nil {
			log.Fatalf("seed upstream token failed: %v", err)
		}
		logger.Info("seeded upstream token")
	} else {
		logger.Warn("ENCRYPTION_KEY not set, skipping upstream token seed")
	}

	alerts := demoAlerts(userID)
	for _, a := range alerts {
		if err := a.Validate(); err != nil {
			log.Fatalf("seed alert %s invalid: %v", a.TradingSymbol, err)
		}
		if err := seedAlert(ctx, db, a); err != nil {
			log.Fatalf("seed alert %s failed: %v", a.TradingSymbol, err)
		}
		logger.Info("seeded alert", "symbol", a.TradingSymbol, "position", a.Position)
	}
}

func seedUser(ctx context.Context, db *postgres.DB) (int64, error) {
	const upsert = `
		INSERT INTO users (email, device_token, telegram_chat_id, telegram_enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`
	var id int64
	err := db.QueryRowContext(ctx, upsert, "demo@stockpulse.local", "demo-device-token", int64(0), false).Scan(&id)
	return id, err
}

func seedUpstreamToken(ctx context.Context, db *postgres.DB, tokenRepo *postgres.TokenRepository) error {
	tokenEnc, err := tokenRepo.SealToken("demo-bearer-token")
	if err != nil {
		return err
	}
	const stmt = `
		INSERT INTO upstream_tokens (token_enc, updated_at)
		VALUES ($1, NOW())
	`
	_, err = db.ExecContext(ctx, stmt, tokenEnc)
	return err
}

func demoAlerts(userID int64) []domain.Alert {
	return []domain.Alert{
		{
			UserID:        userID,
			InstrumentKey: "NSE_EQ|INE848E01016",
			TradingSymbol: "NHPC",
			Position:      domain.PositionLong,
			EntryPrice:    decimal.NewFromFloat(85.00),
			StopLoss:      decimal.NewFromFloat(82.00),
			TargetPrice:   decimal.NewFromFloat(92.00),
			Level:         1,
			TradeType:     "intraday",
			Status:        domain.StatusPending,
		},
		{
			UserID:        userID,
			InstrumentKey: "NSE_EQ|INE467B01029",
			TradingSymbol: "TCS",
			Position:      domain.PositionShort,
			EntryPrice:    decimal.NewFromFloat(3900.00),
			StopLoss:      decimal.NewFromFloat(3960.00),
			TargetPrice:   decimal.NewFromFloat(3800.00),
			Level:         1,
			TradeType:     "swing",
			Status:        domain.StatusPending,
		},
	}
}

func seedAlert(ctx context.Context, db *postgres.DB, a domain.Alert) error {
	const stmt = `
		INSERT INTO alerts
			(user_id, instrument_key, trading_symbol, position, entry_price, stop_loss,
			 target_price, level, trade_type, status, entry_crossed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, NOW(), NOW())
	`
	_, err := db.ExecContext(ctx, stmt,
		a.UserID, a.InstrumentKey, a.TradingSymbol, a.Position, a.EntryPrice, a.StopLoss,
		a.TargetPrice, a.Level, a.TradeType, a.Status,
	)
	return err
}
