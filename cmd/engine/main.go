package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stockpulse/alert-engine/internal/alertcache"
	"github.com/stockpulse/alert-engine/internal/alertengine"
	"github.com/stockpulse/alert-engine/internal/cachestore"
	"github.com/stockpulse/alert-engine/internal/config"
	"github.com/stockpulse/alert-engine/internal/dispatch"
	"github.com/stockpulse/alert-engine/internal/domain"
	"github.com/stockpulse/alert-engine/internal/feed"
	"github.com/stockpulse/alert-engine/internal/live"
	"github.com/stockpulse/alert-engine/internal/metrics"
	"github.com/stockpulse/alert-engine/internal/notify"
	"github.com/stockpulse/alert-engine/internal/store/postgres"
	"github.com/stockpulse/alert-engine/internal/subscription"
)

const (
	alertCacheRefreshPeriod = 30 * time.Second
	tickDispatchFlush       = 100 * time.Millisecond
	subscriptionReconcile   = 60 * time.Second
	cacheHealthPollPeriod   = 15 * time.Second
	notifyPollPeriod        = 2 * time.Second
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[main] received shutdown signal")
		cancel()
	}()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger.Info("starting alert engine", "env", cfg.Env)

	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		log.Fatalf("database connect failed: %v", err)
	}
	defer db.Close()
	logger.Info("connected to postgres")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	cacheStore := cachestore.NewRedisStore(redisClient)
	if err := cacheStore.Ping(ctx); err != nil {
		log.Fatalf("redis ping failed: %v", err)
	}
	logger.Info("connected to redis")

	reg := metrics.NewRegistry()

	// Repositories
	alertRepo := postgres.NewAlertRepository(db)
	userRepo := postgres.NewUserRepository(db)
	tokenRepo, err := postgres.NewTokenRepository(db, cfg.Crypto.EncryptionKey)
	if err != nil {
		log.Fatalf("token repository init failed: %v", err)
	}
	notificationQueue := postgres.NewNotificationQueue(db)

	// Alert cache (§4.3)
	cache := alertcache.NewCache(alertRepo, alertCacheRefreshPeriod)
	cache.SetMetrics(reg)

	// Upstream feed client (§4.1)
	authClient := feed.NewAuthClient(cfg.Feed.AuthURL, cfg.Feed.AuthTimeout, tokenRepo.Token)
	feedClient := feed.NewClient(
		authClient,
		feed.WithReconnectPolicy(cfg.Feed.ReconnectBase, cfg.Feed.ReconnectMaxDelay, cfg.Feed.ReconnectMaxAttempts),
		feed.WithMetrics(reg),
	)

	// Live hub and subscription registry (§4.5/§4.7) are mutually
	// referential at the domain-interface level only: the hub needs a
	// SessionCleaner, the registry needs the feed client.
	subRegistry := subscription.NewRegistry(cacheStore, feedClient)
	hub := live.NewHub(subRegistry, subRegistry, cache, cacheStore)
	hub.SetMetrics(reg)

	// Notification pipeline (§4.6). Push has no queue: it is sent
	// directly through pushTransport, fire-and-forget.
	pushTransport := notify.NewPushTransport(noopPushSender{logger: logger})
	notifyDispatcher := notify.NewDispatcher(notificationQueue, userRepo, pushTransport)
	notifyDispatcher.SetMetrics(reg)

	// Alert engine (§4.4)
	engine, err := alertengine.NewEngine(cache, alertRepo, notifyDispatcher, hub)
	if err != nil {
		log.Fatalf("alert engine init failed: %v", err)
	}
	engine.SetMetrics(reg)

	// Tick dispatcher (§4.2)
	dispatcher, err := dispatch.NewDispatcher(cacheStore, hub, engine, tickDispatchFlush, dispatch.WithMetrics(reg))
	if err != nil {
		log.Fatalf("dispatcher init failed: %v", err)
	}

	// Subscription reconciler (§4.5)
	subManager := subscription.NewManager(cacheStore, feedClient, alertRepo, subscriptionReconcile)

	// Notification transports and per-channel workers (§4.6)
	emailTransport := notify.NewEmailTransport(
		os.Getenv("SMTP_HOST"), getEnvIntDefault("SMTP_PORT", 587),
		os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"), os.Getenv("SMTP_FROM"),
	)
	emailWorker := notify.NewWorker(domain.ChannelEmail, notificationQueue, emailTransport, userRepo,
		cfg.Notification.EmailRatePerSecond, notifyPollPeriod, cfg.Notification.MaxAttempts, cfg.Notification.RetryBaseDelay)
	emailWorker.SetMetrics(reg)

	var chatWorker *notify.Worker
	if cfg.Telegram.BotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Error("telegram bot init failed, chat channel disabled", "err", err)
		} else {
			chatTransport := notify.NewChatTransport(bot)
			chatWorker = notify.NewWorker(domain.ChannelChat, notificationQueue, chatTransport, userRepo,
				cfg.Notification.ChatRatePerSecond, notifyPollPeriod, cfg.Notification.MaxAttempts, cfg.Notification.RetryBaseDelay)
			chatWorker.SetMetrics(reg)
		}
	}

	// --- Start background components ---
	go func() {
		if err := cache.Run(ctx); err != nil {
			logger.Error("alert cache run failed", "err", err)
		}
	}()

	if err := feedClient.Connect(ctx); err != nil {
		log.Fatalf("feed client start failed: %v", err)
	}

	go dispatcher.Run(ctx, feedClient.Ticks())
	go subManager.Run(ctx)
	go emailWorker.Run(ctx)
	if chatWorker != nil {
		go chatWorker.Run(ctx)
	}
	go hub.Run(ctx.Done())
	go reconnectBroadcastLoop(ctx, feedClient, hub)
	go purgeLoop(ctx, notificationQueue, cfg.Notification.PurgeInterval, logger)
	go cacheHealthLoop(ctx, cacheStore, reg)

	// --- HTTP servers ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", reg.Handler())
	metricsMux.HandleFunc("/healthz", healthHandler(reg))
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info("metrics server listening", "addr", cfg.Server.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authenticatedUserID(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		hub.ServeHTTP(w, r, userID)
	})
	wsServer := &http.Server{Addr: cfg.Server.WSAddr, Handler: wsMux}
	go func() {
		logger.Info("websocket server listening", "addr", cfg.Server.WSAddr)
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("websocket server failed", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	_ = wsServer.Shutdown(shutdownCtx)
	_ = feedClient.Close()
	dispatcher.Close()
	cache.Close()
	subManager.Close()
}

// authenticatedUserID resolves the session owner from the inbound
// request. Token verification and user lookup belong to the external
// HTTP/auth surface (§3 out of scope); this reads the id the upstream
// edge is expected to have already verified and forwarded.
func authenticatedUserID(r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func reconnectBroadcastLoop(ctx context.Context, feedClient *feed.Client, hub *live.Hub) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-feedClient.Reconnects():
			hub.BroadcastReconnected()
		}
	}
}

func purgeLoop(ctx context.Context, q *postgres.NotificationQueue, period time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.PurgeCompleted(ctx, 7*24*time.Hour)
			if err != nil {
				logger.Error("purge completed notification jobs failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("purged completed notification jobs", "count", n)
			}
		}
	}
}

func cacheHealthLoop(ctx context.Context, store *cachestore.RedisStore, reg *metrics.Registry) {
	ticker := time.NewTicker(cacheHealthPollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.SetCacheReachable(store.Ping(ctx) == nil)
		}
	}
}

func healthHandler(reg *metrics.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := reg.Health()
		w.Header().Set("Content-Type", "application/json")
		if !status.UpstreamConnected || !status.CacheReachable {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}

// noopPushSender stands in for the external push gateway (APNs/FCM),
// explicitly out of scope for this core (§1 Non-goals); it just logs
// until a real PushSender is wired in.
type noopPushSender struct {
	logger *slog.Logger
}

func (n noopPushSender) Send(ctx context.Context, deviceToken, title, body string) error {
	n.logger.Debug("push send (no-op gateway)", "device_token", deviceToken, "title", title)
	return nil
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
