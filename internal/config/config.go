package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env          string
	Database     DatabaseConfig
	Redis        RedisConfig
	Crypto       CryptoConfig
	Feed         FeedConfig
	Notification NotificationConfig
	Telegram     TelegramConfig
	Server       ServerConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d *DatabaseConfig) ConnectString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CryptoConfig struct {
	EncryptionKey string
}

// FeedConfig tunes the upstream Feed Client (§4.1).
type FeedConfig struct {
	AuthURL             string
	Testnet             bool
	AuthTimeout         time.Duration
	ReconnectBase       time.Duration
	ReconnectMaxDelay   time.Duration
	ReconnectMaxAttempts int
	TickBufferFlush     time.Duration
}

// NotificationConfig tunes the notification dispatch (§4.6).
type NotificationConfig struct {
	EmailRatePerSecond int
	ChatRatePerSecond  int
	MaxAttempts        int
	RetryBaseDelay     time.Duration
	PurgeInterval      time.Duration
}

type TelegramConfig struct {
	BotToken string
	AdminID  int64
}

type ServerConfig struct {
	MetricsAddr string
	WSAddr      string
}

func LoadConfig() (*Config, error) {
	env := getEnv("ENV", "local")

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "stockpulse"),
		Password: getEnv("DB_PASSWORD", "secret_password"),
		DBName:   getEnv("DB_NAME", "stockpulse"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	redisConfig := RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}

	cryptoConfig := CryptoConfig{
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
	}

	feedConfig := FeedConfig{
		AuthURL:              getEnv("FEED_AUTH_URL", "https://api.upstox.com/v3/feed/market-data-feed/authorize"),
		Testnet:              getEnvBool("FEED_TESTNET", true),
		AuthTimeout:          getEnvSeconds("FEED_AUTH_TIMEOUT_SECONDS", 10),
		ReconnectBase:        getEnvSeconds("FEED_RECONNECT_BASE_SECONDS", 1),
		ReconnectMaxDelay:    getEnvSeconds("FEED_RECONNECT_MAX_SECONDS", 60),
		ReconnectMaxAttempts: getEnvInt("FEED_RECONNECT_MAX_ATTEMPTS", 10),
		TickBufferFlush:      time.Duration(getEnvInt("FEED_TICK_FLUSH_MS", 100)) * time.Millisecond,
	}

	notificationConfig := NotificationConfig{
		EmailRatePerSecond: getEnvInt("NOTIFY_EMAIL_RATE", 5),
		ChatRatePerSecond:  getEnvInt("NOTIFY_CHAT_RATE", 10),
		MaxAttempts:        getEnvInt("NOTIFY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:     getEnvSeconds("NOTIFY_RETRY_BASE_SECONDS", 2),
		PurgeInterval:      getEnvSeconds("NOTIFY_PURGE_INTERVAL_SECONDS", 300),
	}

	telegramConfig := TelegramConfig{
		BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminID:  getEnvInt64("ADMIN_TELEGRAM_ID", 0),
	}

	serverConfig := ServerConfig{
		MetricsAddr: getEnv("METRICS_ADDR", ":9095"),
		WSAddr:      getEnv("WS_ADDR", ":8080"),
	}

	return &Config{
		Env:          env,
		Database:     dbConfig,
		Redis:        redisConfig,
		Crypto:       cryptoConfig,
		Feed:         feedConfig,
		Notification: notificationConfig,
		Telegram:     telegramConfig,
		Server:       serverConfig,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		v, err := strconv.Atoi(value)
		if err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		v, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}
