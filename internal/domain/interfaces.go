package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CacheStore is the shared key-value surface described in §6,
// implementable over Redis or any equivalent. All multi-key operations
// are expected to be pipelined by the implementation.
type CacheStore interface {
	SetLastTick(ctx context.Context, sym Symbol, fields map[string]string, ttl time.Duration) error
	// SetLastTicks is the batched form of SetLastTick: one pipelined
	// round trip for every symbol in the flush batch (§4.2).
	SetLastTicks(ctx context.Context, ticks map[Symbol]map[string]string, ttl time.Duration) error
	GetLastTicks(ctx context.Context, syms []Symbol) (map[Symbol]map[string]string, error)
	SetLastClose(ctx context.Context, sym Symbol, price decimal.Decimal) error
	GetLastClose(ctx context.Context, syms []Symbol) (map[Symbol]decimal.Decimal, error)

	AddViewer(ctx context.Context, sym Symbol, userID int64) (viewerCount int64, err error)
	RemoveViewer(ctx context.Context, sym Symbol, userID int64) (viewerCount int64, err error)
	ViewerCount(ctx context.Context, sym Symbol) (int64, error)
	// ViewerCounts is the batched form of ViewerCount: one pipelined
	// round trip for the whole symbol slice, used by FilterSubscribable
	// and the reconciler's removal pass (§4.5).
	ViewerCounts(ctx context.Context, syms []Symbol) (map[Symbol]int64, error)
	ViewersOf(ctx context.Context, userID int64) ([]Symbol, error)
	RemoveUserFromAllViewerSets(ctx context.Context, userID int64, symbols []Symbol) error

	AddPersistent(ctx context.Context, syms []Symbol) error
	RemovePersistent(ctx context.Context, syms []Symbol) error
	PersistentMembers(ctx context.Context) ([]Symbol, error)
	IsPersistent(ctx context.Context, sym Symbol) (bool, error)

	AddGlobal(ctx context.Context, syms []Symbol) error
	GlobalMembers(ctx context.Context) ([]Symbol, error)

	// Ping verifies connectivity for the health surface (§7).
	Ping(ctx context.Context) error
}

// AlertRepository is the durable-store interface from §6: read-all
// non-terminal alerts with user hydration, bulk status/last_ltp/
// entry_crossed writes, and the two aggregate queries the
// Alert-Subscription Manager needs.
type AlertRepository interface {
	// LoadNonTerminal returns every alert whose status is not
	// terminal, with its owning User hydrated. Alerts whose owner
	// cannot be hydrated are omitted by the implementation (§4.3).
	LoadNonTerminal(ctx context.Context) ([]Alert, error)

	// BulkWrite persists a batch of non-skip updates for a single
	// tick in one round-trip.
	BulkWrite(ctx context.Context, updates []AlertUpdate) error

	// DistinctInstruments returns the distinct instrument keys of
	// every non-terminal alert.
	DistinctInstruments(ctx context.Context) ([]Symbol, error)

	// CountNonTerminal returns how many non-terminal alerts still
	// reference sym. The Alert-Subscription Manager decides persistence
	// from DistinctInstruments and does not call it.
	CountNonTerminal(ctx context.Context, sym Symbol) (int, error)
}

// FeedStatus is the Feed Client's connection state machine (§4.1).
type FeedStatus string

const (
	FeedDisconnected FeedStatus = "disconnected"
	FeedConnecting   FeedStatus = "connecting"
	FeedOpen         FeedStatus = "open"
	FeedClosing      FeedStatus = "closing"
	FeedExhausted    FeedStatus = "exhausted"
)

// FeedClient maintains the single upstream WebSocket connection.
type FeedClient interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, syms []Symbol) error
	Unsubscribe(ctx context.Context, syms []Symbol) error
	Status() FeedStatus
	// Ticks returns the channel of decoded ticks; it is valid for the
	// lifetime of the client.
	Ticks() <-chan Tick
	// Reconnects returns a channel that receives a value every time
	// the client opens an upstream connection and has re-sent its
	// subscriptions, the first connection included, driving the
	// ws-reconnected broadcast (§4.1, S5).
	Reconnects() <-chan struct{}
	Close() error
}

// TokenProvider supplies the bearer token the Feed Client needs to
// fetch the upstream redirect URL (§4.1). It is backed by the external
// token-refresh collaborator via the durable store.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// NotificationChannel identifies a notification transport.
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelChat  NotificationChannel = "chat"
	ChannelPush  NotificationChannel = "push"
)

// AlertNotification is the self-contained snapshot queued per §4.6.
type AlertNotification struct {
	AlertID       int64
	UserID        int64
	TradingSymbol string
	Status        AlertStatus
	CurrentPrice  decimal.Decimal
	EntryPrice    decimal.Decimal
	StopLoss      decimal.Decimal
	TargetPrice   decimal.Decimal
	Position      Position
	TradeType     string
	Level         int
	TriggeredAt   time.Time
	Priority      int
}

// Recipient carries the per-channel delivery handle resolved from the
// owning User at enqueue time.
type Recipient struct {
	UserID         int64
	Email          string
	DeviceToken    string
	TelegramChatID int64
}

// NotificationTransport sends one notification over one channel. A
// permanent failure (recipient invalid) is signaled with
// ErrNotificationPermanent; anything else is treated as transient and
// retried by the worker per §4.6.
type NotificationTransport interface {
	Send(ctx context.Context, channel NotificationChannel, recipient Recipient, n AlertNotification) error
}

// ChannelDisabler disables a channel on a user after a permanent
// failure (§4.6, S6): clears telegram_chat_id/telegram_enabled, or the
// equivalent for other channels.
type ChannelDisabler interface {
	DisableChannel(ctx context.Context, userID int64, channel NotificationChannel) error
}

// LiveFanout is the per-user/per-instrument room abstraction over
// client sockets (§4.7).
type LiveFanout interface {
	EmitTick(sym Symbol, fields map[string]string)
	EmitAlertStatusUpdated(userID int64, payload AlertStatusPayload)
	EmitAlertTriggered(userID int64, payload AlertTriggeredPayload)
	BroadcastReconnected()
}

// AlertStatusPayload is the alert_status_updated event body (§4.4/§6).
type AlertStatusPayload struct {
	AlertID      int64           `json:"alertId"`
	Status       AlertStatus     `json:"status"`
	Symbol       Symbol          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	Position     Position        `json:"position"`
	TradeType    string          `json:"trade_type"`
	EntryCrossed bool            `json:"entry_crossed"`
	Timestamp    time.Time       `json:"timestamp"`
}

// AlertTriggeredPayload is the alert_triggered event body (§4.4/§6).
type AlertTriggeredPayload struct {
	AlertID       int64  `json:"alertId"`
	TradingSymbol string `json:"trading_symbol"`
	Status        AlertStatus `json:"status"`
}
