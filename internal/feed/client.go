package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stockpulse/alert-engine/internal/domain"
	wireproto "github.com/stockpulse/alert-engine/internal/feed/proto"
)

const (
	pingInterval = 20 * time.Second
	writeTimeout = 5 * time.Second
)

// subscribeFrame is the outbound JSON control frame from §6: {guid,
// method, data:{mode, instrumentKeys}}.
type subscribeFrame struct {
	GUID   string `json:"guid"`
	Method string `json:"method"`
	Data   struct {
		Mode           string   `json:"mode"`
		InstrumentKeys []string `json:"instrumentKeys"`
	} `json:"data"`
}

// Metrics is the narrow observability hook a Client reports through;
// implemented by *metrics.Registry. Left nil-safe so tests and callers
// that don't care about metrics can omit WithMetrics entirely.
type Metrics interface {
	SetUpstreamConnected(connected bool)
	IncReconnects()
	IncExhausted()
	IncTicksReceived()
}

// Client is the sole upstream WebSocket connection, generalizing the
// teacher's MarketStream (market_stream.go) into §4.1's explicit
// Disconnected/Connecting/Open/Closing state machine with jittered
// exponential backoff and binary protobuf frame decoding in place of
// the teacher's JSON ticker decoding.
type Client struct {
	auth   *AuthClient
	logger *slog.Logger
	metrics Metrics

	reconnectBase       time.Duration
	reconnectMaxDelay   time.Duration
	reconnectMaxAttempts int

	mu     sync.Mutex
	conn   *websocket.Conn
	status domain.FeedStatus

	subsMu     sync.RWMutex
	activeSubs map[domain.Symbol]struct{}

	ticks      chan domain.Tick
	reconnects chan struct{}

	stopOnce sync.Once
	stopChan chan struct{}
}

// Option configures a Client at construction time.
type Option func(*Client)

func WithReconnectPolicy(base, maxDelay time.Duration, maxAttempts int) Option {
	return func(c *Client) {
		c.reconnectBase = base
		c.reconnectMaxDelay = maxDelay
		c.reconnectMaxAttempts = maxAttempts
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func (c *Client) reportConnected(connected bool) {
	if c.metrics != nil {
		c.metrics.SetUpstreamConnected(connected)
	}
}

func NewClient(auth *AuthClient, opts ...Option) *Client {
	c := &Client{
		auth:                 auth,
		logger:               slog.Default().With("component", "feed_client"),
		reconnectBase:        1 * time.Second,
		reconnectMaxDelay:    60 * time.Second,
		reconnectMaxAttempts: 10,
		status:               domain.FeedDisconnected,
		activeSubs:           make(map[domain.Symbol]struct{}),
		ticks:                make(chan domain.Tick, 1024),
		reconnects:           make(chan struct{}, 1),
		stopChan:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Status() domain.FeedStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(s domain.FeedStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Client) Ticks() <-chan domain.Tick   { return c.ticks }
func (c *Client) Reconnects() <-chan struct{} { return c.reconnects }

// Connect starts the maintain loop in the background and returns
// immediately, without waiting for the first connection attempt.
func (c *Client) Connect(ctx context.Context) error {
	go c.maintain(ctx)
	return nil
}

func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.status = domain.FeedDisconnected
	return nil
}

// Subscribe records instruments and, if a connection is currently
// open, sends the subscribe frame immediately (§4.1's "atomic
// re-subscribe" requirement is satisfied by activeSubs being the
// single source of truth replayed on every reconnect).
func (c *Client) Subscribe(ctx context.Context, syms []domain.Symbol) error {
	if len(syms) == 0 {
		return nil
	}
	c.subsMu.Lock()
	fresh := make([]domain.Symbol, 0, len(syms))
	for _, s := range syms {
		if _, ok := c.activeSubs[s]; !ok {
			c.activeSubs[s] = struct{}{}
			fresh = append(fresh, s)
		}
	}
	c.subsMu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	if c.Status() != domain.FeedOpen {
		return nil
	}
	return c.sendControlFrame(ctx, "sub", fresh)
}

func (c *Client) Unsubscribe(ctx context.Context, syms []domain.Symbol) error {
	if len(syms) == 0 {
		return nil
	}
	c.subsMu.Lock()
	removed := make([]domain.Symbol, 0, len(syms))
	for _, s := range syms {
		if _, ok := c.activeSubs[s]; ok {
			delete(c.activeSubs, s)
			removed = append(removed, s)
		}
	}
	c.subsMu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	if c.Status() != domain.FeedOpen {
		return nil
	}
	return c.sendControlFrame(ctx, "unsub", removed)
}

func (c *Client) sendControlFrame(ctx context.Context, method string, syms []domain.Symbol) error {
	keys := make([]string, len(syms))
	for i, s := range syms {
		keys[i] = s.String()
	}
	frame := subscribeFrame{GUID: uuid.NewString(), Method: method}
	frame.Data.Mode = "full"
	frame.Data.InstrumentKeys = keys

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(frame)
}

// maintain drives the Disconnected -> Connecting -> Open -> Closing ->
// Disconnected cycle with jittered exponential backoff, generalizing
// the teacher's maintainConnection loop (market_stream.go).
func (c *Client) maintain(ctx context.Context) {
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		default:
		}

		c.setStatus(domain.FeedConnecting)
		err := c.connectAndListen(ctx, func() {
			if attempts > 0 && c.metrics != nil {
				c.metrics.IncReconnects()
			}
			attempts = 0
		})
		c.setStatus(domain.FeedDisconnected)
		c.reportConnected(false)

		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		default:
		}

		if err != nil {
			c.logger.Error("feed connection lost", "err", err, "attempt", attempts+1)
		}

		attempts++
		if attempts >= c.reconnectMaxAttempts {
			c.setStatus(domain.FeedExhausted)
			c.logger.Error("feed reconnect attempts exhausted", "attempts", attempts)
			if c.metrics != nil {
				c.metrics.IncExhausted()
			}
			return
		}

		delay := backoffDelay(c.reconnectBase, c.reconnectMaxDelay, attempts)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		}
	}
}

// backoffDelay implements min(base*2^(attempts-1) + uniform(0,2s), max).
func backoffDelay(base, max time.Duration, attempts int) time.Duration {
	mult := time.Duration(1)
	for i := 1; i < attempts; i++ {
		mult *= 2
		if base*mult > max {
			break
		}
	}
	d := base * mult
	jitter := time.Duration(rand.Int63n(int64(2 * time.Second)))
	d += jitter
	if d > max {
		d = max
	}
	return d
}

func (c *Client) connectAndListen(ctx context.Context, onOpen func()) error {
	url, err := c.auth.RedirectURL(ctx)
	if err != nil {
		return fmt.Errorf("%w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTransport, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(domain.FeedOpen)
	c.reportConnected(true)
	onOpen()

	defer func() {
		c.mu.Lock()
		c.status = domain.FeedClosing
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	c.subsMu.RLock()
	syms := make([]domain.Symbol, 0, len(c.activeSubs))
	for s := range c.activeSubs {
		syms = append(syms, s)
	}
	c.subsMu.RUnlock()
	if len(syms) > 0 {
		if err := c.sendControlFrame(ctx, "sub", syms); err != nil {
			return fmt.Errorf("%w: resubscribe failed: %v", domain.ErrUpstreamTransport, err)
		}
	}

	select {
	case c.reconnects <- struct{}{}:
	default:
	}

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.heartbeat(hbCtx)

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrUpstreamTransport, err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		feeds, err := wireproto.DecodeFeedResponse(message)
		if err != nil {
			c.logger.Warn("feed: dropping undecodable frame", "err", err)
			continue
		}

		now := time.Now()
		for key, body := range feeds {
			ltp, ok := body.LTP()
			if !ok {
				continue
			}
			tick, err := domain.NewTick(domain.Symbol(key), ltp, now)
			if err != nil {
				c.logger.Warn("feed: skipping tick with unparseable ltp", "instrument", key, "err", err)
				continue
			}
			if c.metrics != nil {
				c.metrics.IncTicksReceived()
			}
			select {
			case c.ticks <- tick:
			default:
				c.logger.Warn("feed: tick channel full, dropping tick", "instrument", key)
			}
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Error("feed: ping failed", "err", err)
				}
			}
			c.mu.Unlock()
		}
	}
}

var _ domain.FeedClient = (*Client)(nil)
