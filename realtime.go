package gather

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

// FeedEnvelope is the wire format for all push events.
type FeedEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// FeedErrorPayload is sent when a server-side subscription error occurs.
type FeedErrorPayload struct {
	Message string `json:"message"`
}

// Push event types.
const (
	eventSnapshot = "conversation.snapshot"
	eventError    = "error"
)

// ============================================================================
// Configuration
// ============================================================================

// FeedConfig configures a ConversationFeed.
type FeedConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	PingInterval         time.Duration
	HTTPClient           *http.Client
}

func (c *FeedConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.PingInterval == 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// FeedState represents the subscription connection state.
type FeedState string

const (
	FeedDisconnected FeedState = "disconnected"
	FeedConnecting   FeedState = "connecting"
	FeedConnected    FeedState = "connected"
	FeedReconnecting FeedState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *FeedConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// ConversationFeed
// ============================================================================

// ConversationFeed is the live subscription to one conversation's confirmed
// tail. The server pushes full-replacement snapshots over a WebSocket
// whenever its copy of the conversation changes; the feed decodes them and
// hands them to registered handlers in arrival order, on the read-loop
// goroutine, so snapshot ordering is preserved end to end.
//
// Server-sent error events are surfaced through OnError handlers while the
// subscription stays open. Dropped connections reconnect with exponential
// backoff when AutoReconnect is set; in between, consumers keep rendering the
// last delivered snapshot.
type ConversationFeed struct {
	baseURL string
	config  *FeedConfig

	mu               sync.Mutex
	conn             *websocket.Conn
	state            FeedState
	conversationID   string
	intentionalClose bool
	cancelFn         context.CancelFunc
	recon            *reconnector

	handlerMu      sync.RWMutex
	onSnapshot     []func(Snapshot)
	onError        []func(error)
	onConnected    []func()
	onDisconnected []func(code int, reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

// NewConversationFeed creates an unconnected feed against the given API base
// URL. Call Open to start the subscription.
func NewConversationFeed(baseURL string, config *FeedConfig) *ConversationFeed {
	var cfg FeedConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &ConversationFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  &cfg,
		state:   FeedDisconnected,
		recon:   newReconnector(&cfg),
	}
}

// OnSnapshot registers a handler for conversation snapshots.
func (f *ConversationFeed) OnSnapshot(h func(Snapshot)) {
	f.handlerMu.Lock()
	f.onSnapshot = append(f.onSnapshot, h)
	f.handlerMu.Unlock()
}

// OnError registers a handler for subscription errors.
func (f *ConversationFeed) OnError(h func(error)) {
	f.handlerMu.Lock()
	f.onError = append(f.onError, h)
	f.handlerMu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (f *ConversationFeed) OnConnected(h func()) {
	f.handlerMu.Lock()
	f.onConnected = append(f.onConnected, h)
	f.handlerMu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (f *ConversationFeed) OnDisconnected(h func(code int, reason string)) {
	f.handlerMu.Lock()
	f.onDisconnected = append(f.onDisconnected, h)
	f.handlerMu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (f *ConversationFeed) OnReconnecting(h func(attempt int, delay time.Duration)) {
	f.handlerMu.Lock()
	f.onReconnecting = append(f.onReconnecting, h)
	f.handlerMu.Unlock()
}

// State returns the current connection state.
func (f *ConversationFeed) State() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// FeedURL returns the WebSocket endpoint for a conversation subscription.
func (f *ConversationFeed) FeedURL(conversationID string) string {
	wsURL := strings.Replace(f.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws/conversations/" + conversationID
	if f.config.Token != "" {
		wsURL += "?token=" + f.config.Token
	}
	return wsURL
}

// Open establishes the subscription for one conversation. The server replies
// with an initial snapshot of the current tail, then pushes a replacement
// snapshot on every change.
func (f *ConversationFeed) Open(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	if f.state == FeedConnected || f.state == FeedConnecting {
		f.mu.Unlock()
		return nil
	}
	f.state = FeedConnecting
	f.conversationID = conversationID
	f.intentionalClose = false
	f.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, f.FeedURL(conversationID), &websocket.DialOptions{
		HTTPClient: f.config.HTTPClient,
	})
	if err != nil {
		f.mu.Lock()
		f.state = FeedDisconnected
		f.mu.Unlock()
		return fmt.Errorf("subscription dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	f.mu.Lock()
	f.conn = conn
	f.state = FeedConnected
	f.mu.Unlock()
	f.recon.markConnected()
	f.emitConnected()

	connCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancelFn = cancel
	f.mu.Unlock()

	go f.readLoop(connCtx, conn)
	go f.pingLoop(connCtx, conn)

	return nil
}

// Close cancels the subscription and closes the connection.
func (f *ConversationFeed) Close() error {
	f.mu.Lock()
	f.intentionalClose = true
	if f.cancelFn != nil {
		f.cancelFn()
		f.cancelFn = nil
	}
	conn := f.conn
	f.conn = nil
	f.state = FeedDisconnected
	f.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client close")
	}
	return nil
}

func (f *ConversationFeed) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			f.mu.Lock()
			intentional := f.intentionalClose
			f.mu.Unlock()
			if intentional {
				return
			}

			f.mu.Lock()
			f.state = FeedDisconnected
			f.conn = nil
			// Reap the ping loop now rather than at its next tick.
			if f.cancelFn != nil {
				f.cancelFn()
				f.cancelFn = nil
			}
			f.mu.Unlock()

			f.emitDisconnected(0, err.Error())

			if f.config.AutoReconnect && f.recon.shouldReconnect() {
				f.scheduleReconnect(context.Background())
			}
			return
		}

		var env FeedEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		switch env.Type {
		case eventSnapshot:
			var snap Snapshot
			if json.Unmarshal(env.Payload, &snap) == nil {
				// Dispatched synchronously: snapshot order is part of the
				// contract with the reconciliation layer.
				f.handlerMu.RLock()
				handlers := f.onSnapshot
				f.handlerMu.RUnlock()
				for _, h := range handlers {
					h(snap)
				}
			}
		case eventError:
			var p FeedErrorPayload
			if json.Unmarshal(env.Payload, &p) == nil {
				f.emitError(fmt.Errorf("subscription: %s", p.Message))
			}
		}
	}
}

func (f *ConversationFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

func (f *ConversationFeed) scheduleReconnect(ctx context.Context) {
	delay := f.recon.nextDelay()
	f.mu.Lock()
	f.state = FeedReconnecting
	convID := f.conversationID
	f.mu.Unlock()

	f.emitReconnecting(f.recon.attempt, delay)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return
	}

	f.mu.Lock()
	if f.intentionalClose {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	// The old connection's context died with its socket; redial against the
	// background context, as the subscription itself is still wanted.
	if err := f.Open(context.Background(), convID); err != nil {
		if f.config.AutoReconnect && f.recon.shouldReconnect() {
			f.scheduleReconnect(context.Background())
		} else {
			f.mu.Lock()
			f.state = FeedDisconnected
			f.mu.Unlock()
		}
	}
}

func (f *ConversationFeed) emitConnected() {
	f.handlerMu.RLock()
	handlers := f.onConnected
	f.handlerMu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (f *ConversationFeed) emitDisconnected(code int, reason string) {
	f.handlerMu.RLock()
	handlers := f.onDisconnected
	f.handlerMu.RUnlock()
	for _, h := range handlers {
		h(code, reason)
	}
}

func (f *ConversationFeed) emitReconnecting(attempt int, delay time.Duration) {
	f.handlerMu.RLock()
	handlers := f.onReconnecting
	f.handlerMu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

func (f *ConversationFeed) emitError(err error) {
	f.handlerMu.RLock()
	handlers := f.onError
	f.handlerMu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}
