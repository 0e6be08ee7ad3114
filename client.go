// Package gather provides the Go client SDK for the Gather social/event
// chat backend, centered on a real-time optimistic message synchronization
// engine.
//
// The engine reconciles messages a user just sent locally with snapshots
// arriving from a live server subscription, without duplication, without
// losing unsent messages on failure, and without re-identifying a message
// except for its single pending -> confirmed transition.
//
// Example:
//
//	client := gather.NewClient(token)
//	senderID, _ := client.SenderID(ctx)
//
//	feed := client.Realtime.OpenFeed(nil)
//	engine := gather.NewConversationEngine(convID, senderID, client.Chat, feed, nil)
//	engine.Store().Subscribe(render)
//	engine.Open(ctx)
//	defer engine.Close()
//
//	engine.Send(ctx, "hello")
//	engine.LoadMore(ctx)
package gather

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.gather.social"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the authenticated entry point to the Gather backend. Sub-clients
// group the API surface; Chat is the engine-facing remote boundary.
type Client struct {
	token      string
	baseURL    string
	userAgent  string
	httpClient *http.Client

	Account       *AccountClient
	Conversations *ConversationsClient
	Chat          *ChatClient
	Realtime      *RealtimeClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithUserAgent(agent string) ClientOption {
	return func(c *Client) { c.userAgent = agent }
}

// NewClient creates a new Gather client. token is the session JWT; pass ""
// for the pre-login surface (Account.Login).
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Account = &AccountClient{client: c}
	c.Conversations = &ConversationsClient{client: c}
	c.Chat = &ChatClient{client: c}
	c.Realtime = &RealtimeClient{client: c}
	return c
}

// SetToken sets or updates the session token, e.g. after login or refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the current session token.
func (c *Client) Token() string {
	return c.token
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResult, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[APIResult](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func resultErr(r *APIResult, fallback string) error {
	if r.Error != nil {
		return r.Error
	}
	return &APIError{Code: "UNKNOWN", Message: fallback}
}

// ============================================================================
// Account
// ============================================================================

// AccountClient covers the session boundary. Authentication itself lives in
// the backend; the SDK only carries the token.
type AccountClient struct{ client *Client }

func (a *AccountClient) Login(ctx context.Context, opts *LoginOptions) (*APIResult, error) {
	return a.client.do(ctx, "POST", "/api/auth/login", opts, nil)
}

func (a *AccountClient) Me(ctx context.Context) (*APIResult, error) {
	return a.client.do(ctx, "GET", "/api/chat/me", nil, nil)
}

func (a *AccountClient) RefreshToken(ctx context.Context) (*APIResult, error) {
	return a.client.do(ctx, "POST", "/api/auth/token/refresh", nil, nil)
}

// ============================================================================
// Conversations
// ============================================================================

// ConversationsClient resolves the conversation ids the engine runs on. The
// three chat screens map onto it: direct chats via CreateDirect, event-group
// chats via ForEvent, paid-session chats via ForSession.
type ConversationsClient struct{ client *Client }

func (cv *ConversationsClient) List(ctx context.Context, withUnread bool) (*APIResult, error) {
	var query map[string]string
	if withUnread {
		query = map[string]string{"withUnread": "true"}
	}
	return cv.client.do(ctx, "GET", "/api/chat/conversations", nil, query)
}

func (cv *ConversationsClient) Get(ctx context.Context, conversationID string) (*APIResult, error) {
	return cv.client.do(ctx, "GET", "/api/chat/conversations/"+conversationID, nil, nil)
}

// CreateDirect returns the direct conversation with a user, creating it on
// first contact.
func (cv *ConversationsClient) CreateDirect(ctx context.Context, userID string) (*APIResult, error) {
	return cv.client.do(ctx, "POST", "/api/chat/conversations/direct", map[string]string{"userId": userID}, nil)
}

// ForEvent returns the group conversation attached to an event.
func (cv *ConversationsClient) ForEvent(ctx context.Context, eventID string) (*APIResult, error) {
	return cv.client.do(ctx, "GET", "/api/events/"+eventID+"/conversation", nil, nil)
}

// ForSession returns the conversation attached to a paid session.
func (cv *ConversationsClient) ForSession(ctx context.Context, sessionID string) (*APIResult, error) {
	return cv.client.do(ctx, "GET", "/api/sessions/"+sessionID+"/conversation", nil, nil)
}

// ============================================================================
// Chat
// ============================================================================

// ChatClient implements the engine's Transport: the one-shot remote send and
// the cursor-paged history query.
type ChatClient struct{ client *Client }

// SendMessage performs one remote send. clientToken is the idempotency token
// the server stores with the message and echoes back in snapshots; callers
// must not retry on error, the engine surfaces the failure instead.
func (ch *ChatClient) SendMessage(ctx context.Context, conversationID, content, clientToken string) (Message, error) {
	payload := map[string]string{"content": content}
	if clientToken != "" {
		payload["clientToken"] = clientToken
	}
	result, err := ch.client.do(ctx, "POST", "/api/chat/conversations/"+conversationID+"/messages", payload, nil)
	if err != nil {
		return Message{}, err
	}
	if !result.OK {
		return Message{}, resultErr(result, "send rejected")
	}
	var data SendMessageData
	if err := result.Decode(&data); err != nil {
		return Message{}, fmt.Errorf("failed to decode send response: %w", err)
	}
	return data.Message, nil
}

// GetMessages fetches up to limit confirmed messages strictly older than
// beforeID (all-time newest when beforeID is empty), oldest first, plus
// whether more remain behind the page.
func (ch *ChatClient) GetMessages(ctx context.Context, conversationID, beforeID string, limit int) ([]Message, bool, error) {
	query := map[string]string{}
	if beforeID != "" {
		query["before"] = beforeID
	}
	if limit > 0 {
		query["limit"] = fmt.Sprintf("%d", limit)
	}
	if len(query) == 0 {
		query = nil
	}
	result, err := ch.client.do(ctx, "GET", "/api/chat/conversations/"+conversationID+"/messages", nil, query)
	if err != nil {
		return nil, false, err
	}
	if !result.OK {
		return nil, false, resultErr(result, "history fetch rejected")
	}
	var data HistoryData
	if err := result.Decode(&data); err != nil {
		return nil, false, fmt.Errorf("failed to decode history response: %w", err)
	}
	return data.Messages, data.HasMore, nil
}

// ============================================================================
// Realtime
// ============================================================================

// RealtimeClient builds subscription feeds bound to this client's base URL
// and token.
type RealtimeClient struct{ client *Client }

// OpenFeed creates a ConversationFeed. Call Open on it (or hand it to a
// ConversationEngine) to start the subscription.
func (r *RealtimeClient) OpenFeed(config *FeedConfig) *ConversationFeed {
	var cfg FeedConfig
	if config != nil {
		cfg = *config
	}
	if cfg.Token == "" {
		cfg.Token = r.client.token
	}
	// The SDK http.Client carries a request timeout that would sever a
	// long-lived socket; the feed defaults to its own client instead.
	return NewConversationFeed(r.client.baseURL, &cfg)
}
