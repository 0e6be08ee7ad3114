package gather

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a backend error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// APIResult is the generic backend response envelope.
type APIResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *APIResult) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Message Types
// ============================================================================

// MessageStatus tracks a message through the optimistic-send lifecycle.
type MessageStatus string

const (
	// StatusPending marks a locally originated message not yet confirmed
	// by the server.
	StatusPending MessageStatus = "pending"
	// StatusConfirmed marks a message the server has accepted and ordered.
	// Confirmed is terminal: the engine performs no edits or deletes.
	StatusConfirmed MessageStatus = "confirmed"
	// StatusFailed marks a pending message whose delivery is uncertain
	// (unmatched past the configured maximum pending age).
	StatusFailed MessageStatus = "failed"
)

// TempIDPrefix is the reserved prefix of client-generated temporary message
// ids, lexically distinguishing them from server-assigned ids.
const TempIDPrefix = "local-"

// Message is an immutable chat message value.
//
// ID is either a server-assigned identifier or, for pending messages, a
// client-generated temporary identifier carrying TempIDPrefix. CreatedAt is
// an RFC 3339 timestamp and is empty until the server has timestamped the
// message. ClientToken is the idempotency token the sender attached; the
// server echoes it back on confirmed messages so reconciliation can retire
// the pending twin without guessing.
type Message struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"senderId"`
	Content     string        `json:"content"`
	CreatedAt   string        `json:"createdAt,omitempty"`
	Status      MessageStatus `json:"status,omitempty"`
	ClientToken string        `json:"clientToken,omitempty"`
}

// Snapshot is a full, ordered replacement view of a conversation's confirmed
// messages, as delivered by the push transport. Every emission replaces the
// confirmed portion of the conversation wholesale: the transport may coalesce
// several changes into one emission or redeliver the same state.
type Snapshot struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// ============================================================================
// Conversation & Account Types
// ============================================================================

// Conversation describes one chat a user participates in. Type is "direct",
// "event" or "session" depending on which screen opened it; the sync engine
// itself is screen-agnostic.
type Conversation struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Title         string   `json:"title,omitempty"`
	MemberIDs     []string `json:"memberIds,omitempty"`
	LastMessage   *Message `json:"lastMessage,omitempty"`
	LastMessageAt string   `json:"lastMessageAt,omitempty"`
	UnreadCount   int      `json:"unreadCount,omitempty"`
}

// User identifies an account as returned by the backend.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// LoginOptions are the credentials for a session login.
type LoginOptions struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginData is the payload returned by a successful login.
type LoginData struct {
	Token     string `json:"token"`
	ExpiresIn string `json:"expiresIn,omitempty"`
	User      User   `json:"user"`
}

// TokenData is the payload returned by a token refresh.
type TokenData struct {
	Token     string `json:"token"`
	ExpiresIn string `json:"expiresIn,omitempty"`
}

// SendMessageData is the payload returned by the remote send operation.
type SendMessageData struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}

// HistoryData is the payload returned by the history query operation.
type HistoryData struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

// ============================================================================
// Engine Errors
// ============================================================================

// ErrEmptyMessage is returned by Send when the content is empty after
// trimming. The validation resolves locally, before any optimistic mutation.
var ErrEmptyMessage = errors.New("gather: message content is empty")

// ErrEngineClosed is returned when a conversation engine has been torn down.
var ErrEngineClosed = errors.New("gather: conversation engine is closed")

// SendError reports a failed remote send. Content carries the attempted text
// so the UI can restore it into the input field; the message is never retried
// automatically.
type SendError struct {
	Content string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// HistoryError reports a failed history fetch. Safe to retry manually with
// the same cursor.
type HistoryError struct {
	Cursor string
	Err    error
}

func (e *HistoryError) Error() string {
	return fmt.Sprintf("history fetch failed: %v", e.Err)
}

func (e *HistoryError) Unwrap() error { return e.Err }
