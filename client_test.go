package gather

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiOK(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	json.NewEncoder(w).Encode(APIResult{OK: true, Data: raw})
}

func apiFail(t *testing.T, w http.ResponseWriter, code, message string) {
	t.Helper()
	json.NewEncoder(w).Encode(APIResult{OK: false, Error: &APIError{Code: code, Message: message}})
}

func TestClientSendsBearerAuth(t *testing.T) {
	var gotAuth, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		apiOK(t, w, User{ID: "u-1"})
	}))
	defer srv.Close()

	c := NewClient("tok-xyz", WithBaseURL(srv.URL), WithUserAgent("gather-test/1.0"))
	_, err := c.Account.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-xyz", gotAuth)
	assert.Equal(t, "gather-test/1.0", gotAgent)
}

func TestClientOptions(t *testing.T) {
	c := NewClient("t", WithBaseURL("https://example.com/"), WithTimeout(5*time.Second))
	assert.Equal(t, "https://example.com", c.BaseURL())
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
	assert.Equal(t, "t", c.Token())

	c.SetToken("t2")
	assert.Equal(t, "t2", c.Token())
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/api/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "login is the pre-token surface")

		var opts LoginOptions
		require.NoError(t, json.NewDecoder(r.Body).Decode(&opts))
		if opts.Password != "hunter2" {
			apiFail(t, w, "INVALID_CREDENTIALS", "wrong password")
			return
		}
		apiOK(t, w, LoginData{
			Token: "session-token",
			User:  User{ID: "u-1", Username: opts.Username},
		})
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL))
	result, err := c.Account.Login(context.Background(), &LoginOptions{Username: "sam", Password: "hunter2"})
	require.NoError(t, err)
	require.True(t, result.OK)

	var data LoginData
	require.NoError(t, result.Decode(&data))
	assert.Equal(t, "session-token", data.Token)
	assert.Equal(t, "sam", data.User.Username)

	result, err = c.Account.Login(context.Background(), &LoginOptions{Username: "sam", Password: "nope"})
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, "INVALID_CREDENTIALS", result.Error.Code)
}

func TestChatSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/api/chat/conversations/conv-1/messages", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["content"])
		assert.Equal(t, "local-abc", body["clientToken"])

		apiOK(t, w, SendMessageData{ConversationID: "conv-1", Message: Message{
			ID:          "m-1",
			SenderID:    "u-1",
			Content:     body["content"],
			ClientToken: body["clientToken"],
			CreatedAt:   "2026-03-01T10:00:00Z",
		}})
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))
	msg, err := c.Chat.SendMessage(context.Background(), "conv-1", "hello", "local-abc")
	require.NoError(t, err)
	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, "local-abc", msg.ClientToken, "the token comes back for reconciliation")
}

func TestChatSendMessageRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiFail(t, w, "NOT_PARTICIPANT", "you are not in this conversation")
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))
	_, err := c.Chat.SendMessage(context.Background(), "conv-1", "hello", "local-abc")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NOT_PARTICIPANT", apiErr.Code)
}

func TestChatGetMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat/conversations/conv-1/messages", r.URL.Path)
		assert.Equal(t, "m050", r.URL.Query().Get("before"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))

		apiOK(t, w, HistoryData{
			Messages: []Message{{ID: "m048"}, {ID: "m049"}},
			HasMore:  true,
		})
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))
	msgs, hasMore, err := c.Chat.GetMessages(context.Background(), "conv-1", "m050", 20)
	require.NoError(t, err)
	assert.True(t, hasMore)
	assert.Equal(t, []string{"m048", "m049"}, ids(msgs))
}

func TestConversationsEndpoints(t *testing.T) {
	var gotPath, gotQuery string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotBody = nil
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&gotBody)
		}
		apiOK(t, w, Conversation{ID: "conv-9"})
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))
	ctx := context.Background()

	_, err := c.Conversations.List(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "/api/chat/conversations", gotPath)
	assert.Equal(t, "withUnread=true", gotQuery)

	_, err = c.Conversations.CreateDirect(ctx, "u-7")
	require.NoError(t, err)
	assert.Equal(t, "/api/chat/conversations/direct", gotPath)
	assert.Equal(t, "u-7", gotBody["userId"])

	_, err = c.Conversations.ForEvent(ctx, "ev-3")
	require.NoError(t, err)
	assert.Equal(t, "/api/events/ev-3/conversation", gotPath)

	_, err = c.Conversations.ForSession(ctx, "sess-5")
	require.NoError(t, err)
	assert.Equal(t, "/api/sessions/sess-5/conversation", gotPath)
}

// ============================================================================
// Identity
// ============================================================================

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestSenderIDFromToken(t *testing.T) {
	t.Run("subject claim", func(t *testing.T) {
		tok := signedToken(t, jwt.MapClaims{"sub": "u-42"})
		id, err := SenderIDFromToken(tok)
		require.NoError(t, err)
		assert.Equal(t, "u-42", id)
	})

	t.Run("userId claim", func(t *testing.T) {
		tok := signedToken(t, jwt.MapClaims{"userId": "u-43"})
		id, err := SenderIDFromToken(tok)
		require.NoError(t, err)
		assert.Equal(t, "u-43", id)
	})

	t.Run("no identifier", func(t *testing.T) {
		tok := signedToken(t, jwt.MapClaims{"scope": "chat"})
		_, err := SenderIDFromToken(tok)
		require.Error(t, err)
	})

	t.Run("opaque token", func(t *testing.T) {
		_, err := SenderIDFromToken("not-a-jwt")
		require.Error(t, err)
	})
}

func TestClientSenderIDFallsBackToMe(t *testing.T) {
	var meCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat/me", r.URL.Path)
		meCalls++
		apiOK(t, w, User{ID: "u-99", Username: "sam"})
	}))
	defer srv.Close()

	// A token with claims never hits the network.
	c := NewClient(signedToken(t, jwt.MapClaims{"sub": "u-42"}), WithBaseURL(srv.URL))
	id, err := c.SenderID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u-42", id)
	assert.Zero(t, meCalls)

	// An opaque token resolves through /me.
	c = NewClient("opaque-session-token", WithBaseURL(srv.URL))
	id, err = c.SenderID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u-99", id)
	assert.Equal(t, 1, meCalls)
}
