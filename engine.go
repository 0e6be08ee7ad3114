package gather

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// External collaborators
// ============================================================================

// Transport is the remote boundary the engine drives: the one-shot send
// operation and the history query. *ChatClient satisfies it; tests substitute
// fakes. The engine issues exactly one SendMessage call per Send invocation
// and never retries on its own.
type Transport interface {
	SendMessage(ctx context.Context, conversationID, content, clientToken string) (Message, error)
	GetMessages(ctx context.Context, conversationID, beforeID string, limit int) ([]Message, bool, error)
}

// Feed is the push boundary: a long-lived, cancellable subscription that
// delivers full-replacement Snapshots of a conversation's confirmed tail.
// *ConversationFeed satisfies it. Transport errors surface through OnError
// while the feed stays open; reconnecting is the feed's own business.
type Feed interface {
	Open(ctx context.Context, conversationID string) error
	OnSnapshot(h func(Snapshot))
	OnError(h func(error))
	Close() error
}

// ============================================================================
// Options
// ============================================================================

// EngineOptions tunes a ConversationEngine.
type EngineOptions struct {
	// MatchWindow bounds how old a pending entry may be and still be retired
	// by the sender+content heuristic. Zero selects the default; negative
	// disables the bound.
	MatchWindow time.Duration
	// MaxPendingAge, when positive, flags unmatched pending entries older
	// than this as delivery-uncertain instead of letting them float forever.
	// Zero keeps them pending indefinitely.
	MaxPendingAge time.Duration
	// PageSize is the default history page size.
	PageSize int
}

func (o *EngineOptions) defaults() {
	if o.MatchWindow == 0 {
		o.MatchWindow = 5 * time.Minute
	}
	if o.PageSize == 0 {
		o.PageSize = 50
	}
}

// ============================================================================
// ConversationEngine
// ============================================================================

// ConversationEngine reconciles one conversation's live server tail with
// locally originated optimistic sends. It owns a MessageStore (what the UI
// renders) and a PendingSendRegistry, and merges every incoming Snapshot with
// the registry so that a message transitions pending -> confirmed exactly
// once, with the same displayed content, and is never duplicated or silently
// dropped.
//
// One engine exists per open conversation screen; direct, event-group and
// paid-session chats all run the same engine with a different conversation
// id. All mutations go through a single mutex: snapshot application, send
// registration, rollback and history prepending each happen as one atomic
// transaction, while the remote send call itself runs outside the lock so a
// slow network never delays snapshot delivery.
type ConversationEngine struct {
	conversationID string
	senderID       string
	transport      Transport
	feed           Feed
	opts           EngineOptions

	store    *MessageStore
	registry *PendingSendRegistry

	mu      sync.Mutex
	closed  bool
	window  []Message // confirmed tail from the latest snapshot, server order
	history []Message // older confirmed messages from pagination, ascending
	hasMore bool

	handlerMu   sync.RWMutex
	onUncertain []func(Message)
	onFeedError []func(error)
}

// NewConversationEngine creates an engine for one conversation. senderID is
// the current user's stable identifier, used to tell own sends apart from
// other participants' messages during reconciliation. feed may be nil when
// the caller drives ApplySnapshot directly.
func NewConversationEngine(conversationID, senderID string, transport Transport, feed Feed, opts *EngineOptions) *ConversationEngine {
	var o EngineOptions
	if opts != nil {
		o = *opts
	}
	o.defaults()
	return &ConversationEngine{
		conversationID: conversationID,
		senderID:       senderID,
		transport:      transport,
		feed:           feed,
		opts:           o,
		store:          NewMessageStore(),
		registry:       NewPendingSendRegistry(),
	}
}

// Store returns the read-only observable message store for rendering. See
// MessageStore.Subscribe for what a listener may safely do.
func (e *ConversationEngine) Store() *MessageStore { return e.store }

// Pending returns the registry entries still awaiting confirmation.
func (e *ConversationEngine) Pending() []PendingEntry { return e.registry.ListPending() }

// HasMore reports whether the last history page indicated older messages.
func (e *ConversationEngine) HasMore() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasMore
}

// OnDeliveryUncertain registers a handler invoked once per pending message
// that outlives MaxPendingAge without confirmation.
func (e *ConversationEngine) OnDeliveryUncertain(h func(Message)) {
	e.handlerMu.Lock()
	e.onUncertain = append(e.onUncertain, h)
	e.handlerMu.Unlock()
}

// OnSubscriptionError registers a handler for feed transport errors. The
// subscription stays open; the store keeps reflecting the last known
// snapshot.
func (e *ConversationEngine) OnSubscriptionError(h func(error)) {
	e.handlerMu.Lock()
	e.onFeedError = append(e.onFeedError, h)
	e.handlerMu.Unlock()
}

// Open wires the feed into the engine and starts the subscription.
func (e *ConversationEngine) Open(ctx context.Context) error {
	if e.feed == nil {
		return nil
	}
	e.feed.OnSnapshot(func(s Snapshot) {
		if s.ConversationID != "" && s.ConversationID != e.conversationID {
			return
		}
		e.ApplySnapshot(s)
	})
	e.feed.OnError(func(err error) {
		e.handlerMu.RLock()
		handlers := e.onFeedError
		e.handlerMu.RUnlock()
		for _, h := range handlers {
			h(err)
		}
	})
	return e.feed.Open(ctx, e.conversationID)
}

// Close cancels the subscription and stops accepting sends. In-flight sends
// may still complete remotely, but their results are discarded.
func (e *ConversationEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if e.feed != nil {
		return e.feed.Close()
	}
	return nil
}

// ============================================================================
// Reconciliation
// ============================================================================

// ApplySnapshot merges a full confirmed snapshot with the pending registry
// and atomically replaces the store contents with
// history + confirmed-window + remaining-pending. Applying the same snapshot
// twice is a no-op.
func (e *ConversationEngine) ApplySnapshot(snap Snapshot) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	window := make([]Message, 0, len(snap.Messages))
	seen := make(map[string]struct{}, len(snap.Messages))
	for _, m := range snap.Messages {
		if m.ID == "" {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		m.Status = StatusConfirmed

		// Retire the pending twin this confirmation subsumes. An echoed
		// client token identifies it exactly; without one, fall back to the
		// oldest pending entry with the same sender and content.
		if m.ClientToken != "" {
			e.registry.Retire(m.ClientToken)
		} else if m.SenderID == e.senderID {
			e.registry.RetireMatching(m.SenderID, m.Content, e.matchWindow())
		}
		window = append(window, m)
	}
	e.window = window

	flagged := e.registry.MarkUncertain(e.opts.MaxPendingAge)
	e.rebuildLocked()
	e.mu.Unlock()

	if len(flagged) > 0 {
		e.handlerMu.RLock()
		handlers := e.onUncertain
		e.handlerMu.RUnlock()
		for _, entry := range flagged {
			for _, h := range handlers {
				h(pendingMessage(entry))
			}
		}
	}
}

// rebuildLocked recomputes the store contents from the paged history, the
// confirmed window and the pending tail. Caller holds e.mu.
func (e *ConversationEngine) rebuildLocked() {
	inWindow := make(map[string]struct{}, len(e.window))
	for _, m := range e.window {
		inWindow[m.ID] = struct{}{}
	}

	pending := e.registry.ListPending()
	contents := make([]Message, 0, len(e.history)+len(e.window)+len(pending))
	for _, m := range e.history {
		// The live window may have grown backwards into paged history after
		// a redelivery; the window copy wins.
		if _, ok := inWindow[m.ID]; ok {
			continue
		}
		contents = append(contents, m)
	}
	contents = append(contents, e.window...)
	for _, entry := range pending {
		contents = append(contents, pendingMessage(entry))
	}
	e.store.Replace(contents)
}

func pendingMessage(entry PendingEntry) Message {
	status := StatusPending
	if entry.Uncertain {
		status = StatusFailed
	}
	return Message{
		ID:          entry.TempID,
		SenderID:    entry.SenderID,
		Content:     entry.Content,
		Status:      status,
		ClientToken: entry.TempID,
	}
}

func (e *ConversationEngine) matchWindow() time.Duration {
	if e.opts.MatchWindow < 0 {
		return 0
	}
	return e.opts.MatchWindow
}

// ============================================================================
// Optimistic send
// ============================================================================

// Send validates, optimistically inserts and then performs the remote send.
// The pending message appears in the store before the network call starts, so
// the UI updates instantly. On failure the insert is rolled back and the
// returned *SendError carries the attempted content for restoring the input
// field. On success the pending entry is left in place: the server is the
// source of truth for final ordering and timestamps, and the next snapshot
// retires it.
func (e *ConversationEngine) Send(ctx context.Context, content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	entry := e.registry.Register(e.senderID, trimmed)
	e.store.Append(pendingMessage(entry))
	e.mu.Unlock()

	// Exactly one remote call, outside the lock so snapshot delivery is
	// never blocked behind a slow send.
	_, err := e.transport.SendMessage(ctx, e.conversationID, trimmed, entry.TempID)
	if err != nil {
		e.mu.Lock()
		if e.closed {
			// Store already torn down; the result is discarded.
			e.mu.Unlock()
			return ErrEngineClosed
		}
		e.registry.Retire(entry.TempID)
		e.store.Remove(entry.TempID)
		e.mu.Unlock()
		return &SendError{Content: trimmed, Err: err}
	}
	return nil
}

// ============================================================================
// History paging
// ============================================================================

// LoadBefore fetches one page of confirmed messages strictly older than
// cursorID and prepends them without disturbing the live tail. Repeating the
// call with the same cursor adds nothing: pages are deduplicated against
// already-present ids. The returned bool reports whether older messages
// remain.
func (e *ConversationEngine) LoadBefore(ctx context.Context, cursorID string, pageSize int) (bool, error) {
	if pageSize <= 0 {
		pageSize = e.opts.PageSize
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrEngineClosed
	}
	e.mu.Unlock()

	page, hasMore, err := e.transport.GetMessages(ctx, e.conversationID, cursorID, pageSize)
	if err != nil {
		return false, &HistoryError{Cursor: cursorID, Err: err}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrEngineClosed
	}
	fresh := make([]Message, 0, len(page))
	for _, m := range page {
		if m.ID == "" || e.store.Contains(m.ID) {
			continue
		}
		m.Status = StatusConfirmed
		fresh = append(fresh, m)
	}
	if len(fresh) > 0 {
		e.history = append(fresh, e.history...)
	}
	e.hasMore = hasMore
	e.rebuildLocked()
	e.mu.Unlock()

	return hasMore, nil
}

// LoadMore pages backwards from the oldest confirmed message currently held.
// It reports whether further history exists. With no confirmed messages yet
// there is nothing to page behind and the call is a no-op.
func (e *ConversationEngine) LoadMore(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrEngineClosed
	}
	cursor := ""
	if len(e.history) > 0 {
		cursor = e.history[0].ID
	} else if len(e.window) > 0 {
		cursor = e.window[0].ID
	}
	pageSize := e.opts.PageSize
	e.mu.Unlock()

	if cursor == "" {
		return false, nil
	}
	return e.LoadBefore(ctx, cursor, pageSize)
}
