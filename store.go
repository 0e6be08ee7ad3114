package gather

import "sync"

// ============================================================================
// MessageStore
// ============================================================================

// StoreListener receives the full ordered contents of a MessageStore after
// every effective change.
type StoreListener func(messages []Message)

// MessageStore is the ordered, deduplicated collection of messages for one
// conversation and the single source of truth the UI renders. Confirmed
// messages keep server order; pending messages float at the tail until they
// are confirmed or retired.
//
// The store is goroutine-safe for reads, but mutation is reserved for the
// owning ConversationEngine, which serializes snapshot application, optimistic
// inserts and rollbacks through a single-writer discipline. One store exists
// per open conversation; it dies with the engine.
type MessageStore struct {
	mu        sync.RWMutex
	messages  []Message
	ids       map[string]int // id -> position
	listeners []StoreListener
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{ids: make(map[string]int)}
}

// Messages returns a copy of the current ordered contents.
func (s *MessageStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

// Len returns the number of messages currently held.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Contains reports whether a message with the given id is present.
func (s *MessageStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Subscribe registers a listener invoked with a copy of the store contents
// after every effective change. Listeners run synchronously on the mutating
// goroutine, outside the store lock but inside the owning engine's write lock:
// reading the store or the pending registry from a listener is safe, but
// calling back into the engine (Send, LoadMore, HasMore, ...) deadlocks. Hand
// off to another goroutine for that.
func (s *MessageStore) Subscribe(l StoreListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Replace atomically swaps the store contents. Redelivered identical state is
// absorbed silently: listeners fire only when the contents actually changed.
// Duplicate ids within the replacement are dropped, first occurrence wins.
func (s *MessageStore) Replace(messages []Message) bool {
	next := make([]Message, 0, len(messages))
	ids := make(map[string]int, len(messages))
	for _, m := range messages {
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = len(next)
		next = append(next, m)
	}

	s.mu.Lock()
	if equalMessages(s.messages, next) {
		s.mu.Unlock()
		return false
	}
	s.messages = next
	s.ids = ids
	snapshot := append([]Message(nil), next...)
	listeners := s.listeners
	s.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
	return true
}

// Append adds a message at the tail. A message whose id is already present is
// ignored.
func (s *MessageStore) Append(m Message) bool {
	s.mu.Lock()
	if _, ok := s.ids[m.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.ids[m.ID] = len(s.messages)
	s.messages = append(s.messages, m)
	snapshot := append([]Message(nil), s.messages...)
	listeners := s.listeners
	s.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
	return true
}

// Remove deletes the message with the given id, preserving order of the rest.
func (s *MessageStore) Remove(id string) bool {
	s.mu.Lock()
	pos, ok := s.ids[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.messages = append(s.messages[:pos], s.messages[pos+1:]...)
	delete(s.ids, id)
	for i := pos; i < len(s.messages); i++ {
		s.ids[s.messages[i].ID] = i
	}
	snapshot := append([]Message(nil), s.messages...)
	listeners := s.listeners
	s.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
	return true
}

func equalMessages(a, b []Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
