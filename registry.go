package gather

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// PendingSendRegistry
// ============================================================================

// PendingEntry tracks one locally originated message awaiting server
// confirmation. TempID doubles as the client idempotency token attached to
// the remote send; a server that echoes it back makes retirement exact.
type PendingEntry struct {
	TempID      string
	SenderID    string
	Content     string
	SubmittedAt time.Time
	Uncertain   bool
}

// PendingSendRegistry tracks in-flight optimistic sends for one conversation.
// Entries leave the registry either when reconciliation finds a matching
// confirmed message or when the send fails and is rolled back.
type PendingSendRegistry struct {
	mu      sync.Mutex
	entries []PendingEntry
	now     func() time.Time
}

// NewPendingSendRegistry creates an empty registry.
func NewPendingSendRegistry() *PendingSendRegistry {
	return &PendingSendRegistry{now: time.Now}
}

// Register adds a pending entry for a just-submitted message and returns it.
// The temporary id carries TempIDPrefix so it can never collide with a
// server-assigned id.
func (r *PendingSendRegistry) Register(senderID, content string) PendingEntry {
	entry := PendingEntry{
		TempID:      TempIDPrefix + uuid.NewString(),
		SenderID:    senderID,
		Content:     content,
		SubmittedAt: r.now(),
	}
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return entry
}

// Retire removes the entry with the given temp id. Used by the send rollback
// path and by token-echo retirement.
func (r *PendingSendRegistry) Retire(tempID string) (PendingEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.TempID == tempID {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return e, true
		}
	}
	return PendingEntry{}, false
}

// RetireMatching removes the oldest pending entry with the same sender and
// content, submitted within the given recency window (window <= 0 disables
// the bound). Oldest-first matching avoids retiring a later duplicate send
// before an earlier one; two identical-content entries from the same sender
// remain ambiguous by nature, since without a server-echoed token there is no
// way to tell the copies apart.
func (r *PendingSendRegistry) RetireMatching(senderID, content string, window time.Duration) (PendingEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Entries are kept in submission order, so the first match is the oldest.
	for i, e := range r.entries {
		if e.SenderID != senderID || e.Content != content {
			continue
		}
		if window > 0 && r.now().Sub(e.SubmittedAt) > window {
			continue
		}
		r.entries = append(r.entries[:i], r.entries[i+1:]...)
		return e, true
	}
	return PendingEntry{}, false
}

// MarkUncertain flags entries older than maxAge as delivery-uncertain and
// returns the newly flagged ones. Flagged entries stay registered and stay
// matchable, so a late confirmation still retires them cleanly.
func (r *PendingSendRegistry) MarkUncertain(maxAge time.Duration) []PendingEntry {
	if maxAge <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var flagged []PendingEntry
	cutoff := r.now().Add(-maxAge)
	for i := range r.entries {
		if !r.entries[i].Uncertain && r.entries[i].SubmittedAt.Before(cutoff) {
			r.entries[i].Uncertain = true
			flagged = append(flagged, r.entries[i])
		}
	}
	return flagged
}

// ListPending returns all entries in submission order.
func (r *PendingSendRegistry) ListPending() []PendingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PendingEntry(nil), r.entries...)
}

// Len returns the number of registered entries.
func (r *PendingSendRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
