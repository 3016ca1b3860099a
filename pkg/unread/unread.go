// Package unread maintains the per-conversation unread ledger for the
// session viewer. Increments come only from the reconciler on confirmed
// inbound messages; resets come from view focus (and optimistically from the
// conversation-list press handler).
package unread

import (
	"sync"

	"convsync/pkg/telemetry"
)

// Ledger tracks one integer per conversation for the current session's
// viewer. All methods are safe for concurrent use.
type Ledger struct {
	mu     sync.Mutex
	counts map[string]int
	total  int
}

func New() *Ledger {
	return &Ledger{counts: make(map[string]int)}
}

// Increment raises the conversation's unread count by one.
func (l *Ledger) Increment(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[conversationID]++
	l.total++
	telemetry.TotalUnread.Set(float64(l.total))
}

// ResetForViewer zeroes the conversation's unread count. Idempotent.
func (l *Ledger) ResetForViewer(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.counts[conversationID]
	if !ok {
		return
	}
	delete(l.counts, conversationID)
	l.total -= n
	telemetry.TotalUnread.Set(float64(l.total))
}

// Count returns the conversation's current unread count.
func (l *Ledger) Count(conversationID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[conversationID]
}

// TotalUnread sums per-conversation counts for the floating badge.
func (l *Ledger) TotalUnread() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Snapshot returns a copy of the ledger for read-only consumers.
func (l *Ledger) Snapshot() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}
