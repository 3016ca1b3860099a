// Package cache holds the per-conversation, ordered, deduplicated in-memory
// message collection every other engine component reads. Only the send
// pipeline and the change-stream reconciler mutate it.
package cache

import (
	"sort"
	"sync"
	"time"

	"convsync/pkg/models"
)

// pendingWindow bounds how far a confirmed message's server timestamp may
// drift from the client timestamp recorded at send time and still reconcile
// against the provisional entry.
const pendingWindow = 5 * time.Minute

type entry struct {
	msg models.Message
	seq uint64 // insertion order, tie-break for identical timestamps
}

type pendingSend struct {
	tempID string
	ts     time.Time
}

// Cache is safe for concurrent use; all mutations serialize behind one lock.
type Cache struct {
	mu     sync.Mutex
	byConv map[string][]entry
	conv   map[string]string // message id -> conversation key
	// pending maps (sender, text) to outstanding provisional sends so a
	// confirmed arrival replaces the provisional entry in place.
	pending map[string][]pendingSend
	seq     uint64
}

func New() *Cache {
	return &Cache{
		byConv:  make(map[string][]entry),
		conv:    make(map[string]string),
		pending: make(map[string][]pendingSend),
	}
}

func pendingKey(sender, text string) string {
	return sender + "\x00" + text
}

// TrackPending records a provisional send so that the confirmed counterpart
// (arriving via create response or change stream) replaces it instead of
// appending a duplicate. Called by the send pipeline at send time.
func (c *Cache) TrackPending(sender, text string, ts time.Time, tempID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := pendingKey(sender, text)
	c.pending[k] = append(c.pending[k], pendingSend{tempID: tempID, ts: ts})
}

// takePending returns the temp id of an outstanding send matching the
// confirmed message, consuming the record. Caller holds c.mu.
func (c *Cache) takePending(m models.Message) (string, bool) {
	k := pendingKey(m.Sender, m.Text)
	sends := c.pending[k]
	for i, p := range sends {
		d := m.CreatedAt.Sub(p.ts)
		if d < 0 {
			d = -d
		}
		if d <= pendingWindow {
			c.pending[k] = append(sends[:i:i], sends[i+1:]...)
			if len(c.pending[k]) == 0 {
				delete(c.pending, k)
			}
			return p.tempID, true
		}
	}
	return "", false
}

// Upsert merges a message into the cache, deduplicating by id. A confirmed
// message matching an outstanding provisional send replaces that entry in
// place, preserving its position. An id already present is patched in place.
func (c *Cache) Upsert(m models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := m.ConversationKey()

	// same id already cached: patch in place
	if ck, ok := c.conv[m.ID]; ok {
		c.replace(ck, m.ID, m)
		return
	}

	// confirmed counterpart of an outstanding provisional send
	if m.State == models.StateConfirmed {
		if tempID, ok := c.takePending(m); ok {
			if ck, cached := c.conv[tempID]; cached {
				delete(c.conv, tempID)
				c.conv[m.ID] = ck
				c.replaceID(ck, tempID, m)
				return
			}
		}
	}

	c.seq++
	c.byConv[key] = append(c.byConv[key], entry{msg: m, seq: c.seq})
	c.conv[m.ID] = key
}

func (c *Cache) replace(convKey, id string, m models.Message) {
	entries := c.byConv[convKey]
	for i := range entries {
		if entries[i].msg.ID == id {
			entries[i].msg = m
			return
		}
	}
}

func (c *Cache) replaceID(convKey, oldID string, m models.Message) {
	entries := c.byConv[convKey]
	for i := range entries {
		if entries[i].msg.ID == oldID {
			entries[i].msg = m
			return
		}
	}
}

// RemoveProvisional drops a provisional entry after a failed send. It is a
// no-op for ids the cache does not hold.
func (c *Cache) RemoveProvisional(tempID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ck, ok := c.conv[tempID]
	if !ok {
		return
	}
	entries := c.byConv[ck]
	for i := range entries {
		if entries[i].msg.ID == tempID && entries[i].msg.Provisional() {
			c.byConv[ck] = append(entries[:i:i], entries[i+1:]...)
			delete(c.conv, tempID)
			return
		}
	}
}

// ListByConversation returns the conversation's messages ordered by
// CreatedAt ascending, ties broken by insertion order.
func (c *Cache) ListByConversation(conversationKey string) []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.byConv[conversationKey]
	sorted := make([]entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].msg.CreatedAt.Equal(sorted[j].msg.CreatedAt) {
			return sorted[i].msg.CreatedAt.Before(sorted[j].msg.CreatedAt)
		}
		return sorted[i].seq < sorted[j].seq
	})
	out := make([]models.Message, len(sorted))
	for i, e := range sorted {
		out[i] = e.msg
	}
	return out
}

// Get returns a cached message by id.
func (c *Cache) Get(id string) (models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ck, ok := c.conv[id]
	if !ok {
		return models.Message{}, false
	}
	for _, e := range c.byConv[ck] {
		if e.msg.ID == id {
			return e.msg, true
		}
	}
	return models.Message{}, false
}

// All returns every cached message, unordered.
func (c *Cache) All() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Message
	for _, entries := range c.byConv {
		for _, e := range entries {
			out = append(out, e.msg)
		}
	}
	return out
}
