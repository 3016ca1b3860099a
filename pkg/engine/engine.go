// Package engine ties the conversation synchronization core together: the
// optimistic send pipeline, the change-stream reconciler, view focus
// bookkeeping, and the periodic full refresh. One engine instance serves one
// session user; it owns the message cache and the unread ledger, and holds
// the single change-stream subscription that all views share via the bus.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/adhocore/gronx"

	"convsync/pkg/bus"
	"convsync/pkg/cache"
	"convsync/pkg/conversations"
	"convsync/pkg/logger"
	"convsync/pkg/models"
	"convsync/pkg/store"
	"convsync/pkg/unread"
)

// Options tune optional engine behavior.
type Options struct {
	// RefreshCron schedules periodic full reconciliation (gronx syntax).
	// Empty disables the scheduler; the change stream is then the only
	// source of remote updates between explicit Refresh calls.
	RefreshCron string
	// Resolver maps counterpart ids to profiles for conversation synthesis.
	// Nil accepts every id with a bare profile.
	Resolver conversations.Resolver
}

// Engine is the conversation synchronization engine for one session user.
type Engine struct {
	user    string
	remote  store.RemoteStore
	cache   *cache.Cache
	bus     *bus.Bus
	ledger  *unread.Ledger
	resolve conversations.Resolver
	cron    string

	mu      sync.Mutex
	focused map[string]bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(user string, remote store.RemoteStore, b *bus.Bus, opts Options) *Engine {
	resolve := opts.Resolver
	if resolve == nil {
		resolve = func(id string) (models.Profile, bool) {
			return models.Profile{ID: id}, true
		}
	}
	return &Engine{
		user:    user,
		remote:  remote,
		cache:   cache.New(),
		bus:     b,
		ledger:  unread.New(),
		resolve: resolve,
		cron:    opts.RefreshCron,
		focused: make(map[string]bool),
	}
}

// Bus returns the engine's event bus for view subscriptions.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// User returns the session user id.
func (e *Engine) User() string { return e.user }

// Start establishes the shared change-stream subscription scoped to the
// session user and, when configured, the refresh scheduler. A subscription
// that cannot be established is returned as an error; the caller may fall
// back to explicit Refresh calls.
func (e *Engine) Start(ctx context.Context) error {
	if e.cron != "" && !gronx.IsValid(e.cron) {
		return fmt.Errorf("invalid refresh cron expression: %s", e.cron)
	}

	ctx, cancel := context.WithCancel(ctx)

	q := store.Query{Kind: store.KindMessage, Participant: e.user}
	ch, err := e.remote.Subscribe(ctx, q)
	if err != nil {
		cancel()
		return fmt.Errorf("subscription failed: %w", err)
	}
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.consume(ctx, ch)
	}()

	if e.cron != "" {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runRefreshScheduler(ctx)
		}()
	}

	logger.Info("engine_started", "user", e.user, "refresh_cron", e.cron)
	return nil
}

// Stop tears down the subscription and waits for the consume loop to exit.
// An engine that is not stopped leaks its stream.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.wg.Wait()
	logger.Info("engine_stopped", "user", e.user)
}

// Messages returns the cached messages exchanged with the counterpart, in
// server timestamp order.
func (e *Engine) Messages(counterpart string) []models.Message {
	return e.cache.ListByConversation(models.PairID(e.user, counterpart))
}

// Conversations fetches the explicit conversation records for the session
// user and merges them with the conversations synthesized from the cached
// message set.
func (e *Engine) Conversations(ctx context.Context) ([]models.Conversation, error) {
	docs, err := e.remote.Fetch(ctx, store.Query{Kind: store.KindConversation, Participant: e.user})
	if err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	explicit := make([]models.Conversation, 0, len(docs))
	for _, raw := range docs {
		var c models.Conversation
		if err := json.Unmarshal(raw, &c); err != nil {
			logger.Warn("conversation_decode_failed", "error", err)
			continue
		}
		explicit = append(explicit, c)
	}
	return conversations.Synthesize(e.user, explicit, e.cache.All(), e.resolve), nil
}

// TotalUnread sums per-conversation unread counts for badge display.
func (e *Engine) TotalUnread() int { return e.ledger.TotalUnread() }

// UnreadCount returns the unread count for one counterpart's conversation.
func (e *Engine) UnreadCount(counterpart string) int {
	return e.ledger.Count(models.PairID(e.user, counterpart))
}

// UnreadSnapshot returns a copy of the whole unread ledger.
func (e *Engine) UnreadSnapshot() map[string]int { return e.ledger.Snapshot() }

// FocusConversation records that the chat view for the counterpart gained
// focus and zeroes its unread count. While focused, inbound arrivals do not
// accumulate unread.
func (e *Engine) FocusConversation(counterpart string) {
	key := models.PairID(e.user, counterpart)
	e.mu.Lock()
	e.focused[key] = true
	e.mu.Unlock()
	e.ledger.ResetForViewer(key)
}

// BlurConversation records that the chat view lost focus.
func (e *Engine) BlurConversation(counterpart string) {
	key := models.PairID(e.user, counterpart)
	e.mu.Lock()
	delete(e.focused, key)
	e.mu.Unlock()
}

// MarkRead optimistically zeroes the conversation's unread count. Intended
// for the conversation-list press handler, before the chat view loads.
func (e *Engine) MarkRead(counterpart string) {
	e.ledger.ResetForViewer(models.PairID(e.user, counterpart))
}

func (e *Engine) isFocused(conversationKey string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.focused[conversationKey]
}

// MarkSeen durably flips the seen flag on the counterpart's unseen inbound
// messages, mirrors the flips into the cache, and publishes messages-seen.
// Individual patch failures are logged and skipped; the conversation then
// converges on the next refresh.
func (e *Engine) MarkSeen(ctx context.Context, counterpart string) error {
	key := models.PairID(e.user, counterpart)
	var seen []string
	for _, m := range e.cache.ListByConversation(key) {
		if m.Sender != counterpart || m.Seen || m.Provisional() {
			continue
		}
		if err := e.remote.Patch(m.ID).Set(map[string]any{"seen": true}).Commit(ctx); err != nil {
			logger.Warn("mark_seen_patch_failed", "id", m.ID, "error", err)
			continue
		}
		m.Seen = true
		e.cache.Upsert(m)
		seen = append(seen, m.ID)
	}
	e.ledger.ResetForViewer(key)
	if len(seen) > 0 {
		e.bus.Emit(bus.MessagesSeen, models.MessagesSeen{Conversation: key, IDs: seen})
	}
	return nil
}
