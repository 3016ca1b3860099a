package engine

import (
	"context"
	"encoding/json"

	"convsync/pkg/bus"
	"convsync/pkg/logger"
	"convsync/pkg/models"
	"convsync/pkg/store"
	"convsync/pkg/telemetry"
)

// consume drains the change stream until ctx is canceled or the stream
// closes. Events for one subscription arrive on a single channel, so cache
// mutations and unread updates the reconciler issues are serialized with
// each other.
func (e *Engine) consume(ctx context.Context, ch <-chan store.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				// stream dropped; the refresh path recovers missed state
				logger.Warn("change_stream_closed", "user", e.user)
				return
			}
			e.handleEvent(ctx, ev)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev store.ChangeEvent) {
	telemetry.ChangeEvents.WithLabelValues(string(ev.Transition)).Inc()

	var ref store.Ref
	if err := json.Unmarshal(ev.Result, &ref); err != nil || ref.ID == "" {
		logger.Warn("change_event_unparseable", "error", err)
		return
	}
	if ref.Kind != "" && ref.Kind != store.KindMessage {
		return
	}

	switch ev.Transition {
	case store.TransitionAppear:
		e.handleAppear(ctx, ref.ID)
	case store.TransitionUpdate:
		e.handleUpdate(ev.Result)
	default:
		logger.Warn("change_event_unknown_transition", "transition", string(ev.Transition))
	}
}

// handleAppear fetches the fully-populated message (appear notifications may
// be skinny) and merges it. A fetch failure drops the event: state is then
// eventually consistent via the next refresh, never fatal.
func (e *Engine) handleAppear(ctx context.Context, id string) {
	docs, err := e.remote.Fetch(ctx, store.Query{Kind: store.KindMessage, IDs: []string{id}})
	if err != nil || len(docs) == 0 {
		telemetry.FetchFailures.Inc()
		logger.Warn("fetch_after_change_failed", "id", id, "error", err)
		return
	}
	var m models.Message
	if err := json.Unmarshal(docs[0], &m); err != nil {
		telemetry.FetchFailures.Inc()
		logger.Warn("fetch_after_change_decode_failed", "id", id, "error", err)
		return
	}
	// Delivery is at-least-once; a redelivered appear must merge without
	// counting or publishing a second time.
	_, known := e.cache.Get(m.ID)
	m.State = models.StateConfirmed
	e.cache.Upsert(m)
	if known {
		return
	}

	// Own writes reconcile silently: the send pipeline already published
	// message-sent, and a second-device echo must not count as unread.
	if m.Sender == e.user {
		return
	}

	key := m.ConversationKey()
	e.ledger.Increment(key)
	if e.isFocused(key) {
		// focus wins the race with the increment; badge consumers elsewhere
		// still see the message-received event below
		e.ledger.ResetForViewer(key)
	}
	e.bus.Emit(bus.MessageReceived, models.MessageReceived{Message: m, Conversation: key})
}

// handleUpdate merges a field change (typically a seen flip) in place.
// Update notifications carry the final document state, so no fetch is
// needed.
func (e *Engine) handleUpdate(result json.RawMessage) {
	var m models.Message
	if err := json.Unmarshal(result, &m); err != nil || m.ID == "" {
		logger.Warn("change_update_decode_failed", "error", err)
		return
	}
	if m.Sender == "" {
		// partial document; without the participant pair the cache cannot
		// place it, so drop and let refresh reconcile
		telemetry.FetchFailures.Inc()
		logger.Warn("change_update_partial_document", "id", m.ID)
		return
	}
	m.State = models.StateConfirmed
	e.cache.Upsert(m)
	e.bus.Emit(bus.MessageUpdated, models.MessageUpdated{Message: m})
}
