// Package pebblestore is an embedded, Pebble-backed implementation of the
// remote store contract. It exists so the engine can run end to end without
// a hosted document store: the daemon's local mode and integration-style
// tests use it. Change notifications fan out in process to per-subscriber
// buffered channels.
package pebblestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/oklog/ulid/v2"
	"github.com/valyala/bytebufferpool"

	"convsync/pkg/logger"
	"convsync/pkg/store"
	"convsync/pkg/telemetry"
)

// subscriber buffer size; a subscriber that falls this far behind drops
// events and relies on the engine's refresh path to recover.
const subscriberBuffer = 64

type subscriber struct {
	id uint64
	q  store.Query
	ch chan store.ChangeEvent
}

// Store implements store.RemoteStore on a local Pebble database.
type Store struct {
	db  *pebble.DB
	seq uint64

	mu      sync.Mutex
	subs    map[uint64]*subscriber
	nextSub uint64
	closed  bool
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string) (*Store, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Store{db: db, subs: make(map[uint64]*subscriber)}, nil
}

// Close closes the database and every open subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return err
	}
	logger.Info("pebble_closed")
	return nil
}

// Key layout:
//   doc:<id>              -> full document JSON (kind embedded)
//   msg:<padded-ts>-<seq> -> message id (timeline index, time-ordered)
//   conv:<id>             -> conversation id (kind index)
func docKey(id string) []byte { return []byte("doc:" + id) }

func timelineKey(ts int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("msg:%020d-%06d", ts, seq))
}

func convKey(id string) []byte { return []byte("conv:" + id) }

// Create durably writes doc, assigning a ULID id and a server-authoritative
// created_at, and notifies matching subscribers with a skinny appear event.
func (s *Store) Create(_ context.Context, kind string, doc any) (json.RawMessage, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("document is not an object: %w", err)
	}

	id := ulid.Make().String()
	now := time.Now().UTC()
	m["id"] = id
	m["kind"] = kind
	if kind == store.KindMessage {
		m["created_at"] = now.Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	wb := s.db.NewBatch()
	if err := wb.Set(docKey(id), data, pebble.NoSync); err != nil {
		return nil, err
	}
	switch kind {
	case store.KindMessage:
		seq := atomic.AddUint64(&s.seq, 1)
		if err := wb.Set(timelineKey(now.UnixNano(), seq), []byte(id), pebble.NoSync); err != nil {
			return nil, err
		}
	case store.KindConversation:
		if err := wb.Set(convKey(id), []byte(id), pebble.NoSync); err != nil {
			return nil, err
		}
	}
	if err := s.db.Apply(wb, pebble.Sync); err != nil {
		logger.Error("create_apply_failed", "id", id, "error", err)
		return nil, err
	}
	logger.Debug("document_created", "id", id, "kind", kind)

	s.notify(store.TransitionAppear, skinnyRef(id, kind), m)
	return data, nil
}

// Fetch returns documents matching q. Messages come back in timeline order.
func (s *Store) Fetch(_ context.Context, q store.Query) ([]json.RawMessage, error) {
	if len(q.IDs) > 0 {
		return s.fetchByIDs(q)
	}

	var out []json.RawMessage
	if q.Kind == "" || q.Kind == store.KindMessage {
		docs, err := s.scanMessages(q)
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	if q.Kind == "" || q.Kind == store.KindConversation {
		docs, err := s.scanConversations(q)
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

func (s *Store) fetchByIDs(q store.Query) ([]json.RawMessage, error) {
	var out []json.RawMessage
	for _, id := range q.IDs {
		data, closer, err := s.db.Get(docKey(id))
		if err == pebble.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		cp := append([]byte(nil), data...)
		_ = closer.Close()
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) scanMessages(q store.Query) ([]json.RawMessage, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("msg:"),
		UpperBound: []byte("msg;"), // ';' sorts just after ':'
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []json.RawMessage
	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Value())
		data, closer, err := s.db.Get(docKey(id))
		if err == pebble.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		cp := append([]byte(nil), data...)
		_ = closer.Close()
		if q.Participant != "" && !messageInvolves(cp, q.Participant) {
			continue
		}
		out = append(out, cp)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, iter.Error()
}

func (s *Store) scanConversations(q store.Query) ([]json.RawMessage, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("conv:"),
		UpperBound: []byte("conv;"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []json.RawMessage
	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Value())
		data, closer, err := s.db.Get(docKey(id))
		if err == pebble.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		cp := append([]byte(nil), data...)
		_ = closer.Close()
		if q.Participant != "" && !conversationInvolves(cp, q.Participant) {
			continue
		}
		out = append(out, cp)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, iter.Error()
}

type patch struct {
	s     *Store
	id    string
	set   map[string]any
	unset []string
}

// Patch starts a batched partial update against one document.
func (s *Store) Patch(id string) store.Patch {
	return &patch{s: s, id: id, set: map[string]any{}}
}

func (p *patch) Set(fields map[string]any) store.Patch {
	for k, v := range fields {
		p.set[k] = v
	}
	return p
}

func (p *patch) Unset(names ...string) store.Patch {
	p.unset = append(p.unset, names...)
	return p
}

// Commit applies the accumulated set/unset fields in one write and notifies
// matching subscribers with the final document state.
func (p *patch) Commit(_ context.Context) error {
	data, closer, err := p.s.db.Get(docKey(p.id))
	if err == pebble.ErrNotFound {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	var m map[string]any
	uerr := json.Unmarshal(data, &m)
	_ = closer.Close()
	if uerr != nil {
		return fmt.Errorf("stored document corrupt: %w", uerr)
	}

	// id and kind are immutable
	for k, v := range p.set {
		if k == "id" || k == "kind" {
			continue
		}
		m[k] = v
	}
	for _, k := range p.unset {
		if k == "id" || k == "kind" {
			continue
		}
		delete(m, k)
	}

	out, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := p.s.db.Set(docKey(p.id), out, pebble.Sync); err != nil {
		logger.Error("patch_apply_failed", "id", p.id, "error", err)
		return err
	}
	logger.Debug("document_patched", "id", p.id, "set", len(p.set), "unset", len(p.unset))

	p.s.notify(store.TransitionUpdate, out, m)
	return nil
}

// Subscribe registers a change-stream subscriber scoped by q. The channel
// closes when ctx is canceled or the store closes.
func (s *Store) Subscribe(ctx context.Context, q store.Query) (<-chan store.ChangeEvent, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("store closed")
	}
	s.nextSub++
	sub := &subscriber{id: s.nextSub, q: q, ch: make(chan store.ChangeEvent, subscriberBuffer)}
	s.subs[sub.id] = sub
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if cur, ok := s.subs[sub.id]; ok && cur == sub {
			delete(s.subs, sub.id)
			close(sub.ch)
		}
		s.mu.Unlock()
	}()
	return sub.ch, nil
}

// notify delivers a change event to every subscriber whose predicate matches
// the document. A subscriber with a full buffer drops the event; the
// engine's refresh path makes that eventually consistent.
func (s *Store) notify(tr store.Transition, result []byte, doc map[string]any) {
	ev := store.ChangeEvent{Transition: tr, Result: append(json.RawMessage(nil), result...)}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if !matches(sub.q, doc) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			telemetry.DroppedFanoutEvents.Inc()
			logger.Warn("fanout_subscriber_full", "subscriber", sub.id)
		}
	}
}

// skinnyRef builds the minimal appear payload ({id, kind}) with a pooled
// buffer; appear consumers fetch the populated document themselves.
func skinnyRef(id, kind string) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = append(buf.B, `{"id":"`...)
	buf.B = append(buf.B, id...)
	buf.B = append(buf.B, `","kind":"`...)
	buf.B = append(buf.B, kind...)
	buf.B = append(buf.B, `"}`...)
	return append([]byte(nil), buf.B...)
}

func messageInvolves(doc []byte, participant string) bool {
	var m struct {
		Sender    string `json:"sender"`
		Recipient string `json:"recipient"`
	}
	if err := json.Unmarshal(doc, &m); err != nil {
		return false
	}
	return m.Sender == participant || m.Recipient == participant
}

func conversationInvolves(doc []byte, participant string) bool {
	var c struct {
		Participants []string `json:"participants"`
	}
	if err := json.Unmarshal(doc, &c); err != nil {
		return false
	}
	for _, p := range c.Participants {
		if p == participant {
			return true
		}
	}
	return false
}

// matches evaluates a subscription predicate against a document.
func matches(q store.Query, doc map[string]any) bool {
	kind, _ := doc["kind"].(string)
	if q.Kind != "" && kind != q.Kind {
		return false
	}
	if q.Participant == "" {
		return true
	}
	switch kind {
	case store.KindConversation:
		parts, _ := doc["participants"].([]any)
		for _, p := range parts {
			if ps, ok := p.(string); ok && ps == q.Participant {
				return true
			}
		}
		return false
	default:
		sender, _ := doc["sender"].(string)
		recipient, _ := doc["recipient"].(string)
		return sender == q.Participant || recipient == q.Participant
	}
}
