package wsstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"convsync/pkg/store"
)

func TestFetchSendsPredicateAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/documents" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("kind") != store.KindMessage || q.Get("participant") != "alice" {
			t.Errorf("predicate not forwarded: %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"m1"},{"id":"m2"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	docs, err := c.Fetch(context.Background(), store.Query{Kind: store.KindMessage, Participant: "alice"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
}

func TestCreateReturnsStoredDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Query().Get("kind") != store.KindMessage {
			t.Errorf("kind not forwarded")
		}
		var doc map[string]any
		_ = json.NewDecoder(r.Body).Decode(&doc)
		doc["id"] = "srv-1"
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	c := New(srv.URL)
	raw, err := c.Create(context.Background(), store.KindMessage, map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var ref store.Ref
	_ = json.Unmarshal(raw, &ref)
	if ref.ID != "srv-1" {
		t.Fatalf("assigned id not returned: %s", string(raw))
	}
}

func TestPatchCommitsSetAndUnsetInOneRequest(t *testing.T) {
	var got struct {
		Set   map[string]any `json:"set"`
		Unset []string       `json:"unset"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/documents/m1/patch" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.Patch("m1").Set(map[string]any{"seen": true}).Unset("sender_name").Commit(context.Background())
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if got.Set["seen"] != true || len(got.Unset) != 1 {
		t.Fatalf("patch body wrong: %+v", got)
	}
}

func TestPatchUnknownDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.Patch("missing").Set(map[string]any{"seen": true}).Commit(context.Background())
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscribeStreamsEventsUntilCanceled(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/listen" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("participant") != "alice" {
			t.Errorf("predicate not forwarded to listen endpoint")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ev := store.ChangeEvent{Transition: store.TransitionAppear, Result: json.RawMessage(`{"id":"m1","kind":"message"}`)}
		b, _ := json.Marshal(ev)
		_ = conn.WriteMessage(websocket.TextMessage, b)
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Subscribe(ctx, store.Query{Kind: store.KindMessage, Participant: "alice"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Transition != store.TransitionAppear {
			t.Fatalf("expected appear, got %s", ev.Transition)
		}
		var ref store.Ref
		_ = json.Unmarshal(ev.Result, &ref)
		if ref.ID != "m1" {
			t.Fatalf("wrong event payload: %s", string(ev.Result))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// drain any buffered event; channel must close soon after
			select {
			case _, ok2 := <-ch:
				if ok2 {
					t.Fatalf("channel still open after cancel")
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("channel not closed after cancel")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}

func TestSubscribeFailsFastWhenGatewayUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1") // nothing listens here
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Subscribe(ctx, store.Query{}); err == nil {
		t.Fatalf("expected subscription establishment error")
	}
}
