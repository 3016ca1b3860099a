package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"convsync/pkg/config"
	"convsync/pkg/models"
	"convsync/pkg/store"
)

func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	cfg := config.Config{
		Store: config.StoreConfig{Backend: config.BackendPebble, DBPath: t.TempDir()},
		Sync:  config.SyncConfig{User: "alice"},
	}
	a, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.eng.Start(ctx); err != nil {
		t.Fatalf("engine start: %v", err)
	}
	srv := httptest.NewServer(a.router())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		a.eng.Stop()
		a.shutdownStore()
	})
	return a, srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}

func TestHealthz(t *testing.T) {
	_, srv := newTestApp(t)
	var body map[string]string
	if code := getJSON(t, srv.URL+"/healthz", &body); code != http.StatusOK {
		t.Fatalf("healthz status %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("healthz body: %+v", body)
	}
}

func TestSendAndListMessages(t *testing.T) {
	_, srv := newTestApp(t)

	var sent models.Message
	code := postJSON(t, srv.URL+"/v1/conversations/bob/messages", `{"text":"hello bob"}`, &sent)
	if code != http.StatusCreated {
		t.Fatalf("send status %d", code)
	}
	if sent.State != models.StateConfirmed || sent.ID == "" {
		t.Fatalf("send did not return a confirmed message: %+v", sent)
	}

	var msgs []models.Message
	if code := getJSON(t, srv.URL+"/v1/conversations/bob/messages", &msgs); code != http.StatusOK {
		t.Fatalf("list status %d", code)
	}
	if len(msgs) != 1 || msgs[0].Text != "hello bob" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	var convs []models.Conversation
	if code := getJSON(t, srv.URL+"/v1/conversations", &convs); code != http.StatusOK {
		t.Fatalf("conversations status %d", code)
	}
	if len(convs) != 1 || convs[0].ID != models.PairID("alice", "bob") {
		t.Fatalf("unexpected conversations: %+v", convs)
	}
}

func TestSendRejectsEmptyText(t *testing.T) {
	_, srv := newTestApp(t)
	code := postJSON(t, srv.URL+"/v1/conversations/bob/messages", `{"text":"   "}`, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty text, got %d", code)
	}
}

func TestInboundUnreadAndSeen(t *testing.T) {
	a, srv := newTestApp(t)

	// a counterpart writes directly to the shared store
	_, err := a.local.Create(context.Background(), store.KindMessage, map[string]any{
		"sender": "bob", "recipient": "alice", "text": "ping",
	})
	if err != nil {
		t.Fatalf("counterpart create: %v", err)
	}

	type unreadBody struct {
		Total         int            `json:"total"`
		Conversations map[string]int `json:"conversations"`
	}
	waitFor(t, func() bool {
		var u unreadBody
		getJSON(t, srv.URL+"/v1/unread", &u)
		return u.Total == 1
	})

	if code := postJSON(t, srv.URL+"/v1/conversations/bob/seen", "", nil); code != http.StatusOK {
		t.Fatalf("seen status %d", code)
	}
	var u unreadBody
	getJSON(t, srv.URL+"/v1/unread", &u)
	if u.Total != 0 {
		t.Fatalf("unread not cleared: %+v", u)
	}

	var msgs []models.Message
	getJSON(t, srv.URL+"/v1/conversations/bob/messages", &msgs)
	if len(msgs) != 1 || !msgs[0].Seen {
		t.Fatalf("seen flag not mirrored: %+v", msgs)
	}
}
