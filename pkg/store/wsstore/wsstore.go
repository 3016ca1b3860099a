// Package wsstore implements the remote store contract against a hosted
// document gateway: fetch/create/patch over HTTP JSON, change stream over a
// WebSocket. The stream reconnects with rate-limited backoff until its
// context is canceled; events missed across reconnects are recovered by the
// engine's refresh path.
package wsstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"convsync/pkg/logger"
	"convsync/pkg/store"
	"convsync/pkg/telemetry"
)

const (
	readLimit  = 1 << 16
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client talks to a document gateway. Safe for concurrent use.
type Client struct {
	base    string
	http    *http.Client
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	apiKey  string
}

// Option tunes the client.
type Option func(*Client)

// WithAPIKey attaches a bearer token to every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a gateway client for the given base URL
// (e.g. "https://gw.example.com").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimSuffix(baseURL, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		dialer: websocket.DefaultDialer,
		// one reconnect attempt per 2s sustained, short bursts allowed
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 3),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func queryValues(q store.Query) url.Values {
	v := url.Values{}
	if q.Kind != "" {
		v.Set("kind", q.Kind)
	}
	if q.Participant != "" {
		v.Set("participant", q.Participant)
	}
	for _, id := range q.IDs {
		v.Add("id", id)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// Fetch queries GET /v1/documents.
func (c *Client) Fetch(ctx context.Context, q store.Query) ([]json.RawMessage, error) {
	u := c.base + "/v1/documents?" + queryValues(q).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, gatewayError("fetch", resp)
	}
	var docs []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("gateway fetch decode: %w", err)
	}
	return docs, nil
}

// Create posts the document to POST /v1/documents and returns the stored
// document with its assigned id.
func (c *Client) Create(ctx context.Context, kind string, doc any) (json.RawMessage, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	u := c.base + "/v1/documents?kind=" + url.QueryEscape(kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway create: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, gatewayError("create", resp)
	}
	stored, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

type patch struct {
	c     *Client
	id    string
	set   map[string]any
	unset []string
}

// Patch starts a batched partial update, committed as one POST
// /v1/documents/{id}/patch request.
func (c *Client) Patch(id string) store.Patch {
	return &patch{c: c, id: id, set: map[string]any{}}
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

func (p *patch) Commit(ctx context.Context) error {
	body, err := json.Marshal(struct {
		Set   map[string]any `json:"set,omitempty"`
		Unset []string       `json:"unset,omitempty"`
	}{Set: p.set, Unset: p.unset})
	if err != nil {
		return err
	}
	u := p.c.base + "/v1/documents/" + url.PathEscape(p.id) + "/patch"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	p.c.authorize(req)
	resp, err := p.c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway patch: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return store.ErrNotFound
	default:
		return gatewayError("patch", resp)
	}
}

// Subscribe dials the gateway's /v1/listen WebSocket and forwards decoded
// change events until ctx is canceled. The stream survives connection drops:
// each reconnect waits on the client's rate limiter, and the returned
// channel only closes when ctx ends.
func (c *Client) Subscribe(ctx context.Context, q store.Query) (<-chan store.ChangeEvent, error) {
	wsURL, err := c.listenURL(q)
	if err != nil {
		return nil, err
	}

	// establish the first connection synchronously so callers learn
	// immediately when the stream cannot be opened at all
	conn, err := c.dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("subscription failed: %w", err)
	}

	out := make(chan store.ChangeEvent, 64)
	go func() {
		defer close(out)
		for {
			c.readPump(ctx, conn, out)
			conn = nil
			// connection lost; pace the reconnect
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			telemetry.StreamReconnects.Inc()
			next, err := c.dial(ctx, wsURL)
			if err != nil {
				logger.Warn("stream_reconnect_failed", "error", err)
				continue
			}
			logger.Info("stream_reconnected", "url", wsURL)
			conn = next
		}
	}()
	return out, nil
}

func (c *Client) listenURL(q store.Query) (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/listen"
	u.RawQuery = queryValues(q).Encode()
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	var hdr http.Header
	if c.apiKey != "" {
		hdr = http.Header{"Authorization": []string{"Bearer " + c.apiKey}}
	}
	conn, _, err := c.dialer.DialContext(ctx, wsURL, hdr)
	return conn, err
}

// readPump drains one connection until it drops or ctx ends. A ping ticker
// keeps intermediaries from idling the connection out; pongs extend the read
// deadline.
func (c *Client) readPump(ctx context.Context, conn *websocket.Conn, out chan<- store.ChangeEvent) {
	if conn == nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-ctx.Done():
				// unblock the pending ReadMessage so teardown is prompt
				conn.Close()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("stream_read_error", "error", err)
			}
			return
		}
		var ev store.ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("stream_event_unparseable", "error", err)
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func gatewayError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("gateway %s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
