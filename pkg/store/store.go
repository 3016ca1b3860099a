// Package store defines the remote document-store contract the sync engine
// consumes. The engine only depends on this interface; concrete backends
// live in the pebblestore (embedded) and wsstore (gateway client)
// subpackages.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// Document kinds understood by the backends.
const (
	KindMessage      = "message"
	KindConversation = "conversation"
)

// Query is the predicate for Fetch and Subscribe. Zero fields match all.
type Query struct {
	// Kind restricts results to one document kind.
	Kind string
	// Participant matches messages whose sender or recipient equals the id,
	// and conversations whose participant set contains it.
	Participant string
	// IDs fetches specific documents; other predicate fields still apply.
	IDs []string
	// Limit caps the result count; zero means no cap.
	Limit int
}

// Transition classifies a change notification.
type Transition string

const (
	TransitionAppear Transition = "appear"
	TransitionUpdate Transition = "update"
)

// ChangeEvent is one push notification from the store. Result holds the
// final state of the document at notification time; for appear events a
// backend may deliver a skinny document (id and kind only) and expect the
// consumer to fetch the populated one. Delivery is at-least-once and may
// omit intermediate states.
type ChangeEvent struct {
	Transition Transition      `json:"transition"`
	Result     json.RawMessage `json:"result"`
}

// Ref is the minimal envelope every document and change result carries.
type Ref struct {
	ID   string `json:"id"`
	Kind string `json:"kind,omitempty"`
}

// Patch accumulates partial updates to one document and applies them in a
// single commit.
type Patch interface {
	Set(fields map[string]any) Patch
	Unset(names ...string) Patch
	Commit(ctx context.Context) error
}

// RemoteStore is the external collaborator contract: query/fetch, document
// creation, batched field patches, and a change-stream subscription.
type RemoteStore interface {
	// Fetch returns documents matching q.
	Fetch(ctx context.Context, q Query) ([]json.RawMessage, error)
	// Create durably writes doc and returns the stored document with its
	// assigned id and server timestamp.
	Create(ctx context.Context, kind string, doc any) (json.RawMessage, error)
	// Patch starts a partial update against the document with the given id.
	Patch(id string) Patch
	// Subscribe yields a stream of change events matching q until ctx is
	// canceled. The channel is closed when the stream ends.
	Subscribe(ctx context.Context, q Query) (<-chan ChangeEvent, error)
}

// ErrNotFound is returned by backends when a referenced document does not
// exist.
var ErrNotFound = errors.New("document not found")
