package models

import (
	"fmt"
	"strings"
	"time"
)

// MessageState distinguishes a locally-originated, unconfirmed message from
// one the remote store has durably accepted. A provisional message is never
// written to the remote store with this state; the field is local-only.
type MessageState string

const (
	StateProvisional MessageState = "provisional"
	StateConfirmed   MessageState = "confirmed"
)

// Message is a direct message between two users. While provisional, ID holds
// a locally-generated temp id and CreatedAt a client-side timestamp; once
// confirmed both are remote-assigned.
type Message struct {
	ID         string       `json:"id"`
	Sender     string       `json:"sender"`
	Recipient  string       `json:"recipient"`
	Text       string       `json:"text"`
	CreatedAt  time.Time    `json:"created_at"`
	Seen       bool         `json:"seen,omitempty"`
	State      MessageState `json:"state,omitempty"`
	SenderName string       `json:"sender_name,omitempty"`
}

// Provisional reports whether the message is a not-yet-confirmed local write.
func (m Message) Provisional() bool {
	return m.State == StateProvisional
}

// ConversationKey returns the canonical conversation identity for the
// message's participant pair.
func (m Message) ConversationKey() string {
	return PairID(m.Sender, m.Recipient)
}

// Counterpart returns the participant that is not `self`. When neither side
// matches self the sender is returned.
func (m Message) Counterpart(self string) string {
	if m.Sender == self {
		return m.Recipient
	}
	return m.Sender
}

// PairID builds the deterministic conversation id for an unordered pair of
// participant ids. Re-derivation is idempotent: the pair is sorted first.
func PairID(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return fmt.Sprintf("dm-%s-%s", a, b)
}
