package models

import "time"

// Profile carries denormalized participant display fields. Only the fields
// the conversation list renders; profile administration is out of scope.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// LastMessage is the denormalized snapshot of the most recent message in a
// conversation, carried so the list can render without a second fetch.
type LastMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
	Seen      bool      `json:"seen,omitempty"`
}

// Conversation is the derived per-pair view the conversation list renders.
// It is either backed by an explicit remote record or synthesized from raw
// messages that reference no record; ID is the remote id in the former case
// and PairID(participants) in the latter.
type Conversation struct {
	ID           string             `json:"id"`
	Participants [2]string          `json:"participants"`
	Profiles     map[string]Profile `json:"profiles,omitempty"`
	LastMessage  LastMessage        `json:"last_message"`
	Unread       map[string]int     `json:"unread,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// PairKey returns the unordered-pair identity used for deduplication.
func (c Conversation) PairKey() string {
	return PairID(c.Participants[0], c.Participants[1])
}

// Counterpart returns the participant that is not `self`.
func (c Conversation) Counterpart(self string) string {
	if c.Participants[0] == self {
		return c.Participants[1]
	}
	return c.Participants[0]
}
