package models

// Event payloads published on the engine bus. Only plain data crosses this
// boundary; no UI or store types.

// MessageSent is published after a send's durable create succeeded and the
// provisional entry was replaced by its confirmed counterpart.
type MessageSent struct {
	Message     Message `json:"message"`
	Counterpart string  `json:"counterpart"`
}

// MessageReceived is published when the change stream delivers a confirmed
// inbound message authored by the counterpart.
type MessageReceived struct {
	Message      Message `json:"message"`
	Conversation string  `json:"conversation"`
}

// MessageUpdated is published when a field change (typically a seen flip)
// was merged into the cache.
type MessageUpdated struct {
	Message Message `json:"message"`
}

// MessagesSeen is published after the viewer's unseen inbound messages in a
// conversation were durably marked seen.
type MessagesSeen struct {
	Conversation string   `json:"conversation"`
	IDs          []string `json:"ids"`
}
