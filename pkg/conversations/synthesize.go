// Package conversations derives the ordered conversation list from two
// heterogeneous sources: explicit conversation records and raw message pairs
// that reference no record. The projection is pure and deterministic so
// callers can rerun it on every cache mutation.
package conversations

import (
	"sort"

	"convsync/pkg/models"
)

// Resolver maps a counterpart id to its profile. A counterpart that cannot
// be resolved is dropped from synthesis (a nameless conversation cannot be
// rendered).
type Resolver func(id string) (models.Profile, bool)

// Synthesize folds orphan messages into per-counterpart conversations,
// merges them with the explicit records, deduplicates by unordered
// participant pair, and sorts descending by UpdatedAt. Ties sort by id so
// output is total-order deterministic.
func Synthesize(viewer string, explicit []models.Conversation, orphans []models.Message, resolve Resolver) []models.Conversation {
	merged := make(map[string]models.Conversation)

	for _, c := range explicit {
		key := c.PairKey()
		if prev, ok := merged[key]; ok {
			merged[key] = mergeConversations(prev, c)
			continue
		}
		merged[key] = c
	}

	for key, c := range synthesizeFromMessages(viewer, orphans, resolve) {
		if prev, ok := merged[key]; ok {
			merged[key] = mergeConversations(prev, c)
			continue
		}
		merged[key] = c
	}

	out := make([]models.Conversation, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// synthesizeFromMessages groups raw messages by counterpart and folds each
// group into a synthesized conversation keyed by unordered pair.
func synthesizeFromMessages(viewer string, orphans []models.Message, resolve Resolver) map[string]models.Conversation {
	out := make(map[string]models.Conversation)
	for _, m := range orphans {
		// degenerate self-message
		if m.Sender == m.Recipient {
			continue
		}
		// not addressed to or from the viewer
		if m.Sender != viewer && m.Recipient != viewer {
			continue
		}
		counterpart := m.Counterpart(viewer)
		profile, known := resolve(counterpart)
		if !known {
			continue
		}

		key := models.PairID(viewer, counterpart)
		c, ok := out[key]
		if !ok {
			c = models.Conversation{
				ID:           key,
				Participants: [2]string{viewer, counterpart},
				Profiles:     map[string]models.Profile{counterpart: profile},
				Unread:       map[string]int{},
			}
		}
		if m.CreatedAt.After(c.UpdatedAt) {
			c.UpdatedAt = m.CreatedAt
			c.LastMessage = models.LastMessage{
				ID:        m.ID,
				Text:      m.Text,
				Sender:    m.Sender,
				CreatedAt: m.CreatedAt,
				Seen:      m.Seen,
			}
		}
		if m.Sender == counterpart && !m.Seen {
			c.Unread[viewer]++
		}
		out[key] = c
	}
	return out
}

// mergeConversations keeps the entry with the newer UpdatedAt and fills its
// missing fields from the other.
func mergeConversations(a, b models.Conversation) models.Conversation {
	newer, older := a, b
	if b.UpdatedAt.After(a.UpdatedAt) {
		newer, older = b, a
	}
	if newer.LastMessage.ID == "" {
		newer.LastMessage = older.LastMessage
	}
	if newer.UpdatedAt.IsZero() {
		newer.UpdatedAt = older.UpdatedAt
	}
	newer.Profiles = mergeProfiles(newer.Profiles, older.Profiles)
	newer.Unread = mergeUnread(newer.Unread, older.Unread)
	return newer
}

func mergeProfiles(dst, src map[string]models.Profile) map[string]models.Profile {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]models.Profile, len(src))
	}
	for id, p := range src {
		have, ok := dst[id]
		if !ok {
			dst[id] = p
			continue
		}
		if have.Name == "" {
			have.Name = p.Name
		}
		if have.Avatar == "" {
			have.Avatar = p.Avatar
		}
		dst[id] = have
	}
	return dst
}

func mergeUnread(dst, src map[string]int) map[string]int {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]int, len(src))
	}
	for slot, n := range src {
		if _, ok := dst[slot]; !ok {
			dst[slot] = n
		}
	}
	return dst
}

// Touch advances a conversation list after a locally observed message (for
// example a message-sent bus event): the affected conversation's snapshot is
// refreshed and the list resorted, without waiting for the change stream.
func Touch(list []models.Conversation, viewer string, m models.Message) []models.Conversation {
	key := m.ConversationKey()
	out := make([]models.Conversation, len(list))
	copy(out, list)
	found := false
	for i := range out {
		if out[i].PairKey() != key {
			continue
		}
		found = true
		if m.CreatedAt.After(out[i].UpdatedAt) {
			out[i].UpdatedAt = m.CreatedAt
			out[i].LastMessage = models.LastMessage{
				ID: m.ID, Text: m.Text, Sender: m.Sender, CreatedAt: m.CreatedAt, Seen: m.Seen,
			}
		}
	}
	if !found {
		counterpart := m.Counterpart(viewer)
		out = append(out, models.Conversation{
			ID:           key,
			Participants: [2]string{viewer, counterpart},
			LastMessage: models.LastMessage{
				ID: m.ID, Text: m.Text, Sender: m.Sender, CreatedAt: m.CreatedAt, Seen: m.Seen,
			},
			UpdatedAt: m.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
