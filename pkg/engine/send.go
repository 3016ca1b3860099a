package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"convsync/pkg/bus"
	"convsync/pkg/logger"
	"convsync/pkg/models"
	"convsync/pkg/store"
	"convsync/pkg/telemetry"
)

// outgoing is the wire shape of a durable message create. The provisional
// state never leaves the process.
type outgoing struct {
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func tempID() string {
	return fmt.Sprintf("temp-%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// Send runs the optimistic pipeline: the provisional entry is visible in the
// cache before the durable create is issued, and exactly one create is
// issued per invocation. On success the provisional entry is replaced by the
// confirmed message and message-sent is published; on failure the entry is
// rolled back, nothing is published, and a SendError is returned.
func (e *Engine) Send(ctx context.Context, counterpart, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}
	telemetry.SendsTotal.Inc()

	now := time.Now().UTC()
	provisional := models.Message{
		ID:        tempID(),
		Sender:    e.user,
		Recipient: counterpart,
		Text:      text,
		CreatedAt: now,
		State:     models.StateProvisional,
	}
	e.cache.Upsert(provisional)
	e.cache.TrackPending(e.user, text, now, provisional.ID)

	raw, err := e.remote.Create(ctx, store.KindMessage, outgoing{
		Sender:    e.user,
		Recipient: counterpart,
		Text:      text,
		CreatedAt: now,
	})
	if err != nil {
		e.cache.RemoveProvisional(provisional.ID)
		telemetry.SendFailures.Inc()
		logger.Warn("send_create_failed", "counterpart", counterpart, "temp_id", provisional.ID, "error", err)
		return models.Message{}, &SendError{TempID: provisional.ID, Err: err}
	}

	confirmed := provisional
	confirmed.State = models.StateConfirmed
	if err := json.Unmarshal(raw, &confirmed); err != nil {
		// the create succeeded; fall back to the provisional fields and let
		// the change stream deliver the canonical document
		logger.Warn("send_confirm_decode_failed", "temp_id", provisional.ID, "error", err)
	}
	confirmed.State = models.StateConfirmed
	e.cache.Upsert(confirmed)

	e.bus.Emit(bus.MessageSent, models.MessageSent{Message: confirmed, Counterpart: counterpart})
	logger.Debug("message_sent", "id", confirmed.ID, "counterpart", counterpart)
	return confirmed, nil
}
