package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"convsync/pkg/logger"
	"convsync/pkg/models"
	"convsync/pkg/store"
	"convsync/pkg/telemetry"
)

// Refresh performs a full reconciliation: every message involving the
// session user is re-fetched and merged into the cache. This is the
// poll-on-focus fallback that recovers state after dropped change events or
// a failed subscription.
func (e *Engine) Refresh(ctx context.Context) error {
	docs, err := e.remote.Fetch(ctx, store.Query{Kind: store.KindMessage, Participant: e.user})
	if err != nil {
		return fmt.Errorf("refresh fetch: %w", err)
	}
	merged := 0
	for _, raw := range docs {
		var m models.Message
		if err := json.Unmarshal(raw, &m); err != nil || m.ID == "" {
			logger.Warn("refresh_decode_failed", "error", err)
			continue
		}
		m.State = models.StateConfirmed
		e.cache.Upsert(m)
		merged++
	}
	telemetry.RefreshRuns.Inc()
	logger.Debug("refresh_complete", "user", e.user, "merged", merged)
	return nil
}

// runRefreshScheduler computes the next tick for the configured cron
// expression with gronx and sleeps until that time, triggering a full
// refresh per tick. Cron validity was checked at Start.
func (e *Engine) runRefreshScheduler(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("refresh_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(e.cron, now, false)
		if err != nil {
			logger.Error("refresh_nexttick_failed", "cron", e.cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := e.Refresh(ctx); err != nil {
				logger.Error("refresh_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("refresh_scheduler_stopping")
			return
		}
	}
}
