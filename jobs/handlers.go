package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/larder-erp/larder-erp/internal/jobs"
)

// ReplayRunner replays a single ledger stream from scratch.
type ReplayRunner interface {
	Replay(ctx context.Context, itemID, warehouseID int64) error
}

// AlertRefresher rebuilds the alert snapshot cache.
type AlertRefresher interface {
	Refresh(ctx context.Context) error
}

// KeyPruner removes idempotency keys older than the retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewLedgerReplayHandler processes TaskLedgerReplay tasks.
func NewLedgerReplayHandler(runner ReplayRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LedgerReplayPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("ledger_replay")
		err := runner.Replay(ctx, payload.ItemID, payload.WarehouseID)
		if err != nil {
			logger.Warn("deferred replay failed",
				slog.Int64("item_id", payload.ItemID),
				slog.Int64("warehouse_id", payload.WarehouseID),
				slog.Any("error", err))
		}
		return tracker.End(err)
	}
}

// NewAlertsRefreshHandler processes TaskAlertsRefresh tasks.
func NewAlertsRefreshHandler(refresher AlertRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AlertsRefreshPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("alerts_refresh")
		err := refresher.Refresh(ctx)
		if err != nil {
			logger.Warn("alert snapshot refresh failed", slog.Any("error", err))
		}
		return tracker.End(err)
	}
}

// NewIdempotencyCleanupHandler processes TaskIdempotencyCleanup tasks.
func NewIdempotencyCleanupHandler(pruner KeyPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.OlderThan <= 0 {
			payload.OlderThan = 7 * 24 * time.Hour
		}
		tracker := metrics.Track("idempotency_cleanup")
		err := pruner.Cleanup(ctx, payload.OlderThan)
		if err != nil {
			logger.Warn("idempotency cleanup failed", slog.Any("error", err))
		}
		return tracker.End(err)
	}
}
