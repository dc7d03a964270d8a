// Package jobs defines the background task surface: deferred ledger replays,
// alert snapshot refreshes and idempotency key cleanup.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReplay retries a failed ledger stream replay.
	TaskLedgerReplay = "ledger:replay"
	// TaskAlertsRefresh rebuilds the stock alert snapshot cache.
	TaskAlertsRefresh = "alerts:refresh"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// LedgerReplayPayload identifies the stream to replay.
type LedgerReplayPayload struct {
	ItemID      int64 `json:"item_id"`
	WarehouseID int64 `json:"warehouse_id"`
}

// NewLedgerReplayTask constructs an Asynq task for a deferred replay. Retries
// back off so a stream under write contention gets room to settle.
func NewLedgerReplayTask(payload LedgerReplayPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReplay, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(10),
		asynq.Retention(24*time.Hour),
	), nil
}

// AlertsRefreshPayload carries scheduling metadata.
type AlertsRefreshPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewAlertsRefreshTask constructs an Asynq task for an alert snapshot refresh.
func NewAlertsRefreshTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(AlertsRefreshPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAlertsRefresh, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload sets the retention window for key pruning.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for key pruning.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
