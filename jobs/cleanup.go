package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tutorledger/tutorledger/internal/jobs"
)

// TaskIdempotencyCleanup expires processed finish events.
const TaskIdempotencyCleanup = "idempotency:cleanup"

const defaultIdempotencyRetention = 30 * 24 * time.Hour

// CleanupPayload sets the retention window in hours.
type CleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewCleanupTask constructs an Asynq task.
func NewCleanupTask(payload CleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.MaxRetry(1)), nil
}

// KeyCleaner deletes idempotency keys older than a cutoff.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupJob prunes the idempotency key table.
type CleanupJob struct {
	Store   KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle executes TaskIdempotencyCleanup.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("cleanup: handler not configured")
	}
	var payload CleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention := defaultIdempotencyRetention
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() {
		err = tracker.End(err)
	}()
	removed, err := j.Store.Cleanup(ctx, retention)
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err != nil {
		logger.Error("idempotency cleanup", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskIdempotencyCleanup, removed)
	logger.Info("idempotency cleanup finished", slog.Int64("removed", removed), slog.Duration("retention", retention))
	return nil
}
