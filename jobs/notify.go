package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tutorledger/tutorledger/internal/jobs"
	"github.com/tutorledger/tutorledger/internal/ledger"
	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/shared"
)

// Sender delivers a parent notification. Delivery channels live outside this service.
type Sender interface {
	Send(ctx context.Context, payload NotifyPayload) error
}

// LogSender records notifications in the log instead of delivering them.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (s LogSender) Send(ctx context.Context, payload NotifyPayload) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "parent notification",
		slog.Int64("student_id", payload.StudentID),
		slog.String("period", payload.Period),
		slog.String("center", payload.Center),
		slog.String("funding", payload.Funding),
	)
	return nil
}

// MessageMarker flips the per-period message flags once a notification went out.
type MessageMarker interface {
	SetMessageFlag(ctx context.Context, studentID int64, key period.Key, recipient ledger.Recipient, sent bool, actorID int64) (ledger.PeriodRecord, error)
}

// NotifyJob sends attendance notifications and marks them on the ledger.
type NotifyJob struct {
	Sender  Sender
	Ledger  MessageMarker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewNotifyJob initialises the notify handler.
func NewNotifyJob(sender Sender, marker MessageMarker, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotifyJob {
	return &NotifyJob{Sender: sender, Ledger: marker, Logger: logger, Metrics: metrics}
}

// Handle executes TaskNotifyAttendance. Payloads naming unknown periods or
// students the ledger refuses are dropped without retry.
func (j *NotifyJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sender == nil || j.Ledger == nil {
		return errors.New("notify: handler not configured")
	}
	tracker := j.Metrics.Track(TaskNotifyAttendance)
	defer func() {
		err = tracker.End(err)
	}()
	var payload NotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	key, err := period.Parse(payload.Period)
	if err != nil {
		return fmt.Errorf("notify: %v: %w", err, asynq.SkipRetry)
	}
	logger := j.logger().With(slog.Int64("student_id", payload.StudentID), slog.String("period", payload.Period))
	if err := j.Sender.Send(ctx, payload); err != nil {
		logger.Warn("notification delivery failed", slog.Any("error", err))
		return err
	}
	if _, err := j.Ledger.SetMessageFlag(ctx, payload.StudentID, key, ledger.RecipientParent, true, 0); err != nil {
		if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrForbidden) {
			logger.Info("notification flag skipped", slog.Any("error", err))
			return fmt.Errorf("notify: %v: %w", err, asynq.SkipRetry)
		}
		logger.Error("mark parent message", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskNotifyAttendance, 1)
	return nil
}

func (j *NotifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskNotifyAttendance))
	}
	return slog.Default().With(slog.String("job", TaskNotifyAttendance))
}
