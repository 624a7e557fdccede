package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/tutorledger/tutorledger/internal/attendance"
	jobmetrics "github.com/tutorledger/tutorledger/internal/jobs"
)

const (
	defaultReconcileLimit   = 500
	defaultReconcileWorkers = 4
)

// Reconciler is the slice of the attendance service the job drives.
type Reconciler interface {
	DriftedStudents(ctx context.Context, limit int) ([]int64, error)
	Reconcile(ctx context.Context, studentID int64) (attendance.ReconcileResult, error)
}

// ReconcileSummary aggregates one job run.
type ReconcileSummary struct {
	Students int
	Changed  int
	Added    int
	Removed  int
}

// ReconcileJob repairs attendance logs from the ledger.
type ReconcileJob struct {
	Service Reconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Workers int
}

// NewReconcileJob initialises the reconcile handler.
func NewReconcileJob(service Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Service: service, Logger: logger, Metrics: metrics, Workers: defaultReconcileWorkers}
}

// Handle executes TaskAttendanceReconcile.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run repairs the selected students, fanning out over a bounded worker group.
// A failing student aborts the run; students already repaired stay repaired.
func (j *ReconcileJob) Run(ctx context.Context, payload ReconcilePayload) (summary ReconcileSummary, err error) {
	tracker := j.Metrics.Track(TaskAttendanceReconcile)
	defer func() {
		err = tracker.End(err)
	}()
	start := time.Now()
	logger := j.logger()

	ids := []int64{payload.StudentID}
	if payload.StudentID == 0 {
		limit := payload.Limit
		if limit <= 0 {
			limit = defaultReconcileLimit
		}
		ids, err = j.Service.DriftedStudents(ctx, limit)
		if err != nil {
			logger.Error("list drifted students", slog.Any("error", err))
			return summary, err
		}
	}

	workers := j.Workers
	if workers <= 0 {
		workers = defaultReconcileWorkers
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range ids {
		g.Go(func() error {
			result, err := j.Service.Reconcile(gctx, id)
			if err != nil {
				logger.Error("reconcile student", slog.Int64("student_id", id), slog.Any("error", err))
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			summary.Students++
			if result.Changed() {
				summary.Changed++
				summary.Added += result.Added
				summary.Removed += result.Removed
				logger.Info("attendance log repaired",
					slog.Int64("student_id", id),
					slog.Int("added", result.Added),
					slog.Int("removed", result.Removed),
				)
			}
			return nil
		})
	}
	err = g.Wait()
	j.Metrics.AddRepairs("added", summary.Added)
	j.Metrics.AddRepairs("removed", summary.Removed)
	logger.Info("attendance reconcile finished",
		slog.Int("students", summary.Students),
		slog.Int("changed", summary.Changed),
		slog.Duration("duration", time.Since(start)),
	)
	return summary, err
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAttendanceReconcile))
	}
	return slog.Default().With(slog.String("job", TaskAttendanceReconcile))
}
