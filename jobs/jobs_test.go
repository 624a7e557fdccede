package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/tutorledger/tutorledger/internal/attendance"
	jobmetrics "github.com/tutorledger/tutorledger/internal/jobs"
	"github.com/tutorledger/tutorledger/internal/ledger"
	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/rbac"
	"github.com/tutorledger/tutorledger/internal/shared"
	"github.com/tutorledger/tutorledger/internal/students"
)

type fakeReconciler struct {
	mu      sync.Mutex
	drifted []int64
	results map[int64]attendance.ReconcileResult
	fail    map[int64]error
	seen    []int64
}

func (f *fakeReconciler) DriftedStudents(ctx context.Context, limit int) ([]int64, error) {
	if limit < len(f.drifted) {
		return f.drifted[:limit], nil
	}
	return f.drifted, nil
}

func (f *fakeReconciler) Reconcile(ctx context.Context, studentID int64) (attendance.ReconcileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, studentID)
	if err := f.fail[studentID]; err != nil {
		return attendance.ReconcileResult{}, err
	}
	result := f.results[studentID]
	result.StudentID = studentID
	return result, nil
}

func TestReconcileJobFansOutOverDriftedStudents(t *testing.T) {
	rec := &fakeReconciler{
		drifted: []int64{1, 2, 3},
		results: map[int64]attendance.ReconcileResult{
			1: {Added: 2},
			3: {Removed: 1},
		},
	}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewReconcileJob(rec, nil, metrics)

	summary, err := job.Run(context.Background(), ReconcilePayload{})
	require.NoError(t, err)
	require.Equal(t, ReconcileSummary{Students: 3, Changed: 2, Added: 2, Removed: 1}, summary)
	require.ElementsMatch(t, []int64{1, 2, 3}, rec.seen)
}

func TestReconcileJobSingleStudentAndFailure(t *testing.T) {
	boom := errors.New("boom")
	rec := &fakeReconciler{drifted: []int64{9}, fail: map[int64]error{4: boom}}
	job := NewReconcileJob(rec, nil, nil)

	task, err := NewReconcileTask(ReconcilePayload{StudentID: 4})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
	require.Equal(t, []int64{4}, rec.seen)

	bad := asynq.NewTask(TaskAttendanceReconcile, []byte("{"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

type flagCall struct {
	studentID int64
	key       period.Key
	recipient ledger.Recipient
	sent      bool
}

type fakeMarker struct {
	calls []flagCall
	err   error
}

func (m *fakeMarker) SetMessageFlag(ctx context.Context, studentID int64, key period.Key, recipient ledger.Recipient, sent bool, actorID int64) (ledger.PeriodRecord, error) {
	if m.err != nil {
		return ledger.PeriodRecord{}, m.err
	}
	m.calls = append(m.calls, flagCall{studentID: studentID, key: key, recipient: recipient, sent: sent})
	return ledger.PeriodRecord{StudentID: studentID, Period: key}, nil
}

type fakeSender struct {
	sent []NotifyPayload
	err  error
}

func (s *fakeSender) Send(ctx context.Context, payload NotifyPayload) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, payload)
	return nil
}

func notifyTask(t *testing.T, p string) *asynq.Task {
	t.Helper()
	task, err := NewNotifyTask(NotifyPayload{StudentID: 7, Period: p, Center: "north", Funding: "SESSION_CREDIT"})
	require.NoError(t, err)
	return task
}

func TestNotifyJobMarksParentMessage(t *testing.T) {
	sender := &fakeSender{}
	marker := &fakeMarker{}
	job := NewNotifyJob(sender, marker, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), notifyTask(t, "week:3")))
	require.Len(t, sender.sent, 1)
	require.Equal(t, []flagCall{{studentID: 7, key: period.MustParse("week:3"), recipient: ledger.RecipientParent, sent: true}}, marker.calls)
}

func TestNotifyJobErrors(t *testing.T) {
	sender := &fakeSender{}
	job := NewNotifyJob(sender, &fakeMarker{}, nil, nil)
	require.ErrorIs(t, job.Handle(context.Background(), notifyTask(t, "week:0")), asynq.SkipRetry)

	job = NewNotifyJob(sender, &fakeMarker{err: students.ErrAccountDeactivated}, nil, nil)
	require.ErrorIs(t, job.Handle(context.Background(), notifyTask(t, "week:1")), asynq.SkipRetry)

	transient := errors.New("db down")
	job = NewNotifyJob(sender, &fakeMarker{err: transient}, nil, nil)
	err := job.Handle(context.Background(), notifyTask(t, "week:1"))
	require.ErrorIs(t, err, transient)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	job = NewNotifyJob(&fakeSender{err: transient}, &fakeMarker{}, nil, nil)
	require.ErrorIs(t, job.Handle(context.Background(), notifyTask(t, "week:1")), transient)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault, Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestClientQueuesAttendanceNotifications(t *testing.T) {
	enq := &fakeEnqueuer{}
	var notifier ledger.AttendanceNotifier = NewClientWith(enq)

	at := time.Date(2026, 10, 2, 15, 0, 0, 0, time.UTC)
	err := notifier.AttendanceRecorded(context.Background(), ledger.AttendanceEvent{
		StudentID: 7,
		Period:    period.MustParse("lesson:algebra"),
		Center:    ledger.CenterRemote,
		Funding:   ledger.FundingViewCode,
		At:        at,
	})
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskNotifyAttendance, enq.tasks[0].Type())

	var payload NotifyPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, "lesson:algebra", payload.Period)
	require.Equal(t, "remote", payload.Center)
	require.True(t, payload.At.Equal(at))
}

type fakeInspector struct {
	pending map[string]int
	err     error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.QueueInfo{Queue: queue, Pending: f.pending[queue]}, nil
}

func TestHandlerHealthAndTrigger(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := NewHandler(fakeInspector{pending: map[string]int{QueueDefault: 3, QueueNotify: 1}}, NewClientWith(enq), rbac.Middleware{}, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithCaller(req.Context(), shared.Caller{ID: 1, Role: shared.RoleAdmin})))
		})
	})
	h.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queues":[{"queue":"default","pending":3,"active":0,"retry":0},{"queue":"notify","pending":1,"active":0,"retry":0}]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/reconcile", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskAttendanceReconcile, enq.tasks[0].Type())

	failing := NewHandler(fakeInspector{err: errors.New("redis down")}, nil, rbac.Middleware{}, nil)
	r2 := chi.NewRouter()
	failing.MountRoutes(r2)
	rec = httptest.NewRecorder()
	r2.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsCountRepairs(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	metrics.AddRepairs("added", 2)
	metrics.AddRepairs("added", 0)
	require.NoError(t, metrics.Track("x").End(nil))
	count, err := testutil.GatherAndCount(reg, "tutorledger_attendance_repairs_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestTrackerSeparatesSkippedRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	require.ErrorIs(t, metrics.Track("notify").End(fmt.Errorf("gone: %w", asynq.SkipRetry)), asynq.SkipRetry)
	require.Error(t, metrics.Track("notify").End(errors.New("boom")))

	count, err := testutil.GatherAndCount(reg, "tutorledger_jobs_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
	count, err = testutil.GatherAndCount(reg, "tutorledger_jobs_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

type fakeCleaner struct {
	olderThan time.Duration
}

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 3, nil
}

func TestCleanupJobRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := &CleanupJob{Store: cleaner}

	task, err := NewCleanupTask(CleanupPayload{RetentionHours: 48})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, cleaner.olderThan)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, defaultIdempotencyRetention, cleaner.olderThan)
}
