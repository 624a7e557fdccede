package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/tutorledger/tutorledger/internal/content"
	"github.com/tutorledger/tutorledger/internal/credit"
	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/redemption"
	_ "github.com/tutorledger/tutorledger/internal/testing/guard"
	"github.com/tutorledger/tutorledger/jobs"
)

type stubBackend struct {
	reconcile jobs.ReconcilePayload
	batch     redemption.IssueBatchInput
	credits   credit.SetInput
	content   content.Content
	triggered string
	closed    bool
}

func (s *stubBackend) Migrate(ctx context.Context) ([]string, error) {
	return []string{"0001_init.sql"}, nil
}

func (s *stubBackend) Reconcile(ctx context.Context, payload jobs.ReconcilePayload) (jobs.ReconcileSummary, error) {
	s.reconcile = payload
	return jobs.ReconcileSummary{Students: 2, Changed: 1, Added: 1}, nil
}

func (s *stubBackend) IssueActivationCode(ctx context.Context, owner int64) (redemption.ActivationCode, error) {
	return redemption.ActivationCode{OwnerStudentID: owner, Code: "ABCD-EFGH"}, nil
}

func (s *stubBackend) ActivationCode(ctx context.Context, owner int64) (redemption.ActivationCode, error) {
	if owner != 12 {
		return redemption.ActivationCode{}, redemption.ErrNotFound
	}
	return redemption.ActivationCode{OwnerStudentID: owner, Code: "ABCD-EFGH", Activated: true}, nil
}

func (s *stubBackend) IssueViewCodes(ctx context.Context, input redemption.IssueBatchInput) (redemption.Batch, error) {
	s.batch = input
	return redemption.Batch{ID: uuid.New(), Codes: []redemption.ViewCode{{Code: "AAAA-BBBB-CCCC", RemainingViews: input.Views}}}, nil
}

func (s *stubBackend) SetCredits(ctx context.Context, input credit.SetInput) (credit.Account, error) {
	s.credits = input
	return credit.Account{StudentID: input.StudentID, Remaining: input.Remaining}, nil
}

func (s *stubBackend) UpsertContent(ctx context.Context, item content.Content) error {
	s.content = item
	return nil
}

func (s *stubBackend) TriggerJob(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if name != jobs.TaskAttendanceReconcile {
		return nil, errors.New("unsupported")
	}
	s.triggered = name
	return &asynq.TaskInfo{ID: "t-1", Queue: jobs.QueueDefault, Type: name}, nil
}

func (s *stubBackend) QueueStats(ctx context.Context) (QueueStats, error) {
	return QueueStats{Queue: jobs.QueueDefault, Pending: 4}, nil
}

func (s *stubBackend) Close() error {
	s.closed = true
	return nil
}

func run(t *testing.T, backend *stubBackend, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(func(context.Context) (Backend, error) { return backend, nil })
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReconcileCommand(t *testing.T) {
	backend := &stubBackend{}
	out, err := run(t, backend, "reconcile", "--student", "7")
	require.NoError(t, err)
	require.Equal(t, "students=2 changed=1 added=1 removed=0\n", out)
	require.Equal(t, int64(7), backend.reconcile.StudentID)
	require.True(t, backend.closed)

	_, err = run(t, &stubBackend{}, "reconcile", "--limit", "-1")
	require.Error(t, err)
}

func TestCodesCommandsJSON(t *testing.T) {
	backend := &stubBackend{}
	out, err := run(t, backend, "--format", "json", "codes", "views", "--count", "3", "--views", "5", "--paid")
	require.NoError(t, err)
	require.Equal(t, redemption.IssueBatchInput{Count: 3, Views: 5, PaymentState: redemption.PaymentPaid}, backend.batch)

	var batch redemption.Batch
	require.NoError(t, json.Unmarshal([]byte(out), &batch))
	require.Len(t, batch.Codes, 1)
	require.Equal(t, 5, batch.Codes[0].RemainingViews)

	out, err = run(t, backend, "codes", "activation", "12")
	require.NoError(t, err)
	require.Equal(t, "12\tABCD-EFGH\tpending\n", out)

	_, err = run(t, backend, "codes", "activation", "abc")
	require.Error(t, err)

	out, err = run(t, backend, "codes", "activation", "show", "12")
	require.NoError(t, err)
	require.Equal(t, "12\tABCD-EFGH\tactivated\n", out)

	_, err = run(t, backend, "codes", "activation", "show", "13")
	require.ErrorIs(t, err, redemption.ErrNotFound)
}

func TestCreditsSetCommand(t *testing.T) {
	backend := &stubBackend{}
	out, err := run(t, backend, "credits", "set", "9", "--remaining", "8", "--cost", "120", "--purchased", "2026-09-01", "--comment", "term")
	require.NoError(t, err)
	require.Equal(t, "student 9: 8 sessions remaining\n", out)
	require.Equal(t, 8, backend.credits.Remaining)
	require.Equal(t, "term", backend.credits.Comment)
	require.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), backend.credits.PurchasedAt)

	_, err = run(t, &stubBackend{}, "credits", "set", "9")
	require.Error(t, err)
	_, err = run(t, &stubBackend{}, "credits", "set", "9", "--remaining", "1", "--purchased", "yesterday")
	require.Error(t, err)
}

func TestContentSetCommand(t *testing.T) {
	backend := &stubBackend{}
	_, err := run(t, backend, "content", "set", "31", "--period", "lesson:Algebra", "--free")
	require.NoError(t, err)
	require.Equal(t, int64(31), backend.content.ID)
	require.True(t, backend.content.Free)
	require.Equal(t, period.MustParse("lesson:Algebra"), backend.content.Period)

	_, err = run(t, &stubBackend{}, "content", "set", "31", "--period", "term:1")
	require.ErrorIs(t, err, period.ErrInvalidKey)
}

func TestJobsAndMigrateCommands(t *testing.T) {
	backend := &stubBackend{}
	out, err := run(t, backend, "jobs", "trigger", jobs.TaskAttendanceReconcile)
	require.NoError(t, err)
	require.Contains(t, out, "enqueued attendance:reconcile as t-1")

	out, err = run(t, backend, "--format", "json", "jobs", "stats")
	require.NoError(t, err)
	require.JSONEq(t, `{"queue":"default","pending":4,"active":0,"scheduled":0,"retry":0}`, out)

	out, err = run(t, backend, "migrate")
	require.NoError(t, err)
	require.Equal(t, "applied 0001_init.sql\n", out)

	_, err = run(t, backend, "--format", "yaml", "migrate")
	require.Error(t, err)
}
