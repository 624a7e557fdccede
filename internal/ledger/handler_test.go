package ledger_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/tutorledger/tutorledger/internal/ledger"
	"github.com/tutorledger/tutorledger/internal/rbac"
	"github.com/tutorledger/tutorledger/internal/shared"
)

func newRouter(t *testing.T, role shared.Role) (http.Handler, *ledger.Service, func(int64, string, int)) {
	t.Helper()
	svc, mem, _ := newService(t)
	h := ledger.NewHandler(nil, svc, rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithCaller(req.Context(), shared.Caller{ID: 42, Role: role})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	h.MountRoutes(r)
	return r, svc, mem.AddStudent
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerAttendanceFlow(t *testing.T) {
	h, _, addStudent := newRouter(t, shared.RoleAssistant)
	addStudent(1, "g10", 1)

	rec := do(t, h, http.MethodPut, "/students/1/periods/lesson:Fractions/homework", `{"state":"done"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPut, "/students/1/periods/lesson:Fractions/attendance", `{"attended":true,"center":"north"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var record ledger.PeriodRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.True(t, record.Attended)
	require.True(t, record.Paid)

	rec = do(t, h, http.MethodPut, "/students/1/periods/week:2/attendance", `{"attended":true}`)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = do(t, h, http.MethodPut, "/students/1/periods/lesson:Fractions/homework", `{"state":"done","score":"9/10"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.Equal(t, "9/10", record.Homework.Score.String())

	rec = do(t, h, http.MethodPut, "/students/1/periods/lesson:Fractions/quiz", `{"state":"scored"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPut, "/students/1/periods/lesson:Fractions/messages/parent", `{"sent":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/students/1/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var progress struct {
		Periods []ledger.PeriodRecord `json:"periods"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	require.Len(t, progress.Periods, 1)
	require.True(t, progress.Periods[0].Messages.Parent)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	h, _, addStudent := newRouter(t, shared.RoleAssistant)
	addStudent(1, "g10", 1)

	rec := do(t, h, http.MethodPut, "/students/1/periods/month:3/attendance", `{"attended":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/students/abc/periods/week:3/attendance", `{"attended":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/students/1/periods/week:3/attendance", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/students/9/progress", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerResetRequiresAdmin(t *testing.T) {
	h, _, addStudent := newRouter(t, shared.RoleAssistant)
	addStudent(1, "g10", 1)
	rec := do(t, h, http.MethodPost, "/students/1/progress/reset", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	admin, _, addAdminStudent := newRouter(t, shared.RoleAdmin)
	addAdminStudent(1, "g10", 1)
	rec = do(t, admin, http.MethodPost, "/students/1/progress/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerStudentRoleCannotEditProgress(t *testing.T) {
	h, _, addStudent := newRouter(t, shared.RoleStudent)
	addStudent(1, "g10", 1)
	rec := do(t, h, http.MethodPut, "/students/1/periods/week:1/attendance", `{"attended":true}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
