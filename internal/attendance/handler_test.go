package attendance

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/tutorledger/tutorledger/internal/rbac"
	"github.com/tutorledger/tutorledger/internal/shared"
)

func newTestRouter(role shared.Role, repo *memoryRepo) http.Handler {
	h := NewHandler(nil, NewService(repo, nil), rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithCaller(req.Context(), shared.Caller{ID: 1, Role: role})))
		})
	})
	h.MountRoutes(r)
	return r
}

func TestHandlerReportJSONAndCSV(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	repo.store.setPeriod(2, week1, periodState{attended: true, paid: true, center: "north", at: now})
	repo.store.add(2, week1, now)
	repo.store.add(2, week2, now)
	router := newTestRouter(shared.RoleAssistant, repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attendance/report?student_id=2&from=2026-10-01&to=2026-10-01", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Rows []reportRow `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	require.Equal(t, "week:1", body.Rows[0].Period)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attendance/report?format=csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attendance/report?from=yesterday", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerReconcileRequiresAdmin(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	repo.store.setPeriod(2, week1, periodState{attended: true, at: now})

	rec := httptest.NewRecorder()
	newTestRouter(shared.RoleAssistant, repo).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/students/2/attendance/reconcile", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	newTestRouter(shared.RoleAdmin, repo).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/students/2/attendance/reconcile", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var result ReconcileResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, 1, result.Added)
}
