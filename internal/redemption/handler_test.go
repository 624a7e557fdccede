package redemption

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/tutorledger/tutorledger/internal/rbac"
	"github.com/tutorledger/tutorledger/internal/shared"
)

func serve(t *testing.T, svc *Service, caller shared.Caller, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithCaller(req.Context(), caller)))
		})
	})
	NewHandler(nil, svc, rbac.Middleware{}).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHandlerClaimStatuses(t *testing.T) {
	f := newFixture(t)
	code := f.issueOne(t, 2)
	admin := shared.Caller{ID: 9, Role: shared.RoleAdmin}
	first := shared.Caller{ID: 1, Role: shared.RoleStudent}
	second := shared.Caller{ID: 2, Role: shared.RoleStudent}

	rec := serve(t, f.svc, first, http.MethodPost, "/view-codes/check", `{"code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var claim ClaimResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &claim))
	require.Equal(t, 2, claim.RemainingViews)

	rec = serve(t, f.svc, second, http.MethodPost, "/view-codes/check", `{"code":"`+code+`"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(t, f.svc, admin, http.MethodPut, "/view-codes/"+code+"/enabled", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, f.svc, first, http.MethodPost, "/view-codes/check", `{"code":"`+code+`"}`)
	require.Equal(t, http.StatusLocked, rec.Code)

	rec = serve(t, f.svc, first, http.MethodPost, "/view-codes/check", `{"code":"MISSING"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerOpenAndFinish(t *testing.T) {
	f := newFixture(t)
	code := f.issueOne(t, 2)
	student := shared.Caller{ID: 1, Role: shared.RoleStudent}

	rec := serve(t, f.svc, student, http.MethodPost, "/content/10/open", `{"code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, f.svc, student, http.MethodPost, "/content/10/finish", `{"event_id":"evt-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result FinishResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotNil(t, result.Consume)
	require.Equal(t, 1, result.Consume.RemainingViews)
	require.NotNil(t, result.Attendance)
	require.True(t, result.Attendance.Attended)

	rec = serve(t, f.svc, student, http.MethodPost, "/content/abc/finish", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerPermissions(t *testing.T) {
	f := newFixture(t)
	assistant := shared.Caller{ID: 9, Role: shared.RoleAssistant}

	rec := serve(t, f.svc, assistant, http.MethodPost, "/view-codes/batches", `{"count":2,"views":3}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var batch Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	require.Len(t, batch.Codes, 2)

	rec = serve(t, f.svc, assistant, http.MethodGet, "/view-codes", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, f.svc, shared.Caller{ID: 1, Role: shared.RoleStudent}, http.MethodPost, "/view-codes/batches", `{"count":1,"views":1}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerActivationLookup(t *testing.T) {
	f := newFixture(t)
	admin := shared.Caller{ID: 9, Role: shared.RoleAdmin}

	rec := serve(t, f.svc, admin, http.MethodPost, "/activation-codes", `{"owner_student_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var issued ActivationCode
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))

	rec = serve(t, f.svc, admin, http.MethodGet, "/activation-codes/1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var shown ActivationCode
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shown))
	require.Equal(t, issued.Code, shown.Code)
	require.False(t, shown.Activated)

	rec = serve(t, f.svc, admin, http.MethodGet, "/activation-codes/2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(t, f.svc, admin, http.MethodGet, "/activation-codes/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(t, f.svc, shared.Caller{ID: 3, Role: shared.RoleAssistant}, http.MethodGet, "/activation-codes/1", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}
