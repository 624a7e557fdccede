package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tutorledger/tutorledger/internal/shared"
)

func serve(t *testing.T, mw func(http.Handler) http.Handler, caller *shared.Caller) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if caller != nil {
		req = req.WithContext(shared.ContextWithCaller(req.Context(), *caller))
	}
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireAny(t *testing.T) {
	m := Middleware{}
	mw := m.RequireAny(shared.PermCreditEdit, " Progress.Edit ")

	require.Equal(t, http.StatusUnauthorized, serve(t, mw, nil))
	require.Equal(t, http.StatusNoContent, serve(t, mw, &shared.Caller{ID: 1, Role: shared.RoleAssistant}))
	require.Equal(t, http.StatusForbidden, serve(t, mw, &shared.Caller{ID: 2, Role: shared.RoleStudent}))
}

func TestRequireAll(t *testing.T) {
	m := Middleware{}
	mw := m.RequireAll(shared.PermProgressEdit, shared.PermProgressReset)

	require.Equal(t, http.StatusForbidden, serve(t, mw, &shared.Caller{ID: 1, Role: shared.RoleAssistant}))
	require.Equal(t, http.StatusNoContent, serve(t, mw, &shared.Caller{ID: 9, Role: shared.RoleAdmin}))
}

func TestCan(t *testing.T) {
	require.True(t, Can(shared.RoleStudent, shared.PermCodesRedeem))
	require.False(t, Can(shared.RoleStudent, shared.PermProgressView))
	require.False(t, Can(shared.Role("guest"), shared.PermCodesRedeem))
}
