package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/tutorledger/tutorledger/internal/observability"
	"github.com/tutorledger/tutorledger/internal/shared"
)

type whoami struct{}

func (whoami) MountRoutes(r chi.Router) {
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		caller, ok := shared.CallerFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(string(caller.Role)))
	})
}

func newTestRouter(checks map[string]HealthCheck) http.Handler {
	return NewRouter(RouterParams{
		Config:   &Config{AppEnv: "test", RateLimitPerMin: 1000},
		Metrics:  observability.NewMetrics(),
		Handlers: []RouteMounter{whoami{}},
		Checks:   checks,
	})
}

func TestRouterCallerHeaders(t *testing.T) {
	router := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set(HeaderCallerID, "12")
	req.Header.Set(HeaderCallerRole, "Assistant")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "assistant", rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set(HeaderCallerID, "abc")
	req.Header.Set(HeaderCallerRole, "admin")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set(HeaderCallerID, "4")
	req.Header.Set(HeaderCallerRole, "root")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterHealthAndReadiness(t *testing.T) {
	router := newTestRouter(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"postgres":"ok","redis":"connection refused"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "tutorledger_http_requests_total")
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/test")
	t.Setenv("RECONCILE_BATCH", "0")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("RECONCILE_BATCH", "50")
	t.Setenv("CONTENT_BINDING_TTL", "2h")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 50, cfg.ReconcileBatch)
	require.Equal(t, "2h0m0s", cfg.ContentBindingTTL.String())
	require.Equal(t, "postgres://localhost/test", cfg.PGDSN)
	require.False(t, cfg.IsProduction())
}
