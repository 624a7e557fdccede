package observability

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/tutorledger/tutorledger/internal/shared"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestHandlerExposesJobAndRuntimeMetrics(t *testing.T) {
	metrics := NewMetrics()
	require.NoError(t, metrics.Jobs().Track("attendance:reconcile").End(nil))

	body := scrape(t, metrics)
	require.Contains(t, body, `tutorledger_jobs_total{job="attendance:reconcile",status="ok"} 1`)
	require.Contains(t, body, "go_goroutines")
}

func TestObserveOperationLabelsOutcome(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveOperation("redemption.claim", nil)
	metrics.ObserveOperation("redemption.claim", fmt.Errorf("wrapped: %w", shared.ErrConflict))
	metrics.ObserveOperation("ledger.attendance", fmt.Errorf("wrapped: %w", shared.ErrPaymentRequired))

	body := scrape(t, metrics)
	require.Contains(t, body, `tutorledger_operations_total{operation="redemption.claim",outcome="ok"} 1`)
	require.Contains(t, body, `tutorledger_operations_total{operation="redemption.claim",outcome="conflict"} 1`)
	require.Contains(t, body, `tutorledger_operations_total{operation="ledger.attendance",outcome="payment_required"} 1`)
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))

	rc := chi.NewRouteContext()
	rc.RoutePatterns = append(rc.RoutePatterns, "/students/{studentID}")
	req := httptest.NewRequest(http.MethodGet, "/students/42", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTeapot, rec.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `tutorledger_http_requests_total{code="418",method="GET",route="/students/{studentID}"} 1`)
	require.Contains(t, body, `tutorledger_http_request_duration_seconds_bucket{route="/students/{studentID}"`)
	require.Contains(t, body, "tutorledger_http_requests_in_flight 0")
}

func TestNilMetricsAreInert(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveOperation("ledger.attendance", nil)
	require.Nil(t, metrics.Jobs())

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
