package attendance

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tutorledger/tutorledger/internal/platform/httpx"
	"github.com/tutorledger/tutorledger/internal/rbac"
	"github.com/tutorledger/tutorledger/internal/shared"
)

// Handler exposes reporting and repair endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the attendance handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers attendance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermAttendanceReport)).Get("/attendance/report", h.handleReport)
	r.With(h.rbac.RequireAll(shared.PermAttendanceReconcile)).Post("/students/{studentID}/attendance/reconcile", h.handleReconcile)
}

func parseFilter(r *http.Request) (ReportFilter, error) {
	q := r.URL.Query()
	filter := ReportFilter{Grade: q.Get("grade"), Center: q.Get("center")}
	if raw := q.Get("student_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ReportFilter{}, fmt.Errorf("%w: student_id", httpx.ErrBadRequest)
		}
		filter.StudentID = id
	}
	for name, target := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := q.Get(name); raw != "" {
			at, err := time.Parse(time.DateOnly, raw)
			if err != nil {
				return ReportFilter{}, fmt.Errorf("%w: %s", httpx.ErrBadRequest, name)
			}
			*target = at
		}
	}
	if !filter.To.IsZero() {
		filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return ReportFilter{}, fmt.Errorf("%w: limit", httpx.ErrBadRequest)
		}
		filter.Limit = limit
	}
	return filter, nil
}

type reportRow struct {
	StudentID        int64      `json:"student_id"`
	Grade            string     `json:"grade"`
	Period           string     `json:"period"`
	Center           string     `json:"center"`
	Paid             bool       `json:"paid"`
	LastAttendanceAt *time.Time `json:"last_attendance_at,omitempty"`
	RecordedAt       time.Time  `json:"recorded_at"`
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		rows, err := h.service.ListForReporting(r.Context(), filter)
		if err != nil {
			h.logger.Error("attendance csv export", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.Attachment(w, "attendance.csv", "text/csv")
		if err := WriteReportCSV(w, rows); err != nil {
			h.logger.Error("attendance csv write", slog.Any("error", err))
		}
		return
	}
	rows, err := h.service.ListForReporting(r.Context(), filter)
	if err != nil {
		h.logger.Error("attendance report", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]reportRow, 0, len(rows))
	for _, row := range rows {
		item := reportRow{
			StudentID:  row.StudentID,
			Grade:      row.Grade,
			Period:     row.Period.String(),
			Center:     row.Center,
			Paid:       row.Paid,
			RecordedAt: row.RecordedAt,
		}
		if !row.LastAttendanceAt.IsZero() {
			at := row.LastAttendanceAt
			item.LastAttendanceAt = &at
		}
		out = append(out, item)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": out})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	studentID, err := httpx.Int64Param(r, "studentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Reconcile(r.Context(), studentID)
	if err != nil {
		if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
			h.logger.Error("attendance reconcile", slog.Any("error", err), slog.Int64("student_id", studentID))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
