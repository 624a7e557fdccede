package ledger

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/platform/httpx"
	"github.com/tutorledger/tutorledger/internal/rbac"
	"github.com/tutorledger/tutorledger/internal/shared"
)

// Handler wires HTTP endpoints for the progress ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	const base = "/students/{studentID}"
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProgressView))
		r.Get(base+"/progress", h.handleProgress)
		r.Get(base+"/periods/{period}", h.handleGetPeriod)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProgressEdit))
		r.Put(base+"/periods/{period}", h.handleEnsure)
		r.Put(base+"/periods/{period}/attendance", h.handleAttendance)
		r.Put(base+"/periods/{period}/homework", h.handleHomework)
		r.Put(base+"/periods/{period}/quiz", h.handleQuiz)
		r.Put(base+"/periods/{period}/comment", h.handleComment)
		r.Put(base+"/periods/{period}/messages/{recipient}", h.handleMessage)
	})
	r.With(h.rbac.RequireAll(shared.PermProgressReset)).Post(base+"/progress/reset", h.handleReset)
}

type attendanceRequest struct {
	Attended *bool  `json:"attended" validate:"required"`
	Center   string `json:"center" validate:"max=64"`
}

type homeworkRequest struct {
	State string `json:"state" validate:"required"`
	Score string `json:"score" validate:"max=32"`
}

type quizRequest struct {
	State string `json:"state" validate:"required"`
	Score string `json:"score" validate:"max=32"`
}

type commentRequest struct {
	Comment *string `json:"comment" validate:"omitempty,max=2000"`
}

type messageRequest struct {
	Sent *bool `json:"sent" validate:"required"`
}

func (h *Handler) target(r *http.Request) (int64, period.Key, error) {
	studentID, err := httpx.Int64Param(r, "studentID")
	if err != nil {
		return 0, period.Key{}, err
	}
	raw, err := httpx.PathParam(r, "period")
	if err != nil {
		return 0, period.Key{}, err
	}
	key, err := period.Parse(raw)
	if err != nil {
		return 0, period.Key{}, err
	}
	return studentID, key, nil
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	studentID, err := httpx.Int64Param(r, "studentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, err := h.service.GetProgress(r.Context(), studentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"student_id": studentID, "periods": records})
}

func (h *Handler) handleGetPeriod(w http.ResponseWriter, r *http.Request) {
	studentID, key, err := h.target(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := h.service.GetPeriod(r.Context(), studentID, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleEnsure(w http.ResponseWriter, r *http.Request) {
	studentID, key, err := h.target(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := h.service.EnsurePeriod(r.Context(), studentID, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleAttendance(w http.ResponseWriter, r *http.Request) {
	studentID, key, err := h.target(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req attendanceRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := h.service.SetAttendance(r.Context(), AttendanceInput{
		StudentID: studentID,
		Period:    key,
		Attended:  *req.Attended,
		Center:    req.Center,
		Funding:   FundingSessionCredit,
		ActorID:   httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleHomework(w http.ResponseWriter, r *http.Request) {
	studentID, key, err := h.target(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req homeworkRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	score, err := optionalScore(req.Score)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := h.service.SetHomework(r.Context(), HomeworkInput{
		StudentID: studentID,
		Period:    key,
		State:     HomeworkState(strings.ToUpper(req.State)),
		Score:     score,
		ActorID:   httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleQuiz(w http.ResponseWriter, r *http.Request) {
	studentID, key, err := h.target(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req quizRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	score, err := optionalScore(req.Score)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := h.service.SetQuiz(r.Context(), QuizInput{
		StudentID: studentID,
		Period:    key,
		Quiz:      Quiz{State: QuizState(strings.ToUpper(req.State)), Score: score},
		ActorID:   httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleComment(w http.ResponseWriter, r *http.Request) {
	studentID, key, err := h.target(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req commentRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := h.service.SetComment(r.Context(), studentID, key, req.Comment, httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	studentID, key, err := h.target(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req messageRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	recipient := Recipient(strings.ToLower(chi.URLParam(r, "recipient")))
	record, err := h.service.SetMessageFlag(r.Context(), studentID, key, recipient, *req.Sent, httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	studentID, err := httpx.Int64Param(r, "studentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ResetProgress(r.Context(), studentID, httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("ledger request failed", slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err)
}

func optionalScore(raw string) (*Score, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	score, err := ParseScore(raw)
	if err != nil {
		return nil, err
	}
	return &score, nil
}
