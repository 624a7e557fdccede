package students

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tutorledger/tutorledger/internal/platform/httpx"
	"github.com/tutorledger/tutorledger/internal/rbac"
	"github.com/tutorledger/tutorledger/internal/shared"
)

// Handler exposes account state changes.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler constructs the students handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers student routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermProgressView)).Get("/students/{studentID}", h.handleGet)
	r.With(h.rbac.RequireAll(shared.PermStudentsEdit)).Put("/students/{studentID}/state", h.handleSetState)
}

type studentResponse struct {
	ID            int64  `json:"id"`
	Grade         string `json:"grade"`
	State         string `json:"state"`
	CurrentPeriod string `json:"current_period,omitempty"`
}

func toResponse(st Student) studentResponse {
	resp := studentResponse{ID: st.ID, Grade: st.Grade, State: string(st.State)}
	if !st.CurrentPeriod.IsZero() {
		resp.CurrentPeriod = st.CurrentPeriod.String()
	}
	return resp
}

type stateRequest struct {
	State string `json:"state" validate:"required,oneof=ACTIVE DEACTIVATED active deactivated"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "studentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(st))
}

func (h *Handler) handleSetState(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "studentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req stateRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.SetState(r.Context(), id, AccountState(strings.ToUpper(req.State)), httpx.ActorID(r))
	if err != nil {
		if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
			h.logger.Error("set student state", slog.Any("error", err), slog.Int64("student_id", id))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(st))
}
