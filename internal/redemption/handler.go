package redemption

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tutorledger/tutorledger/internal/platform/httpx"
	"github.com/tutorledger/tutorledger/internal/rbac"
	"github.com/tutorledger/tutorledger/internal/shared"
)

// Handler wires HTTP endpoints for codes and content viewing.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler constructs the redemption handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers code and content routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermCodesIssue))
		r.Post("/activation-codes", h.handleIssueActivation)
		r.Post("/view-codes/batches", h.handleIssueBatch)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermCodesManage))
		r.Get("/activation-codes/{studentID}", h.handleGetActivation)
		r.Get("/view-codes", h.handleList)
		r.Put("/view-codes/{code}/enabled", h.handleSetEnabled)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermCodesRedeem))
		r.Post("/activation-codes/activate", h.handleActivate)
		r.Post("/view-codes/check", h.handleCheck)
		r.Post("/content/{contentID}/open", h.handleOpen)
		r.Post("/content/{contentID}/finish", h.handleFinish)
	})
}

type issueActivationRequest struct {
	OwnerStudentID int64 `json:"owner_student_id" validate:"required,gt=0"`
}

type issueBatchRequest struct {
	Count        int    `json:"count" validate:"required,gt=0,lte=1000"`
	Views        int    `json:"views" validate:"required,gt=0,lte=1000"`
	PaymentState string `json:"payment_state" validate:"omitempty,oneof=UNPAID PAID"`
}

type codeRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type finishRequest struct {
	EventID string `json:"event_id" validate:"max=128"`
}

func (h *Handler) handleIssueActivation(w http.ResponseWriter, r *http.Request) {
	var req issueActivationRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ac, err := h.service.IssueActivationCode(r.Context(), req.OwnerStudentID, httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ac)
}

func (h *Handler) handleGetActivation(w http.ResponseWriter, r *http.Request) {
	owner, err := strconv.ParseInt(chi.URLParam(r, "studentID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, ErrInvalidInput)
		return
	}
	ac, err := h.service.ActivationCodeFor(r.Context(), owner)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ac)
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ac, err := h.service.Activate(r.Context(), req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ac)
}

func (h *Handler) handleIssueBatch(w http.ResponseWriter, r *http.Request) {
	var req issueBatchRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.IssueViewCodes(r.Context(), IssueBatchInput{
		Count:        req.Count,
		Views:        req.Views,
		IssuedBy:     httpx.ActorID(r),
		PaymentState: PaymentState(req.PaymentState),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{}
	if raw := q.Get("batch_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.RespondError(w, ErrInvalidInput)
			return
		}
		filter.BatchID = &id
	}
	for name, target := range map[string]**bool{"claimed": &filter.Claimed, "enabled": &filter.Enabled} {
		if raw := q.Get(name); raw != "" {
			value, err := strconv.ParseBool(raw)
			if err != nil {
				httpx.RespondError(w, ErrInvalidInput)
				return
			}
			*target = &value
		}
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	page, err := h.service.ListViewCodes(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	code, err := httpx.PathParam(r, "code")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	vc, err := h.service.SetEnabled(r.Context(), code, *req.Enabled, httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, vc)
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req codeRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.CheckAndClaim(r.Context(), req.Code, caller.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	contentID, err := httpx.Int64Param(r, "contentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req codeRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Open(r.Context(), req.Code, caller.ID, contentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	contentID, err := httpx.Int64Param(r, "contentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req finishRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Finish(r.Context(), FinishInput{StudentID: caller.ID, ContentID: contentID, EventID: req.EventID})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("redemption request failed", slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err)
}
