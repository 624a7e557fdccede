package credit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tutorledger/tutorledger/internal/platform/httpx"
	"github.com/tutorledger/tutorledger/internal/rbac"
	"github.com/tutorledger/tutorledger/internal/shared"
)

// Handler exposes credit accounts over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler constructs the credit handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers credit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermCreditView)).Get("/students/{studentID}/credits", h.handleGet)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermCreditEdit))
		r.Put("/students/{studentID}/credits", h.handleSet)
		r.Delete("/students/{studentID}/credits", h.handleClear)
	})
}

type accountResponse struct {
	StudentID   int64      `json:"student_id"`
	Remaining   int        `json:"remaining"`
	Cost        float64    `json:"cost"`
	Comment     string     `json:"comment,omitempty"`
	PurchasedAt *time.Time `json:"purchased_at,omitempty"`
}

func toResponse(acc Account) accountResponse {
	resp := accountResponse{StudentID: acc.StudentID, Remaining: acc.Remaining, Cost: acc.Cost, Comment: acc.Comment}
	if !acc.PurchasedAt.IsZero() {
		at := acc.PurchasedAt
		resp.PurchasedAt = &at
	}
	return resp
}

type setRequest struct {
	Remaining   *int    `json:"remaining" validate:"required,gte=0"`
	Cost        float64 `json:"cost" validate:"gte=0"`
	Comment     string  `json:"comment" validate:"max=500"`
	PurchasedAt string  `json:"purchased_at" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	studentID, err := httpx.Int64Param(r, "studentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.Get(r.Context(), studentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(acc))
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	studentID, err := httpx.Int64Param(r, "studentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req setRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := SetInput{
		StudentID: studentID,
		Remaining: *req.Remaining,
		Cost:      req.Cost,
		Comment:   req.Comment,
		ActorID:   httpx.ActorID(r),
	}
	if req.PurchasedAt != "" {
		input.PurchasedAt, _ = time.Parse(time.DateOnly, req.PurchasedAt)
	}
	acc, err := h.service.Set(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(acc))
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	studentID, err := httpx.Int64Param(r, "studentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.Clear(r.Context(), studentID, httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(acc))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("credit request failed", slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err)
}
