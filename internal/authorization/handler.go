package authorization

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sgal-dev/sgal/internal/identity"
	"github.com/sgal-dev/sgal/internal/observability"
	"github.com/sgal-dev/sgal/internal/platform/httpx"
	"github.com/sgal-dev/sgal/internal/shared"
)

// Handler exposes the authorization workflow over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	guard    identity.Middleware
	idem     *shared.IdempotencyStore
	metrics  *observability.Metrics
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard identity.Middleware, idem *shared.IdempotencyStore, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		guard:    guard,
		idem:     idem,
		metrics:  metrics,
	}
}

func (h *Handler) count(err error) {
	if h.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.metrics.CountTransition("authorization", outcome)
}

// idempotent reserves the Idempotency-Key header, if the client sent one,
// so a resubmitted mutation gets a conflict instead of running twice.
func (h *Handler) idempotent(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idem == nil {
		return true
	}
	if err := h.idem.CheckAndInsert(r.Context(), key, "authorization"); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

// MountRoutes registers authorization routes. Authentication runs in the
// parent router; role checks happen here and again inside the service.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/decisions", h.decisions)

	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(shared.RoleUtente))
		r.Post("/", h.create)
		r.Post("/{id}/confirm-payment", h.confirmPayment)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(shared.RoleTecnico))
		r.Post("/{id}/validate-technician", h.validateTechnician)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(shared.RoleChefe))
		r.Post("/{id}/validate-chief", h.validateChief)
		r.Post("/{id}/issue-rupe", h.issueRUPE)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(shared.RoleChefe, shared.RoleDireccao))
		r.Post("/{id}/validate-payment", h.validatePayment)
		r.Post("/{id}/certificate", h.regenerateCertificate)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(shared.RoleDireccao))
		r.Post("/{id}/approve", h.approve)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(shared.RoleTecnico, shared.RoleChefe, shared.RoleDireccao))
		r.Post("/{id}/reject", h.reject)
	})
}

func requestID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

func mustActor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor missing")
	}
	return actor, ok
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if !h.idempotent(w, r) {
		return
	}
	req, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		h.logger.Error("create request", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	filter := ListFilter{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := Status(raw)
		filter.Status = &st
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	items, total, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		h.logger.Error("list requests", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	perPage := filter.Limit
	if perPage <= 0 {
		perPage = 50
	}
	page := filter.Offset/perPage + 1
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := requestID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request id")
		return
	}
	req, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) decisions(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := requestID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request id")
		return
	}
	history, err := h.service.Decisions(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": history})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, name string,
	fn func(shared.Actor, uuid.UUID) (Request, error)) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := requestID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request id")
		return
	}
	req, err := fn(actor, id)
	h.count(err)
	if err != nil {
		h.logger.Warn(name, slog.String("request_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) validateTechnician(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "validate technician", func(actor shared.Actor, id uuid.UUID) (Request, error) {
		return h.service.ValidateByTechnician(r.Context(), actor, id)
	})
}

func (h *Handler) validateChief(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "validate chief", func(actor shared.Actor, id uuid.UUID) (Request, error) {
		return h.service.ValidateByChief(r.Context(), actor, id)
	})
}

type issueRUPEInput struct {
	PaymentRef string `json:"payment_ref" validate:"required"`
	DocRef     string `json:"doc_ref" validate:"required"`
}

func (h *Handler) issueRUPE(w http.ResponseWriter, r *http.Request) {
	var in issueRUPEInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	h.transition(w, r, "issue rupe", func(actor shared.Actor, id uuid.UUID) (Request, error) {
		return h.service.IssueRUPE(r.Context(), actor, id, in.PaymentRef, in.DocRef)
	})
}

type confirmPaymentInput struct {
	ReceiptRef string `json:"receipt_ref" validate:"required"`
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var in confirmPaymentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if !h.idempotent(w, r) {
		return
	}
	h.transition(w, r, "confirm payment", func(actor shared.Actor, id uuid.UUID) (Request, error) {
		return h.service.ConfirmPaymentBySubject(r.Context(), actor, id, in.ReceiptRef)
	})
}

func (h *Handler) validatePayment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "validate payment", func(actor shared.Actor, id uuid.UUID) (Request, error) {
		return h.service.ValidatePaymentByStaff(r.Context(), actor, id)
	})
}

func (h *Handler) regenerateCertificate(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := requestID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request id")
		return
	}
	if err := h.service.RegenerateCertificate(r.Context(), actor, id); err != nil {
		h.logger.Warn("regenerate certificate", slog.String("request_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"status": "scheduled"})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := requestID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request id")
		return
	}
	req, warnings, err := h.service.ApproveByBoard(r.Context(), actor, id)
	h.count(err)
	if err != nil {
		h.logger.Warn("approve", slog.String("request_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"request": req, "warnings": warnings})
}

type rejectInput struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var in rejectInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	h.transition(w, r, "reject", func(actor shared.Actor, id uuid.UUID) (Request, error) {
		return h.service.Reject(r.Context(), actor, id, in.Reason)
	})
}
