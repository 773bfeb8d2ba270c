package monitoring

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sgal-dev/sgal/internal/identity"
	"github.com/sgal-dev/sgal/internal/observability"
	"github.com/sgal-dev/sgal/internal/platform/httpx"
	"github.com/sgal-dev/sgal/internal/shared"
)

// Handler exposes the monitoring workflow over JSON.
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
	h.metrics.CountTransition("monitoring", outcome)
}

// idempotent reserves the Idempotency-Key header, if the client sent one,
// so a resubmitted mutation gets a conflict instead of running twice.
func (h *Handler) idempotent(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idem == nil {
		return true
	}
	if err := h.idem.CheckAndInsert(r.Context(), key, "monitoring"); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

// MountRoutes registers monitoring routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)

	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(shared.RoleUtente))
		r.Post("/", h.create)
		r.Post("/{id}/confirm-payment", h.confirmPayment)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(shared.RoleTecnico))
		r.Post("/{id}/opinion", h.submitOpinion)
		r.Post("/{id}/record-visit", h.recordVisit)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(shared.RoleChefe))
		r.Post("/{id}/rupe", h.issueRUPE)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(shared.RoleChefe, shared.RoleDireccao))
		r.Post("/{id}/validate-payment", h.validatePayment)
		r.Post("/{id}/review-visit", h.reviewVisit)
		r.Post("/{id}/final-document", h.submitFinalDocument)
		r.Post("/{id}/reject", h.reject)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(shared.RoleDireccao))
		r.Post("/{id}/assign-technicians", h.assignTechnicians)
	})
}

func processID(r *http.Request) (uuid.UUID, bool) {
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

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, name string,
	fn func(shared.Actor, uuid.UUID) (Process, error)) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := processID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid process id")
		return
	}
	p, err := fn(actor, id)
	h.count(err)
	if err != nil {
		h.logger.Warn(name, slog.String("process_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var in CreateInput
	if !h.decode(w, r, &in) {
		return
	}
	if !h.idempotent(w, r) {
		return
	}
	p, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		h.logger.Error("create process", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
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
		h.logger.Error("list processes", slog.Any("error", err))
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
	id, ok := processID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid process id")
		return
	}
	p, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

type opinionInput struct {
	Outcome Outcome `json:"outcome" validate:"required"`
	Notes   string  `json:"notes"`
	DocRef  string  `json:"doc_ref" validate:"required"`
}

func (h *Handler) submitOpinion(w http.ResponseWriter, r *http.Request) {
	var in opinionInput
	if !h.decode(w, r, &in) {
		return
	}
	h.transition(w, r, "submit opinion", func(actor shared.Actor, id uuid.UUID) (Process, error) {
		return h.service.SubmitOpinion(r.Context(), actor, id, in.Outcome, in.Notes, in.DocRef)
	})
}

type rupeInput struct {
	PaymentRef string `json:"payment_ref" validate:"required"`
	DocRef     string `json:"doc_ref" validate:"required"`
}

func (h *Handler) issueRUPE(w http.ResponseWriter, r *http.Request) {
	var in rupeInput
	if !h.decode(w, r, &in) {
		return
	}
	h.transition(w, r, "issue rupe", func(actor shared.Actor, id uuid.UUID) (Process, error) {
		return h.service.IssueRUPE(r.Context(), actor, id, in.PaymentRef, in.DocRef)
	})
}

type confirmPaymentInput struct {
	ReceiptRef string `json:"receipt_ref" validate:"required"`
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var in confirmPaymentInput
	if !h.decode(w, r, &in) {
		return
	}
	if !h.idempotent(w, r) {
		return
	}
	h.transition(w, r, "confirm payment", func(actor shared.Actor, id uuid.UUID) (Process, error) {
		return h.service.ConfirmPayment(r.Context(), actor, id, in.ReceiptRef)
	})
}

func (h *Handler) validatePayment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "validate payment", func(actor shared.Actor, id uuid.UUID) (Process, error) {
		return h.service.ValidatePayment(r.Context(), actor, id)
	})
}

type assignInput struct {
	TechnicianIDs []int64    `json:"technician_ids"`
	Legacy        string     `json:"legacy_technicians,omitempty"`
	VisitDate     *time.Time `json:"visit_date,omitempty"`
}

func (h *Handler) assignTechnicians(w http.ResponseWriter, r *http.Request) {
	var in assignInput
	if !h.decode(w, r, &in) {
		return
	}
	ids := in.TechnicianIDs
	if len(ids) == 0 && in.Legacy != "" {
		refs, err := ParseLegacyTechnicianList(in.Legacy)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		for _, ref := range refs {
			ids = append(ids, ref.ID)
		}
	}
	h.transition(w, r, "assign technicians", func(actor shared.Actor, id uuid.UUID) (Process, error) {
		return h.service.AssignTechnicians(r.Context(), actor, id, ids, in.VisitDate)
	})
}

type visitInput struct {
	Date      time.Time `json:"date" validate:"required"`
	Notes     string    `json:"notes"`
	ReportRef string    `json:"report_ref" validate:"required"`
}

func (h *Handler) recordVisit(w http.ResponseWriter, r *http.Request) {
	var in visitInput
	if !h.decode(w, r, &in) {
		return
	}
	h.transition(w, r, "record visit", func(actor shared.Actor, id uuid.UUID) (Process, error) {
		return h.service.RecordVisit(r.Context(), actor, id, in.Date, in.Notes, in.ReportRef)
	})
}

func (h *Handler) reviewVisit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "review visit", func(actor shared.Actor, id uuid.UUID) (Process, error) {
		return h.service.ReviewVisit(r.Context(), actor, id)
	})
}

type finalDocInput struct {
	DocRef string `json:"doc_ref" validate:"required"`
}

func (h *Handler) submitFinalDocument(w http.ResponseWriter, r *http.Request) {
	var in finalDocInput
	if !h.decode(w, r, &in) {
		return
	}
	h.transition(w, r, "submit final document", func(actor shared.Actor, id uuid.UUID) (Process, error) {
		return h.service.SubmitFinalDocument(r.Context(), actor, id, in.DocRef)
	})
}

type rejectInput struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var in rejectInput
	if !h.decode(w, r, &in) {
		return
	}
	h.transition(w, r, "reject", func(actor shared.Actor, id uuid.UUID) (Process, error) {
		return h.service.Reject(r.Context(), actor, id, in.Reason)
	})
}
