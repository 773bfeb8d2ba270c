package periods

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sgal-dev/sgal/internal/identity"
	"github.com/sgal-dev/sgal/internal/observability"
	"github.com/sgal-dev/sgal/internal/platform/httpx"
	"github.com/sgal-dev/sgal/internal/shared"
)

// Handler exposes periods and the reopening workflow over JSON. Reopening
// resolutions go through a single PATCH endpoint routed by an action string.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	guard    identity.Middleware
	metrics  *observability.Metrics
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard identity.Middleware, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		guard:    guard,
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
	h.metrics.CountTransition("reopening", outcome)
}

// MountRoutes registers period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/reopening", h.getReopening)

	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(shared.RoleChefe, shared.RoleDireccao))
		r.Post("/", h.createPeriod)
		r.Patch("/{id}", h.patch)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(shared.RoleUtente))
		r.Post("/{id}/reopen-request", h.requestReopening)
	})
}

func periodID(r *http.Request) (uuid.UUID, bool) {
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

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var in CreatePeriodInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	p, err := h.service.CreatePeriod(r.Context(), actor, in)
	if err != nil {
		h.logger.Error("create period", slog.Any("error", err))
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
	items, err := h.service.ListPeriods(r.Context(), actor)
	if err != nil {
		h.logger.Error("list periods", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := periodID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid period id")
		return
	}
	p, err := h.service.GetPeriod(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) getReopening(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := periodID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid period id")
		return
	}
	req, err := h.service.GetReopening(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

type reopenRequestInput struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) requestReopening(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := periodID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid period id")
		return
	}
	var in reopenRequestInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req, err := h.service.RequestReopening(r.Context(), actor, id, in.Reason)
	h.count(err)
	if err != nil {
		h.logger.Warn("request reopening", slog.String("period_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

type patchInput struct {
	Action     string `json:"action" validate:"required"`
	Reason     string `json:"reason,omitempty"`
	PaymentRef string `json:"payment_ref,omitempty"`
	DocRef     string `json:"doc_ref,omitempty"`
}

// patch routes the reopening resolution actions. The action string selects
// the operation and, implicitly, the required role.
func (h *Handler) patch(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := periodID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid period id")
		return
	}
	var in patchInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	reopening, err := h.service.GetReopening(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var out Reopening
	switch in.Action {
	case "aprovar-reabertura":
		out, err = h.service.ChiefIssueRUPE(r.Context(), actor, reopening.ID, in.PaymentRef, in.DocRef)
	case "aprovar-reabertura-diretor":
		out, err = h.service.BoardIssueRUPE(r.Context(), actor, reopening.ID, in.PaymentRef, in.DocRef)
	case "rejeitar-reabertura-chefe", "rejeitar-reabertura-diretor":
		out, err = h.service.Reject(r.Context(), actor, reopening.ID, in.Reason)
	case "validar-pagamento-rupe":
		out, err = h.service.ConfirmPayment(r.Context(), actor, reopening.ID)
	default:
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unknown action "+in.Action)
		return
	}
	h.count(err)
	if err != nil {
		h.logger.Warn("patch period", slog.String("period_id", id.String()),
			slog.String("action", in.Action), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
