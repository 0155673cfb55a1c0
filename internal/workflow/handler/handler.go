package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"smartop/internal/identity"
	"smartop/internal/workflow/machine"
	"smartop/internal/workflow/models"
	"smartop/internal/workflow/service"
	id "smartop/pkg/domain"
	dErrors "smartop/pkg/domain-errors"
	"smartop/pkg/platform/httputil"
	"smartop/pkg/requestcontext"
)

// Handler wires the workflow REST endpoints to the service and coordinator.
// Reads go to the service; anything that changes status goes through the
// coordinator, which is the sole mutator.
type Handler struct {
	service     *service.Service
	coordinator *service.Coordinator
	logger      *slog.Logger
}

func New(svc *service.Service, coordinator *service.Coordinator, logger *slog.Logger) *Handler {
	return &Handler{service: svc, coordinator: coordinator, logger: logger}
}

// Register mounts both entity kinds plus the read-only views.
func (h *Handler) Register(r chi.Router) {
	h.registerKind(r, "/control-lists", models.KindControlList)
	h.registerKind(r, "/work-sessions", models.KindWorkSession)
	r.Get("/machines", h.handleMachines)
	r.Get("/dashboard", h.handleDashboard)
}

func (h *Handler) registerKind(r chi.Router, prefix string, kind models.EntityKind) {
	r.Route(prefix, func(r chi.Router) {
		r.Post("/", h.handleCreate(kind))
		r.Get("/", h.handleList(kind))
		r.Get("/{entityID}", h.handleGet)
		r.Delete("/{entityID}", h.handleDelete)
		r.Post("/{entityID}/transition", h.handleTransition)
	})
}

func (h *Handler) handleCreate(kind models.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFrom(ctx)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		req, ok := httputil.Decode[CreateEntityRequest](w, r, h.logger)
		if !ok {
			return
		}

		params := service.CreateParams{
			Kind:        kind,
			NaturalKey:  req.NaturalKey,
			Items:       toItems(req.Items),
			ScheduledAt: req.ScheduledAt,
		}
		if req.OwnerID != "" {
			ownerID, err := id.ParsePrincipalID(req.OwnerID)
			if err != nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "owner_id: not a valid id"))
				return
			}
			params.OwnerID = ownerID
		}
		if req.TenantID != "" {
			tenantID, err := id.ParseTenantID(req.TenantID)
			if err != nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "tenant_id: not a valid id"))
				return
			}
			params.TenantID = tenantID
		}

		entity, err := h.service.Create(ctx, actor, params)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		h.logger.InfoContext(ctx, "workflow entity created",
			"request_id", requestcontext.RequestID(ctx),
			"kind", string(kind),
			"entity_id", entity.ID.String(),
			"actor_id", actor.ID.String(),
		)
		httputil.WriteJSON(w, http.StatusCreated, entity)
	}
}

func (h *Handler) handleList(kind models.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFrom(ctx)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		tenantID, err := tenantFor(r, actor)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		entities, err := h.service.List(ctx, tenantID, kind, actor)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": entities})
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := actorFrom(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tenantID, entityID, err := targetFrom(r, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entity, err := h.service.Get(ctx, tenantID, entityID, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entity)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := actorFrom(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tenantID, entityID, err := targetFrom(r, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.Delete(ctx, tenantID, entityID, actor); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMachines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := actorFrom(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tenantID, err := tenantFor(r, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	machines, err := h.service.Machines(ctx, tenantID, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"machines": machines})
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := actorFrom(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tenantID, err := tenantFor(r, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	summary, err := h.service.Dashboard(ctx, tenantID, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	actor, err := actorFrom(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tenantID, entityID, err := targetFrom(r, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[TransitionRequest](w, r, h.logger)
	if !ok {
		return
	}

	requested := models.Status(req.Status)
	if !knownStatuses[requested] {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeInvalidInput, "status: unknown value %q", req.Status))
		return
	}

	entity, err := h.coordinator.Transition(ctx, tenantID, entityID, requested, actor, machine.Payload{
		ReviewNotes: req.ReviewNotes,
		Items:       toItems(req.Items),
		EndedAt:     req.EndedAt,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "transition rejected",
			"request_id", requestcontext.RequestID(ctx),
			"entity_id", entityID.String(),
			"requested_status", req.Status,
			"actor_id", actor.ID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "transition served",
		"request_id", requestcontext.RequestID(ctx),
		"entity_id", entityID.String(),
		"new_status", string(entity.Status),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, entity)
}

// actorFrom rebuilds the acting principal injected by the auth middleware.
func actorFrom(ctx context.Context) (identity.Principal, error) {
	principalID := requestcontext.PrincipalID(ctx)
	if principalID.IsNil() {
		return identity.Principal{}, dErrors.New(dErrors.CodeUnauthenticated, "authentication required")
	}
	return identity.Principal{
		ID:       principalID,
		TenantID: requestcontext.TenantID(ctx),
		Role:     requestcontext.Role(ctx),
	}, nil
}

// tenantFor resolves which tenant's data the request addresses. Tenanted
// principals are pinned to their own tenant; admins must name one explicitly.
func tenantFor(r *http.Request, actor identity.Principal) (id.TenantID, error) {
	if actor.IsAdmin() {
		raw := r.URL.Query().Get("tenant_id")
		if raw == "" {
			return id.TenantID{}, dErrors.New(dErrors.CodeInvalidInput, "tenant_id query parameter is required for admins")
		}
		tenantID, err := id.ParseTenantID(raw)
		if err != nil {
			return id.TenantID{}, dErrors.New(dErrors.CodeInvalidInput, "tenant_id: not a valid id")
		}
		return tenantID, nil
	}
	return actor.TenantID, nil
}

func targetFrom(r *http.Request, actor identity.Principal) (id.TenantID, id.EntityID, error) {
	tenantID, err := tenantFor(r, actor)
	if err != nil {
		return id.TenantID{}, id.EntityID{}, err
	}
	entityID, err := id.ParseEntityID(chi.URLParam(r, "entityID"))
	if err != nil {
		return id.TenantID{}, id.EntityID{}, dErrors.New(dErrors.CodeInvalidInput, "entity id: not a valid id")
	}
	return tenantID, entityID, nil
}
