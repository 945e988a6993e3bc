package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nelsonblaha/homepage/internal/activity"
	"github.com/nelsonblaha/homepage/internal/app"
	httpx "github.com/nelsonblaha/homepage/internal/http"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

type requestsHandler struct {
	c *app.Container
}

func NewRequestsHandler(c *app.Container) *requestsHandler {
	return &requestsHandler{c: c}
}

func (h *requestsHandler) Register(r chi.Router) {
	r.Get("/api/requests", h.list)
	r.Post("/api/requests/{id}/approve", h.approve)
	r.Post("/api/requests/{id}/deny", h.deny)
}

// GET /api/requests?status=pending|approved|denied (vacío = todas)
func (h *requestsHandler) list(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", core.RequestPending, core.RequestApproved, core.RequestDenied:
	default:
		httpx.WriteError(w, httpx.ErrBadRequest.WithDetail("status inválido"))
		return
	}
	reqs, err := h.c.Store.ListAccessRequests(r.Context(), status)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if reqs == nil {
		reqs = []core.AccessRequest{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

// loadPending recupera la petición y corta si ya fue decidida: aprobar dos
// veces no debe re-aprovisionar.
func (h *requestsHandler) loadPending(w http.ResponseWriter, r *http.Request) *core.AccessRequest {
	ar, err := h.c.Store.GetAccessRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return nil
	}
	if ar.Status != core.RequestPending {
		httpx.WriteError(w, httpx.ErrConflict.WithDetail("la petición ya fue decidida"))
		return nil
	}
	return ar
}

// POST /api/requests/{id}/approve
// Aprueba y aprovisiona en el mismo paso: el conjunto deseado es el actual
// más el servicio pedido, por el mismo camino que usa el panel de amigos.
func (h *requestsHandler) approve(w http.ResponseWriter, r *http.Request) {
	ar := h.loadPending(w, r)
	if ar == nil {
		return
	}
	friend, err := h.c.Store.GetFriendByID(r.Context(), ar.FriendID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	current, err := h.c.Store.ListGrantsByFriend(r.Context(), friend.ID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	wanted := make([]string, 0, len(current)+1)
	for _, g := range current {
		wanted = append(wanted, g.ServiceID)
	}
	wanted = append(wanted, ar.ServiceID)

	outcomes, err := h.c.Reconciler.Reconcile(r.Context(), friend, wanted)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.c.Store.UpdateAccessRequestStatus(r.Context(), ar.ID, core.RequestApproved, time.Now()); err != nil {
		httpx.WriteError(w, err)
		return
	}
	h.c.Activity.Record(r.Context(), activity.ActionRequestDecided, friend.ID, ar.ServiceID, "aprobada")
	logger.From(r.Context()).Info("petición aprobada",
		logger.ID(ar.ID), logger.FriendID(friend.ID), logger.ServiceID(ar.ServiceID))

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":                 true,
		"account_operations": outcomes,
	})
}

// POST /api/requests/{id}/deny
func (h *requestsHandler) deny(w http.ResponseWriter, r *http.Request) {
	ar := h.loadPending(w, r)
	if ar == nil {
		return
	}
	if err := h.c.Store.UpdateAccessRequestStatus(r.Context(), ar.ID, core.RequestDenied, time.Now()); err != nil {
		httpx.WriteError(w, err)
		return
	}
	h.c.Activity.Record(r.Context(), activity.ActionRequestDecided, ar.FriendID, ar.ServiceID, "denegada")
	logger.From(r.Context()).Info("petición denegada",
		logger.ID(ar.ID), logger.FriendID(ar.FriendID), logger.ServiceID(ar.ServiceID))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}
