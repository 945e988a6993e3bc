package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nelsonblaha/homepage/internal/app"
	httpx "github.com/nelsonblaha/homepage/internal/http"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

type activityHandler struct {
	c *app.Container
}

func NewActivityHandler(c *app.Container) *activityHandler {
	return &activityHandler{c: c}
}

func (h *activityHandler) Register(r chi.Router) {
	r.Get("/api/activity", h.list)
}

// GET /api/activity?limit=N (por defecto 100, tope 500)
func (h *activityHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(w, httpx.ErrBadRequest.WithDetail("limit debe ser un entero positivo"))
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}
	entries, err := h.c.Store.ListActivity(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []core.ActivityEntry{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"activity": entries})
}
