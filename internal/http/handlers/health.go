package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nelsonblaha/homepage/internal/app"
	"github.com/nelsonblaha/homepage/internal/bridge"
	httpx "github.com/nelsonblaha/homepage/internal/http"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
)

type healthHandler struct {
	c *app.Container
}

func NewHealthHandler(c *app.Container) *healthHandler {
	return &healthHandler{c: c}
}

func (h *healthHandler) Register(r chi.Router) {
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
}

// healthz solo confirma que el proceso responde.
func (h *healthHandler) healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// readyz comprueba las dependencias reales: la base de datos, la firma del
// puente y el cache. Cualquier fallo devuelve 503 nombrando al culpable.
func (h *healthHandler) readyz(w http.ResponseWriter, r *http.Request) {
	if v := h.c.Cfg.App.Version; v != "" {
		w.Header().Set("X-Service-Version", v)
	}

	if err := h.c.Store.Ping(r.Context()); err != nil {
		logger.From(r.Context()).Error("base de datos no responde", logger.Err(err))
		notReady(w, "db", err)
		return
	}

	// Self-check de la firma: un payload efímero debe sobrevivir el viaje.
	signed, err := h.c.Bridge.Sign(bridge.Payload{Slug: "selfcheck"})
	if err != nil {
		notReady(w, "bridge_sign", err)
		return
	}
	if p, err := h.c.Bridge.Verify(signed); err != nil || p.Slug != "selfcheck" {
		notReady(w, "bridge_verify", err)
		return
	}

	if err := h.c.Cache.Ping(r.Context()); err != nil {
		logger.From(r.Context()).Error("cache no responde", logger.Err(err))
		notReady(w, "cache", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func notReady(w http.ResponseWriter, component string, err error) {
	httpx.WriteError(w, &httpx.AppError{
		Code:       "not_ready",
		Message:    "dependencia no disponible",
		Detail:     component,
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	})
}
