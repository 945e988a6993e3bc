package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nelsonblaha/homepage/internal/app"
	httpx "github.com/nelsonblaha/homepage/internal/http"
	"github.com/nelsonblaha/homepage/internal/integrations"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	"github.com/nelsonblaha/homepage/internal/store/core"
	"github.com/nelsonblaha/homepage/internal/validation"
)

type servicesHandler struct {
	c *app.Container
}

func NewServicesHandler(c *app.Container) *servicesHandler {
	return &servicesHandler{c: c}
}

func (h *servicesHandler) Register(r chi.Router) {
	r.Get("/api/services", h.list)
	r.Post("/api/services", h.create)
	r.Put("/api/services/{id}", h.update)
	r.Delete("/api/services/{id}", h.remove)
}

// RegisterStatus registra el endpoint de estado, que no exige admin (el
// dashboard de amigos también lo pinta).
func (h *servicesHandler) RegisterStatus(r chi.Router) {
	r.Get("/api/services/status", h.status)
}

type serviceOut struct {
	core.Service
	Strategy     string                    `json:"strategy"`
	Capabilities integrations.Capabilities `json:"capabilities"`
	Configured   bool                      `json:"configured"`
	GrantCount   int                       `json:"grant_count"`
}

func (h *servicesHandler) serviceOut(r *http.Request, s *core.Service) (serviceOut, error) {
	count, err := h.c.Store.CountGrantsByService(r.Context(), s.ID)
	if err != nil {
		return serviceOut{}, err
	}
	return serviceOut{
		Service:      *s,
		Strategy:     string(h.c.Registry.StrategyFor(s.Integration)),
		Capabilities: h.c.Registry.CapabilitiesOf(s.Integration),
		Configured:   s.Integration == "" || s.Integration == "basic" || h.c.Registry.Available(s.Integration),
		GrantCount:   count,
	}, nil
}

// GET /api/services
func (h *servicesHandler) list(w http.ResponseWriter, r *http.Request) {
	services, err := h.c.Store.ListServices(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	out := make([]serviceOut, 0, len(services))
	for i := range services {
		so, err := h.serviceOut(r, &services[i])
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		out = append(out, so)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"services": out})
}

type servicePayload struct {
	Name             *string `json:"name"`
	URL              *string `json:"url"`
	Icon             *string `json:"icon"`
	Description      *string `json:"description"`
	Subdomain        *string `json:"subdomain"`
	Stack            *string `json:"stack"`
	Integration      *string `json:"integration"`
	IsDefault        *bool   `json:"is_default"`
	VisibleToFriends *bool   `json:"visible_to_friends"`
	DisplayOrder     *int    `json:"display_order"`
}

// knownIntegration acepta el conjunto cerrado de slugs más la cadena vacía.
func knownIntegration(slug string) bool {
	if slug == "" {
		return true
	}
	for _, s := range integrations.Slugs() {
		if s == slug {
			return true
		}
	}
	return false
}

func (p *servicePayload) apply(s *core.Service) {
	if p.Name != nil {
		s.Name = strings.TrimSpace(*p.Name)
	}
	if p.URL != nil {
		s.URL = strings.TrimSpace(*p.URL)
	}
	if p.Icon != nil {
		s.Icon = *p.Icon
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.Subdomain != nil {
		s.Subdomain = strings.ToLower(strings.TrimSpace(*p.Subdomain))
	}
	if p.Stack != nil {
		s.Stack = *p.Stack
	}
	if p.Integration != nil {
		s.Integration = strings.ToLower(strings.TrimSpace(*p.Integration))
	}
	if p.IsDefault != nil {
		s.IsDefault = *p.IsDefault
	}
	if p.VisibleToFriends != nil {
		s.VisibleToFriends = *p.VisibleToFriends
	}
	if p.DisplayOrder != nil {
		s.DisplayOrder = *p.DisplayOrder
	}
}

// POST /api/services
func (h *servicesHandler) create(w http.ResponseWriter, r *http.Request) {
	var req servicePayload
	if !httpx.ReadJSON(w, r, &req) {
		return
	}
	svc := &core.Service{VisibleToFriends: true}
	req.apply(svc)

	if svc.Name == "" {
		httpx.WriteError(w, httpx.ErrBadRequest.WithDetail("name es obligatorio"))
		return
	}
	if svc.Subdomain != "" && !validation.ValidSubdomain(svc.Subdomain) {
		httpx.WriteError(w, httpx.ErrBadRequest.WithDetail("subdominio inválido: "+svc.Subdomain))
		return
	}
	if !knownIntegration(svc.Integration) {
		httpx.WriteError(w, httpx.ErrBadRequest.WithDetail("integración desconocida: "+svc.Integration))
		return
	}
	if err := h.c.Store.CreateService(r.Context(), svc); err != nil {
		httpx.WriteError(w, err)
		return
	}
	logger.From(r.Context()).Info("servicio creado",
		logger.ServiceID(svc.ID), logger.String("name", svc.Name))

	so, err := h.serviceOut(r, svc)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, so)
}

// PUT /api/services/{id}
func (h *servicesHandler) update(w http.ResponseWriter, r *http.Request) {
	svc, err := h.c.Store.GetServiceByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req servicePayload
	if !httpx.ReadJSON(w, r, &req) {
		return
	}
	req.apply(svc)

	if svc.Name == "" {
		httpx.WriteError(w, httpx.ErrBadRequest.WithDetail("name es obligatorio"))
		return
	}
	if svc.Subdomain != "" && !validation.ValidSubdomain(svc.Subdomain) {
		httpx.WriteError(w, httpx.ErrBadRequest.WithDetail("subdominio inválido: "+svc.Subdomain))
		return
	}
	if !knownIntegration(svc.Integration) {
		httpx.WriteError(w, httpx.ErrBadRequest.WithDetail("integración desconocida: "+svc.Integration))
		return
	}
	if err := h.c.Store.UpdateService(r.Context(), svc); err != nil {
		httpx.WriteError(w, err)
		return
	}
	so, err := h.serviceOut(r, svc)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, so)
}

// DELETE /api/services/{id}
// Con grants vivos se rechaza: primero hay que quitar el servicio a los
// amigos (y de paso des-aprovisionar), si no las cuentas externas quedan
// huérfanas sin registro.
func (h *servicesHandler) remove(w http.ResponseWriter, r *http.Request) {
	svc, err := h.c.Store.GetServiceByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	count, err := h.c.Store.CountGrantsByService(r.Context(), svc.ID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if count > 0 {
		httpx.WriteError(w, httpx.ErrConflict.WithDetail("el servicio tiene accesos concedidos; retíralos primero"))
		return
	}
	if err := h.c.Store.DeleteService(r.Context(), svc.ID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	logger.From(r.Context()).Info("servicio eliminado",
		logger.ServiceID(svc.ID), logger.String("name", svc.Name))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// GET /api/services/status
func (h *servicesHandler) status(w http.ResponseWriter, r *http.Request) {
	if h.c.Poller == nil {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"enabled": false, "services": []any{}})
		return
	}
	snap, err := h.c.Poller.Snapshot(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"enabled":    true,
		"checked_at": snap.CheckedAt,
		"services":   snap.Services,
	})
}
