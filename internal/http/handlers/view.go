package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nelsonblaha/homepage/internal/activity"
	"github.com/nelsonblaha/homepage/internal/app"
	"github.com/nelsonblaha/homepage/internal/friendauth"
	httpx "github.com/nelsonblaha/homepage/internal/http"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

type viewHandler struct {
	c *app.Container
}

func NewViewHandler(c *app.Container) *viewHandler {
	return &viewHandler{c: c}
}

func (h *viewHandler) Register(r chi.Router) {
	// El unlock lleva el limitador estricto: es el blanco de fuerza bruta.
	r.With(loginLimit(h.c)).Post("/api/view/{token}/unlock", h.unlock)
	r.Group(func(r chi.Router) {
		r.Use(viewLimit(h.c))
		r.Get("/api/view/{token}", h.view)
		r.With(httpx.WithNoStore()).Get("/api/view/{token}/credentials/{serviceID}", h.credentials)
		r.Post("/api/view/{token}/click/{serviceID}", h.click)
		r.Post("/api/view/{token}/request/{serviceID}", h.request)
	})
}

// resolveFriend busca al amigo del token. Los tokens desconocidos devuelven
// 404 sin distinguir entre "no existe" y "nunca existió".
func (h *viewHandler) resolveFriend(w http.ResponseWriter, r *http.Request) *core.Friend {
	friend, err := h.c.Store.GetFriendByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httpx.WriteError(w, err)
		return nil
	}
	return friend
}

// unlocked decide si el amigo puede usar los endpoints de acción: el enlace
// no exige nada, o hay una sesión de amigo válida para ese mismo amigo.
func (h *viewHandler) unlocked(r *http.Request, friend *core.Friend, req friendauth.Requirement) bool {
	if !req.Locked {
		return true
	}
	sess := sessionFromRequest(h.c, r)
	return sess != nil && sess.Kind == core.SessionFriend && sess.FriendID == friend.ID
}

// guard corta con el error que toque cuando el enlace está bloqueado.
func (h *viewHandler) guard(w http.ResponseWriter, r *http.Request, friend *core.Friend) bool {
	req := h.c.FriendAuth.Requirements(friend)
	if req.Expired {
		httpx.WriteError(w, httpx.ErrLinkExpired)
		return false
	}
	if !h.unlocked(r, friend, req) {
		httpx.WriteError(w, httpx.ErrLinkLocked)
		return false
	}
	return true
}

// viewService es la forma pública de un servicio en la página del amigo:
// nunca credenciales, solo lo que hace falta para pintar la tarjeta.
type viewService struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	Strategy    string `json:"strategy"`
	AutoLogin   bool   `json:"auto_login"`
	ShowsCreds  bool   `json:"shows_credentials"`
}

// GET /api/view/{token}
// Siempre 200: si el enlace está bloqueado la respuesta trae locked más el
// motivo, y la lista de servicios no viaja.
func (h *viewHandler) view(w http.ResponseWriter, r *http.Request) {
	friend := h.resolveFriend(w, r)
	if friend == nil {
		return
	}
	req := h.c.FriendAuth.Requirements(friend)

	base := map[string]any{
		"friend_name":    friend.Name,
		"locked":         req.Locked,
		"expired":        req.Expired,
		"needs_password": req.NeedsPassword,
		"needs_totp":     req.NeedsTOTP,
		"usage_warning":  req.UsageWarning,
	}
	if req.Reason != "" {
		base["reason"] = req.Reason
	}
	if !h.unlocked(r, friend, req) {
		httpx.WriteJSON(w, http.StatusOK, base)
		return
	}

	granted, err := h.c.Store.ListGrantedServices(r.Context(), friend.ID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	all, err := h.c.Store.ListServices(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	pending, err := h.pendingRequests(r, friend.ID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	grantedIDs := make(map[string]bool, len(granted))
	services := make([]viewService, 0, len(granted))
	for i := range granted {
		svc := &granted[i]
		grantedIDs[svc.ID] = true
		services = append(services, h.viewService(r, svc))
	}

	// Servicios visibles sin grant: el amigo puede pedir acceso.
	type requestable struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Icon        string `json:"icon,omitempty"`
		Description string `json:"description,omitempty"`
		Requested   bool   `json:"requested"`
	}
	available := make([]requestable, 0)
	for i := range all {
		svc := &all[i]
		if grantedIDs[svc.ID] || !svc.VisibleToFriends {
			continue
		}
		available = append(available, requestable{
			ID:          svc.ID,
			Name:        svc.Name,
			Icon:        svc.Icon,
			Description: svc.Description,
			Requested:   pending[svc.ID],
		})
	}

	// La visita cuenta solo cuando la página entrega contenido.
	if count, err := h.c.Store.TouchFriendVisit(r.Context(), friend.ID, time.Now()); err == nil {
		friend.UsageCount = count
	} else {
		logger.From(r.Context()).Warn("no se pudo contar la visita",
			logger.FriendID(friend.ID), logger.Err(err))
	}
	h.c.Activity.PageView(r.Context(), friend.ID)

	base["usage_count"] = friend.UsageCount
	base["services"] = services
	base["available"] = available
	httpx.WriteJSON(w, http.StatusOK, base)
}

func (h *viewHandler) viewService(r *http.Request, svc *core.Service) viewService {
	caps := h.c.Registry.CapabilitiesOf(svc.Integration)
	out := viewService{
		ID:          svc.ID,
		Name:        svc.Name,
		Icon:        svc.Icon,
		Description: svc.Description,
		Strategy:    string(caps.Strategy),
		AutoLogin:   caps.AutoLogin,
		ShowsCreds:  caps.ManualDisplay,
	}
	// Con subdominio la entrada pasa por el dispatcher; sin él, enlace
	// directo a la URL del servicio.
	if svc.Subdomain != "" {
		out.URL = "/auth/" + svc.Subdomain
	} else {
		out.URL = svc.URL
	}
	return out
}

func (h *viewHandler) pendingRequests(r *http.Request, friendID string) (map[string]bool, error) {
	reqs, err := h.c.Store.ListAccessRequests(r.Context(), core.RequestPending)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, ar := range reqs {
		if ar.FriendID == friendID {
			out[ar.ServiceID] = true
		}
	}
	return out, nil
}

// POST /api/view/{token}/unlock {password?, totp_code?, remember?}
// Verifica lo que el enlace exija y emite la sesión de amigo.
func (h *viewHandler) unlock(w http.ResponseWriter, r *http.Request) {
	friend := h.resolveFriend(w, r)
	if friend == nil {
		return
	}
	var req struct {
		Password string `json:"password"`
		TOTPCode string `json:"totp_code"`
		Remember bool   `json:"remember"`
	}
	if !httpx.ReadJSON(w, r, &req) {
		return
	}

	err := h.c.FriendAuth.Unlock(r.Context(), friend, req.Password, req.TOTPCode)
	switch {
	case errors.Is(err, friendauth.ErrExpired):
		httpx.WriteError(w, httpx.ErrLinkExpired)
		return
	case errors.Is(err, friendauth.ErrBadPassword), errors.Is(err, friendauth.ErrBadTOTP):
		httpx.WriteError(w, httpx.ErrUnauthorized.WithDetail("verificación incorrecta"))
		return
	case err != nil:
		httpx.WriteError(w, err)
		return
	}

	raw, expires, err := h.c.Sessions.Create(r.Context(), core.SessionFriend, friend.ID, r.UserAgent(), req.Remember)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	http.SetCookie(w, sessionCookie(h.c, raw, expires))
	h.c.Activity.AuthLogin(r.Context(), friend.ID, "enlace desbloqueado")
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "expires_at": expires})
}

// GET /api/view/{token}/credentials/{serviceID}
// Credenciales almacenadas del grant, para las estrategias que se teclean a
// mano. Exige el enlace desbloqueado.
func (h *viewHandler) credentials(w http.ResponseWriter, r *http.Request) {
	friend := h.resolveFriend(w, r)
	if friend == nil {
		return
	}
	if !h.guard(w, r, friend) {
		return
	}
	grant, err := h.c.Store.GetGrant(r.Context(), friend.ID, chi.URLParam(r, "serviceID"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if grant.Username == "" && grant.Password == "" {
		httpx.WriteError(w, httpx.ErrNotFound.WithDetail("el acceso no tiene credenciales almacenadas"))
		return
	}
	h.c.Activity.CredentialView(r.Context(), friend.ID, grant.ServiceID)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"username": grant.Username,
		"password": grant.Password,
		"status":   grant.Status,
	})
}

// POST /api/view/{token}/click/{serviceID}
func (h *viewHandler) click(w http.ResponseWriter, r *http.Request) {
	friend := h.resolveFriend(w, r)
	if friend == nil {
		return
	}
	if !h.guard(w, r, friend) {
		return
	}
	h.c.Activity.ServiceClick(r.Context(), friend.ID, chi.URLParam(r, "serviceID"))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// POST /api/view/{token}/request/{serviceID}
// Crea la petición de acceso y avisa al operador. Repetir la petición
// mientras hay una pendiente devuelve conflicto.
func (h *viewHandler) request(w http.ResponseWriter, r *http.Request) {
	friend := h.resolveFriend(w, r)
	if friend == nil {
		return
	}
	if !h.guard(w, r, friend) {
		return
	}
	svc, err := h.c.Store.GetServiceByID(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	if has, err := h.c.Store.HasGrant(r.Context(), friend.ID, svc.ID); err != nil {
		httpx.WriteError(w, err)
		return
	} else if has {
		httpx.WriteError(w, httpx.ErrConflict.WithDetail("ya tienes acceso a este servicio"))
		return
	}
	pending, err := h.pendingRequests(r, friend.ID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if pending[svc.ID] {
		httpx.WriteError(w, httpx.ErrConflict.WithDetail("ya hay una petición pendiente"))
		return
	}

	ar := &core.AccessRequest{FriendID: friend.ID, ServiceID: svc.ID, Status: core.RequestPending}
	if err := h.c.Store.CreateAccessRequest(r.Context(), ar); err != nil {
		httpx.WriteError(w, err)
		return
	}
	h.c.Activity.Record(r.Context(), activity.ActionRequestCreated, friend.ID, svc.ID, svc.Name)
	if h.c.Notifier != nil {
		go h.c.Notifier.AccessRequested(friend.Name, svc.Name)
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"ok": true, "request_id": ar.ID})
}
