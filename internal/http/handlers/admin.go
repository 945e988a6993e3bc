// Package handlers implementa los endpoints JSON: panel de administración,
// vista de amigos por token y la superficie de auth del reverse proxy.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nelsonblaha/homepage/internal/app"
	"github.com/nelsonblaha/homepage/internal/bootstrap"
	httpx "github.com/nelsonblaha/homepage/internal/http"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	"github.com/nelsonblaha/homepage/internal/security/password"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

type adminHandler struct {
	c *app.Container
}

func NewAdminHandler(c *app.Container) *adminHandler {
	return &adminHandler{c: c}
}

func (h *adminHandler) Register(r chi.Router) {
	r.With(loginLimit(h.c)).Post("/api/admin/login", h.login)
	r.Post("/api/admin/logout", h.logout)
	r.Get("/api/admin/verify", h.verify)
}

// sessionCookie arma la cookie hp_session con los atributos de config.
// maxAge <= 0 borra la cookie.
func sessionCookie(c *app.Container, raw string, expires time.Time) *http.Cookie {
	ck := &http.Cookie{
		Name:     c.Cfg.Session.CookieName,
		Value:    raw,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.Cfg.Session.Secure,
	}
	if c.Cfg.Domain.CookieDomain != "" {
		ck.Domain = c.Cfg.Domain.CookieDomain
	}
	if raw == "" {
		ck.MaxAge = -1
	} else {
		ck.Expires = expires
	}
	return ck
}

// sessionFromRequest valida la cookie de sesión; nil cuando no hay o caducó.
func sessionFromRequest(c *app.Container, r *http.Request) *core.Session {
	ck, err := r.Cookie(c.Cfg.Session.CookieName)
	if err != nil || ck.Value == "" {
		return nil
	}
	sess, err := c.Sessions.Validate(r.Context(), ck.Value)
	if err != nil {
		return nil
	}
	return sess
}

// isAdmin acepta sesión de admin o el API key de automatización.
func isAdmin(c *app.Container, r *http.Request) bool {
	if key := r.Header.Get("X-Admin-API-Key"); key != "" && c.Cfg.Admin.APIKey != "" {
		return key == c.Cfg.Admin.APIKey
	}
	sess := sessionFromRequest(c, r)
	return sess != nil && sess.Kind == core.SessionAdmin
}

// RequireAdmin corta con 401 todo lo que no venga del operador.
func RequireAdmin(c *app.Container) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isAdmin(c, r) {
				httpx.WriteError(w, httpx.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// POST /api/admin/login {password, remember?}
func (h *adminHandler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
		Remember bool   `json:"remember"`
	}
	if !httpx.ReadJSON(w, r, &req) {
		return
	}
	if req.Password == "" {
		httpx.WriteError(w, httpx.ErrBadRequest.WithDetail("password es obligatorio"))
		return
	}

	stored, err := h.c.Store.GetSetting(r.Context(), bootstrap.AdminHashKey)
	if errors.Is(err, core.ErrNotFound) || stored == "" {
		logger.From(r.Context()).Error("login de admin sin hash en settings")
		httpx.WriteError(w, httpx.ErrInternal.WithDetail("el sistema no está inicializado"))
		return
	}
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if !password.Verify(req.Password, stored) {
		logger.From(r.Context()).Warn("contraseña de admin incorrecta")
		httpx.WriteError(w, httpx.ErrUnauthorized.WithDetail("contraseña incorrecta"))
		return
	}

	raw, expires, err := h.c.Sessions.Create(r.Context(), core.SessionAdmin, "", r.UserAgent(), req.Remember)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	http.SetCookie(w, sessionCookie(h.c, raw, expires))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"expires_at": expires,
	})
}

// POST /api/admin/logout
func (h *adminHandler) logout(w http.ResponseWriter, r *http.Request) {
	if ck, err := r.Cookie(h.c.Cfg.Session.CookieName); err == nil && ck.Value != "" {
		if err := h.c.Sessions.Delete(r.Context(), ck.Value); err != nil {
			logger.From(r.Context()).Warn("logout con error al borrar sesión", logger.Err(err))
		}
	}
	http.SetCookie(w, sessionCookie(h.c, "", time.Time{}))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// GET /api/admin/verify
func (h *adminHandler) verify(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(h.c, r) {
		httpx.WriteError(w, httpx.ErrUnauthorized)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "role": "admin"})
}
