package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nelsonblaha/homepage/internal/activity"
	"github.com/nelsonblaha/homepage/internal/app"
	httpx "github.com/nelsonblaha/homepage/internal/http"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	"github.com/nelsonblaha/homepage/internal/reconcile"
	tokens "github.com/nelsonblaha/homepage/internal/security/token"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

type friendsHandler struct {
	c *app.Container
}

func NewFriendsHandler(c *app.Container) *friendsHandler {
	return &friendsHandler{c: c}
}

func (h *friendsHandler) Register(r chi.Router) {
	r.Get("/api/friends", h.list)
	r.Post("/api/friends", h.create)
	r.Get("/api/friends/{id}", h.get)
	r.Put("/api/friends/{id}", h.update)
	r.Delete("/api/friends/{id}", h.remove)
	r.Post("/api/friends/{id}/regenerate-token", h.regenerateToken)
}

// friendOut es el amigo más su enlace privado y sus grants (sin passwords).
type friendOut struct {
	core.Friend
	Link        string       `json:"link"`
	HasPassword bool         `json:"has_password"`
	HasTOTP     bool         `json:"has_totp"`
	Grants      []core.Grant `json:"grants"`
	ServiceIDs  []string     `json:"service_ids"`
}

func (h *friendsHandler) friendOut(r *http.Request, f *core.Friend) (friendOut, error) {
	grants, err := h.c.Store.ListGrantsByFriend(r.Context(), f.ID)
	if err != nil {
		return friendOut{}, err
	}
	ids := make([]string, 0, len(grants))
	for _, g := range grants {
		ids = append(ids, g.ServiceID)
	}
	if grants == nil {
		grants = []core.Grant{}
	}
	return friendOut{
		Friend:      *f,
		Link:        h.c.Cfg.BaseURL() + f.Token,
		HasPassword: f.PasswordHash != "",
		HasTOTP:     f.TOTPSecret != "",
		Grants:      grants,
		ServiceIDs:  ids,
	}, nil
}

// GET /api/friends
func (h *friendsHandler) list(w http.ResponseWriter, r *http.Request) {
	friends, err := h.c.Store.ListFriends(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	out := make([]friendOut, 0, len(friends))
	for i := range friends {
		fo, err := h.friendOut(r, &friends[i])
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		out = append(out, fo)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"friends": out})
}

// GET /api/friends/{id}
func (h *friendsHandler) get(w http.ResponseWriter, r *http.Request) {
	friend, err := h.c.Store.GetFriendByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	fo, err := h.friendOut(r, friend)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, fo)
}

type friendPayload struct {
	Name              *string  `json:"name"`
	ServiceIDs        []string `json:"service_ids"`
	PasswordMode      *string  `json:"password_mode"`
	PasswordThreshold *int     `json:"password_threshold"`
	ExpiresAt         *string  `json:"expires_at"` // RFC3339; "" limpia
	Password          *string  `json:"password"`   // "" desactiva
	EnableTOTP        *bool    `json:"enable_totp"`
}

func validPasswordMode(m string) bool {
	switch m {
	case core.PasswordOff, core.PasswordAlways, core.PasswordAfterThreshold:
		return true
	}
	return false
}

// parseExpiry convierte el campo expires_at del payload. "" → nil (sin
// caducidad); formato inválido → error.
func parseExpiry(raw string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// POST /api/friends {name, service_ids?, password_mode?, expires_at?}
// Los servicios marcados por defecto se conceden siempre, pida lo que pida
// el payload.
func (h *friendsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req friendPayload
	if !httpx.ReadJSON(w, r, &req) {
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		httpx.WriteError(w, httpx.ErrBadRequest.WithDetail("name es obligatorio"))
		return
	}

	token, err := tokens.NewLinkToken()
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	friend := &core.Friend{
		Name:         strings.TrimSpace(*req.Name),
		Token:        token,
		PasswordMode: core.PasswordOff,
	}
	if req.PasswordMode != nil {
		if !validPasswordMode(*req.PasswordMode) {
			httpx.WriteError(w, httpx.ErrBadRequest.WithDetail("password_mode inválido"))
			return
		}
		friend.PasswordMode = *req.PasswordMode
	}
	if req.PasswordThreshold != nil {
		friend.PasswordThreshold = *req.PasswordThreshold
	}
	if req.ExpiresAt != nil {
		exp, ok := parseExpiry(*req.ExpiresAt)
		if !ok {
			httpx.WriteError(w, httpx.ErrBadRequest.WithDetail("expires_at debe ser RFC3339"))
			return
		}
		friend.ExpiresAt = exp
	}

	if err := h.c.Store.CreateFriend(r.Context(), friend); err != nil {
		httpx.WriteError(w, err)
		return
	}

	if req.Password != nil && *req.Password != "" {
		if err := h.c.FriendAuth.SetupPassword(r.Context(), friend, *req.Password); err != nil {
			httpx.WriteError(w, err)
			return
		}
	}

	// Grants iniciales: lo pedido más los servicios por defecto.
	wanted := append([]string{}, req.ServiceIDs...)
	defaults, err := h.c.Store.ListDefaultServices(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	for _, d := range defaults {
		wanted = append(wanted, d.ID)
	}

	outcomes, err := h.c.Reconciler.Reconcile(r.Context(), friend, wanted)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	h.recordOutcomes(r, friend, outcomes)

	fo, err := h.friendOut(r, friend)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"friend":             fo,
		"account_operations": outcomes,
	})
}

// PUT /api/friends/{id}
// service_ids es el conjunto deseado completo; su ausencia no toca grants.
func (h *friendsHandler) update(w http.ResponseWriter, r *http.Request) {
	friend, err := h.c.Store.GetFriendByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req friendPayload
	if !httpx.ReadJSON(w, r, &req) {
		return
	}

	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		friend.Name = strings.TrimSpace(*req.Name)
	}
	if req.PasswordMode != nil {
		if !validPasswordMode(*req.PasswordMode) {
			httpx.WriteError(w, httpx.ErrBadRequest.WithDetail("password_mode inválido"))
			return
		}
		friend.PasswordMode = *req.PasswordMode
	}
	if req.PasswordThreshold != nil {
		friend.PasswordThreshold = *req.PasswordThreshold
	}
	if req.ExpiresAt != nil {
		exp, ok := parseExpiry(*req.ExpiresAt)
		if !ok {
			httpx.WriteError(w, httpx.ErrBadRequest.WithDetail("expires_at debe ser RFC3339"))
			return
		}
		friend.ExpiresAt = exp
	}
	if err := h.c.Store.UpdateFriend(r.Context(), friend); err != nil {
		httpx.WriteError(w, err)
		return
	}

	// Contraseña y TOTP pasan por friendauth, que valida política y guarda.
	var totpOut map[string]string
	if req.Password != nil {
		if *req.Password == "" {
			err = h.c.FriendAuth.DisablePassword(r.Context(), friend)
		} else {
			err = h.c.FriendAuth.SetupPassword(r.Context(), friend, *req.Password)
		}
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
	}
	if req.EnableTOTP != nil {
		if *req.EnableTOTP {
			secret, otpauth, err := h.c.FriendAuth.SetupTOTP(r.Context(), friend, h.c.Cfg.App.Name)
			if err != nil {
				httpx.WriteError(w, err)
				return
			}
			totpOut = map[string]string{"secret_base32": secret, "otpauth_url": otpauth}
		} else if err := h.c.FriendAuth.DisableTOTP(r.Context(), friend); err != nil {
			httpx.WriteError(w, err)
			return
		}
	}

	var outcomes []reconcile.Outcome
	if req.ServiceIDs != nil {
		outcomes, err = h.c.Reconciler.Reconcile(r.Context(), friend, req.ServiceIDs)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		h.recordOutcomes(r, friend, outcomes)
		h.notifyGrantErrors(friend, outcomes)
	}

	fo, err := h.friendOut(r, friend)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	resp := map[string]any{
		"friend":             fo,
		"account_operations": outcomes,
	}
	if totpOut != nil {
		resp["totp"] = totpOut
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// DELETE /api/friends/{id}
// Primero se revocan las cuentas externas; las filas locales caen por FK.
func (h *friendsHandler) remove(w http.ResponseWriter, r *http.Request) {
	friend, err := h.c.Store.GetFriendByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	outcomes, err := h.c.Reconciler.Reconcile(r.Context(), friend, nil)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	h.recordOutcomes(r, friend, outcomes)

	if err := h.c.Store.DeleteFriend(r.Context(), friend.ID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	logger.From(r.Context()).Info("amigo eliminado",
		logger.FriendID(friend.ID), logger.FriendName(friend.Name))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":                 true,
		"account_operations": outcomes,
	})
}

// POST /api/friends/{id}/regenerate-token
// El enlace viejo muere en el acto; las sesiones de amigo emitidas siguen
// vivas hasta caducar.
func (h *friendsHandler) regenerateToken(w http.ResponseWriter, r *http.Request) {
	friend, err := h.c.Store.GetFriendByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	token, err := tokens.NewLinkToken()
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	friend.Token = token
	if err := h.c.Store.UpdateFriend(r.Context(), friend); err != nil {
		httpx.WriteError(w, err)
		return
	}
	logger.From(r.Context()).Info("token de enlace regenerado", logger.FriendID(friend.ID))

	fo, err := h.friendOut(r, friend)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, fo)
}

// recordOutcomes traduce outcomes del reconciler a entradas de actividad.
func (h *friendsHandler) recordOutcomes(r *http.Request, friend *core.Friend, outcomes []reconcile.Outcome) {
	for _, out := range outcomes {
		action := activity.ActionGrant
		if out.Action == reconcile.ActionRevoke {
			action = activity.ActionRevoke
		}
		detail := out.ServiceName
		if out.Error != "" {
			detail += " (error: " + out.Error + ")"
		}
		h.c.Activity.Record(r.Context(), action, friend.ID, out.ServiceID, detail)
	}
}

// notifyGrantErrors avisa al operador por email si alguna cuenta falló.
func (h *friendsHandler) notifyGrantErrors(friend *core.Friend, outcomes []reconcile.Outcome) {
	var failures []string
	for _, out := range outcomes {
		if out.Status == core.GrantError {
			name := out.ServiceName
			if name == "" {
				name = out.ServiceID
			}
			failures = append(failures, name+": "+out.Error)
		}
	}
	if len(failures) == 0 || h.c.Notifier == nil {
		return
	}
	go h.c.Notifier.GrantErrors(friend.Name, failures)
}
