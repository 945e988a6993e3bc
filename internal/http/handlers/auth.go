package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"html/template"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nelsonblaha/homepage/internal/app"
	"github.com/nelsonblaha/homepage/internal/credentials"
	"github.com/nelsonblaha/homepage/internal/dispatch"
	httpx "github.com/nelsonblaha/homepage/internal/http"
	"github.com/nelsonblaha/homepage/internal/integrations"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

// authHandler cubre la superficie de autenticación hacia los servicios:
// sesión de amigo, forward-auth para el edge proxy, el dispatcher de
// navegador y la página puente que escribe localStorage.
type authHandler struct {
	c *app.Container
}

func NewAuthHandler(c *app.Container) *authHandler {
	return &authHandler{c: c}
}

// Register monta los endpoints JSON bajo /api/auth. El verify queda sin
// limitador: el edge proxy lo consulta en cada request.
func (h *authHandler) Register(r chi.Router) {
	r.With(loginLimit(h.c)).Post("/api/auth/friend-session", h.friendSession)
	r.Get("/api/auth/verify", h.verify)
}

// RegisterBrowser monta las rutas que consumen navegadores directamente.
func (h *authHandler) RegisterBrowser(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(viewLimit(h.c))
		r.Get("/auth/{subdomain}", h.dispatchBrowser)
		r.Get("/auth-setup/{slug}", h.bridgePage)
	})
}

// POST /api/auth/friend-session {token, remember?}
//
// Convierte un token de enlace en cookie de sesión, solo si el enlace no
// exige verificación: el camino con contraseña/TOTP es el unlock de la vista.
func (h *authHandler) friendSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Remember bool   `json:"remember"`
	}
	if !httpx.ReadJSON(w, r, &req) {
		return
	}
	friend, err := h.c.Store.GetFriendByToken(r.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	reqs := h.c.FriendAuth.Requirements(friend)
	switch {
	case reqs.Expired:
		httpx.WriteError(w, httpx.ErrLinkExpired)
		return
	case reqs.Locked:
		httpx.WriteError(w, httpx.ErrLinkLocked)
		return
	}

	raw, expires, err := h.c.Sessions.Create(r.Context(), core.SessionFriend, friend.ID, r.UserAgent(), req.Remember)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	http.SetCookie(w, sessionCookie(h.c, raw, expires))
	h.c.Activity.AuthLogin(r.Context(), friend.ID, "sesión iniciada")
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "expires_at": expires})
}

// GET /api/auth/verify
//
// Endpoint de forward-auth: el edge proxy pregunta si la request puede pasar
// al host de X-Forwarded-Host. 200 deja pasar e inyecta X-Remote-User y
// X-Remote-Email; 401 manda al login; 403 corta sin sesión nueva.
func (h *authHandler) verify(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromRequest(h.c, r)
	if sess == nil {
		httpx.WriteError(w, httpx.ErrUnauthorized)
		return
	}

	if sess.Kind == core.SessionAdmin {
		w.Header().Set("X-Remote-User", "admin")
		if h.c.Cfg.Admin.Email != "" {
			w.Header().Set("X-Remote-Email", h.c.Cfg.Admin.Email)
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "role": "admin"})
		return
	}

	friend, err := h.c.Store.GetFriendByID(r.Context(), sess.FriendID)
	if err != nil {
		httpx.WriteError(w, httpx.ErrUnauthorized)
		return
	}
	if friend.ExpiresAt != nil && time.Now().After(*friend.ExpiresAt) {
		httpx.WriteError(w, httpx.ErrLinkExpired)
		return
	}

	host := forwardedHost(r)
	sub, ok := h.subdomainOf(host)
	if !ok {
		// El host base es la propia página del amigo.
		w.Header().Set("X-Remote-User", credentials.LoginName(friend.Name))
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "role": "friend"})
		return
	}

	svc, err := h.c.Store.GetServiceBySubdomain(r.Context(), sub)
	if err != nil {
		httpx.WriteError(w, httpx.ErrForbidden.WithDetail("servicio desconocido"))
		return
	}
	grant, err := h.c.Store.GetGrant(r.Context(), friend.ID, svc.ID)
	if errors.Is(err, core.ErrNotFound) {
		httpx.WriteError(w, httpx.ErrForbidden.WithDetail("sin acceso al servicio"))
		return
	}
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	user := grant.Username
	if user == "" {
		user = credentials.LoginName(friend.Name)
	}
	w.Header().Set("X-Remote-User", user)
	w.Header().Set("X-Remote-Email", credentials.Email(friend.Name, h.c.Cfg.Domain.Base))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "role": "friend", "service": svc.Subdomain})
}

// GET /auth/{subdomain}?token=
//
// Punto de entrada de navegador hacia un servicio. La identidad sale de la
// cookie de sesión o, si no hay, del token en la query; la decisión del
// dispatcher se traduce a redirect, cookie, puente o credenciales.
func (h *authHandler) dispatchBrowser(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "subdomain")

	var (
		dec dispatch.Decision
		err error
	)
	if sess := sessionFromRequest(h.c, r); sess != nil && sess.Kind == core.SessionFriend {
		var friend *core.Friend
		friend, err = h.c.Store.GetFriendByID(r.Context(), sess.FriendID)
		if err != nil {
			dec = dispatch.Decision{Kind: dispatch.KindUnauthenticated, Reason: "sesión huérfana"}
			err = nil
		} else {
			dec, err = h.c.Dispatcher.Dispatch(r.Context(), friend, target)
		}
	} else {
		dec, err = h.c.Dispatcher.DispatchToken(r.Context(), r.URL.Query().Get("token"), target)
	}
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	switch dec.Kind {
	case dispatch.KindUnauthenticated:
		http.Redirect(w, r, h.c.Cfg.BaseURL(), http.StatusFound)
	case dispatch.KindForbidden:
		httpx.WriteError(w, httpx.ErrForbidden.WithDetail(dec.Reason))
	case dispatch.KindRedirect, dispatch.KindBridge:
		http.Redirect(w, r, dec.RedirectURL, http.StatusFound)
	case dispatch.KindCookie:
		h.setServiceCookie(w, dec.Cookie)
		http.Redirect(w, r, dec.RedirectURL, http.StatusFound)
	case dispatch.KindCredentials:
		h.renderCredentials(w, r, target, dec)
	default:
		httpx.WriteError(w, httpx.ErrInternal.WithDetail("decisión desconocida"))
	}
}

// setServiceCookie fija la cookie de sesión del servicio en el dominio padre
// para que el subdominio la reciba en el redirect que sigue.
func (h *authHandler) setServiceCookie(w http.ResponseWriter, cg *integrations.CookieGrant) {
	if cg == nil {
		return
	}
	ck := &http.Cookie{
		Name:     cg.Name,
		Value:    cg.Value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.c.Cfg.Session.Secure,
	}
	if h.c.Cfg.Domain.CookieDomain != "" {
		ck.Domain = h.c.Cfg.Domain.CookieDomain
	}
	if cg.MaxAge > 0 {
		ck.MaxAge = cg.MaxAge
	}
	http.SetCookie(w, ck)
}

// renderCredentials muestra las credenciales almacenadas: tarjeta HTML para
// navegadores, JSON para el resto.
func (h *authHandler) renderCredentials(w http.ResponseWriter, r *http.Request, target string, dec dispatch.Decision) {
	name := h.serviceName(r, target)

	accept := strings.ToLower(r.Header.Get("Accept"))
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	forceJSON := strings.Contains(accept, "application/json")
	wantsHTML := !forceJSON && (strings.Contains(accept, "text/html") || (accept == "" && strings.Contains(ua, "mozilla/")))

	if !wantsHTML {
		out := map[string]any{
			"kind":     string(dec.Kind),
			"service":  name,
			"fallback": dec.Fallback,
		}
		if dec.Reason != "" {
			out["reason"] = dec.Reason
		}
		if dec.Credentials != nil {
			out["username"] = dec.Credentials.Username
			out["password"] = dec.Credentials.Password
		}
		w.Header().Set("Cache-Control", "no-store")
		httpx.WriteJSON(w, http.StatusOK, out)
		return
	}

	nonce := pageNonce(16)
	writeHTMLHeaders(w, nonce)

	const tpl = `<!doctype html>
<html lang="es">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width,initial-scale=1" />
  <meta name="color-scheme" content="light dark">
  <title>{{.Service}} • Acceso</title>
  <style nonce="{{.Nonce}}">{{.CSS}}</style>
</head>
<body>
  <div class="card" role="region" aria-label="Credenciales de acceso">
    <header class="brand">
      <div class="logo" aria-hidden="true">»</div>
      <h1>{{.Service}}</h1>
    </header>
    <section class="content">
      {{if .HasCreds}}
      <p class="subtitle">Entra con estas credenciales. Son tuyas, no las compartas.</p>
      {{if .Fallback}}<p class="hint">El acceso automático no funcionó esta vez{{if .Reason}} ({{.Reason}}){{end}}; usa las credenciales a mano.</p>{{end}}
      <div class="codebox"><strong>Usuario:</strong> <code id="userVal">{{.Username}}</code>
        <button class="btn-secondary" id="copyUserBtn" type="button">Copiar</button></div>
      <div class="codebox"><strong>Contraseña:</strong> <code id="passVal">{{.Password}}</code>
        <button class="btn-secondary" id="copyPassBtn" type="button">Copiar</button></div>
      <div class="actions"><a class="btn btn-primary" href="{{.ServiceURL}}">Ir al servicio</a></div>
      {{else}}
      <p class="subtitle">Todavía no hay credenciales guardadas para este servicio.</p>
      {{if .Reason}}<p class="hint">{{.Reason}}</p>{{end}}
      <div class="actions"><a class="btn btn-secondary" href="{{.HomeURL}}">Volver a mi página</a></div>
      {{end}}
    </section>
  </div>
  <script nonce="{{.Nonce}}">
    (function () {
      const copy = (btnID, valID) => {
        const btn = document.getElementById(btnID);
        btn?.addEventListener('click', async () => {
          try {
            await navigator.clipboard.writeText(document.getElementById(valID)?.textContent || '');
            const old = btn.textContent;
            btn.textContent = '¡Copiado!';
            setTimeout(() => btn.textContent = old, 1200);
          } catch { alert('No se pudo copiar'); }
        });
      };
      copy('copyUserBtn', 'userVal');
      copy('copyPassBtn', 'passVal');
    })();
  </script>
</body>
</html>`

	data := struct {
		Nonce      string
		CSS        template.CSS
		Service    string
		HasCreds   bool
		Username   string
		Password   string
		Fallback   bool
		Reason     string
		ServiceURL string
		HomeURL    string
	}{
		Nonce:      nonce,
		CSS:        pageCSS,
		Service:    name,
		Fallback:   dec.Fallback,
		Reason:     dec.Reason,
		ServiceURL: h.c.Cfg.ServiceURL(target),
		HomeURL:    h.c.Cfg.BaseURL(),
	}
	if dec.Credentials != nil {
		data.HasCreds = true
		data.Username = dec.Credentials.Username
		data.Password = dec.Credentials.Password
	}

	t := template.Must(template.New("creds").Parse(tpl))
	if err := t.Execute(w, data); err != nil {
		logger.From(r.Context()).Warn("render de credenciales falló", logger.Err(err))
	}
}

// GET /auth-setup/{slug}?payload=
//
// Página puente: verifica el payload firmado, escribe las claves en el
// localStorage del subdominio y reenvía al servicio. El payload viaja en
// base64 dentro de un script tag para no pelear con el escaping de HTML.
func (h *authHandler) bridgePage(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	payload, err := h.c.Bridge.Verify(r.URL.Query().Get("payload"))
	if err != nil || payload.Slug != slug {
		httpx.WriteError(w, httpx.ErrUnauthorized.WithDetail("payload inválido o caducado"))
		return
	}

	blob, err := json.Marshal(struct {
		LS  map[string]string `json:"ls"`
		Fwd string            `json:"fwd"`
	}{LS: payload.LocalStorage, Fwd: payload.Forward})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	nonce := pageNonce(16)
	writeHTMLHeaders(w, nonce)

	const tpl = `<!doctype html>
<html lang="es">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width,initial-scale=1" />
  <meta name="color-scheme" content="light dark">
  <title>Preparando tu sesión…</title>
  <style nonce="{{.Nonce}}">{{.CSS}}</style>
</head>
<body>
  <div class="card" role="region" aria-label="Preparando sesión">
    <header class="brand">
      <div class="logo" aria-hidden="true">»</div>
      <h1>Un momento</h1>
    </header>
    <section class="content">
      <p class="subtitle" id="msg">Dejando tu sesión lista…</p>
    </section>
  </div>
  <script type="application/octet-stream" id="payload-b64" nonce="{{.Nonce}}">{{.PayloadB64}}</script>
  <script nonce="{{.Nonce}}">
    (function () {
      const b64 = (document.getElementById('payload-b64')?.textContent || '').trim();
      let data = null;
      try { data = JSON.parse(atob(b64)); } catch {}
      if (!data || !data.fwd) {
        document.getElementById('msg').textContent = 'El enlace ya no es válido; vuelve a tu página e inténtalo otra vez.';
        return;
      }
      try {
        const ls = data.ls || {};
        for (const k of Object.keys(ls)) localStorage.setItem(k, ls[k]);
      } catch (e) {
        document.getElementById('msg').textContent = 'No se pudo preparar la sesión en este navegador.';
        return;
      }
      location.replace(data.fwd);
    })();
  </script>
</body>
</html>`

	data := struct {
		Nonce      string
		CSS        template.CSS
		PayloadB64 string
	}{
		Nonce:      nonce,
		CSS:        pageCSS,
		PayloadB64: base64.StdEncoding.EncodeToString(blob),
	}

	t := template.Must(template.New("bridge").Parse(tpl))
	if err := t.Execute(w, data); err != nil {
		logger.From(r.Context()).Warn("render del puente falló", logger.Err(err), logger.ServiceSlug(slug))
	}
}

// serviceName resuelve un nombre presentable para la tarjeta; si el lookup
// falla, el propio target sirve.
func (h *authHandler) serviceName(r *http.Request, target string) string {
	svc, err := h.c.Store.GetServiceBySubdomain(r.Context(), target)
	if errors.Is(err, core.ErrNotFound) {
		svc, err = h.c.Store.GetServiceByID(r.Context(), target)
	}
	if err != nil {
		return target
	}
	return svc.Name
}

// forwardedHost saca el host efectivo que ve el edge proxy.
func forwardedHost(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if i := strings.IndexByte(host, ','); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// subdomainOf separa el subdominio del dominio base configurado.
// El host base (o uno ajeno) devuelve ok=false.
func (h *authHandler) subdomainOf(host string) (string, bool) {
	base := strings.ToLower(h.c.Cfg.Domain.Base)
	if base == "" || host == base {
		return "", false
	}
	sub, ok := strings.CutSuffix(host, "."+base)
	if !ok || sub == "" {
		return "", false
	}
	return sub, true
}

// pageNonce genera el nonce de CSP para el CSS/JS inline de estas páginas.
func pageNonce(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// writeHTMLHeaders fija Content-Type, no-store y una CSP con nonce.
func writeHTMLHeaders(w http.ResponseWriter, nonce string) {
	csp := "default-src 'self'; " +
		"img-src 'self' data:; " +
		"style-src 'self' 'nonce-" + nonce + "'; " +
		"script-src 'self' 'nonce-" + nonce + "'; " +
		"base-uri 'self'; " +
		"frame-ancestors 'none'"
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Security-Policy", csp)
}

// pageCSS comparte el estilo de las dos páginas servidas desde aquí.
const pageCSS template.CSS = `
    :root{
      --brand1:#10b6b6;
      --brand2:#60a5fa;
      --bg:#f5f9fc;
      --card:#ffffff;
      --text:#0f172a;
      --muted:#64748b;
      --radius:16px;
      --shadow:0 10px 30px rgba(2,132,199,.15);
    }
    *{box-sizing:border-box}
    html,body{height:100%}
    body{
      margin:0;
      font-family: system-ui,-apple-system,Segoe UI,Roboto,Arial,sans-serif;
      color:var(--text);
      background:
        radial-gradient(60% 60% at 100% 0%, rgba(96,165,250,.25) 0%, transparent 60%),
        radial-gradient(50% 50% at 0% 100%, rgba(16,182,182,.25) 0%, transparent 60%),
        var(--bg);
      display:grid;
      place-items:center;
      padding:24px;
    }
    .card{
      width:min(560px, 95vw);
      background:var(--card);
      border-radius:var(--radius);
      box-shadow:var(--shadow);
      overflow:hidden;
      animation:pop .25s ease-out both;
    }
    @keyframes pop{from{transform:translateY(6px);opacity:.0}to{transform:none;opacity:1}}
    .brand{
      display:flex;align-items:center;gap:12px;padding:18px 20px;
      background:linear-gradient(120deg,var(--brand1),var(--brand2));
      color:#fff;
    }
    .logo{
      width:36px;height:36px;border-radius:10px;display:grid;place-items:center;
      background:rgba(255,255,255,.2);font-weight:700;user-select:none;
    }
    .brand h1{margin:0;font-size:18px;font-weight:700;letter-spacing:.4px}
    .content{padding:22px}
    .subtitle{color:var(--muted);margin:0 0 18px 0}
    .codebox{
      display:flex;align-items:center;gap:10px;background:#f7fbff;border:1px solid #dfeefd;
      padding:10px 12px;border-radius:12px;margin:12px 0;
    }
    .codebox code{
      font-family: ui-monospace, SFMono-Regular, Menlo, Consolas, monospace;
      font-size:13px;background:#eef6ff;padding:4px 6px;border-radius:6px;
      word-break:break-all;
    }
    .actions{display:flex;gap:10px;flex-wrap:wrap;justify-content:flex-end;margin-top:18px}
    button, .btn{
      appearance:none;border:0;border-radius:10px;padding:10px 14px;font-weight:600;
      cursor:pointer;text-decoration:none;display:inline-block;
    }
    .btn-primary{background:linear-gradient(120deg,var(--brand1),var(--brand2));color:#fff}
    .btn-secondary{background:#eef6ff;color:#0b4b7d;border:1px solid #d7e8fb}
    button:active{transform:translateY(1px)}
    .hint{color:var(--muted);font-size:13px;margin-top:10px}
`
