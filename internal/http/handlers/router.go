package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nelsonblaha/homepage/internal/app"
	httpx "github.com/nelsonblaha/homepage/internal/http"
)

// NewRouter arma el árbol de rutas completo: middleware global, endpoints
// públicos, la superficie de amigos y el panel de administración tras su
// guard. Es el único sitio donde se decide qué ve quién.
func NewRouter(c *app.Container) (http.Handler, error) {
	metricsHandler, err := httpx.RegisterMetrics(httpx.MetricsConfig{
		Pool: c.PG().Pool,
	})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(
		httpx.WithRequestID(),
		httpx.WithMetrics(),
		httpx.WithLogging(),
		httpx.WithRecover(),
		httpx.WithSecurityHeaders(),
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, httpx.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, &httpx.AppError{
			Code:       "method_not_allowed",
			Message:    "método no soportado en esta ruta",
			HTTPStatus: http.StatusMethodNotAllowed,
		})
	})

	NewHealthHandler(c).Register(r)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	NewAdminHandler(c).Register(r)

	auth := NewAuthHandler(c)
	auth.Register(r)
	auth.RegisterBrowser(r)

	NewViewHandler(c).Register(r)

	services := NewServicesHandler(c)
	services.RegisterStatus(r)

	// Todo lo demás es del operador.
	r.Group(func(r chi.Router) {
		r.Use(RequireAdmin(c))
		NewFriendsHandler(c).Register(r)
		services.Register(r)
		NewRequestsHandler(c).Register(r)
		NewActivityHandler(c).Register(r)
	})

	return r, nil
}

// loginLimit protege los endpoints que verifican secretos.
func loginLimit(c *app.Container) func(http.Handler) http.Handler {
	return httpx.WithRateLimit(c.LoginLimiter, c.Cfg.Rate.Whitelist)
}

// viewLimit frena la enumeración de tokens en la superficie pública.
func viewLimit(c *app.Container) func(http.Handler) http.Handler {
	return httpx.WithRateLimit(c.ViewLimiter, c.Cfg.Rate.Whitelist)
}
