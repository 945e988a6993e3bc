package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelsonblaha/homepage/internal/bootstrap"
	"github.com/nelsonblaha/homepage/internal/security/password"
)

// seedAdminHash deja en settings el hash argon2id, como haría el bootstrap.
func seedAdminHash(t *testing.T, e *env, plain string) {
	t.Helper()
	phc, err := password.Hash(password.Default, plain)
	require.NoError(t, err)
	require.NoError(t, e.repo.SetSetting(context.Background(), bootstrap.AdminHashKey, phc))
}

func TestAdminLoginYVerify(t *testing.T) {
	e := newEnv(t)
	seedAdminHash(t, e, "super-secreta-123")
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodPost, "/api/admin/login", map[string]any{"password": "super-secreta-123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		OK        bool      `json:"ok"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.OK)
	assert.True(t, resp.ExpiresAt.After(time.Now()))

	ck := cookieNamed(t, rec, "hp_session")
	assert.True(t, ck.HttpOnly)
	assert.Equal(t, "/", ck.Path)

	// La cookie recién emitida pasa el verify.
	rec = doJSON(t, h, http.MethodGet, "/api/admin/verify", nil, withCookie(ck))
	require.Equal(t, http.StatusOK, rec.Code)
	var ver struct {
		OK   bool   `json:"ok"`
		Role string `json:"role"`
	}
	decodeJSON(t, rec, &ver)
	assert.True(t, ver.OK)
	assert.Equal(t, "admin", ver.Role)
}

func TestAdminLoginContrasenaIncorrecta(t *testing.T) {
	e := newEnv(t)
	seedAdminHash(t, e, "super-secreta-123")
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodPost, "/api/admin/login", map[string]any{"password": "otra-cosa"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errCode(t, rec))
}

func TestAdminLoginSinInicializar(t *testing.T) {
	// Sin hash en settings el login no puede funcionar: es un 500, no un 401,
	// porque el problema es del despliegue y no del cliente.
	e := newEnv(t)
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodPost, "/api/admin/login", map[string]any{"password": "da-igual"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL", errCode(t, rec))
}

func TestAdminLoginSinPassword(t *testing.T) {
	e := newEnv(t)
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodPost, "/api/admin/login", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", errCode(t, rec))
}

func TestAdminLogout(t *testing.T) {
	e := newEnv(t)
	h := e.handler(t)
	ck := e.adminCookie(t)

	rec := doJSON(t, h, http.MethodPost, "/api/admin/logout", nil, withCookie(ck))
	require.Equal(t, http.StatusOK, rec.Code)

	// La respuesta borra la cookie y la sesión deja de valer.
	cleared := cookieNamed(t, rec, "hp_session")
	assert.Equal(t, -1, cleared.MaxAge)
	_, err := e.c.Sessions.Validate(context.Background(), ck.Value)
	assert.Error(t, err)

	// Logout sin cookie sigue siendo 200: es idempotente.
	rec = doJSON(t, h, http.MethodPost, "/api/admin/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAdminProtegeElPanel(t *testing.T) {
	e := newEnv(t)
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodGet, "/api/friends", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errCode(t, rec))

	// Con el API key de automatización pasa sin sesión.
	rec = doJSON(t, h, http.MethodGet, "/api/friends", nil, asAdmin(e))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestVerifyConAPIKeyIncorrecta(t *testing.T) {
	// Un API key presente pero erróneo corta en seco: no cae a la cookie.
	e := newEnv(t)
	h := e.handler(t)
	ck := e.adminCookie(t)

	rec := doJSON(t, h, http.MethodGet, "/api/admin/verify", nil,
		withHeader("X-Admin-API-Key", "clave-equivocada"), withCookie(ck))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errCode(t, rec))
}
