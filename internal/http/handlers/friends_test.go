package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelsonblaha/homepage/internal/credentials"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

// friendResp refleja el envelope de create/update: amigo + outcomes.
type friendResp struct {
	Friend struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Token       string   `json:"token"`
		Link        string   `json:"link"`
		HasPassword bool     `json:"has_password"`
		HasTOTP     bool     `json:"has_totp"`
		ServiceIDs  []string `json:"service_ids"`
	} `json:"friend"`
	Operations []struct {
		ServiceID string `json:"service_id"`
		Action    string `json:"action"`
		Status    string `json:"status"`
		Warning   string `json:"warning"`
		Error     string `json:"error"`
	} `json:"account_operations"`
	TOTP map[string]string `json:"totp"`
}

func TestCreateFriendConDefaults(t *testing.T) {
	e := newEnv(t)
	// El servicio por defecto se concede aunque el payload no lo pida.
	svc := e.seedService(t, &core.Service{Name: "Inicio", Subdomain: "home", IsDefault: true, VisibleToFriends: true})
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodPost, "/api/friends", map[string]any{"name": "  Rosa  "}, asAdmin(e))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp friendResp
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "Rosa", resp.Friend.Name)
	assert.NotEmpty(t, resp.Friend.Token)
	assert.Equal(t, "https://example.com/"+resp.Friend.Token, resp.Friend.Link)
	assert.Equal(t, []string{svc.ID}, resp.Friend.ServiceIDs)

	require.Len(t, resp.Operations, 1)
	assert.Equal(t, "grant", resp.Operations[0].Action)
	assert.Equal(t, core.GrantActive, resp.Operations[0].Status)

	ok, err := e.repo.HasGrant(context.Background(), resp.Friend.ID, svc.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateFriendSinNombre(t *testing.T) {
	e := newEnv(t)
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodPost, "/api/friends", map[string]any{"name": "   "}, asAdmin(e))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", errCode(t, rec))
}

func TestCreateFriendValidaciones(t *testing.T) {
	e := newEnv(t)
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodPost, "/api/friends",
		map[string]any{"name": "Iván", "password_mode": "a-veces"}, asAdmin(e))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/friends",
		map[string]any{"name": "Iván", "expires_at": "mañana"}, asAdmin(e))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", errCode(t, rec))
}

func TestCreateFriendAprovisionaIntegracion(t *testing.T) {
	adapter := &fakeTokenAdapter{}
	e := newEnv(t, adapter)
	svc := e.seedService(t, &core.Service{Name: "Pelis", Subdomain: "pelis", Integration: "ombi", VisibleToFriends: true})
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodPost, "/api/friends",
		map[string]any{"name": "Rosa", "service_ids": []string{svc.ID}}, asAdmin(e))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp friendResp
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Operations, 1)
	assert.Equal(t, core.GrantActive, resp.Operations[0].Status)

	// El grant guarda lo que devolvió el adapter más la estrategia del slug.
	g, err := e.repo.GetGrant(context.Background(), resp.Friend.ID, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, credentials.Username("Rosa", "pelis"), g.Username)
	assert.Equal(t, "clave-auto", g.Password)
	assert.Equal(t, "token_injection", g.Strategy)
	assert.Equal(t, "ext-"+g.Username, g.ExternalID)
}

func TestCreateFriendConAuthBasica(t *testing.T) {
	e := newEnv(t)
	svc := e.seedService(t, &core.Service{Name: "Fotos", Subdomain: "fotos", Integration: "basic", VisibleToFriends: true})
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodPost, "/api/friends",
		map[string]any{"name": "Rosa", "service_ids": []string{svc.ID}}, asAdmin(e))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp friendResp
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Operations, 1)
	assert.Equal(t, core.GrantActive, resp.Operations[0].Status)

	// El usuario queda en el fichero htpasswd y en la fila del grant.
	g, err := e.repo.GetGrant(context.Background(), resp.Friend.ID, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, "rosa_fotos", g.Username)
	assert.Equal(t, "basic", g.Strategy)
	assert.Contains(t, e.basic.users, "fotos|rosa_fotos")

	// Al retirar el servicio la entrada htpasswd desaparece.
	rec = doJSON(t, h, http.MethodPut, "/api/friends/"+resp.Friend.ID,
		map[string]any{"service_ids": []string{}}, asAdmin(e))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, e.basic.users, "fotos|rosa_fotos")
}

func TestUpdateFriendReconciliaServicios(t *testing.T) {
	adapter := &fakeTokenAdapter{}
	e := newEnv(t, adapter)
	pelis := e.seedService(t, &core.Service{Name: "Pelis", Subdomain: "pelis", Integration: "ombi", VisibleToFriends: true})
	fotos := e.seedService(t, &core.Service{Name: "Fotos", Subdomain: "fotos", VisibleToFriends: true})
	friend := e.seedFriend(t, &core.Friend{Name: "Rosa"})
	e.seedGrant(t, &core.Grant{FriendID: friend.ID, ServiceID: pelis.ID, ExternalID: "ext-rosa_pelis"})
	h := e.handler(t)

	// El conjunto deseado pasa a ser solo "fotos": alta de uno, baja del otro.
	rec := doJSON(t, h, http.MethodPut, "/api/friends/"+friend.ID,
		map[string]any{"service_ids": []string{fotos.ID}}, asAdmin(e))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp friendResp
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Operations, 2)
	assert.Equal(t, "grant", resp.Operations[0].Action)
	assert.Equal(t, fotos.ID, resp.Operations[0].ServiceID)
	assert.Equal(t, "revoke", resp.Operations[1].Action)
	assert.Equal(t, pelis.ID, resp.Operations[1].ServiceID)

	has, _ := e.repo.HasGrant(context.Background(), friend.ID, fotos.ID)
	assert.True(t, has)
	has, _ = e.repo.HasGrant(context.Background(), friend.ID, pelis.ID)
	assert.False(t, has)
	assert.Equal(t, []string{"ext-rosa_pelis"}, adapter.deleted)
}

func TestUpdateFriendSinServiceIDsNoTocaGrants(t *testing.T) {
	e := newEnv(t)
	svc := e.seedService(t, &core.Service{Name: "Fotos", Subdomain: "fotos", VisibleToFriends: true})
	friend := e.seedFriend(t, &core.Friend{Name: "Rosa"})
	e.seedGrant(t, &core.Grant{FriendID: friend.ID, ServiceID: svc.ID})
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodPut, "/api/friends/"+friend.ID,
		map[string]any{"name": "Rosa María"}, asAdmin(e))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp friendResp
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "Rosa María", resp.Friend.Name)
	assert.Empty(t, resp.Operations)

	has, _ := e.repo.HasGrant(context.Background(), friend.ID, svc.ID)
	assert.True(t, has)
}

func TestUpdateFriendPasswordYTOTP(t *testing.T) {
	e := newEnv(t)
	friend := e.seedFriend(t, &core.Friend{Name: "Rosa"})
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodPut, "/api/friends/"+friend.ID,
		map[string]any{"password": "frase-larga-123", "enable_totp": true}, asAdmin(e))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp friendResp
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.Friend.HasPassword)
	assert.True(t, resp.Friend.HasTOTP)
	require.NotNil(t, resp.TOTP)
	assert.NotEmpty(t, resp.TOTP["secret_base32"])
	assert.Contains(t, resp.TOTP["otpauth_url"], "otpauth://")

	// password: "" desactiva la protección sin tocar el TOTP.
	rec = doJSON(t, h, http.MethodPut, "/api/friends/"+friend.ID,
		map[string]any{"password": ""}, asAdmin(e))
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &resp)
	assert.False(t, resp.Friend.HasPassword)
	assert.True(t, resp.Friend.HasTOTP)
}

func TestUpdateFriendPasswordCorta(t *testing.T) {
	e := newEnv(t)
	friend := e.seedFriend(t, &core.Friend{Name: "Rosa"})
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodPut, "/api/friends/"+friend.ID,
		map[string]any{"password": "corta"}, asAdmin(e))
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "BAD_REQUEST", errCode(t, rec))
}

func TestDeleteFriendRevocaCuentas(t *testing.T) {
	adapter := &fakeTokenAdapter{}
	e := newEnv(t, adapter)
	svc := e.seedService(t, &core.Service{Name: "Pelis", Subdomain: "pelis", Integration: "ombi", VisibleToFriends: true})
	friend := e.seedFriend(t, &core.Friend{Name: "Rosa"})
	e.seedGrant(t, &core.Grant{FriendID: friend.ID, ServiceID: svc.ID, ExternalID: "ext-rosa_pelis"})
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodDelete, "/api/friends/"+friend.ID, nil, asAdmin(e))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		OK         bool `json:"ok"`
		Operations []struct {
			Action string `json:"action"`
		} `json:"account_operations"`
	}
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.OK)
	require.Len(t, resp.Operations, 1)
	assert.Equal(t, "revoke", resp.Operations[0].Action)
	assert.Equal(t, []string{"ext-rosa_pelis"}, adapter.deleted)

	_, err := e.repo.GetFriendByID(context.Background(), friend.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRegenerateTokenInvalidaElViejo(t *testing.T) {
	e := newEnv(t)
	friend := e.seedFriend(t, &core.Friend{Name: "Rosa", Token: "tok-viejo"})
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodPost, "/api/friends/"+friend.ID+"/regenerate-token", nil, asAdmin(e))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var fo struct {
		Token string `json:"token"`
		Link  string `json:"link"`
	}
	decodeJSON(t, rec, &fo)
	assert.NotEqual(t, "tok-viejo", fo.Token)
	assert.Equal(t, "https://example.com/"+fo.Token, fo.Link)

	// El enlace viejo ya no resuelve.
	rec = doJSON(t, h, http.MethodGet, "/api/view/tok-viejo", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetFriendInexistente(t *testing.T) {
	e := newEnv(t)
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodGet, "/api/friends/fr-999", nil, asAdmin(e))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errCode(t, rec))
}
