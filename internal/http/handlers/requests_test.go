package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelsonblaha/homepage/internal/store/core"
)

// pideAcceso crea la petición por la misma ruta pública que usa el amigo.
func pideAcceso(t *testing.T, h http.Handler, token, serviceID string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/view/"+token+"/request/"+serviceID, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		RequestID string `json:"request_id"`
	}
	decodeJSON(t, rec, &resp)
	return resp.RequestID
}

func TestApproveConcedeYAprovisiona(t *testing.T) {
	adapter := &fakeTokenAdapter{}
	e := newEnv(t, adapter)
	svc := e.seedService(t, &core.Service{Name: "Pelis", Subdomain: "pelis", Integration: "ombi", VisibleToFriends: true})
	friend := e.seedFriend(t, &core.Friend{Name: "Rosa", Token: "tok-rosa"})
	h := e.handler(t)

	id := pideAcceso(t, h, "tok-rosa", svc.ID)

	// La pendiente aparece en el listado del panel.
	rec := doJSON(t, h, http.MethodGet, "/api/requests?status=pending", nil, asAdmin(e))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Requests []core.AccessRequest `json:"requests"`
	}
	decodeJSON(t, rec, &list)
	require.Len(t, list.Requests, 1)
	assert.Equal(t, id, list.Requests[0].ID)

	// Aprobar aprovisiona por el mismo camino que el panel de amigos.
	rec = doJSON(t, h, http.MethodPost, "/api/requests/"+id+"/approve", nil, asAdmin(e))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		OK         bool `json:"ok"`
		Operations []struct {
			ServiceID string `json:"service_id"`
			Action    string `json:"action"`
			Status    string `json:"status"`
		} `json:"account_operations"`
	}
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.OK)
	require.Len(t, resp.Operations, 1)
	assert.Equal(t, "grant", resp.Operations[0].Action)
	assert.Equal(t, core.GrantActive, resp.Operations[0].Status)

	has, _ := e.repo.HasGrant(context.Background(), friend.ID, svc.ID)
	assert.True(t, has)

	// Y el listado la refleja como aprobada, con fecha de decisión.
	rec = doJSON(t, h, http.MethodGet, "/api/requests?status=approved", nil, asAdmin(e))
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &list)
	require.Len(t, list.Requests, 1)
	require.NotNil(t, list.Requests[0].DecidedAt)
}

func TestApproveDosVecesEsConflicto(t *testing.T) {
	e := newEnv(t)
	svc := e.seedService(t, &core.Service{Name: "Pelis", Subdomain: "pelis", VisibleToFriends: true})
	e.seedFriend(t, &core.Friend{Name: "Rosa", Token: "tok-rosa"})
	h := e.handler(t)

	id := pideAcceso(t, h, "tok-rosa", svc.ID)

	rec := doJSON(t, h, http.MethodPost, "/api/requests/"+id+"/approve", nil, asAdmin(e))
	require.Equal(t, http.StatusOK, rec.Code)

	// Re-aprobar no debe re-aprovisionar.
	rec = doJSON(t, h, http.MethodPost, "/api/requests/"+id+"/approve", nil, asAdmin(e))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", errCode(t, rec))
}

func TestDenyNoConcedeNada(t *testing.T) {
	e := newEnv(t)
	svc := e.seedService(t, &core.Service{Name: "Pelis", Subdomain: "pelis", VisibleToFriends: true})
	friend := e.seedFriend(t, &core.Friend{Name: "Rosa", Token: "tok-rosa"})
	h := e.handler(t)

	id := pideAcceso(t, h, "tok-rosa", svc.ID)

	rec := doJSON(t, h, http.MethodPost, "/api/requests/"+id+"/deny", nil, asAdmin(e))
	require.Equal(t, http.StatusOK, rec.Code)

	has, _ := e.repo.HasGrant(context.Background(), friend.ID, svc.ID)
	assert.False(t, has)

	rec = doJSON(t, h, http.MethodGet, "/api/requests?status=denied", nil, asAdmin(e))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Requests []core.AccessRequest `json:"requests"`
	}
	decodeJSON(t, rec, &list)
	require.Len(t, list.Requests, 1)
	assert.Equal(t, core.RequestDenied, list.Requests[0].Status)
}

func TestListRequestsStatusInvalido(t *testing.T) {
	e := newEnv(t)
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodGet, "/api/requests?status=bogus", nil, asAdmin(e))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", errCode(t, rec))
}

func TestRequestInexistente(t *testing.T) {
	e := newEnv(t)
	h := e.handler(t)

	rec := doJSON(t, h, http.MethodPost, "/api/requests/req-999/approve", nil, asAdmin(e))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errCode(t, rec))
}
