package overseerr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelsonblaha/homepage/internal/integrations"
)

func TestCreateAccountConEmailSintetico(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/api/v1/user":
			require.Equal(t, "api-key", r.Header.Get("X-Api-Key"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 42})
		case r.Method == "PUT" && r.URL.Path == "/api/v1/user/42/settings/password":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("request inesperada: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "api-key", "example.com")
	acc, err := c.CreateAccount(context.Background(), "ana_overseerr")
	require.NoError(t, err)

	assert.Equal(t, "42", acc.ExternalID)
	assert.NotEmpty(t, acc.Password)
	assert.Equal(t, "ana_overseerr@example.com", gotBody["email"])
	assert.Equal(t, float64(34), gotBody["permissions"], "sólo permisos de request")
}

func TestCreateAccountPasswordFallaDejaVacio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/api/v1/user":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 7})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "example.com")
	acc, err := c.CreateAccount(context.Background(), "bob_overseerr")
	require.NoError(t, err, "el fallo del password no es fatal")
	assert.Equal(t, "7", acc.ExternalID)
	assert.Empty(t, acc.Password, "sin password seteado no hay password que guardar")
}

func TestCreateAccountDuplicada(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/api/v1/user":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "User already exists"})
		case r.Method == "GET" && r.URL.Path == "/api/v1/user":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]any{
					{"id": 3, "email": "ana_overseerr@example.com", "username": "ana_overseerr"},
				},
			})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "example.com")
	acc, err := c.CreateAccount(context.Background(), "ana_overseerr")
	require.NoError(t, err)
	assert.True(t, acc.AlreadyExisted)
	assert.Equal(t, "3", acc.ExternalID)
}

func TestLoginCapturaCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/auth/local", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "ana_overseerr@example.com", body["email"])

		http.SetCookie(w, &http.Cookie{Name: "connect.sid", Value: "s%3Aabc123", Path: "/"})
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 3})
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "example.com")
	grant, err := c.Login(context.Background(), "ana_overseerr", "pwd")
	require.NoError(t, err)
	assert.Equal(t, "connect.sid", grant.Name)
	assert.Equal(t, "s%3Aabc123", grant.Value)
}

func TestLoginSinCookieEsRechazo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 3})
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "example.com")
	_, err := c.Login(context.Background(), "ana", "pwd")
	assert.True(t, errors.Is(err, integrations.ErrTargetRejected))
}

func TestDeleteAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "DELETE", r.Method)
		require.Equal(t, "/api/v1/user/42", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "example.com")
	assert.NoError(t, c.DeleteAccount(context.Background(), "42"))
}

func TestCheckStatusCaido(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL, "k", "example.com")
	st := c.CheckStatus(context.Background())
	assert.False(t, st.Connected)
	assert.NotEmpty(t, st.Detail)
}
