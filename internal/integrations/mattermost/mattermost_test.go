package mattermost

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

func TestCreateAccountYUneAlEquipo(t *testing.T) {
	var joined bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer admin-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/v4/users":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "ana_chat", body["username"])
			assert.Equal(t, "ana_chat@example.com", body["email"])
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "mm-1", "username": "ana_chat"})
		case "/api/v4/teams/team-x/members":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "mm-1", body["user_id"])
			joined = true
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("path inesperado: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "admin-token", "team-x", "example.com")
	acc, err := c.CreateAccount(context.Background(), "ana_chat")
	require.NoError(t, err)
	assert.Equal(t, "mm-1", acc.ExternalID)
	assert.NotEmpty(t, acc.Password)
	assert.True(t, joined)
}

func TestCreateAccountJoinFallaNoEsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v4/users":
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "mm-2"})
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "team-x", "example.com")
	acc, err := c.CreateAccount(context.Background(), "bob_chat")
	require.NoError(t, err)
	assert.Equal(t, "mm-2", acc.ExternalID)
}

func TestCreateAccountExistente(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v4/users":
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"id":      "app.user.save.username_exists.app_error",
				"message": "An account with that username already exists.",
			})
		case "/api/v4/users/username/ana_chat":
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "mm-9", "username": "ana_chat"})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "team-x", "example.com")
	acc, err := c.CreateAccount(context.Background(), "ana_chat")
	require.NoError(t, err)
	assert.True(t, acc.AlreadyExisted)
	assert.Equal(t, "mm-9", acc.ExternalID)
}

func TestLoginDevuelveMMAUTHTOKEN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v4/users/login", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "buena" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Token", "sess-token-77")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "mm-1"})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "team-x", "example.com")

	grant, err := c.Login(context.Background(), "ana_chat", "buena")
	require.NoError(t, err)
	assert.Equal(t, "MMAUTHTOKEN", grant.Name)
	assert.Equal(t, "sess-token-77", grant.Value)

	_, err = c.Login(context.Background(), "ana_chat", "mala")
	assert.True(t, errors.Is(err, integrations.ErrTargetRejected))
}

func TestDeleteAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "DELETE", r.Method)
		require.Equal(t, "/api/v4/users/mm-1", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "team-x", "example.com")
	assert.NoError(t, c.DeleteAccount(context.Background(), "mm-1"))
}

func TestCheckStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v4/system/ping", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "OK"})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "team-x", "example.com")
	assert.True(t, c.CheckStatus(context.Background()).Connected)
}
